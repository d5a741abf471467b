/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
)

// notifySystemdReady sends READY=1 once the engine has completed its
// first BIC selection run, per §4.9's C15/C16/C17 wiring note. A no-op
// when NOTIFY_SOCKET is unset (daemon.SdNotify reports unsupported=true).
func notifySystemdReady() {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.WithError(err).Debug("engine: systemd notify failed")
		return
	}
	if sent {
		log.Debug("engine: notified systemd readiness")
	}
}

// notifySystemdWatchdog strokes the watchdog on every log-stats timer
// tick, per the same wiring note. A no-op when WATCHDOG_USEC is unset.
func notifySystemdWatchdog() {
	if interval, err := daemon.SdWatchdogEnabled(false); err != nil || interval == 0 {
		return
	}
	sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	if err != nil {
		log.WithError(err).Debug("engine: systemd watchdog notify failed")
		return
	}
	if sent {
		log.Trace("engine: stroked systemd watchdog")
	}
}
