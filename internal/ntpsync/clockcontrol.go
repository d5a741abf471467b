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

package ntpsync

import "fmt"

// ClockControlDisabler disables the NTP/chrony daemon's own clock
// discipline, either via an authenticated ntpd control-mode command or
// (for chronyd) an env-file edit plus service restart.
type ClockControlDisabler interface {
	DisableClockControl() error
}

// DaemonDisciplinesClock reports whether the daemon currently has its own
// clock control enabled — the condition that, together with passive mode,
// constitutes the clock-control conflict of §4.7.
type DaemonDisciplinesClock func() bool

// ResolveClockControlConflict implements §4.7's conflict handling:
//   - passive mode + daemon disciplining the clock is a critical error
//     unless ignore_critical covers it;
//   - active mode attempts to disable the daemon's clock control; on
//     failure, must_be_selected is asserted so the engine never picks
//     another instance that would also move the system clock.
func (m *Module) ResolveClockControlConflict(daemonDisciplines DaemonDisciplinesClock, disabler ClockControlDisabler, currentState string, priority int) error {
	if !daemonDisciplines() {
		m.mustBeSelected = false
		m.criticalError = nil
		return nil
	}

	if m.mode == ModePassive {
		fields := InstanceFields{State: currentState, Priority: priority, Mode: "passive"}
		if m.ignoreCritical.Ignores(CriticalClockControlConflict, fields) {
			m.criticalError = nil
			return nil
		}
		m.criticalError = fmt.Errorf("ntpsync: clock-control conflict: daemon disciplines clock while %s is passive", m.name)
		return m.criticalError
	}

	if err := disabler.DisableClockControl(); err != nil {
		m.mustBeSelected = true
		m.criticalError = nil
		return nil
	}
	m.mustBeSelected = false
	return nil
}

// MustBeSelected reports whether this instance currently asserts the
// must_be_selected hard constraint.
func (m *Module) MustBeSelected() bool { return m.mustBeSelected }

// CriticalError returns the module's unresolved critical error, if any.
func (m *Module) CriticalError() error { return m.criticalError }
