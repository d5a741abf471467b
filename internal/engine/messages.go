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
	"time"

	"github.com/xilinx-cns/sfptpd/internal/leapsecond"
	"github.com/xilinx-cns/sfptpd/internal/syncinstance"
)

// The message types below are the engine-local additions to §4.6's
// sync-instance alphabet, enumerated in §4.9 step 4.

// StepClocks is the user-initiated request (SIGUSR1) to step every active
// clock immediately.
type StepClocks struct{}

// ScheduleLeapSecond requests the leap-second scheduler transition from
// idle to scheduled. Test selects the dry-run path of §4.8: the timer and
// sync-module notifications fire without stepping any clock.
type ScheduleLeapSecond struct {
	LeapType      leapsecond.LeapType
	EventDay      time.Time
	GuardInterval time.Duration
	Test          bool
}

// CancelLeapSecond cancels any in-progress leap-second schedule.
type CancelLeapSecond struct{}

// SelectInstance is an operator-issued manual selection override.
type SelectInstance struct {
	Name string
}

// ConfigureTestMode forwards test-only parameters to one instance.
type ConfigureTestMode struct {
	InstanceName string
	Mode         syncinstance.TestMode
}

// RTStatsEntry is the instance-to-engine realtime-stats push (an
// instance's own-initiative RT_STATS_ENTRY, as opposed to a LogStats
// reply).
type RTStatsEntry syncinstance.RTStatsEntry

// LogRotate is the SIGHUP-triggered log-rotation request.
type LogRotate struct{}

// ClusteringInput is one instance's CLUSTERING_INPUT push.
type ClusteringInput syncinstance.ClusteringInput

// LinkTableRelease signals that a subscriber has released a previously
// held netlink table snapshot, potentially clearing XOFF_SPACE
// backpressure.
type LinkTableRelease struct{}

// ServoPIDAdjust requests a live gain adjustment for one servo.
type ServoPIDAdjust struct {
	ClockName string
	KP, KI    float64
}

// InstanceStateChanged is the instance-to-engine INSTANCE_STATE_CHANGED
// push.
type InstanceStateChanged syncinstance.InstanceStatus
