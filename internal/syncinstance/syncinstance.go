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

// Package syncinstance defines the uniform message-based contract every
// sync-instance type (NTP, chrony, PTP, PPS, freerun) implements, per §4.6.
package syncinstance

import (
	"io"
	"time"

	"github.com/xilinx-cns/sfptpd/internal/clockreg"
	"github.com/xilinx-cns/sfptpd/internal/selection"
	"github.com/xilinx-cns/sfptpd/internal/timespec"
)

// ControlFlags are the subset of control bits an engine may set on an
// instance. Selected and ClockCtrl are each true for at most one instance
// at any moment; TimestampProcessing is toggled globally around
// leap seconds; LeapSecondGuard is set on all instances during the guard
// window.
type ControlFlags struct {
	Selected             bool
	ClockCtrl            bool
	TimestampProcessing  bool
	ClusteringDeterminant bool
	LeapSecondGuard      bool
}

// ControlMask indicates which fields of a ControlFlags update apply.
type ControlMask struct {
	Selected, ClockCtrl, TimestampProcessing, ClusteringDeterminant, LeapSecondGuard bool
}

// GrandmasterInfo is propagated from the selected instance to every
// instance after a selection commit.
type GrandmasterInfo struct {
	ClockID      [8]byte
	ClockClass   uint8
	TimeSource   uint8
	Accuracy     uint8
	StepsRemoved uint16
}

// InstanceStatus is the snapshot returned by GET_STATUS and carried in an
// INSTANCE_STATE_CHANGED message.
type InstanceStatus struct {
	Name            string
	State           selection.State
	Alarms          uint32
	Constraints     selection.Constraints
	Clock           clockreg.Clock
	UserPriority    int
	OffsetFromMaster timespec.Timespec
	OffsetValid     bool
	LocalAccuracy   float64
	Master          selection.MasterInfo
	ClusteringScore int
	ManualSelected  bool
}

// RTStatsEntry is one realtime-stats sample emitted by an instance, either
// on its own initiative (RT_STATS_ENTRY) or in reply to LOG_STATS.
type RTStatsEntry struct {
	InstanceName string
	Time         time.Time
	OffsetNS     float64
	FreqAdjPPB   float64
	InSync       bool
}

// ClusteringInput is the CLUSTERING_INPUT message payload, forwarded
// directly into selection.ClusteringInput by the engine.
type ClusteringInput = selection.ClusteringInput

// TestMode carries a TEST_MODE message's opaque test-only parameters.
type TestMode struct {
	ID             int
	P0, P1, P2     int64
}

// Instance is the engine-facing contract every sync-instance type
// implements. Each method corresponds to one message of §4.6's alphabet;
// an instance is expected to run these on its own actor goroutine and
// reply/emit asynchronously into the EventSink it was constructed with,
// mirroring the message/thread runtime described in §5 and §13.
type Instance interface {
	// Name is the instance's configured name, used throughout selection
	// and rt-stats as a stable identifier.
	Name() string

	// Run begins operation (the RUN message).
	Run()

	// Status returns the instance's current snapshot (GET_STATUS).
	Status() InstanceStatus

	// SetControl applies flags selected by mask (CONTROL).
	SetControl(flags ControlFlags, mask ControlMask)

	// UpdateGrandmaster propagates the selected instance's grandmaster
	// info to this instance (UPDATE_GM_INFO).
	UpdateGrandmaster(info GrandmasterInfo)

	// UpdateLeapSecond notifies of a leap-second schedule change
	// (UPDATE_LEAP_SECOND).
	UpdateLeapSecond(leapType int)

	// StepClock invalidates cached offsets and, if applicable to this
	// instance type, steps its notion of the clock by offset
	// (STEP_CLOCK).
	StepClock(offset time.Duration)

	// LogStats requests an rt-stats sample for the given time
	// (LOG_STATS); the instance emits it via its EventSink's
	// OnRTStatsEntry rather than returning it synchronously.
	LogStats(at time.Time)

	// SaveState persists the instance's state (SAVE_STATE).
	SaveState() error

	// WriteTopology writes this instance's contribution to the topology
	// diagram (WRITE_TOPOLOGY).
	WriteTopology(w io.Writer) error

	// StatsEndPeriod rolls up histograms for the period ending at t
	// (STATS_END_PERIOD).
	StatsEndPeriod(t time.Time)

	// TestMode exercises test-only behaviour (TEST_MODE).
	TestMode(mode TestMode)

	// Clustering returns the instance's latest clustering input
	// (CLUSTERING_INPUT), or ok=false if it has none yet.
	Clustering() (ClusteringInput, bool)
}

// EventSink receives the two asynchronous, instance-to-engine messages:
// INSTANCE_STATE_CHANGED and RT_STATS_ENTRY. An Instance implementation is
// constructed with an EventSink and pushes to it from its own goroutine.
type EventSink interface {
	OnStateChanged(status InstanceStatus)
	OnRTStatsEntry(entry RTStatsEntry)
}
