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

// Package leapsecond implements the guarded state machine around a leap
// second event: idle -> scheduled -> active_pre -> active_post -> idle,
// with test and cancel paths, per §4.8.
package leapsecond

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xilinx-cns/sfptpd/internal/servo"
)

// State is one of the leap-second scheduler's states.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateActivePre
	StateActivePost
	StateTest
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateActivePre:
		return "active_pre"
	case StateActivePost:
		return "active_post"
	case StateTest:
		return "test"
	default:
		return "unknown"
	}
}

// LeapType identifies the kind of leap second scheduled.
type LeapType int

const (
	LeapNone LeapType = 0
	Leap61   LeapType = 61
	Leap59   LeapType = 59
)

// DefaultMinGuardInterval / DefaultMaxGuardInterval bound the configurable
// guard_interval, per §4.8's "clamp guard_interval to [min, max]".
const (
	DefaultMinGuardInterval = time.Second
	DefaultMaxGuardInterval = 10 * time.Minute
)

// Notifier is the engine-facing hook the scheduler calls at each
// transition; implementations broadcast CONTROL messages and step clocks.
type Notifier interface {
	// SetGlobalControl broadcasts CONTROL{leap_second_guard,
	// timestamp_processing} to every sync instance.
	SetGlobalControl(guard bool, timestampProcessing bool)
	// StepAllSlaves steps every active slave clock by offset (used at T
	// when stepping is in effect).
	StepAllSlaves(offset time.Duration)
	// ScheduleKernelLeapFlag arms (or clears, when scheduled=false) the
	// kernel's STA_INS/STA_DEL leap flag on the system clock.
	ScheduleKernelLeapFlag(leapType LeapType, scheduled bool)
}

// Scheduler drives the leap-second state machine. now is injectable for
// deterministic tests.
type Scheduler struct {
	notifier Notifier
	policy   servo.ClockControlPolicy

	state        State
	leapType     LeapType
	eventTime    time.Time
	guardInterval time.Duration
	test         bool

	timerDeadline time.Time
	timerArmed    bool
}

// New creates a scheduler in the idle state.
func New(notifier Notifier, policy servo.ClockControlPolicy) *Scheduler {
	return &Scheduler{notifier: notifier, policy: policy, state: StateIdle}
}

// State returns the scheduler's current state.
func (s *Scheduler) State() State { return s.state }

// clampGuard enforces [DefaultMinGuardInterval, DefaultMaxGuardInterval].
func clampGuard(guard time.Duration) time.Duration {
	if guard < DefaultMinGuardInterval {
		return DefaultMinGuardInterval
	}
	if guard > DefaultMaxGuardInterval {
		return DefaultMaxGuardInterval
	}
	return guard
}

// shouldStep reports whether the configured clock-control policy permits
// stepping for this leap type: slew-and-step always does, step-forward
// only for a 61-second (insertion) leap.
func shouldStep(policy servo.ClockControlPolicy, leapType LeapType) bool {
	switch policy {
	case servo.PolicySlewAndStep:
		return true
	case servo.PolicyStepForward:
		return leapType == Leap61
	default:
		return false
	}
}

// Schedule transitions idle -> scheduled. eventDay is any instant on the
// UTC day the leap second falls on; T is computed as the first UTC
// midnight strictly after eventDay (the end of that day, even when
// eventDay is itself 00:00), adjusted one second earlier for a 59s
// (deletion) leap.
func (s *Scheduler) Schedule(leapType LeapType, eventDay time.Time, guardInterval time.Duration) error {
	if s.state != StateIdle {
		return fmt.Errorf("leapsecond: cannot schedule from state %v", s.state)
	}
	t := nextUTCMidnight(eventDay)
	if leapType == Leap59 {
		t = t.Add(-time.Second)
	}
	s.leapType = leapType
	s.eventTime = t
	s.guardInterval = clampGuard(guardInterval)
	s.state = StateScheduled
	s.armTimer(t.Add(-s.guardInterval))

	if !s.test && shouldStep(s.policy, leapType) {
		s.notifier.ScheduleKernelLeapFlag(leapType, true)
	}
	log.Infof("leapsecond: scheduled type=%d at %s, guard=%s", leapType, t, s.guardInterval)
	return nil
}

// Test runs a dry-run path exercising the timer and notifications without
// ever stepping a clock.
func (s *Scheduler) Test(leapType LeapType, eventDay time.Time, guardInterval time.Duration) error {
	if s.state != StateIdle {
		return fmt.Errorf("leapsecond: cannot test from state %v", s.state)
	}
	s.test = true
	return s.Schedule(leapType, eventDay, guardInterval)
}

func nextUTCMidnight(from time.Time) time.Time {
	u := from.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	if !u.Before(midnight) {
		midnight = midnight.AddDate(0, 0, 1)
	}
	return midnight
}

func (s *Scheduler) armTimer(deadline time.Time) {
	s.timerDeadline = deadline
	s.timerArmed = true
}

// Tick must be called periodically (or driven by a real timer in
// production) with the current time; it performs any transition whose
// deadline has passed. It is idempotent when called before a deadline.
func (s *Scheduler) Tick(now time.Time) {
	if !s.timerArmed || now.Before(s.timerDeadline) {
		return
	}
	s.timerArmed = false

	switch s.state {
	case StateScheduled:
		s.toActivePre()
	case StateActivePre:
		s.toActivePost()
	case StateActivePost:
		s.toIdle()
	}
}

func (s *Scheduler) toActivePre() {
	s.state = StateActivePre
	s.notifier.SetGlobalControl(true, false)
	s.armTimer(s.eventTime)
	log.Infof("leapsecond: active_pre, guard engaged until %s", s.eventTime)
}

func (s *Scheduler) toActivePost() {
	s.state = StateActivePost
	if !s.test && shouldStep(s.policy, s.leapType) {
		offset := time.Second
		if s.leapType == Leap59 {
			offset = -time.Second
		}
		s.notifier.StepAllSlaves(offset)
	}
	s.notifier.ScheduleKernelLeapFlag(s.leapType, false)
	s.armTimer(s.eventTime.Add(s.guardInterval))
	log.Infof("leapsecond: active_post, guard clears at %s", s.timerDeadline)
}

func (s *Scheduler) toIdle() {
	s.state = StateIdle
	s.notifier.SetGlobalControl(false, true)
	s.test = false
	log.Infof("leapsecond: idle")
}

// Cancel reverses the state machine from any non-idle state, clearing the
// kernel schedule and restoring control flags.
func (s *Scheduler) Cancel() {
	if s.state == StateIdle {
		return
	}
	if s.state == StateActivePre || s.state == StateActivePost {
		s.notifier.SetGlobalControl(false, true)
	}
	s.notifier.ScheduleKernelLeapFlag(s.leapType, false)
	s.timerArmed = false
	s.state = StateIdle
	s.test = false
	log.Infof("leapsecond: cancelled")
}
