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

// Package servo implements the PI(D) controller that drives one slave clock
// toward a master clock using samples from the clock feed, per §4.3.
package servo

import (
	"time"

	"github.com/eclesh/welford"

	"github.com/xilinx-cns/sfptpd/internal/clockreg"
)

// ClockControlPolicy governs whether and how a servo is allowed to step
// its slave clock, applying uniformly to every servo instance.
type ClockControlPolicy int

const (
	PolicyNoAdjust ClockControlPolicy = iota
	PolicySlewOnly
	PolicySlewAndStep
	PolicyStepOnFirstConvergence
	PolicyStepForward
)

// Alarms is a bitmask of conditions the servo currently considers abnormal.
type Alarms uint32

const (
	AlarmFeedStale Alarms = 1 << iota
	AlarmClockNearEpoch
	AlarmStepBlocked
	AlarmFreqSaturated
)

func (a Alarms) None() bool { return a == 0 }

// Config holds the PI(D) gains and thresholds for one servo instance.
type Config struct {
	KP                  float64
	KI                  float64
	KD                  float64
	StepThreshold       time.Duration
	ConvergenceThreshold time.Duration
	Policy              ClockControlPolicy
	FeedStaleAfter      time.Duration
}

// DefaultConfig mirrors typical PTP servo tunings: proportional-dominant
// with a slow integral term and derivative disabled.
func DefaultConfig() Config {
	return Config{
		KP:                   0.7,
		KI:                   0.3,
		StepThreshold:        time.Millisecond,
		ConvergenceThreshold: 100 * time.Microsecond,
		Policy:               PolicySlewAndStep,
		FeedStaleAfter:       10 * time.Second,
	}
}

// Stats is the snapshot exposed by Servo.Stats, matching §4.3's reporting
// contract.
type Stats struct {
	Offset     time.Duration
	FreqAdjPPB float64
	PTerm      float64
	ITerm      float64
	InSync     bool
	Alarms     Alarms
	MasterTime time.Time
	SlaveTime  time.Time
}

// Servo drives Slave toward Master.
type Servo struct {
	cfg    Config
	Master clockreg.Clock
	Slave  clockreg.Clock

	integrator   float64
	lastErr      float64
	lastSampleAt time.Time
	haveLast     bool

	convergedOnce bool
	variance      *welford.Stats

	lastStats Stats
}

// New creates a servo with cfg driving slave toward master.
func New(cfg Config, master, slave clockreg.Clock) *Servo {
	return &Servo{
		cfg:      cfg,
		Master:   master,
		Slave:    slave,
		variance: welford.New(),
	}
}

// Sample performs one control step given the already-measured offset
// (master - slave, positive meaning the slave is behind), the wall-clock
// time the sample was taken at, and the individual master/slave clock
// reads that offset was derived from (reported verbatim in Stats per
// §4.3 point 5).
func (s *Servo) Sample(offset time.Duration, sampledAt time.Time, masterTime, slaveTime time.Time) Stats {
	var alarms Alarms

	if s.haveLast && sampledAt.Sub(s.lastSampleAt) > s.cfg.FeedStaleAfter {
		alarms |= AlarmFeedStale
	}
	if sampledAt.Before(epochGuard) {
		alarms |= AlarmClockNearEpoch
	}

	e := float64(offset.Nanoseconds())
	s.variance.Add(e)

	dt := s.dtSince(sampledAt)
	s.lastSampleAt = sampledAt
	s.haveLast = true

	absOffset := offset
	if absOffset < 0 {
		absOffset = -absOffset
	}

	if absOffset > s.cfg.StepThreshold && s.stepAllowed() {
		if err := s.Slave.Step(offset); err == nil {
			s.integrator = 0
			s.lastErr = 0
			s.convergedOnce = true
		}
	} else if absOffset > s.cfg.StepThreshold {
		alarms |= AlarmStepBlocked
	} else {
		s.integrator += s.cfg.KI * e * dt
		pTerm := s.cfg.KP * e
		iTerm := s.integrator
		dTerm := 0.0
		if s.cfg.KD != 0 && dt > 0 {
			dTerm = s.cfg.KD * (e - s.lastErr) / dt
		}
		s.lastErr = e

		freqAdj := pTerm + iTerm + dTerm
		maxAdj := s.Slave.MaxAdjPPB()
		if freqAdj > maxAdj {
			freqAdj = maxAdj
			alarms |= AlarmFreqSaturated
		} else if freqAdj < -maxAdj {
			freqAdj = -maxAdj
			alarms |= AlarmFreqSaturated
		}
		_ = s.Slave.AdjustFrequency(freqAdj)

		s.lastStats = Stats{
			Offset:     offset,
			FreqAdjPPB: freqAdj,
			PTerm:      pTerm,
			ITerm:      iTerm,
			InSync:     absOffset <= s.cfg.ConvergenceThreshold,
			Alarms:     alarms,
			MasterTime: masterTime,
			SlaveTime:  slaveTime,
		}
		return s.lastStats
	}

	s.lastStats = Stats{
		Offset:     offset,
		InSync:     absOffset <= s.cfg.ConvergenceThreshold,
		Alarms:     alarms,
		MasterTime: masterTime,
		SlaveTime:  slaveTime,
	}
	return s.lastStats
}

// epochGuard is used to flag a master clock that evidently has not been set
// yet (reads back near the Unix epoch).
var epochGuard = time.Unix(86400, 0)

func (s *Servo) dtSince(sampledAt time.Time) float64 {
	if !s.haveLast {
		return 0
	}
	dt := sampledAt.Sub(s.lastSampleAt).Seconds()
	if dt <= 0 {
		return 0
	}
	return dt
}

func (s *Servo) stepAllowed() bool {
	switch s.cfg.Policy {
	case PolicyNoAdjust, PolicySlewOnly:
		return false
	case PolicyStepOnFirstConvergence:
		return !s.convergedOnce
	case PolicyStepForward:
		return true
	default: // PolicySlewAndStep
		return true
	}
}

// AllanVariance returns the servo's running estimate of offset variance,
// feeding BIC's ALLAN_VARIANCE rule and the clustering discriminator's
// reported quality for instances that don't compute their own.
func (s *Servo) AllanVariance() float64 {
	return s.variance.Variance()
}

// Stats returns the most recent control-step snapshot.
func (s *Servo) Stats() Stats { return s.lastStats }

// Reset clears the integrator and sample history, used when a servo is
// reassigned to a new master (e.g. after BIC selection changes).
func (s *Servo) Reset() {
	s.integrator = 0
	s.lastErr = 0
	s.haveLast = false
	s.variance = welford.New()
}
