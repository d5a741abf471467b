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

package servo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	name     string
	stepped  []time.Duration
	adjusted []float64
	maxAdj   float64
}

func (f *fakeClock) ShortName() string                { return f.name }
func (f *fakeClock) LongName() string                 { return f.name }
func (f *fakeClock) Time() (time.Time, error)         { return time.Now(), nil }
func (f *fakeClock) IsSystemClock() bool              { return false }
func (f *fakeClock) MaxAdjPPB() float64               { return f.maxAdj }
func (f *fakeClock) Step(d time.Duration) error {
	f.stepped = append(f.stepped, d)
	return nil
}
func (f *fakeClock) AdjustFrequency(ppb float64) error {
	f.adjusted = append(f.adjusted, ppb)
	return nil
}

func TestSmallOffsetSlewsNotSteps(t *testing.T) {
	slave := &fakeClock{name: "slave", maxAdj: 500000}
	master := &fakeClock{name: "master"}
	cfg := DefaultConfig()
	s := New(cfg, master, slave)

	base := time.Now()
	stats := s.Sample(50*time.Microsecond, base, base, base)
	require.Empty(t, slave.stepped)
	require.Len(t, slave.adjusted, 1)
	assert.False(t, stats.Alarms&AlarmStepBlocked != 0)
}

func TestLargeOffsetStepsWhenAllowed(t *testing.T) {
	slave := &fakeClock{name: "slave", maxAdj: 500000}
	master := &fakeClock{name: "master"}
	cfg := DefaultConfig()
	cfg.Policy = PolicySlewAndStep
	s := New(cfg, master, slave)

	now := time.Now()
	stats := s.Sample(5*time.Millisecond, now, now, now)
	require.Len(t, slave.stepped, 1)
	assert.Equal(t, 5*time.Millisecond, slave.stepped[0])
	assert.False(t, stats.Alarms&AlarmStepBlocked != 0)
}

func TestLargeOffsetBlockedUnderNoAdjustRaisesAlarm(t *testing.T) {
	slave := &fakeClock{name: "slave", maxAdj: 500000}
	master := &fakeClock{name: "master"}
	cfg := DefaultConfig()
	cfg.Policy = PolicyNoAdjust
	s := New(cfg, master, slave)

	now := time.Now()
	stats := s.Sample(5*time.Millisecond, now, now, now)
	assert.Empty(t, slave.stepped)
	assert.True(t, stats.Alarms&AlarmStepBlocked != 0)
}

func TestFreqAdjustSaturatesAndRaisesAlarm(t *testing.T) {
	slave := &fakeClock{name: "slave", maxAdj: 10}
	master := &fakeClock{name: "master"}
	cfg := DefaultConfig()
	cfg.KP = 1000
	s := New(cfg, master, slave)

	now := time.Now()
	stats := s.Sample(500*time.Microsecond, now, now, now)
	require.Len(t, slave.adjusted, 1)
	assert.InDelta(t, 10.0, slave.adjusted[0], 0.001)
	assert.True(t, stats.Alarms&AlarmFreqSaturated != 0)
}

func TestStepOnFirstConvergencePolicyStepsOnceThenSlews(t *testing.T) {
	slave := &fakeClock{name: "slave", maxAdj: 500000}
	master := &fakeClock{name: "master"}
	cfg := DefaultConfig()
	cfg.Policy = PolicyStepOnFirstConvergence
	s := New(cfg, master, slave)

	s.Sample(5*time.Millisecond, time.Now(), time.Now(), time.Now())
	require.Len(t, slave.stepped, 1)

	s.Sample(5*time.Millisecond, time.Now(), time.Now(), time.Now())
	assert.Len(t, slave.stepped, 1, "second large offset should not step again")
}

func TestSampleReportsMasterAndSlaveReadTimes(t *testing.T) {
	slave := &fakeClock{name: "slave", maxAdj: 500000}
	master := &fakeClock{name: "master"}
	s := New(DefaultConfig(), master, slave)

	masterTime := time.Now()
	slaveTime := masterTime.Add(250 * time.Microsecond)
	stats := s.Sample(50*time.Microsecond, masterTime, masterTime, slaveTime)
	assert.Equal(t, masterTime, stats.MasterTime)
	assert.Equal(t, slaveTime, stats.SlaveTime)
}

func TestAllanVarianceAccumulates(t *testing.T) {
	slave := &fakeClock{name: "slave", maxAdj: 500000}
	master := &fakeClock{name: "master"}
	s := New(DefaultConfig(), master, slave)

	base := time.Now()
	for i := 0; i < 10; i++ {
		s.Sample(time.Duration(i)*time.Microsecond, base.Add(time.Duration(i)*time.Second), base, base)
	}
	assert.Greater(t, s.AllanVariance(), 0.0)
}
