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

package leapsecond

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xilinx-cns/sfptpd/internal/servo"
)

type recordingNotifier struct {
	guardCalls   []bool
	tsProcCalls  []bool
	steps        []time.Duration
	kernelFlag   []bool
	kernelType   []LeapType
}

func (r *recordingNotifier) SetGlobalControl(guard, timestampProcessing bool) {
	r.guardCalls = append(r.guardCalls, guard)
	r.tsProcCalls = append(r.tsProcCalls, timestampProcessing)
}
func (r *recordingNotifier) StepAllSlaves(offset time.Duration) {
	r.steps = append(r.steps, offset)
}
func (r *recordingNotifier) ScheduleKernelLeapFlag(leapType LeapType, scheduled bool) {
	r.kernelType = append(r.kernelType, leapType)
	r.kernelFlag = append(r.kernelFlag, scheduled)
}

// TestLeap61SlewAndStepTiming is scenario S3: a 61-second leap scheduled
// under slew-and-step policy steps +1s at T and restores flags at
// T+guard.
func TestLeap61SlewAndStepTiming(t *testing.T) {
	n := &recordingNotifier{}
	s := New(n, servo.PolicySlewAndStep)

	eventDay := time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC)
	guard := time.Minute
	require.NoError(t, s.Schedule(Leap61, eventDay, guard))
	assert.Equal(t, StateScheduled, s.State())

	t0 := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	preGuardDeadline := t0.Add(-guard)

	s.Tick(preGuardDeadline.Add(-time.Second))
	assert.Equal(t, StateScheduled, s.State(), "should not transition before deadline")

	s.Tick(preGuardDeadline)
	assert.Equal(t, StateActivePre, s.State())
	require.Len(t, n.guardCalls, 1)
	assert.True(t, n.guardCalls[0])
	assert.False(t, n.tsProcCalls[0])

	s.Tick(t0.Add(-time.Millisecond))
	assert.Equal(t, StateActivePre, s.State(), "must not step before T")

	s.Tick(t0)
	assert.Equal(t, StateActivePost, s.State())
	require.Len(t, n.steps, 1)
	assert.Equal(t, time.Second, n.steps[0])

	s.Tick(t0.Add(guard).Add(-time.Millisecond))
	assert.Equal(t, StateActivePost, s.State())

	s.Tick(t0.Add(guard))
	assert.Equal(t, StateIdle, s.State())
	require.Len(t, n.guardCalls, 2)
	assert.False(t, n.guardCalls[1])
	assert.True(t, n.tsProcCalls[1])
}

func TestLeap59SubtractsOneSecondFromMidnight(t *testing.T) {
	n := &recordingNotifier{}
	s := New(n, servo.PolicySlewAndStep)
	eventDay := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Schedule(Leap59, eventDay, time.Minute))
	assert.Equal(t, time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC), s.eventTime)
}

func TestGuardIntervalClamped(t *testing.T) {
	n := &recordingNotifier{}
	s := New(n, servo.PolicySlewAndStep)
	require.NoError(t, s.Schedule(Leap61, time.Now().UTC(), time.Millisecond))
	assert.Equal(t, DefaultMinGuardInterval, s.guardInterval)

	s2 := New(n, servo.PolicySlewAndStep)
	require.NoError(t, s2.Schedule(Leap61, time.Now().UTC(), time.Hour))
	assert.Equal(t, DefaultMaxGuardInterval, s2.guardInterval)
}

func TestCancelFromActivePreRestoresFlags(t *testing.T) {
	n := &recordingNotifier{}
	s := New(n, servo.PolicySlewAndStep)
	eventDay := time.Now().UTC()
	require.NoError(t, s.Schedule(Leap61, eventDay, time.Minute))
	s.Tick(s.timerDeadline)
	require.Equal(t, StateActivePre, s.State())

	s.Cancel()
	assert.Equal(t, StateIdle, s.State())
	assert.False(t, n.guardCalls[len(n.guardCalls)-1])
}

func TestNoAdjustPolicyNeverSteps(t *testing.T) {
	n := &recordingNotifier{}
	s := New(n, servo.PolicyNoAdjust)
	eventDay := time.Now().UTC()
	require.NoError(t, s.Schedule(Leap61, eventDay, time.Minute))
	s.Tick(s.timerDeadline)
	s.Tick(s.eventTime)
	assert.Empty(t, n.steps)
}

func TestTestModeNeverSteps(t *testing.T) {
	n := &recordingNotifier{}
	s := New(n, servo.PolicySlewAndStep)
	eventDay := time.Now().UTC()
	require.NoError(t, s.Test(Leap61, eventDay, time.Minute))
	s.Tick(s.timerDeadline)
	s.Tick(s.eventTime)
	assert.Empty(t, n.steps)
	for i, armed := range n.kernelFlag {
		assert.False(t, armed, "dry-run path must never arm the kernel leap flag (call %d, type %v)", i, n.kernelType[i])
	}
	assert.Equal(t, StateActivePost, s.State())
}
