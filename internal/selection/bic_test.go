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

package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAlwaysReturnsExactlyOne is invariant #5: BIC never returns nil for a
// non-empty input, across varied instance sets.
func TestAlwaysReturnsExactlyOne(t *testing.T) {
	instances := []*Instance{
		{Name: "a", State: StateSlave},
		{Name: "b", State: StateMaster},
		{Name: "c", State: StateFaulty},
	}
	got := Select(instances, DefaultRules, "")
	require.NotNil(t, got)
}

func TestSelectReturnsNilForEmptyInput(t *testing.T) {
	assert.Nil(t, Select(nil, DefaultRules, ""))
}

// TestBICPrefersLowerAlarms is scenario S1: two otherwise-equal slave
// instances, one with an alarm set — the alarm-free one wins.
func TestBICPrefersLowerAlarms(t *testing.T) {
	instances := []*Instance{
		{Name: "ntp0", State: StateSlave, Alarms: 1},
		{Name: "ptp0", State: StateSlave, Alarms: 0},
	}
	got := Select(instances, DefaultRules, "")
	require.NotNil(t, got)
	assert.Equal(t, "ptp0", got.Name)
}

func TestMustBeSelectedOverridesEverythingElse(t *testing.T) {
	instances := []*Instance{
		{Name: "a", State: StateSlave, UserPriority: 0},
		{Name: "b", State: StateMaster, UserPriority: 10, Constraints: Constraints{MustBeSelected: true}},
	}
	got := Select(instances, DefaultRules, "")
	require.NotNil(t, got)
	assert.Equal(t, "b", got.Name)
}

func TestCannotBeSelectedIsDiscarded(t *testing.T) {
	instances := []*Instance{
		{Name: "a", State: StateSlave, Constraints: Constraints{CannotBeSelected: true}},
		{Name: "b", State: StatePassive},
	}
	got := Select(instances, DefaultRules, "")
	require.NotNil(t, got)
	assert.Equal(t, "b", got.Name)
}

func TestTieBreakKeepsCurrentSelection(t *testing.T) {
	instances := []*Instance{
		{Name: "a", State: StateSlave},
		{Name: "b", State: StateSlave},
	}
	got := Select(instances, DefaultRules, "b")
	require.NotNil(t, got)
	assert.Equal(t, "b", got.Name)
}

func TestTieBreakPicksLexicographicallySmallestWhenNoCurrent(t *testing.T) {
	instances := []*Instance{
		{Name: "zzz", State: StateSlave},
		{Name: "aaa", State: StateSlave},
	}
	got := Select(instances, DefaultRules, "")
	require.NotNil(t, got)
	assert.Equal(t, "aaa", got.Name)
}

func TestManualRuleKeepsOnlyManualSelected(t *testing.T) {
	instances := []*Instance{
		{Name: "a", State: StateSlave, ManualSelected: true},
		{Name: "b", State: StateMaster},
	}
	got := Select(instances, DefaultRules, "")
	require.NotNil(t, got)
	assert.Equal(t, "a", got.Name)
}

func TestStatePriorityOrdering(t *testing.T) {
	instances := []*Instance{
		{Name: "master", State: StateMaster},
		{Name: "slave", State: StateSlave},
		{Name: "passive", State: StatePassive},
	}
	got := Select(instances, DefaultRules, "")
	require.NotNil(t, got)
	assert.Equal(t, "slave", got.Name)
}

// TestHoldoffCommitsAfterExpiry is scenario S2: a new preferred candidate
// only takes over once the holdoff interval has elapsed.
func TestHoldoffCommitsAfterExpiry(t *testing.T) {
	h := NewHoldoffTimer(30 * time.Second)
	base := time.Now()

	commit := h.Observe("ptp0", "ntp0", base)
	assert.Empty(t, commit, "should not commit before holdoff elapses")
	assert.True(t, h.Armed())

	commit = h.Observe("ptp0", "ntp0", base.Add(10*time.Second))
	assert.Empty(t, commit)

	commit = h.Observe("ptp0", "ntp0", base.Add(31*time.Second))
	assert.Equal(t, "ptp0", commit)
}

func TestHoldoffCancelledWhenCandidateRevertsToCurrent(t *testing.T) {
	h := NewHoldoffTimer(30 * time.Second)
	base := time.Now()

	h.Observe("ptp0", "ntp0", base)
	require.True(t, h.Armed())

	commit := h.Observe("ntp0", "ntp0", base.Add(5*time.Second))
	assert.Empty(t, commit)
	assert.False(t, h.Armed())
}
