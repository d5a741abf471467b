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
	"io"
	"testing"
	"time"

	"github.com/xilinx-cns/sfptpd/internal/clockreg"
	"github.com/xilinx-cns/sfptpd/internal/ifreg"
	"github.com/xilinx-cns/sfptpd/internal/selection"
	"github.com/xilinx-cns/sfptpd/internal/syncinstance"
)

type fakeClock struct {
	name string
}

func (f fakeClock) ShortName() string                  { return f.name }
func (f fakeClock) LongName() string                   { return f.name }
func (f fakeClock) Time() (time.Time, error)           { return time.Now(), nil }
func (f fakeClock) AdjustFrequency(ppb float64) error  { return nil }
func (f fakeClock) Step(offset time.Duration) error    { return nil }
func (f fakeClock) MaxAdjPPB() float64                 { return 1e6 }
func (f fakeClock) IsSystemClock() bool                { return f.name == "system" }

type fakeInstance struct {
	name    string
	status  syncinstance.InstanceStatus
	flags   syncinstance.ControlFlags
	stepped bool
}

func newFakeInstance(name string, state selection.State, priority int) *fakeInstance {
	return &fakeInstance{name: name, status: syncinstance.InstanceStatus{Name: name, State: state, UserPriority: priority}}
}

func (f *fakeInstance) Name() string                          { return f.name }
func (f *fakeInstance) Run()                                   {}
func (f *fakeInstance) Status() syncinstance.InstanceStatus    { return f.status }
func (f *fakeInstance) SetControl(flags syncinstance.ControlFlags, mask syncinstance.ControlMask) {
	if mask.Selected {
		f.flags.Selected = flags.Selected
	}
	if mask.ClockCtrl {
		f.flags.ClockCtrl = flags.ClockCtrl
	}
}
func (f *fakeInstance) UpdateGrandmaster(syncinstance.GrandmasterInfo) {}
func (f *fakeInstance) UpdateLeapSecond(int)                           {}
func (f *fakeInstance) StepClock(time.Duration)                        { f.stepped = true }
func (f *fakeInstance) LogStats(time.Time)                             {}
func (f *fakeInstance) SaveState() error                               { return nil }
func (f *fakeInstance) WriteTopology(io.Writer) error                  { return nil }
func (f *fakeInstance) StatsEndPeriod(time.Time)                       {}
func (f *fakeInstance) TestMode(syncinstance.TestMode)                 {}
func (f *fakeInstance) Clustering() (syncinstance.ClusteringInput, bool) {
	return syncinstance.ClusteringInput{}, false
}

func newTestEngine(t *testing.T) (*Engine, *clockreg.Registry) {
	t.Helper()
	clocks := clockreg.NewRegistry()
	clocks.Add(fakeClock{name: "phc0"})
	registry := ifreg.NewRegistry()

	cfg := DefaultConfig()
	cfg.SelectionHoldoff = 0
	e := New(cfg, clocks, registry, nil)
	return e, clocks
}

func TestRunSelectionPicksBestCandidateImmediatelyWhenHoldoffIsZero(t *testing.T) {
	e, _ := newTestEngine(t)

	a := newFakeInstance("ntp0", selection.StateSlave, 5)
	b := newFakeInstance("ntp1", selection.StateSlave, 1) // lower priority wins
	e.AddInstance(a, "phc0")
	e.AddInstance(b, "phc0")
	e.statuses[a.Name()] = a.Status()
	e.statuses[b.Name()] = b.Status()

	e.runSelection()
	// The holdoff always arms on the first sighting of a new candidate,
	// even with a zero interval; a second pass (as the real holdoff
	// timer firing would trigger) is needed to commit it.
	e.runSelection()

	if e.current != "ntp1" {
		t.Fatalf("expected ntp1 to be selected, got %q", e.current)
	}
	if !b.flags.Selected || !b.flags.ClockCtrl {
		t.Fatal("expected winning instance to receive Selected+ClockCtrl control flags")
	}
	if a.flags.Selected {
		t.Fatal("losing instance must not receive Selected")
	}
}

func TestStepClocksMessageStepsEveryInstance(t *testing.T) {
	e, _ := newTestEngine(t)
	a := newFakeInstance("ntp0", selection.StateSlave, 0)
	e.AddInstance(a, "phc0")

	e.dispatch(StepClocks{}, "")

	if !a.stepped {
		t.Fatal("expected StepClocks to call StepClock on every instance")
	}
}

func TestSelectInstanceMessageOverridesCurrent(t *testing.T) {
	e, _ := newTestEngine(t)
	a := newFakeInstance("ntp0", selection.StateSlave, 0)
	b := newFakeInstance("ntp1", selection.StateSlave, 0)
	e.AddInstance(a, "phc0")
	e.AddInstance(b, "phc0")
	e.statuses[a.Name()] = a.Status()
	e.statuses[b.Name()] = b.Status()

	e.dispatch(SelectInstance{Name: "ntp1"}, "")

	if e.current != "ntp1" {
		t.Fatalf("expected ntp1 selected, got %q", e.current)
	}
}

func TestCommitSelectionIsNoopWhenUnchanged(t *testing.T) {
	e, _ := newTestEngine(t)
	a := newFakeInstance("ntp0", selection.StateSlave, 0)
	e.AddInstance(a, "phc0")
	e.current = "ntp0"

	e.commitSelection("ntp0")

	if a.flags.Selected {
		t.Fatal("commitSelection on an already-current name should not re-dispatch control flags")
	}
}
