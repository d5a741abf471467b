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

package syncinstance

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInstance struct {
	name   string
	status InstanceStatus
	flags  ControlFlags
}

func (s *stubInstance) Name() string          { return s.name }
func (s *stubInstance) Run()                  {}
func (s *stubInstance) Status() InstanceStatus { return s.status }
func (s *stubInstance) SetControl(flags ControlFlags, mask ControlMask) {
	if mask.Selected {
		s.flags.Selected = flags.Selected
	}
	if mask.ClockCtrl {
		s.flags.ClockCtrl = flags.ClockCtrl
	}
}
func (s *stubInstance) UpdateGrandmaster(GrandmasterInfo)   {}
func (s *stubInstance) UpdateLeapSecond(int)                {}
func (s *stubInstance) StepClock(time.Duration)             {}
func (s *stubInstance) LogStats(time.Time)                  {}
func (s *stubInstance) SaveState() error                    { return nil }
func (s *stubInstance) WriteTopology(io.Writer) error        { return nil }
func (s *stubInstance) StatsEndPeriod(time.Time)            {}
func (s *stubInstance) TestMode(TestMode)                   {}
func (s *stubInstance) Clustering() (ClusteringInput, bool) { return ClusteringInput{}, false }

func TestStubSatisfiesInstanceInterface(t *testing.T) {
	var _ Instance = (*stubInstance)(nil)
}

func TestControlMaskOnlyAppliesSelectedFields(t *testing.T) {
	s := &stubInstance{name: "ntp0"}
	s.SetControl(ControlFlags{Selected: true, ClockCtrl: true}, ControlMask{Selected: true})
	require.True(t, s.flags.Selected)
	assert.False(t, s.flags.ClockCtrl, "ClockCtrl should not change: mask did not select it")
}
