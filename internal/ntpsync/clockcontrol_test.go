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

import (
	"errors"
	"testing"
	"time"
)

type stubDisabler struct {
	err error
	n   int
}

func (s *stubDisabler) DisableClockControl() error {
	s.n++
	return s.err
}

func TestResolveClockControlConflictNoConflictWhenDaemonNotDisciplining(t *testing.T) {
	m := NewModule("ntp0", ModePassive, 1e-6, time.Second, nil)
	disabler := &stubDisabler{}

	err := m.ResolveClockControlConflict(func() bool { return false }, disabler, "listening", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.MustBeSelected() {
		t.Fatal("must_be_selected should not be asserted")
	}
	if disabler.n != 0 {
		t.Fatal("disabler should not be invoked when there is no conflict")
	}
}

func TestResolveClockControlConflictPassiveIsCriticalByDefault(t *testing.T) {
	m := NewModule("ntp0", ModePassive, 1e-6, time.Second, nil)
	disabler := &stubDisabler{}

	err := m.ResolveClockControlConflict(func() bool { return true }, disabler, "listening", 0)
	if err == nil {
		t.Fatal("expected a critical error for a passive conflict")
	}
	if m.CriticalError() == nil {
		t.Fatal("CriticalError() should reflect the same error")
	}
}

func TestResolveClockControlConflictPassiveIgnoredByConfig(t *testing.T) {
	set, err := NewIgnoreCriticalSet([]CriticalToken{CriticalClockControlConflict}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := NewModule("ntp0", ModePassive, 1e-6, time.Second, set)
	disabler := &stubDisabler{}

	if err := m.ResolveClockControlConflict(func() bool { return true }, disabler, "listening", 0); err != nil {
		t.Fatalf("expected no error once ignored, got %v", err)
	}
	if m.CriticalError() != nil {
		t.Fatal("CriticalError() should be cleared once ignored")
	}
}

func TestResolveClockControlConflictActiveModeDisables(t *testing.T) {
	m := NewModule("ntp0", ModeActive, 1e-6, time.Second, nil)
	disabler := &stubDisabler{}

	if err := m.ResolveClockControlConflict(func() bool { return true }, disabler, "listening", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if disabler.n != 1 {
		t.Fatalf("expected DisableClockControl to be called once, got %d", disabler.n)
	}
	if m.MustBeSelected() {
		t.Fatal("must_be_selected should not be asserted on success")
	}
}

func TestResolveClockControlConflictActiveModeFailureAssertsMustBeSelected(t *testing.T) {
	m := NewModule("ntp0", ModeActive, 1e-6, time.Second, nil)
	disabler := &stubDisabler{err: errors.New("permission denied")}

	if err := m.ResolveClockControlConflict(func() bool { return true }, disabler, "listening", 0); err != nil {
		t.Fatalf("a failed disable should not itself be a critical error: %v", err)
	}
	if !m.MustBeSelected() {
		t.Fatal("expected must_be_selected to be asserted after a failed disable")
	}
}
