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

import "testing"

func TestIgnoreCriticalNilSetNeverIgnores(t *testing.T) {
	var set *IgnoreCriticalSet
	if set.Ignores(CriticalClockControlConflict, InstanceFields{}) {
		t.Fatal("a nil set must never ignore anything")
	}
}

func TestIgnoreCriticalTokenSet(t *testing.T) {
	set, err := NewIgnoreCriticalSet([]CriticalToken{CriticalClockControlConflict}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !set.Ignores(CriticalClockControlConflict, InstanceFields{}) {
		t.Fatal("configured token should be ignored")
	}
	if set.Ignores(CriticalCommsFault, InstanceFields{}) {
		t.Fatal("unconfigured token should not be ignored")
	}
}

func TestIgnoreCriticalExpressionEvaluatesFields(t *testing.T) {
	set, err := NewIgnoreCriticalSet(nil, `mode == "passive" && priority < 10`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !set.Ignores(CriticalClockControlConflict, InstanceFields{Mode: "passive", Priority: 5}) {
		t.Fatal("expression should match and ignore")
	}
	if set.Ignores(CriticalClockControlConflict, InstanceFields{Mode: "active", Priority: 5}) {
		t.Fatal("expression should not match and must not ignore")
	}
}

func TestIgnoreCriticalInvalidExpressionErrors(t *testing.T) {
	if _, err := NewIgnoreCriticalSet(nil, "this is not valid ("); err == nil {
		t.Fatal("expected a parse error for an invalid expression")
	}
}

func TestIgnoreCriticalExpressionNonBoolResultDoesNotIgnore(t *testing.T) {
	set, err := NewIgnoreCriticalSet(nil, `priority + 1`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Ignores(CriticalClockControlConflict, InstanceFields{Priority: 1}) {
		t.Fatal("a non-boolean expression result must not be treated as ignore=true")
	}
}

func TestIgnoreCriticalTokenAndExpressionAreOred(t *testing.T) {
	set, err := NewIgnoreCriticalSet([]CriticalToken{CriticalCommsFault}, `state == "faulty"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !set.Ignores(CriticalCommsFault, InstanceFields{State: "anything"}) {
		t.Fatal("token-set membership alone should be enough to ignore")
	}
	if !set.Ignores(CriticalClockControlConflict, InstanceFields{State: "faulty"}) {
		t.Fatal("expression match alone should be enough to ignore")
	}
}
