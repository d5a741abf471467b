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
	"fmt"

	"github.com/Knetic/govaluate"
)

// CriticalToken names a specific critical condition a module may raise;
// the default mechanism is a simple configured set of these tokens.
type CriticalToken string

const (
	CriticalClockControlConflict CriticalToken = "clock-control-conflict"
	CriticalCommsFault           CriticalToken = "comms-fault"
)

// InstanceFields is the set of fields an ignore_critical expression may
// reference, evaluated via govaluate — generalizing the fixed token check
// so an operator can ignore a critical condition conditionally (e.g. only
// while passive).
type InstanceFields struct {
	State        string
	Priority     int
	Mode         string
}

func (f InstanceFields) parameters() govaluate.MapParameters {
	return govaluate.MapParameters{
		"state":    f.State,
		"priority": f.Priority,
		"mode":     f.Mode,
	}
}

// IgnoreCriticalSet holds the configured tokens plus an optional boolean
// expression; a critical condition is ignored if its token is in the set
// OR (when an expression is configured) the expression evaluates true
// against the instance's current fields.
type IgnoreCriticalSet struct {
	tokens     map[CriticalToken]bool
	expression *govaluate.EvaluableExpression
}

// NewIgnoreCriticalSet builds a set from configured tokens; expr may be
// empty, in which case only the token set is consulted.
func NewIgnoreCriticalSet(tokens []CriticalToken, expr string) (*IgnoreCriticalSet, error) {
	set := &IgnoreCriticalSet{tokens: map[CriticalToken]bool{}}
	for _, t := range tokens {
		set.tokens[t] = true
	}
	if expr != "" {
		parsed, err := govaluate.NewEvaluableExpression(expr)
		if err != nil {
			return nil, fmt.Errorf("parsing ignore_critical expression %q: %w", expr, err)
		}
		set.expression = parsed
	}
	return set, nil
}

// Ignores reports whether the given critical condition should be ignored
// for an instance currently described by fields.
func (s *IgnoreCriticalSet) Ignores(token CriticalToken, fields InstanceFields) bool {
	if s == nil {
		return false
	}
	if s.tokens[token] {
		return true
	}
	if s.expression == nil {
		return false
	}
	result, err := s.expression.Evaluate(fields.parameters())
	if err != nil {
		return false
	}
	ignore, ok := result.(bool)
	return ok && ignore
}
