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

import "sort"

// Rule identifies one folding step of the BIC algorithm.
type Rule int

const (
	RuleManual Rule = iota
	RuleState
	RuleNoAlarms
	RuleUserPriority
	RuleClustering
	RuleClockClass
	RuleTotalAccuracy
	RuleAllanVariance
	RuleStepsRemoved
)

// DefaultRules is the rule sequence used when no selection policy
// overrides it.
var DefaultRules = []Rule{
	RuleManual,
	RuleState,
	RuleNoAlarms,
	RuleUserPriority,
	RuleClustering,
	RuleClockClass,
	RuleTotalAccuracy,
	RuleAllanVariance,
	RuleStepsRemoved,
}

// Select runs the BIC algorithm over instances using rules, applying hard
// constraints at every step, and returns exactly one instance — never nil
// when instances is non-empty. current is the presently-selected instance
// name, used only for the final tie-break.
func Select(instances []*Instance, rules []Rule, current string) *Instance {
	if len(instances) == 0 {
		return nil
	}
	if len(rules) == 0 {
		rules = DefaultRules
	}

	survivors := applyHardConstraints(instances)
	if len(survivors) == 0 {
		// Every instance is cannot_be_selected: fall back to the full set
		// rather than returning nothing, since BIC must never return nil
		// for a non-empty input.
		survivors = append([]*Instance{}, instances...)
	}

	for _, rule := range rules {
		next := foldRule(survivors, rule)
		next = applyHardConstraints(next)
		if len(next) == 0 {
			continue
		}
		survivors = next
		if len(survivors) == 1 {
			break
		}
	}

	return tieBreak(survivors, current)
}

// applyHardConstraints discards cannot_be_selected instances; if any
// surviving instance asserts must_be_selected, only those remain.
func applyHardConstraints(instances []*Instance) []*Instance {
	allowed := make([]*Instance, 0, len(instances))
	for _, i := range instances {
		if !i.Constraints.CannotBeSelected {
			allowed = append(allowed, i)
		}
	}
	mustSelected := make([]*Instance, 0, len(allowed))
	for _, i := range allowed {
		if i.Constraints.MustBeSelected {
			mustSelected = append(mustSelected, i)
		}
	}
	if len(mustSelected) > 0 {
		return mustSelected
	}
	return allowed
}

func foldRule(instances []*Instance, rule Rule) []*Instance {
	switch rule {
	case RuleManual:
		manual := filter(instances, func(i *Instance) bool { return i.ManualSelected })
		if len(manual) > 0 {
			return manual
		}
		return instances
	case RuleState:
		return keepMin(instances, func(i *Instance) int { return statePriority[i.State] })
	case RuleNoAlarms:
		alarmFree := filter(instances, func(i *Instance) bool { return !i.hasAlarms() })
		if len(alarmFree) > 0 {
			return alarmFree
		}
		return instances
	case RuleUserPriority:
		return keepMin(instances, func(i *Instance) int { return i.UserPriority })
	case RuleClustering:
		return keepMax(instances, func(i *Instance) int { return i.ClusteringScore })
	case RuleClockClass:
		return keepMin(instances, func(i *Instance) int { return int(i.Master.ClockClass) })
	case RuleTotalAccuracy:
		return keepMin(instances, func(i *Instance) int { return int(i.Master.Accuracy) })
	case RuleAllanVariance:
		return keepMinFloat(instances, func(i *Instance) float64 { return i.Master.AllanVariance })
	case RuleStepsRemoved:
		return keepMin(instances, func(i *Instance) int { return int(i.Master.StepsRemoved) })
	default:
		return instances
	}
}

func filter(instances []*Instance, pred func(*Instance) bool) []*Instance {
	out := make([]*Instance, 0, len(instances))
	for _, i := range instances {
		if pred(i) {
			out = append(out, i)
		}
	}
	return out
}

func keepMin(instances []*Instance, key func(*Instance) int) []*Instance {
	if len(instances) == 0 {
		return instances
	}
	best := key(instances[0])
	for _, i := range instances[1:] {
		if v := key(i); v < best {
			best = v
		}
	}
	return filter(instances, func(i *Instance) bool { return key(i) == best })
}

func keepMax(instances []*Instance, key func(*Instance) int) []*Instance {
	if len(instances) == 0 {
		return instances
	}
	best := key(instances[0])
	for _, i := range instances[1:] {
		if v := key(i); v > best {
			best = v
		}
	}
	return filter(instances, func(i *Instance) bool { return key(i) == best })
}

func keepMinFloat(instances []*Instance, key func(*Instance) float64) []*Instance {
	if len(instances) == 0 {
		return instances
	}
	best := key(instances[0])
	for _, i := range instances[1:] {
		if v := key(i); v < best {
			best = v
		}
	}
	return filter(instances, func(i *Instance) bool { return key(i) == best })
}

// tieBreak keeps the current selection if it survived, otherwise picks the
// lexicographically smallest name for a deterministic result.
func tieBreak(instances []*Instance, current string) *Instance {
	for _, i := range instances {
		if i.Name == current {
			return i
		}
	}
	sorted := append([]*Instance{}, instances...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Name < sorted[b].Name })
	return sorted[0]
}
