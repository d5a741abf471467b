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
	"time"

	"github.com/xilinx-cns/sfptpd/internal/clockreg"
	"github.com/xilinx-cns/sfptpd/internal/timespec"
)

// ClusteringInput is one instance's offset report as consumed by the
// discriminator, identifying the instance's local reference clock.
type ClusteringInput struct {
	InstanceName string
	Clock        clockreg.Clock
	Offset       timespec.Timespec
	Valid        bool
}

// DiscriminatorConfig configures the clustering discriminator.
type DiscriminatorConfig struct {
	DiscriminatorName       string
	Threshold               timespec.Timespec
	ScoreWithoutDiscriminator int
	GuardThreshold            *int
}

// Score computes clustering_score for every entry in inputs relative to
// discriminatorInput, per §4.5's grandmaster_gap derivation.
func Score(cfg DiscriminatorConfig, discriminatorInput *ClusteringInput, inputs []ClusteringInput) map[string]int {
	scores := make(map[string]int, len(inputs))
	for _, in := range inputs {
		scores[in.InstanceName] = scoreOne(cfg, discriminatorInput, in)
	}
	return scores
}

func scoreOne(cfg DiscriminatorConfig, discriminatorInput *ClusteringInput, in ClusteringInput) int {
	if in.InstanceName == cfg.DiscriminatorName {
		return 1
	}
	if discriminatorInput == nil || !discriminatorInput.Valid || !in.Valid {
		return cfg.ScoreWithoutDiscriminator
	}

	delta, err := clockreg.Compare(discriminatorInput.Clock, in.Clock)
	if err != nil {
		return cfg.ScoreWithoutDiscriminator
	}

	// grandmaster_gap = delta - o_d + o_i
	gap := timespec.Subtract(timespec.Add(delta, in.Offset), discriminatorInput.Offset)
	if gap.Abs().Duration() < cfg.Threshold.Duration() {
		return 1
	}
	return 0
}

// ApplyGuardThreshold marks every instance whose clustering score is below
// cfg.GuardThreshold as cannot_be_selected, per §4.5's optional guard.
func ApplyGuardThreshold(cfg DiscriminatorConfig, instances []*Instance, scores map[string]int) {
	if cfg.GuardThreshold == nil {
		return
	}
	for _, i := range instances {
		if score, ok := scores[i.Name]; ok {
			i.ClusteringScore = score
			if score < *cfg.GuardThreshold {
				i.Constraints.CannotBeSelected = true
			}
		}
	}
}

// HoldoffTimer implements the selection holdoff described in §4.4: a new
// BIC candidate differing from the current selection arms a timer; if the
// candidate is still preferred at expiry, the engine commits it; if the
// candidate reverts to the current selection first, the timer is
// cancelled.
type HoldoffTimer struct {
	interval  time.Duration
	candidate string
	armedAt   time.Time
	armed     bool
}

// NewHoldoffTimer creates a holdoff timer with the given interval.
func NewHoldoffTimer(interval time.Duration) *HoldoffTimer {
	return &HoldoffTimer{interval: interval}
}

// Observe is called with each new BIC candidate and the currently selected
// instance's name and now's wall-clock time. It returns the instance name
// to commit as selected if the holdoff has expired in the candidate's
// favour, or "" if the current selection should remain unchanged this tick.
func (h *HoldoffTimer) Observe(candidate, current string, now time.Time) string {
	if candidate == current {
		h.armed = false
		return ""
	}
	if !h.armed || h.candidate != candidate {
		h.armed = true
		h.candidate = candidate
		h.armedAt = now
		return ""
	}
	if now.Sub(h.armedAt) >= h.interval {
		h.armed = false
		return candidate
	}
	return ""
}

// Cancel disarms the timer without committing anything.
func (h *HoldoffTimer) Cancel() { h.armed = false }

// Armed reports whether a holdoff is currently pending.
func (h *HoldoffTimer) Armed() bool { return h.armed }
