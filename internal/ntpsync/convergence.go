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

import "time"

// ConvergenceEstimator considers an instance synchronized once the signed
// offset has remained below threshold for at least minPeriod. Any alarm or
// timestamp-processing disable pauses (but does not clear) the run, per
// §4.7's convergence note.
type ConvergenceEstimator struct {
	threshold float64
	minPeriod time.Duration

	runStart time.Time
	running  bool
	paused   bool
}

// NewConvergenceEstimator creates an estimator with the given threshold
// (absolute offset, same units as the samples passed to Observe) and
// minimum qualifying period.
func NewConvergenceEstimator(threshold float64, minPeriod time.Duration) *ConvergenceEstimator {
	return &ConvergenceEstimator{threshold: threshold, minPeriod: minPeriod}
}

// Observe records one offset sample at t and returns whether the instance
// is now considered converged.
func (c *ConvergenceEstimator) Observe(offset float64, t time.Time) bool {
	if c.paused {
		return false
	}
	abs := offset
	if abs < 0 {
		abs = -abs
	}
	if abs >= c.threshold {
		c.running = false
		return false
	}
	if !c.running {
		c.running = true
		c.runStart = t
	}
	return t.Sub(c.runStart) >= c.minPeriod
}

// Pause suspends the estimator without resetting its run start, so a
// transient alarm does not force a full re-convergence wait.
func (c *ConvergenceEstimator) Pause() { c.paused = true }

// Resume clears a pause, letting Observe resume counting from where it
// left off.
func (c *ConvergenceEstimator) Resume() { c.paused = false }

// Reset fully clears the estimator's run history.
func (c *ConvergenceEstimator) Reset() {
	c.running = false
	c.paused = false
}
