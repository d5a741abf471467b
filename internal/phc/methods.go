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

package phc

import log "github.com/sirupsen/logrus"

// Method identifies one of the comparison methods a PHC can be read
// through, in the priority order described in §4.2.
type Method int

// Supported comparison methods, from most to least precise.
const (
	MethodSysOffsetPrecise Method = iota
	MethodEFX
	MethodPPS
	MethodSysOffsetExtended
	MethodSysOffset
	MethodReadTime
)

func (m Method) String() string {
	switch m {
	case MethodSysOffsetPrecise:
		return "SYS_OFFSET_PRECISE"
	case MethodEFX:
		return "EFX"
	case MethodPPS:
		return "PPS"
	case MethodSysOffsetExtended:
		return "SYS_OFFSET_EXTENDED"
	case MethodSysOffset:
		return "SYS_OFFSET"
	case MethodReadTime:
		return "READ_TIME"
	default:
		return "UNKNOWN"
	}
}

// DefaultMethodOrder is the configurable priority order from §4.2; PPS is
// tried after EFX. The PPS source (EXTTS or DEV_PPS) is whichever
// Device.EnablePPSVia* call configured it; no source is chosen by default.
var DefaultMethodOrder = []Method{
	MethodSysOffsetPrecise,
	MethodEFX,
	MethodPPS,
	MethodSysOffsetExtended,
	MethodSysOffset,
	MethodReadTime,
}

// SampleFunc produces one comparison sample for a given method, or
// ErrNoSample/another error if the method could not be evaluated this tick.
// A method absent from the map passed to MethodState (e.g. EFX when no
// vendor adapter registered one) is treated as permanently unsupported.
type SampleFunc func() (Sample, error)

// synthPPSState tracks whether the PPS method is still considered viable;
// it is demoted (NOT_READY -> BAD) once a full second elapses with no edge.
type synthPPSState int

const (
	ppsNotReady synthPPSState = iota
	ppsReady
	ppsBad
)

// MethodState is the coroutine-like fallback cursor described in §9's
// design notes: {ordered_methods, cursor, active_method, cached_prev_sample}
// carried across ticks instead of goto/exception-based control flow.
type MethodState struct {
	order    []Method
	cursor   int
	active   Method
	ppsState synthPPSState
}

// NewMethodState builds a fallback cursor over order, starting at the
// highest-priority method.
func NewMethodState(order []Method) *MethodState {
	if len(order) == 0 {
		order = DefaultMethodOrder
	}
	return &MethodState{order: order, cursor: 0, active: order[0]}
}

// Active returns the currently latched method.
func (s *MethodState) Active() Method { return s.active }

// Sample attempts to produce one offset sample using the active method,
// consulting methods for an implementation of each candidate. On failure it
// advances the cursor through the configured order (wrapping) until one
// method succeeds, latching that as the new active method; if none
// succeed, it returns the last error seen.
func (s *MethodState) Sample(methods map[Method]SampleFunc) (Sample, error) {
	start := s.cursor
	var lastErr error
	for i := 0; i < len(s.order); i++ {
		idx := (start + i) % len(s.order)
		m := s.order[idx]
		fn, ok := methods[m]
		if !ok {
			continue
		}
		if m == MethodPPS && s.ppsState == ppsBad {
			continue
		}
		sample, err := fn()
		if err != nil {
			lastErr = err
			if i == 0 {
				log.Infof("phc: method %v unavailable (%v), falling back", m, err)
			}
			if m == MethodPPS {
				s.demotePPSIfStale()
			}
			continue
		}
		if idx != s.cursor {
			log.Infof("phc: active comparison method changed from %v to %v", s.active, m)
		}
		s.cursor = idx
		s.active = m
		if m == MethodPPS {
			s.ppsState = ppsReady
		}
		return sample, nil
	}
	if lastErr == nil {
		lastErr = ErrNoSample
	}
	return Sample{}, lastErr
}

// demotePPSIfStale steps the PPS state down one level: ready becomes
// not-ready, and not-ready (the initial state) becomes BAD. Called each
// time a PPS sample attempt fails; upstream sfptpd only demotes after a full second without
// an edge, which in this model is every failed tick since the sampler is
// invoked at tick cadence (>= 1s in practice).
func (s *MethodState) demotePPSIfStale() {
	switch s.ppsState {
	case ppsNotReady:
		s.ppsState = ppsBad
	case ppsReady:
		s.ppsState = ppsNotReady
	}
}
