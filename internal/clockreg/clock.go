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

// Package clockreg abstracts host clocks — the system clock and PHCs — so
// that the servo and clock feed can operate on them uniformly regardless of
// which kind of clock is involved.
package clockreg

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xilinx-cns/sfptpd/internal/phc"
	"github.com/xilinx-cns/sfptpd/internal/timespec"
)

// Clock is the uniform abstraction the servo, clock feed and selection
// engine operate through: the system clock and every PHC implement it
// identically.
type Clock interface {
	// ShortName is a short identifier, e.g. "system" or "phc3".
	ShortName() string
	// LongName includes the underlying device, e.g. "phc3 (/dev/ptp3)".
	LongName() string
	// Time reads the clock's current time.
	Time() (time.Time, error)
	// AdjustFrequency applies a frequency correction in parts-per-billion.
	AdjustFrequency(ppb float64) error
	// Step steps the clock by offset immediately.
	Step(offset time.Duration) error
	// MaxAdjPPB returns the largest frequency adjustment this clock accepts.
	MaxAdjPPB() float64
	// IsSystemClock distinguishes the host system clock from a PHC, since
	// some policies (e.g. leap-second insertion) only apply to it.
	IsSystemClock() bool
}

// SystemClock wraps CLOCK_REALTIME via adjtimex/clock_settime.
type SystemClock struct{}

// NewSystemClock returns the singleton system clock wrapper.
func NewSystemClock() *SystemClock { return &SystemClock{} }

func (s *SystemClock) ShortName() string { return "system" }
func (s *SystemClock) LongName() string  { return "system (CLOCK_REALTIME)" }
func (s *SystemClock) IsSystemClock() bool { return true }

func (s *SystemClock) Time() (time.Time, error) { return time.Now(), nil }

// DefaultSystemMaxAdjPPB mirrors the kernel's usual STA_FREQHOLD-free
// default; configurable per-deployment in practice but stable enough for a
// safe default here.
const DefaultSystemMaxAdjPPB = 500000.0

func (s *SystemClock) MaxAdjPPB() float64 { return DefaultSystemMaxAdjPPB }

func (s *SystemClock) AdjustFrequency(ppb float64) error {
	tx := &unix.Timex{Modes: unix.ADJ_FREQUENCY, Freq: int64(ppb * 65.536)}
	_, err := unix.Adjtimex(tx)
	if err != nil {
		return fmt.Errorf("adjtimex(ADJ_FREQUENCY) on system clock: %w", err)
	}
	return nil
}

func (s *SystemClock) Step(offset time.Duration) error {
	now := time.Now().Add(offset)
	ts := unix.NsecToTimespec(now.UnixNano())
	if err := unix.ClockSettime(unix.CLOCK_REALTIME, &ts); err != nil {
		return fmt.Errorf("clock_settime on system clock: %w", err)
	}
	return nil
}

// PHCClock adapts a phc.Device to the Clock interface.
type PHCClock struct {
	dev *phc.Device
}

// NewPHCClock wraps an already-open PHC device.
func NewPHCClock(dev *phc.Device) *PHCClock { return &PHCClock{dev: dev} }

func (p *PHCClock) ShortName() string { return fmt.Sprintf("phc%d", p.dev.Index()) }
func (p *PHCClock) LongName() string {
	return fmt.Sprintf("phc%d (/dev/ptp%d)", p.dev.Index(), p.dev.Index())
}
func (p *PHCClock) IsSystemClock() bool       { return false }
func (p *PHCClock) Time() (time.Time, error)  { return p.dev.Time() }
func (p *PHCClock) AdjustFrequency(ppb float64) error { return p.dev.AdjFreq(ppb) }
func (p *PHCClock) Step(offset time.Duration) error   { return p.dev.Step(offset) }
func (p *PHCClock) MaxAdjPPB() float64                { return p.dev.MaxAdjPPB() }

// Device exposes the underlying PHC device for components (the servo's
// Allan-variance tracker, the clock feed's sampler) that need PHC-specific
// operations beyond the Clock interface.
func (p *PHCClock) Device() *phc.Device { return p.dev }

// Registry holds every clock known to the engine, keyed by short name.
// Per the concurrency model this is shared, read-mostly state: reads don't
// lock beyond the map access; hotplug updates are serialised by the
// caller's hardware-state lock (held alongside internal/ifreg's).
type Registry struct {
	mu     sync.RWMutex
	clocks map[string]Clock
}

// NewRegistry returns a registry pre-populated with the system clock.
func NewRegistry() *Registry {
	r := &Registry{clocks: map[string]Clock{}}
	sys := NewSystemClock()
	r.clocks[sys.ShortName()] = sys
	return r
}

// Add registers a clock, replacing any existing entry with the same short
// name (used when a PHC is re-opened after hotplug).
func (r *Registry) Add(c Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clocks[c.ShortName()] = c
}

// Remove drops a clock from the registry, e.g. when its interface is
// unplugged.
func (r *Registry) Remove(shortName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clocks, shortName)
}

// Get looks up a clock by short name.
func (r *Registry) Get(shortName string) (Clock, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clocks[shortName]
	return c, ok
}

// System returns the registry's system clock.
func (r *Registry) System() Clock {
	c, _ := r.Get("system")
	return c
}

// All returns every registered clock.
func (r *Registry) All() []Clock {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Clock, 0, len(r.clocks))
	for _, c := range r.clocks {
		out = append(out, c)
	}
	return out
}

// Compare reads both clocks as close together as practical and returns
// master - slave as a Timespec, the primitive the clustering discriminator
// and the servo both build on.
func Compare(master, slave Clock) (timespec.Timespec, error) {
	mt, err := master.Time()
	if err != nil {
		return timespec.Timespec{}, fmt.Errorf("reading master clock %s: %w", master.ShortName(), err)
	}
	st, err := slave.Time()
	if err != nil {
		return timespec.Timespec{}, fmt.Errorf("reading slave clock %s: %w", slave.ShortName(), err)
	}
	return timespec.FromDuration(mt.Sub(st)), nil
}
