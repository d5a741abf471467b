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

// Package clockfeed periodically samples every registered PHC against the
// system clock and pumps the resulting comparisons to subscribers (the
// servo pool and the engine's synchronise pass), per §2's C6.
package clockfeed

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xilinx-cns/sfptpd/internal/clockreg"
	"github.com/xilinx-cns/sfptpd/internal/phc"
	"github.com/xilinx-cns/sfptpd/internal/timespec"
)

// Comparison is one clock-feed tick's result for a single PHC clock.
type Comparison struct {
	Clock      clockreg.Clock
	Offset     timespec.Timespec
	Method     phc.Method
	Window     time.Duration
	Timestamp  time.Time
	MasterTime time.Time
	SlaveTime  time.Time
	Err        error
}

// Subscriber receives every tick's comparisons. Implementations must not
// block; the feed delivers to all subscribers before sleeping for the next
// tick.
type Subscriber interface {
	OnSyncEvent(comparisons []Comparison)
}

// Feed owns the sampler goroutine and its subscriber list, matching the
// resource policy that the clockfeed owns its sampler thread and buffers.
type Feed struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	clocks      map[string]*phc.Device
	system      clockreg.Clock
	interval    time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a feed sampling at interval (the "sampling cadence set by the
// clock feed" referenced by §4.3).
func New(system clockreg.Clock, interval time.Duration) *Feed {
	return &Feed{
		clocks:   map[string]*phc.Device{},
		system:   system,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// AddClock registers a PHC device to be sampled every tick, keyed by short
// name (e.g. "phc3").
func (f *Feed) AddClock(shortName string, dev *phc.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clocks[shortName] = dev
}

// RemoveClock stops sampling a PHC, e.g. on hotplug removal. Per the
// resource policy, removing a clock flushes its buffer — there is none
// held beyond the current tick, so this is just deregistration.
func (f *Feed) RemoveClock(shortName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clocks, shortName)
}

// Subscribe registers s to receive every future tick's comparisons.
func (f *Feed) Subscribe(s Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers = append(f.subscribers, s)
}

// Start launches the sampler goroutine.
func (f *Feed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.run(ctx)
}

// Stop halts the sampler goroutine and waits for it to exit.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	<-f.done
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

func (f *Feed) tick() {
	f.mu.RLock()
	devices := make(map[string]*phc.Device, len(f.clocks))
	for k, v := range f.clocks {
		devices[k] = v
	}
	subs := make([]Subscriber, len(f.subscribers))
	copy(subs, f.subscribers)
	f.mu.RUnlock()

	now := time.Now()
	comparisons := make([]Comparison, 0, len(devices))
	for name, dev := range devices {
		sample, method, err := dev.Sample()
		c := Comparison{Clock: clockreg.NewPHCClock(dev), Method: method, Timestamp: now, Err: err}
		if err != nil {
			log.Debugf("clockfeed: %s sample failed: %v", name, err)
		} else {
			c.Offset = timespec.FromDuration(sample.Offset)
			c.Window = sample.Window
			c.MasterTime = sample.SysTime
			c.SlaveTime = sample.DeviceTime
		}
		comparisons = append(comparisons, c)
	}

	for _, s := range subs {
		s.OnSyncEvent(comparisons)
	}
}
