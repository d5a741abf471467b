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

// Package msgbus is the per-actor message/timer runtime: a buffered
// channel plus a set of named, independently armable timers, dispatched
// through a single select loop per goroutine. It is the idiomatic Go
// analogue of the teacher's pthread-plus-eventfd per-thread FIFO queue
// described in §5: each actor (engine, clockfeed, one per sync-module
// type) owns exactly one Mailbox and runs its own dispatch loop over it.
package msgbus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Message is any value sent through a Mailbox; concrete message types are
// defined by the actor packages that use msgbus (e.g. engine.Message).
type Message interface{}

// Mailbox is one actor's inbound queue plus its private timer set. It is
// safe for Send/ArmTimer/CancelTimer to be called from other goroutines;
// Run (and therefore the channel receive and timer firing) only ever
// executes on the owning goroutine.
type Mailbox struct {
	queue chan Message

	mu     sync.Mutex
	timers map[string]*timerEntry
	fire   chan timerFired
}

type timerEntry struct {
	timer     *time.Timer
	cancelled bool
}

type timerFired struct {
	name string
	gen  uint64
}

// New creates a Mailbox with the given inbound queue depth. A depth of 0
// yields an unbuffered (synchronous-handoff) queue.
func New(queueDepth int) *Mailbox {
	return &Mailbox{
		queue:  make(chan Message, queueDepth),
		timers: make(map[string]*timerEntry),
		fire:   make(chan timerFired, 16),
	}
}

// Send enqueues msg, blocking if the queue is full. Per §5's ordering
// guarantee, messages from a single sender are delivered in send order.
func (m *Mailbox) Send(msg Message) {
	m.queue <- msg
}

// TrySend enqueues msg without blocking, reporting false if the queue was
// full.
func (m *Mailbox) TrySend(msg Message) bool {
	select {
	case m.queue <- msg:
		return true
	default:
		return false
	}
}

// ArmTimer (re-)arms a named, one-shot timer to fire after d. Re-arming an
// already-armed timer of the same name replaces it — the previous firing
// is suppressed, matching §5's "timer cancel is idempotent" guarantee
// extended to re-arm.
func (m *Mailbox) ArmTimer(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.timers[name]; ok {
		existing.timer.Stop()
		existing.cancelled = true
	}

	entry := &timerEntry{}
	entry.timer = time.AfterFunc(d, func() {
		m.mu.Lock()
		cur, ok := m.timers[name]
		cancelledNow := !ok || cur != entry || entry.cancelled
		m.mu.Unlock()
		if cancelledNow {
			return
		}
		select {
		case m.fire <- timerFired{name: name}:
		default:
			// Dispatch loop isn't keeping up; drop rather than block the
			// timer goroutine. A dropped firing is not redelivered, and
			// the timer stays registered until re-armed or cancelled.
		}
	})
	m.timers[name] = entry
}

// ArmPeriodic arms a timer for a repeating duty. It fires once after d,
// exactly like ArmTimer; it is not re-armed automatically, so the handler
// re-arms it on each firing to keep it repeating. Used this way for
// log-stats, save-state, stats-period-end and netlink-rescan in the engine.
func (m *Mailbox) ArmPeriodic(name string, d time.Duration) {
	m.ArmTimer(name, d)
}

// CancelTimer cancels a named timer if armed; a no-op otherwise.
func (m *Mailbox) CancelTimer(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.timers[name]; ok {
		existing.timer.Stop()
		existing.cancelled = true
		delete(m.timers, name)
	}
}

// TimerArmed reports whether a timer of the given name is currently armed.
func (m *Mailbox) TimerArmed(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[name]
	return ok
}

// Handler processes one dispatched event. TimerName is empty for a
// message dispatch and set to the timer's name for a timer dispatch.
type Handler func(msg Message, timerName string)

// Run dispatches messages and timer firings to handler until ctx is
// cancelled. This is the single select loop per goroutine described in
// §5: one case for the message queue, one for timer firings; a real
// sync-instance actor additionally selects on a protocol-socket readiness
// channel fed by its own reader goroutine (see RunWithFD).
func (m *Mailbox) Run(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.queue:
			handler(msg, "")
		case f := <-m.fire:
			m.mu.Lock()
			_, stillArmed := m.timers[f.name]
			if stillArmed {
				delete(m.timers, f.name)
			}
			m.mu.Unlock()
			if stillArmed {
				handler(nil, f.name)
			}
		}
	}
}

// FDReady is a channel an actor can select on alongside its Mailbox for
// protocol-socket or netlink-socket readiness, per §5's "thread runtime's
// fd-integration". Actors that need it run their own RunWithFD loop
// instead of Run.
type FDReady <-chan struct{}

// RunWithFD is Run extended with one additional readiness channel,
// covering the sync-instance and engine netlink-socket cases where the
// actor must also wake on fd readability.
func (m *Mailbox) RunWithFD(ctx context.Context, fd FDReady, handler Handler, onFD func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.queue:
			handler(msg, "")
		case f := <-m.fire:
			m.mu.Lock()
			_, stillArmed := m.timers[f.name]
			if stillArmed {
				delete(m.timers, f.name)
			}
			m.mu.Unlock()
			if stillArmed {
				handler(nil, f.name)
			}
		case <-fd:
			onFD()
		}
	}
}

// ErrQueueFull is returned by callers that choose to surface a full
// TrySend rather than silently dropping.
type ErrQueueFull struct{ Actor string }

func (e ErrQueueFull) Error() string {
	return fmt.Sprintf("msgbus: mailbox for %q is full", e.Actor)
}
