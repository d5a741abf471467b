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

package msgbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMessagesDeliveredInSendOrder(t *testing.T) {
	mb := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	go mb.Run(ctx, func(msg Message, timerName string) {
		if timerName != "" {
			return
		}
		mu.Lock()
		got = append(got, msg.(int))
		n := len(got)
		mu.Unlock()
		if n == 5 {
			close(done)
		}
	})

	for i := 0; i < 5; i++ {
		mb.Send(i)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all messages")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("out-of-order delivery: got %v", got)
		}
	}
}

func TestTimerFiresAfterDuration(t *testing.T) {
	mb := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan string, 1)
	go mb.Run(ctx, func(msg Message, timerName string) {
		if timerName != "" {
			fired <- timerName
		}
	})

	mb.ArmTimer("save-state", 20*time.Millisecond)

	select {
	case name := <-fired:
		if name != "save-state" {
			t.Fatalf("got timer %q, want save-state", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestCancelTimerSuppressesFiring(t *testing.T) {
	mb := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan string, 1)
	go mb.Run(ctx, func(msg Message, timerName string) {
		if timerName != "" {
			fired <- timerName
		}
	})

	mb.ArmTimer("leap-second", 15*time.Millisecond)
	mb.CancelTimer("leap-second")

	select {
	case name := <-fired:
		t.Fatalf("cancelled timer fired anyway: %q", name)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReArmingReplacesPreviousTimer(t *testing.T) {
	mb := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan string, 4)
	go mb.Run(ctx, func(msg Message, timerName string) {
		if timerName != "" {
			fired <- timerName
		}
	})

	mb.ArmTimer("selection-holdoff", 10*time.Millisecond)
	mb.ArmTimer("selection-holdoff", 60*time.Millisecond)

	select {
	case <-fired:
		t.Fatal("first arm should have been superseded and never fire")
	case <-time.After(30 * time.Millisecond):
	}

	select {
	case name := <-fired:
		if name != "selection-holdoff" {
			t.Fatalf("got %q", name)
		}
	case <-time.After(time.Second):
		t.Fatal("re-armed timer never fired")
	}
}

func TestTimerArmedReportsState(t *testing.T) {
	mb := New(1)
	if mb.TimerArmed("x") {
		t.Fatal("should not be armed initially")
	}
	mb.ArmTimer("x", time.Hour)
	if !mb.TimerArmed("x") {
		t.Fatal("should be armed after ArmTimer")
	}
	mb.CancelTimer("x")
	if mb.TimerArmed("x") {
		t.Fatal("should not be armed after CancelTimer")
	}
}

func TestTrySendOnFullQueueReportsFalse(t *testing.T) {
	mb := New(1)
	if !mb.TrySend(1) {
		t.Fatal("first send into an empty buffered queue should succeed")
	}
	if mb.TrySend(2) {
		t.Fatal("second send into a full queue should fail")
	}
}

func TestRunWithFDWakesOnReadiness(t *testing.T) {
	mb := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fdReady := make(chan struct{}, 1)
	woke := make(chan struct{}, 1)

	go mb.RunWithFD(ctx, fdReady, func(Message, string) {}, func() {
		woke <- struct{}{}
	})

	fdReady <- struct{}{}

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("RunWithFD never invoked onFD")
	}
}
