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
	"context"
	"errors"
	"os/exec"
	"testing"
)

type scriptedOutputRunner struct {
	out []byte
	err error
}

func (r scriptedOutputRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return r.out, r.err
}

const sampleTracking = "A29FC87B,time.example.com,2,1735689600.000000000,0.000001234,0.000000100,0.000000200,0.015,0.002,0.003,0.001200,0.000500,64,N\n"

func TestChronyBackendPollParsesTrackingOutput(t *testing.T) {
	b := NewChronyBackend(scriptedOutputRunner{out: []byte(sampleTracking)})

	status, peer, err := b.Poll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != CommsOK {
		t.Fatalf("expected CommsOK, got %v", status)
	}
	if peer == nil {
		t.Fatal("expected non-nil peer")
	}
	if peer.RemoteAddress != "time.example.com" {
		t.Fatalf("unexpected remote address: %q", peer.RemoteAddress)
	}
	if peer.Stratum != 2 {
		t.Fatalf("expected stratum 2, got %d", peer.Stratum)
	}
	if !peer.Selected || !peer.Reachable {
		t.Fatal("expected peer marked selected and reachable")
	}
}

func TestChronyBackendPollDetectsUnsyncedSentinel(t *testing.T) {
	unsynced := "7F7F0101,,0,0.0,0.0,0.0,0.0,0.0,0.0,0.0,0.0,0.0,64,N\n"
	b := NewChronyBackend(scriptedOutputRunner{out: []byte(unsynced)})

	status, peer, err := b.Poll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != CommsOK {
		t.Fatalf("expected CommsOK even when unsynced, got %v", status)
	}
	if peer.Selected || peer.Reachable {
		t.Fatal("expected unsynced sentinel to report not-selected/not-reachable")
	}
}

func TestChronyBackendPollReturnsUnreachableOnExitError(t *testing.T) {
	exitErr := runAndGetExitError(t)
	b := NewChronyBackend(scriptedOutputRunner{err: exitErr})

	status, peer, err := b.Poll(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if status != CommsUnreachable {
		t.Fatalf("expected CommsUnreachable, got %v", status)
	}
	if peer != nil {
		t.Fatal("expected nil peer on unreachable")
	}
}

func TestChronyBackendPollReturnsCommsErrorOnNonExitError(t *testing.T) {
	b := NewChronyBackend(scriptedOutputRunner{err: errors.New("boom")})

	status, _, err := b.Poll(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if status != CommsError {
		t.Fatalf("expected CommsError, got %v", status)
	}
}

func TestChronyBackendPollRejectsMalformedOutput(t *testing.T) {
	b := NewChronyBackend(scriptedOutputRunner{out: []byte("not,enough,fields\n")})

	status, _, err := b.Poll(context.Background())
	if err == nil {
		t.Fatal("expected an error for malformed output")
	}
	if status != CommsError {
		t.Fatalf("expected CommsError, got %v", status)
	}
}

func TestChronyBackendCandidatesAvailable(t *testing.T) {
	b := NewChronyBackend(scriptedOutputRunner{out: []byte("^* time.example.com,...\n")})
	if !b.CandidatesAvailable() {
		t.Fatal("expected candidates available for non-empty sources output")
	}

	empty := NewChronyBackend(scriptedOutputRunner{out: []byte("")})
	if empty.CandidatesAvailable() {
		t.Fatal("expected no candidates for empty sources output")
	}
}

func runAndGetExitError(t *testing.T) error {
	t.Helper()
	err := exec.Command("sh", "-c", "exit 1").Run()
	if err == nil {
		t.Fatal("expected subprocess to exit non-zero")
	}
	return err
}
