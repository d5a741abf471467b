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
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// OutputRunner abstracts process execution with captured stdout, so
// ChronyBackend is testable without invoking the real chronyc binary.
type OutputRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecOutputRunner runs commands via os/exec.
type ExecOutputRunner struct{}

func (ExecOutputRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ChronyBackend polls chronyd via chronyc's machine-readable (-c, CSV)
// output, the only supported way to query a privilege-separated chronyd
// without speaking its internal command-socket binary protocol directly.
type ChronyBackend struct {
	runner OutputRunner
	polls  uint64
}

// NewChronyBackend builds a Backend polling chronyc through runner (pass
// ExecOutputRunner{} in production).
func NewChronyBackend(runner OutputRunner) *ChronyBackend {
	return &ChronyBackend{runner: runner}
}

// Poll implements Backend by running `chronyc -c tracking` and parsing its
// CSV fields, per chrony's documented machine-readable tracking format:
// ref-id,ref-name,stratum,ref-time,system-time,last-offset,rms-offset,
// freq-ppm,resid-freq-ppm,skew-ppm,root-delay,root-dispersion,
// update-interval,leap-status.
func (b *ChronyBackend) Poll(ctx context.Context) (CommsStatus, *PeerInfo, error) {
	out, err := b.runner.Output(ctx, "chronyc", "-c", "tracking")
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return CommsUnreachable, nil, nil
		}
		return CommsError, nil, fmt.Errorf("ntpsync: invoking chronyc: %w", err)
	}

	fields := strings.Split(strings.TrimSpace(string(out)), ",")
	if len(fields) < 14 {
		return CommsError, nil, fmt.Errorf("ntpsync: unexpected chronyc tracking output: %q", string(out))
	}

	stratum, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil {
		return CommsError, nil, fmt.Errorf("ntpsync: parsing stratum: %w", err)
	}
	offset, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return CommsError, nil, fmt.Errorf("ntpsync: parsing last offset: %w", err)
	}
	rms, err := strconv.ParseFloat(fields[6], 64)
	if err != nil {
		return CommsError, nil, fmt.Errorf("ntpsync: parsing rms offset: %w", err)
	}

	// Reference ID 0x7f7f0101 ("127.127.1.1") is chrony's "no current
	// source selected" sentinel.
	unsynced := fields[0] == "7F7F0101" || fields[1] == ""
	b.polls++

	peer := PeerInfo{
		RemoteAddress:   fields[1],
		PacketsReceived: b.polls,
		OffsetSeconds:   offset,
		Jitter:          rms,
		Stratum:         uint8(stratum),
		Reachable:       !unsynced,
		Selected:        !unsynced,
	}
	return CommsOK, &peer, nil
}

// CandidatesAvailable reports whether chronyc sees any configured sources at
// all, via `chronyc -c sources`, independent of whether one is currently
// selected.
func (b *ChronyBackend) CandidatesAvailable() bool {
	out, err := b.runner.Output(context.Background(), "chronyc", "-c", "sources")
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(out))) > 0
}
