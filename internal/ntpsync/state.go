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

// Package ntpsync implements the NTP/chrony sync module: a state machine
// polling an NTP daemon, translating its peer/offset info into the uniform
// sync-instance contract, and disabling the daemon's own clock discipline
// when selected, per §4.7.
package ntpsync

import (
	"time"

	"github.com/xilinx-cns/sfptpd/internal/selection"
)

// OffsetID identifies a particular observed offset sample: it changes
// whenever a fresh offset has been observed from the daemon, per §4.7's
// "offset_id = (peer_remote_address, pkts_received_from_peer)".
type OffsetID struct {
	PeerAddress      string
	PacketsReceived  uint64
}

// PeerInfo is the daemon-reported state of the currently selected peer.
type PeerInfo struct {
	RemoteAddress   string
	PacketsReceived uint64
	OffsetSeconds   float64
	Jitter          float64
	Stratum         uint8
	Reachable       bool
	Selected        bool
}

// CommsStatus is the outcome of the latest SYS_INFO/PEER_INFO poll.
type CommsStatus int

const (
	CommsOK CommsStatus = iota
	CommsUnreachable
	CommsError
)

// ClockControlMode matches the module's configured relationship to the
// NTP daemon's own clock discipline.
type ClockControlMode int

const (
	ModePassive ClockControlMode = iota
	ModeActive
)

// Module is the NTP/chrony sync-instance implementation's core state,
// independent of which daemon backend (ntpd or chronyd) supplies PeerInfo.
type Module struct {
	name   string
	mode   ClockControlMode

	lastOffsetID   OffsetID
	haveOffsetID   bool
	steppedSince   bool

	convergence *ConvergenceEstimator

	ignoreCritical *IgnoreCriticalSet

	mustBeSelected bool
	criticalError  error
}

// NewModule creates an NTP/chrony sync module named name.
func NewModule(name string, mode ClockControlMode, convergenceThreshold float64, convergenceMinPeriod time.Duration, ignoreCritical *IgnoreCriticalSet) *Module {
	return &Module{
		name:           name,
		mode:           mode,
		convergence:    NewConvergenceEstimator(convergenceThreshold, convergenceMinPeriod),
		ignoreCritical: ignoreCritical,
	}
}

// Name returns the module's configured name.
func (m *Module) Name() string { return m.name }

// DeriveState computes the instance state per §4.7's rules: unreachable ->
// disabled, other comms errors -> faulty, selected peer with a fresh
// non-stale offset -> slave, candidate peers present -> selection,
// otherwise listening.
func DeriveState(comms CommsStatus, peer *PeerInfo, offsetStale bool, haveCandidates bool) selection.State {
	switch comms {
	case CommsUnreachable:
		return selection.StateDisabled
	case CommsError:
		return selection.StateFaulty
	}
	if peer != nil && peer.Selected && !offsetStale {
		return selection.StateSlave
	}
	if haveCandidates {
		return selection.StateSelection
	}
	return selection.StateListening
}

// ObserveOffset updates offset-freshness tracking from a new PeerInfo poll,
// returning true if the offset_id changed (a fresh offset was observed).
func (m *Module) ObserveOffset(peer PeerInfo) bool {
	id := OffsetID{PeerAddress: peer.RemoteAddress, PacketsReceived: peer.PacketsReceived}
	fresh := !m.haveOffsetID || id != m.lastOffsetID
	m.lastOffsetID = id
	m.haveOffsetID = true
	if fresh {
		m.steppedSince = false
	}
	return fresh
}

// OffsetStale reports whether the offset should be considered stale: no
// fresh sample has arrived since the module last observed a step.
func (m *Module) OffsetStale() bool { return m.steppedSince }

// NotifyStepped marks the current offset stale after an external step,
// mirroring the PHC's own "stepped-since-sample" cache invalidation.
func (m *Module) NotifyStepped() { m.steppedSince = true }
