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
	"io"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xilinx-cns/sfptpd/internal/selection"
	"github.com/xilinx-cns/sfptpd/internal/statefile"
	"github.com/xilinx-cns/sfptpd/internal/syncinstance"
	"github.com/xilinx-cns/sfptpd/internal/timespec"
)

// Backend is implemented once per supported daemon (ntpd, chronyd) and
// supplies the SYS_INFO/PEER_INFO poll that drives Instance.
type Backend interface {
	// Poll performs one SYS_INFO + PEER_INFO round-trip against the
	// daemon, returning its comms status and the currently selected
	// peer (nil if none).
	Poll(ctx context.Context) (CommsStatus, *PeerInfo, error)

	// CandidatesAvailable reports whether any peer besides the selected
	// one looks like a viable future candidate, feeding the
	// selection/listening state distinction.
	CandidatesAvailable() bool
}

// Instance drives a Module by polling a Backend on a fixed cycle
// (SYS_INFO -> PEER_INFO -> SLEEP, per §4.7), translating results into the
// uniform sync-instance contract.
type Instance struct {
	module  *Module
	backend Backend
	sink    syncinstance.EventSink
	clock   ClockControlDisabler

	pollInterval time.Duration
	priority     int

	// StatePath, if non-empty, is the §6 per-instance state file this
	// instance saves to on SAVE_STATE and restores a prior snapshot from
	// at construction.
	StatePath string

	cancel context.CancelFunc

	lastStatus syncinstance.InstanceStatus
	lastOffset timespec.Timespec
	lastPeer   *PeerInfo
	comms      CommsStatus

	control    syncinstance.ControlFlags
	clustering ClusteringInputSource
}

// ClusteringInputSource supplies the module's latest clustering offsets,
// computed from whatever grandmaster comparison the engine has wired in.
type ClusteringInputSource func() (syncinstance.ClusteringInput, bool)

// NewInstance builds a driver for module, polling backend every
// pollInterval and disabling clock control (when needed) via disabler.
// statePath names the §6 per-instance state file; a prior snapshot there
// (if any) is restored immediately. An empty statePath disables both
// restore and the later SAVE_STATE writes.
func NewInstance(module *Module, backend Backend, disabler ClockControlDisabler, sink syncinstance.EventSink, pollInterval time.Duration, priority int, statePath string) *Instance {
	inst := &Instance{
		module:       module,
		backend:      backend,
		sink:         sink,
		clock:        disabler,
		pollInterval: pollInterval,
		priority:     priority,
		comms:        CommsUnreachable,
		StatePath:    statePath,
	}
	inst.restoreState()
	return inst
}

// restoreState reloads the last-saved snapshot from StatePath, so a
// restart doesn't present as alarm-worthy until the next poll completes.
// A missing or unparseable file leaves the zero-value status in place.
func (i *Instance) restoreState() {
	if i.StatePath == "" {
		return
	}
	fields, err := statefile.Load(i.StatePath)
	if err != nil {
		log.WithError(err).WithField("instance", i.Name()).Warn("ntpsync: loading saved state")
		return
	}
	if state, err := strconv.Atoi(fields["state"]); err == nil {
		i.lastStatus.State = selection.State(state)
	}
	if alarms, err := strconv.ParseUint(fields["alarms"], 10, 32); err == nil {
		i.lastStatus.Alarms = uint32(alarms)
	}
	i.lastStatus.Name = i.Name()
}

func (i *Instance) Name() string { return i.module.Name() }

// Run starts the poll loop on its own goroutine, per the actor model of
// §5/§13: each sync instance owns one goroutine pumping state changes into
// its EventSink.
func (i *Instance) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel
	go i.loop(ctx)
}

func (i *Instance) loop(ctx context.Context) {
	ticker := time.NewTicker(i.pollInterval)
	defer ticker.Stop()
	for {
		i.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (i *Instance) pollOnce(ctx context.Context) {
	comms, peer, err := i.backend.Poll(ctx)
	if err != nil {
		log.WithError(err).WithField("instance", i.Name()).Warn("ntpsync: poll failed")
		comms = CommsError
	}
	i.comms = comms
	i.lastPeer = peer

	fresh := false
	if peer != nil {
		fresh = i.module.ObserveOffset(*peer)
	}

	stale := i.module.OffsetStale()
	state := DeriveState(comms, peer, stale, i.backend.CandidatesAvailable())

	if peer != nil {
		i.lastOffset = timespec.FromDuration(time.Duration(peer.OffsetSeconds * float64(time.Second)))
		if fresh && state == selection.StateSlave {
			i.module.convergence.Observe(peer.OffsetSeconds, time.Now())
		}
	}

	if i.control.ClockCtrl {
		currentStateName := fmt.Sprintf("%d", state)
		_ = i.module.ResolveClockControlConflict(func() bool { return peer != nil && peer.Selected }, i.clock, currentStateName, i.priority)
	}

	status := i.buildStatus(state)
	i.lastStatus = status
	if i.sink != nil {
		i.sink.OnStateChanged(status)
	}
}

func (i *Instance) buildStatus(state selection.State) syncinstance.InstanceStatus {
	constraints := selection.Constraints{
		MustBeSelected:   i.module.MustBeSelected(),
		CannotBeSelected: i.module.CriticalError() != nil,
	}
	return syncinstance.InstanceStatus{
		Name:             i.Name(),
		State:            state,
		Constraints:      constraints,
		UserPriority:     i.priority,
		OffsetFromMaster: i.lastOffset,
		OffsetValid:      i.lastPeer != nil && !i.module.OffsetStale(),
		ManualSelected:   false,
	}
}

func (i *Instance) Status() syncinstance.InstanceStatus { return i.lastStatus }

func (i *Instance) SetControl(flags syncinstance.ControlFlags, mask syncinstance.ControlMask) {
	if mask.Selected {
		i.control.Selected = flags.Selected
	}
	if mask.ClockCtrl {
		i.control.ClockCtrl = flags.ClockCtrl
	}
	if mask.TimestampProcessing {
		i.control.TimestampProcessing = flags.TimestampProcessing
	}
	if mask.ClusteringDeterminant {
		i.control.ClusteringDeterminant = flags.ClusteringDeterminant
	}
	if mask.LeapSecondGuard {
		i.control.LeapSecondGuard = flags.LeapSecondGuard
	}
}

func (i *Instance) UpdateGrandmaster(syncinstance.GrandmasterInfo) {}

func (i *Instance) UpdateLeapSecond(int) {}

// StepClock invalidates the cached offset after an external clock step, so
// the next poll is not compared against a now-meaningless baseline.
func (i *Instance) StepClock(time.Duration) {
	i.module.NotifyStepped()
}

func (i *Instance) LogStats(at time.Time) {
	if i.sink == nil || i.lastPeer == nil {
		return
	}
	i.sink.OnRTStatsEntry(syncinstance.RTStatsEntry{
		InstanceName: i.Name(),
		Time:         at,
		OffsetNS:     i.lastPeer.OffsetSeconds * 1e9,
		InSync:       i.lastStatus.State == selection.StateSlave,
	})
}

// SaveState persists the instance's current view to StatePath (the §6
// persistent state layout), a no-op when StatePath is unset.
func (i *Instance) SaveState() error {
	if i.StatePath == "" {
		return nil
	}
	fields := statefile.Fields{
		"instance":          i.Name(),
		"clock-name":        "system",
		"state":             fmt.Sprintf("%d", i.lastStatus.State),
		"alarms":            fmt.Sprintf("%d", i.lastStatus.Alarms),
		"constraints":       fmt.Sprintf("%+v", i.lastStatus.Constraints),
		"control-flags":     fmt.Sprintf("%+v", i.control),
		"offset-from-peer":  i.lastOffset.String(),
		"in-sync":           fmt.Sprintf("%v", i.lastStatus.OffsetValid),
	}
	if i.lastPeer != nil {
		fields["peer-address"] = i.lastPeer.RemoteAddress
		fields["peer-stratum"] = fmt.Sprintf("%d", i.lastPeer.Stratum)
		fields["peer-jitter"] = fmt.Sprintf("%g", i.lastPeer.Jitter)
	}
	return statefile.Save(i.StatePath, fields)
}

func (i *Instance) WriteTopology(w io.Writer) error {
	peerAddr := "none"
	if i.lastPeer != nil {
		peerAddr = i.lastPeer.RemoteAddress
	}
	_, err := fmt.Fprintf(w, "%s: ntp peer=%s state=%d\n", i.Name(), peerAddr, i.lastStatus.State)
	return err
}

func (i *Instance) StatsEndPeriod(time.Time) {}

func (i *Instance) TestMode(syncinstance.TestMode) {}

func (i *Instance) Clustering() (syncinstance.ClusteringInput, bool) {
	if i.clustering == nil {
		return syncinstance.ClusteringInput{}, false
	}
	return i.clustering()
}

// Stop cancels the poll loop.
func (i *Instance) Stop() {
	if i.cancel != nil {
		i.cancel()
	}
}

var _ syncinstance.Instance = (*Instance)(nil)
