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

// Package engine implements the daemon's single coordinating actor: it
// owns the clock feed, the servo pool, every sync-instance's lifecycle,
// the leap-second scheduler and the interface registry's hotplug
// reconciliation, per §4.9.
package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xilinx-cns/sfptpd/internal/clockfeed"
	"github.com/xilinx-cns/sfptpd/internal/clockreg"
	"github.com/xilinx-cns/sfptpd/internal/ifreg"
	"github.com/xilinx-cns/sfptpd/internal/leapsecond"
	"github.com/xilinx-cns/sfptpd/internal/msgbus"
	"github.com/xilinx-cns/sfptpd/internal/selection"
	"github.com/xilinx-cns/sfptpd/internal/servo"
	"github.com/xilinx-cns/sfptpd/internal/syncinstance"
	"github.com/xilinx-cns/sfptpd/internal/topology"
)

// StartupStrategy governs how the engine chooses its first selection,
// per §4.9's startup step.
type StartupStrategy int

const (
	// StartupAutomatic runs BIC immediately and selects its result.
	StartupAutomatic StartupStrategy = iota
	// StartupManual selects a user-named instance and only ever
	// annotates (never overrides it with) BIC's result.
	StartupManual
	// StartupManualAtStartup selects a user-named instance but arms the
	// selection holdoff against BIC's independently-computed result, so
	// a later automatic reselection can still take over.
	StartupManualAtStartup
)

// Config configures one Engine instance.
type Config struct {
	Strategy           StartupStrategy
	ManualInstanceName string

	LogStatsInterval      time.Duration
	SaveStateInterval     time.Duration
	StatsPeriodInterval   time.Duration
	NetlinkRescanInterval time.Duration
	NetlinkCoalesceDelay  time.Duration
	SelectionHoldoff      time.Duration

	ClockFeedInterval time.Duration
	ServoConfig       servo.Config
	SelectionRules     []selection.Rule
	ClusteringConfig   selection.DiscriminatorConfig

	SpareServos int

	// TopologyPath, if non-empty, is rewritten with the tabular
	// interface/sync-instance summary of §6 on every save-state tick.
	TopologyPath string
}

// DefaultConfig mirrors the defaults named in §4.9.
func DefaultConfig() Config {
	return Config{
		Strategy:              StartupAutomatic,
		LogStatsInterval:      time.Second,
		SaveStateInterval:     60 * time.Second,
		StatsPeriodInterval:   60 * time.Second,
		NetlinkRescanInterval: 30 * time.Second,
		NetlinkCoalesceDelay:  200 * time.Millisecond,
		SelectionHoldoff:      10 * time.Second,
		ClockFeedInterval:     time.Second,
		ServoConfig:           servo.DefaultConfig(),
		SelectionRules:        selection.DefaultRules,
		SpareServos:           1,
	}
}

// leapPollInterval is how often the engine drives the otherwise-passive
// leapsecond.Scheduler.Tick while a leap second is scheduled or active.
const leapPollInterval = time.Second

const (
	timerLogStats        = "log-stats"
	timerSaveState        = "save-state"
	timerStatsPeriodEnd   = "stats-period-end"
	timerLeapSecond       = "leap-second"
	timerSelectionHoldoff = "selection-holdoff"
	timerNetlinkRescan    = "netlink-rescan"
	timerNetlinkCoalesce  = "netlink-coalesce"
)

// servoSlot is one entry of the servo pool: allocated up front to
// active_clocks + spare_for_hotplug, per §5's resource policy, and
// inactive until a clock is assigned to it.
type servoSlot struct {
	clockName string
	active    bool
	servo     *servo.Servo
	prevAlarms servo.Alarms
}

// Engine is the daemon's coordinating actor.
type Engine struct {
	cfg Config

	mailbox *msgbus.Mailbox

	feed         *clockfeed.Feed
	clocks       *clockreg.Registry
	instances    map[string]syncinstance.Instance
	statuses     map[string]syncinstance.InstanceStatus
	servoPool    []*servoSlot

	registry   *ifreg.Registry
	links      *ifreg.LinkReader
	probe      ifreg.PHCProbe

	holdoff *selection.HoldoffTimer
	current string

	leap *leapsecond.Scheduler

	rtstats RTStatsSink
	metrics Metrics
}

// SetMetrics wires the engine's own selection/leap-second Prometheus
// updates. Safe to call before Run; not safe to call concurrently with it.
func (e *Engine) SetMetrics(m Metrics) {
	e.metrics = m
}

// RTStatsSink receives realtime-stats entries and instance state changes
// destined for the text/JSON sink and Prometheus metrics (C14/C16). A nil
// sink is valid; the engine simply does not publish.
type RTStatsSink interface {
	OnStateChanged(status syncinstance.InstanceStatus)
	OnRTStatsEntry(entry syncinstance.RTStatsEntry)
}

// Metrics receives the handful of Prometheus updates that originate at the
// engine's own decision points rather than from an instance's rt-stats
// stream (selection commits, leap-second scheduler transitions). A nil
// Metrics is valid; SetMetrics is optional.
type Metrics interface {
	IncSelectionChange()
	SetLeapSecondState(state leapsecond.State)
}

// New creates an Engine. Call AddInstance for every configured
// sync-module instance before Run.
func New(cfg Config, clocks *clockreg.Registry, registry *ifreg.Registry, rtstats RTStatsSink) *Engine {
	e := &Engine{
		cfg:       cfg,
		mailbox:   msgbus.New(64),
		feed:      clockfeed.New(clocks.System(), cfg.ClockFeedInterval),
		clocks:    clocks,
		instances: map[string]syncinstance.Instance{},
		statuses:  map[string]syncinstance.InstanceStatus{},
		registry:  registry,
		holdoff:   selection.NewHoldoffTimer(cfg.SelectionHoldoff),
		rtstats:   rtstats,
	}
	leapNotifier := &engineLeapNotifier{e: e}
	e.leap = leapsecond.New(leapNotifier, cfg.ServoConfig.Policy)
	return e
}

// AddInstance registers a sync-instance and allocates it a servo slot
// against its clock, per §4.9's "allocate servo pool sized
// active_clocks + spare" step. Must be called before Run.
func (e *Engine) AddInstance(inst syncinstance.Instance, clockName string) {
	e.instances[inst.Name()] = inst
	clk, ok := e.clocks.Get(clockName)
	if !ok {
		log.Errorf("engine: instance %s references unknown clock %s", inst.Name(), clockName)
		return
	}
	e.servoPool = append(e.servoPool, &servoSlot{
		clockName: clockName,
		active:    true,
		servo:     servo.New(e.cfg.ServoConfig, e.clocks.System(), clk),
	})
	for i := 0; i < e.cfg.SpareServos; i++ {
		e.servoPool = append(e.servoPool, &servoSlot{active: false})
	}
}

// AttachNetlink opens the rtnetlink link reader and starts hotplug
// rescanning. Optional: daemons with no dynamic-interface sync modules can
// skip this.
func (e *Engine) AttachNetlink(probe ifreg.PHCProbe) error {
	links, err := ifreg.OpenLinkReader()
	if err != nil {
		return fmt.Errorf("engine: attaching netlink: %w", err)
	}
	e.links = links
	e.probe = probe
	return nil
}

// Run starts every subsystem goroutine and blocks dispatching messages and
// timers until ctx is cancelled, per §4.9's startup sequence.
func (e *Engine) Run(ctx context.Context) {
	e.feed.Subscribe(e)
	e.feed.Start(ctx)

	for _, inst := range e.instances {
		inst.Run()
	}

	for _, inst := range e.instances {
		e.statuses[inst.Name()] = inst.Status()
	}
	e.runSelection()

	e.mailbox.ArmPeriodic(timerLogStats, e.cfg.LogStatsInterval)
	e.mailbox.ArmPeriodic(timerSaveState, e.cfg.SaveStateInterval)
	e.mailbox.ArmPeriodic(timerStatsPeriodEnd, e.cfg.StatsPeriodInterval)
	if e.links != nil {
		e.mailbox.ArmPeriodic(timerNetlinkRescan, e.cfg.NetlinkRescanInterval)
	}

	notifySystemdReady()

	e.mailbox.Run(ctx, e.dispatch)
}

func (e *Engine) dispatch(msg msgbus.Message, timerName string) {
	if timerName != "" {
		e.onTimer(timerName)
		return
	}
	switch m := msg.(type) {
	case StepClocks:
		e.onStepClocks()
	case ScheduleLeapSecond:
		scheduleFn := e.leap.Schedule
		if m.Test {
			scheduleFn = e.leap.Test
		}
		if err := scheduleFn(m.LeapType, m.EventDay, m.GuardInterval); err != nil {
			log.WithError(err).Error("engine: scheduling leap second")
			return
		}
		e.mailbox.ArmPeriodic(timerLeapSecond, leapPollInterval)
		if e.metrics != nil {
			e.metrics.SetLeapSecondState(e.leap.State())
		}
	case CancelLeapSecond:
		e.leap.Cancel()
		e.mailbox.CancelTimer(timerLeapSecond)
		if e.metrics != nil {
			e.metrics.SetLeapSecondState(e.leap.State())
		}
	case SelectInstance:
		e.current = m.Name
		e.runSelection()
	case ConfigureTestMode:
		if inst, ok := e.instances[m.InstanceName]; ok {
			inst.TestMode(m.Mode)
		}
	case RTStatsEntry:
		if e.rtstats != nil {
			e.rtstats.OnRTStatsEntry(syncinstance.RTStatsEntry(m))
		}
	case LogRotate:
		log.Info("engine: log rotate requested")
	case ClusteringInput:
		e.onClusteringInput(m)
	case LinkTableRelease:
		// Netlink backpressure release: nothing buffered beyond the
		// current snapshot, so this simply allows the next rescan.
	case ServoPIDAdjust:
		e.onServoPIDAdjust(m)
	case InstanceStateChanged:
		e.onInstanceStateChanged(syncinstance.InstanceStatus(m))
	default:
		log.Warnf("engine: unrecognised message %T", msg)
	}
}

func (e *Engine) onTimer(name string) {
	switch name {
	case timerLogStats:
		e.mailbox.ArmPeriodic(timerLogStats, e.cfg.LogStatsInterval)
		now := time.Now()
		for _, inst := range e.instances {
			inst.LogStats(now)
		}
		notifySystemdWatchdog()
	case timerSaveState:
		e.mailbox.ArmPeriodic(timerSaveState, e.cfg.SaveStateInterval)
		for _, inst := range e.instances {
			if err := inst.SaveState(); err != nil {
				log.WithError(err).Warnf("engine: saving state for %s", inst.Name())
			}
		}
		e.writeTopology()
	case timerStatsPeriodEnd:
		e.mailbox.ArmPeriodic(timerStatsPeriodEnd, e.cfg.StatsPeriodInterval)
		now := time.Now()
		for _, inst := range e.instances {
			inst.StatsEndPeriod(now)
		}
	case timerLeapSecond:
		e.leap.Tick(time.Now())
		if e.metrics != nil {
			e.metrics.SetLeapSecondState(e.leap.State())
		}
		if e.leap.State() != leapsecond.StateIdle {
			e.mailbox.ArmPeriodic(timerLeapSecond, leapPollInterval)
		}
	case timerSelectionHoldoff:
		e.runSelection()
	case timerNetlinkRescan:
		e.mailbox.ArmPeriodic(timerNetlinkRescan, e.cfg.NetlinkRescanInterval)
		e.rescanNetlink()
	case timerNetlinkCoalesce:
		e.rescanNetlink()
	}
}

// OnSyncEvent implements clockfeed.Subscriber: it drives the synchronise
// pass, per §4.9 step 5.
func (e *Engine) OnSyncEvent(comparisons []clockfeed.Comparison) {
	byClock := make(map[string]clockfeed.Comparison, len(comparisons))
	for _, c := range comparisons {
		byClock[c.Clock.ShortName()] = c
	}
	for _, slot := range e.servoPool {
		if !slot.active || slot.servo == nil {
			continue
		}
		cmp, ok := byClock[slot.clockName]
		if !ok || cmp.Err != nil {
			continue
		}
		stats := slot.servo.Sample(cmp.Offset.Duration(), cmp.Timestamp, cmp.MasterTime, cmp.SlaveTime)
		if stats.Alarms != slot.prevAlarms {
			log.Infof("engine: servo alarms for %s changed %v -> %v", slot.clockName, slot.prevAlarms, stats.Alarms)
			slot.prevAlarms = stats.Alarms
		}
	}
}

func (e *Engine) onClusteringInput(m ClusteringInput) {
	inputs := e.allClusteringInputs()
	inputs = append(inputs, selection.ClusteringInput(m))

	var discriminator *selection.ClusteringInput
	for i := range inputs {
		if inputs[i].InstanceName == e.cfg.ClusteringConfig.DiscriminatorName {
			discriminator = &inputs[i]
			break
		}
	}

	scores := selection.Score(e.cfg.ClusteringConfig, discriminator, inputs)
	for name, score := range scores {
		if st, ok := e.statuses[name]; ok {
			st.ClusteringScore = score
			e.statuses[name] = st
		}
	}
	e.runSelection()
}

func (e *Engine) allClusteringInputs() []selection.ClusteringInput {
	out := make([]selection.ClusteringInput, 0, len(e.instances))
	for _, inst := range e.instances {
		if ci, ok := inst.Clustering(); ok {
			out = append(out, selection.ClusteringInput(ci))
		}
	}
	return out
}

func (e *Engine) onServoPIDAdjust(m ServoPIDAdjust) {
	for _, slot := range e.servoPool {
		if slot.clockName == m.ClockName {
			log.Infof("engine: PID adjust requested for %s (kp=%v ki=%v)", m.ClockName, m.KP, m.KI)
		}
	}
}

func (e *Engine) onInstanceStateChanged(status syncinstance.InstanceStatus) {
	e.statuses[status.Name] = status
	if e.rtstats != nil {
		e.rtstats.OnStateChanged(status)
	}
	e.runSelection()
}

func (e *Engine) onStepClocks() {
	for _, slot := range e.servoPool {
		if slot.active && slot.servo != nil {
			_ = slot.servo.Slave.Step(0)
		}
	}
	for _, inst := range e.instances {
		inst.StepClock(0)
	}
}

// runSelection runs BIC over the current status snapshot and either
// commits immediately or arms the selection holdoff, per §4.4/§4.9's
// startup-strategy handling.
func (e *Engine) runSelection() {
	candidates := make([]*selection.Instance, 0, len(e.statuses))
	for name, st := range e.statuses {
		candidates = append(candidates, &selection.Instance{
			Name:            name,
			State:           st.State,
			Alarms:          st.Alarms,
			Constraints:     st.Constraints,
			UserPriority:    st.UserPriority,
			ClusteringScore: st.ClusteringScore,
			Master:          st.Master,
			ManualSelected:  name == e.cfg.ManualInstanceName && e.cfg.Strategy != StartupAutomatic,
		})
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].Name < candidates[b].Name })

	winner := selection.Select(candidates, e.cfg.SelectionRules, e.current)
	if winner == nil {
		return
	}

	switch e.cfg.Strategy {
	case StartupManual:
		e.commitSelection(e.cfg.ManualInstanceName)
	default:
		next := e.holdoff.Observe(winner.Name, e.current, time.Now())
		if next != "" {
			e.mailbox.CancelTimer(timerSelectionHoldoff)
			e.commitSelection(next)
			return
		}
		if e.holdoff.Armed() {
			e.mailbox.ArmTimer(timerSelectionHoldoff, e.cfg.SelectionHoldoff)
		} else {
			e.mailbox.CancelTimer(timerSelectionHoldoff)
		}
	}
}

func (e *Engine) commitSelection(name string) {
	if name == "" || name == e.current {
		return
	}
	e.current = name
	for instName, inst := range e.instances {
		inst.SetControl(
			syncinstance.ControlFlags{Selected: instName == name, ClockCtrl: instName == name},
			syncinstance.ControlMask{Selected: true, ClockCtrl: true},
		)
	}
	log.Infof("engine: selection committed: %s", name)
	if e.metrics != nil {
		e.metrics.IncSelectionChange()
	}
}

func (e *Engine) rescanNetlink() {
	if e.links == nil {
		return
	}
	ifaces, err := e.links.List(e.probe)
	if err != nil {
		log.WithError(err).Warn("engine: netlink rescan failed")
		return
	}
	for _, iface := range ifaces {
		if err := e.registry.Upsert(iface); err != nil {
			log.WithError(err).Warnf("engine: upserting interface %s", iface.Name)
		}
	}
}

// Mailbox exposes the engine's message queue so other actors (signal
// handlers, the CLI) can post engine-local messages.
func (e *Engine) Mailbox() *msgbus.Mailbox { return e.mailbox }

// writeTopology rewrites the tabular interface/sync-instance summary of
// §6 to cfg.TopologyPath. A blank path disables it.
func (e *Engine) writeTopology() {
	if e.cfg.TopologyPath == "" {
		return
	}
	f, err := os.Create(e.cfg.TopologyPath)
	if err != nil {
		log.WithError(err).Warn("engine: creating topology file")
		return
	}
	defer f.Close()

	var ifaces []*ifreg.Interface
	if e.registry != nil {
		ifaces = e.registry.Snapshot()
	}
	if err := topology.WriteSummary(f, ifaces, e.statuses, e.current); err != nil {
		log.WithError(err).Warn("engine: writing topology summary")
	}
}

type engineLeapNotifier struct{ e *Engine }

func (n *engineLeapNotifier) SetGlobalControl(guard, timestampProcessing bool) {
	for _, inst := range n.e.instances {
		inst.SetControl(
			syncinstance.ControlFlags{LeapSecondGuard: guard, TimestampProcessing: timestampProcessing},
			syncinstance.ControlMask{LeapSecondGuard: true, TimestampProcessing: true},
		)
	}
}

func (n *engineLeapNotifier) StepAllSlaves(offset time.Duration) {
	for _, slot := range n.e.servoPool {
		if slot.active && slot.servo != nil {
			_ = slot.servo.Slave.Step(offset)
		}
	}
}

func (n *engineLeapNotifier) ScheduleKernelLeapFlag(leapType leapsecond.LeapType, scheduled bool) {
	log.Infof("engine: kernel leap flag scheduled=%v type=%v", scheduled, leapType)
}
