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

// Command sfptpd is the daemon's process entry point (C15): it wires the
// engine, its sync instances, the realtime-stats pipeline and the
// privileged-helper client, then blocks dispatching messages until a
// termination signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/xilinx-cns/sfptpd/internal/clockreg"
	"github.com/xilinx-cns/sfptpd/internal/engine"
	"github.com/xilinx-cns/sfptpd/internal/helper"
	"github.com/xilinx-cns/sfptpd/internal/ifreg"
	"github.com/xilinx-cns/sfptpd/internal/leapsecond"
	"github.com/xilinx-cns/sfptpd/internal/msgbus"
	"github.com/xilinx-cns/sfptpd/internal/ntpsync"
	"github.com/xilinx-cns/sfptpd/internal/rtstats"
	"github.com/xilinx-cns/sfptpd/internal/syncinstance"
)

// cliFlags is the subset of command-line options the engine itself
// consumes, per §6's external-interfaces note: verbosity, config file
// path, and test-leap. Config file grammar is out of scope; configPath is
// only logged, and the state-file directory comes from stateDir.
type cliFlags struct {
	verbosity   int
	configPath  string
	testLeap    bool
	helperPath  string
	stateDir    string
	metricsAddr string
	jsonStats   bool
}

func main() {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:   "sfptpd",
		Short: "user-space time-synchronization daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}
	root.Flags().CountVarP(&flags.verbosity, "verbose", "v", "increase logging verbosity")
	root.Flags().StringVarP(&flags.configPath, "config", "f", "", "configuration file path")
	root.Flags().BoolVarP(&flags.testLeap, "test-leap", "t", false, "exercise the leap-second scheduler's dry-run path on startup")
	root.Flags().StringVar(&flags.helperPath, "helper", "", "path to the sfptpd-helper binary; empty runs privileged operations in-process")
	root.Flags().StringVar(&flags.stateDir, "state-dir", "/var/lib/sfptpd", "directory for per-instance state files and the topology summary")
	root.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on; empty disables the listener")
	root.Flags().BoolVar(&flags.jsonStats, "json-stats", false, "emit realtime-stats samples as JSON lines instead of text")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func setLogLevel(verbosity int) {
	switch {
	case verbosity >= 2:
		log.SetLevel(log.TraceLevel)
	case verbosity == 1:
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

func run(flags *cliFlags) error {
	setLogLevel(flags.verbosity)
	if flags.configPath != "" {
		log.Infof("sfptpd: config file grammar is a narrow collaborator interface, not parsed by this binary (%s ignored)", flags.configPath)
	}

	reg := prometheus.NewRegistry()
	metrics := rtstats.NewMetrics(reg)

	if flags.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: flags.metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("sfptpd: metrics listener exited")
			}
		}()
		log.Infof("sfptpd: serving metrics on %s/metrics", flags.metricsAddr)
	}

	if err := os.MkdirAll(flags.stateDir, 0755); err != nil {
		return fmt.Errorf("sfptpd: creating state dir %s: %w", flags.stateDir, err)
	}

	var sink rtstats.EntrySink
	if flags.jsonStats {
		sink = rtstats.NewJSONSink(os.Stdout)
	} else {
		sink = rtstats.NewTextSink(os.Stdout)
	}
	pipeline := rtstats.NewPipeline(metrics, sink)

	sampler := rtstats.NewHostSampler(os.Stdout, metrics, 10*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	onHelperFailure := func(err error) {
		log.WithError(err).Fatal("sfptpd: privileged helper failed; the helper is essential once configured")
	}
	var helperClient *helper.Client
	var err error
	if flags.helperPath != "" {
		helperClient, err = helper.Spawn(flags.helperPath, onHelperFailure)
		if err != nil {
			return fmt.Errorf("sfptpd: spawning privileged helper: %w", err)
		}
		defer helperClient.Close()
	} else {
		helperClient = helper.NewDirectClient()
	}
	helperClient.OnRPCFailure = func(error) { metrics.IncHelperRPCFailure() }
	probeChronyControlSocket(helperClient)

	clocks := clockreg.NewRegistry()
	ifaces := ifreg.NewRegistry()

	cfg := engine.DefaultConfig()
	cfg.TopologyPath = topologyPath(flags.stateDir)

	eng := engine.New(cfg, clocks, ifaces, pipeline)
	eng.SetMetrics(metrics)

	instance := buildChronyInstance(&mailboxEventSink{mailbox: eng.Mailbox()}, flags.stateDir)
	eng.AddInstance(instance, clocks.System().ShortName())

	if probe, perr := ifreg.NewEthtoolProbe(); perr == nil {
		if aerr := eng.AttachNetlink(probe); aerr != nil {
			log.WithError(aerr).Warn("sfptpd: netlink hotplug unavailable")
		}
	} else {
		log.WithError(perr).Debug("sfptpd: ethtool probe unavailable, hotplug disabled")
	}

	go sampler.Run(ctx)
	go handleSignals(ctx, eng, flags)

	eng.Run(ctx)
	return nil
}

// probeChronyControlSocket exercises the helper's OPEN_CHRONY path as a
// startup readiness check: a privilege-separated chronyd's control socket
// lives in a root-owned directory, so this is the same capability a future
// direct (non-chronyc) backend would use.
func probeChronyControlSocket(cli *helper.Client) {
	fd, step, err := cli.OpenChrony()
	if err != nil {
		log.WithError(err).Debugf("sfptpd: chrony control socket unavailable at step %q", step)
		return
	}
	unix.Close(fd)
}

// topologyPath derives the topology-summary file path from the state
// directory, per §6's "tabular interface/sync-instance summary ...
// rewritten on each save".
func topologyPath(stateDir string) string {
	return stateDir + "/topology.txt"
}

func handleSignals(ctx context.Context, eng *engine.Engine, flags *cliFlags) {
	if flags.testLeap {
		eng.Mailbox().Send(engine.ScheduleLeapSecond{
			LeapType:      leapsecond.Leap61,
			EventDay:      time.Now().Add(time.Minute),
			GuardInterval: 10 * time.Second,
			Test:          true,
		})
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGHUP)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				eng.Mailbox().Send(engine.StepClocks{})
			case syscall.SIGHUP:
				eng.Mailbox().Send(engine.LogRotate{})
			}
		}
	}
}

// buildChronyInstance wires the default sync instance: the chrony backend
// driving the NTP/chrony sync module of §4.7, in active clock-control mode.
func buildChronyInstance(sink syncinstance.EventSink, stateDir string) *ntpsync.Instance {
	backend := ntpsync.NewChronyBackend(ntpsync.ExecOutputRunner{})
	ignoreCritical, _ := ntpsync.NewIgnoreCriticalSet(nil, "")
	module := ntpsync.NewModule("ntp0", ntpsync.ModeActive, 1e-6, 30*time.Second, ignoreCritical)
	disabler := ntpsync.NewChronyClockControlDisabler()
	statePath := stateDir + "/ntp0.state"
	return ntpsync.NewInstance(module, backend, disabler, sink, time.Second, 128, statePath)
}

// mailboxEventSink adapts syncinstance.EventSink onto the engine's
// mailbox: an instance's own goroutine pushes INSTANCE_STATE_CHANGED and
// RT_STATS_ENTRY straight into the engine's queue, matching §5's "threads
// communicate only through typed message passing" rule.
type mailboxEventSink struct {
	mailbox *msgbus.Mailbox
}

func (s *mailboxEventSink) OnStateChanged(status syncinstance.InstanceStatus) {
	s.mailbox.Send(engine.InstanceStateChanged(status))
}

func (s *mailboxEventSink) OnRTStatsEntry(entry syncinstance.RTStatsEntry) {
	s.mailbox.Send(engine.RTStatsEntry(entry))
}
