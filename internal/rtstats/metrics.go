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

package rtstats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xilinx-cns/sfptpd/internal/leapsecond"
	"github.com/xilinx-cns/sfptpd/internal/syncinstance"
)

// Metrics holds the C16 Prometheus collectors: per-instance offset, per-servo
// frequency adjustment, selection-change counter, leap-second state gauge
// and helper-RPC failure counter.
type Metrics struct {
	offsetNS      *prometheus.GaugeVec
	freqAdjPPB    *prometheus.GaugeVec
	inSync        *prometheus.GaugeVec
	alarms        *prometheus.GaugeVec
	clusterScore  *prometheus.GaugeVec

	selectionChanges prometheus.Counter
	leapSecondState  prometheus.Gauge
	helperRPCFailures prometheus.Counter

	hostCPUPercent prometheus.Gauge
	hostMemPercent prometheus.Gauge
	hostLoad1      prometheus.Gauge
}

// NewMetrics registers the collectors against reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer) keeps
// test runs free of cross-test collector collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		offsetNS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sfptpd",
			Name:      "instance_offset_ns",
			Help:      "Offset from master in nanoseconds, most recent sample.",
		}, []string{"instance"}),
		freqAdjPPB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sfptpd",
			Name:      "servo_freq_adjustment_ppb",
			Help:      "Most recent servo frequency adjustment in parts per billion.",
		}, []string{"instance"}),
		inSync: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sfptpd",
			Name:      "instance_in_sync",
			Help:      "1 if the instance reports convergence, 0 otherwise.",
		}, []string{"instance"}),
		alarms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sfptpd",
			Name:      "instance_alarms",
			Help:      "Raw alarm bitmask reported by the instance.",
		}, []string{"instance"}),
		clusterScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sfptpd",
			Name:      "instance_clustering_score",
			Help:      "Most recent clustering discriminator score.",
		}, []string{"instance"}),
		selectionChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sfptpd",
			Name:      "selection_changes_total",
			Help:      "Number of times the BIC selection algorithm committed a new instance.",
		}),
		leapSecondState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sfptpd",
			Name:      "leap_second_state",
			Help:      "Current leap-second scheduler state (0=idle,1=scheduled,2=active_pre,3=active_post,4=test).",
		}),
		helperRPCFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sfptpd",
			Name:      "helper_rpc_failures_total",
			Help:      "Number of privileged-helper RPCs that returned an error.",
		}),
		hostCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sfptpd",
			Name:      "host_cpu_percent",
			Help:      "Host CPU utilization percentage, most recent sample.",
		}),
		hostMemPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sfptpd",
			Name:      "host_mem_used_percent",
			Help:      "Host memory utilization percentage, most recent sample.",
		}),
		hostLoad1: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sfptpd",
			Name:      "host_load1",
			Help:      "Host 1-minute load average, most recent sample.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.offsetNS, m.freqAdjPPB, m.inSync, m.alarms, m.clusterScore,
			m.selectionChanges, m.leapSecondState, m.helperRPCFailures,
			m.hostCPUPercent, m.hostMemPercent, m.hostLoad1)
	}
	return m
}

func (m *Metrics) observeHost(stats HostStats) {
	m.hostCPUPercent.Set(stats.CPUPercent)
	m.hostMemPercent.Set(stats.MemUsedPercent)
	m.hostLoad1.Set(stats.Load1)
}

func (m *Metrics) observeEntry(entry syncinstance.RTStatsEntry) {
	m.offsetNS.WithLabelValues(entry.InstanceName).Set(entry.OffsetNS)
	m.freqAdjPPB.WithLabelValues(entry.InstanceName).Set(entry.FreqAdjPPB)
	if entry.InSync {
		m.inSync.WithLabelValues(entry.InstanceName).Set(1)
	} else {
		m.inSync.WithLabelValues(entry.InstanceName).Set(0)
	}
}

func (m *Metrics) observeStatus(status syncinstance.InstanceStatus) {
	m.alarms.WithLabelValues(status.Name).Set(float64(status.Alarms))
	m.clusterScore.WithLabelValues(status.Name).Set(float64(status.ClusteringScore))
}

// IncSelectionChange is called by the engine on every successful
// commitSelection.
func (m *Metrics) IncSelectionChange() {
	m.selectionChanges.Inc()
}

// SetLeapSecondState mirrors the leap-second scheduler's current state.
func (m *Metrics) SetLeapSecondState(state leapsecond.State) {
	m.leapSecondState.Set(float64(state))
}

// IncHelperRPCFailure is called by helper.Client on every RPC that returns
// an error.
func (m *Metrics) IncHelperRPCFailure() {
	m.helperRPCFailures.Inc()
}
