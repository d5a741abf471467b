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
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	log "github.com/sirupsen/logrus"
)

// HostStats is one CPU/mem/load sample, the process-health supplement (C17)
// that the distilled spec dropped from upstream sfptpd's reporting.
type HostStats struct {
	Time           time.Time
	CPUPercent     float64
	MemUsedPercent float64
	Load1          float64
}

// HostSampler periodically samples CPU/mem/load and writes a text line to
// the same writer the text rt-stats sink uses, while updating the same
// Metrics instance the per-instance samples feed — matching the C15/C16/C17
// wiring note that metrics and the text/JSON view come from one code path.
type HostSampler struct {
	w        io.Writer
	metrics  *Metrics
	interval time.Duration
}

// NewHostSampler builds a sampler. Either w or metrics (or both) may be nil
// to disable that half of the output.
func NewHostSampler(w io.Writer, metrics *Metrics, interval time.Duration) *HostSampler {
	return &HostSampler{w: w, metrics: metrics, interval: interval}
}

// Run samples until ctx is cancelled. Intended to run as its own goroutine
// alongside the engine.
func (h *HostSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sampleOnce(ctx)
		}
	}
}

func (h *HostSampler) sampleOnce(ctx context.Context) {
	stats := HostStats{Time: time.Now()}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		log.WithError(err).Debug("rtstats: host cpu sample failed")
	} else if len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		log.WithError(err).Debug("rtstats: host mem sample failed")
	} else {
		stats.MemUsedPercent = vm.UsedPercent
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		log.WithError(err).Debug("rtstats: host load sample failed")
	} else {
		stats.Load1 = avg.Load1
	}

	if h.w != nil {
		_, err := fmt.Fprintf(h.w, "%s host            cpu=%.1f%% mem=%.1f%% load1=%.2f\n",
			stats.Time.Format(time.RFC3339Nano), stats.CPUPercent, stats.MemUsedPercent, stats.Load1)
		if err != nil {
			log.WithError(err).Warn("rtstats: host sample write failed")
		}
	}
	if h.metrics != nil {
		h.metrics.observeHost(stats)
	}
}
