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

// Package rtstats implements the realtime-stats pipeline (C14): a set of
// io.Writer-backed sinks that an instance's RT_STATS_ENTRY/LOG_STATS replies
// and the engine's own selection-change/instance-state events are fanned
// out to. The concrete writers are intentionally thin; the spec's Non-goals
// exclude log writer implementations beyond a swappable io.Writer target.
package rtstats

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xilinx-cns/sfptpd/internal/syncinstance"
)

// TextSink writes one human-readable line per sample, in the style of the
// teacher's own logrus usage elsewhere in the daemon.
type TextSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextSink wraps w; with a nil w, Write does nothing.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) Write(entry syncinstance.RTStatsEntry) {
	if s.w == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s %-16s offset=%+.1fns freq=%+.3fppb sync=%v\n",
		entry.Time.Format(time.RFC3339Nano), entry.InstanceName, entry.OffsetNS, entry.FreqAdjPPB, entry.InSync)
	if err != nil {
		log.WithError(err).Warn("rtstats: text sink write failed")
	}
}

// JSONSink writes one JSON object per line (JSON Lines), the format the
// spec's text/JSON dual-sink requirement asks for.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink wraps w with a streaming encoder; nil w disables writes.
func NewJSONSink(w io.Writer) *JSONSink {
	if w == nil {
		return &JSONSink{}
	}
	return &JSONSink{enc: json.NewEncoder(w)}
}

type jsonEntry struct {
	Instance string    `json:"instance"`
	Time     time.Time `json:"time"`
	OffsetNS float64   `json:"offset_ns"`
	FreqPPB  float64   `json:"freq_adj_ppb"`
	InSync   bool      `json:"in_sync"`
}

func (s *JSONSink) Write(entry syncinstance.RTStatsEntry) {
	if s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.enc.Encode(jsonEntry{
		Instance: entry.InstanceName,
		Time:     entry.Time,
		OffsetNS: entry.OffsetNS,
		FreqPPB:  entry.FreqAdjPPB,
		InSync:   entry.InSync,
	})
	if err != nil {
		log.WithError(err).Warn("rtstats: json sink write failed")
	}
}

// EntrySink is anything that can accept one realtime-stats sample.
type EntrySink interface {
	Write(entry syncinstance.RTStatsEntry)
}

// Pipeline fans RT_STATS_ENTRY/INSTANCE_STATE_CHANGED events out to a set of
// EntrySinks plus the Prometheus collector (C16), satisfying
// engine.RTStatsSink. Metrics and the text/JSON sinks are updated from the
// same call, per the C15/C16/C17 wiring note, so they cannot diverge.
type Pipeline struct {
	sinks   []EntrySink
	metrics *Metrics
}

// NewPipeline builds a Pipeline writing to sinks and updating metrics (metrics
// may be nil to disable Prometheus export entirely).
func NewPipeline(metrics *Metrics, sinks ...EntrySink) *Pipeline {
	return &Pipeline{sinks: sinks, metrics: metrics}
}

// OnRTStatsEntry implements engine.RTStatsSink.
func (p *Pipeline) OnRTStatsEntry(entry syncinstance.RTStatsEntry) {
	for _, s := range p.sinks {
		s.Write(entry)
	}
	if p.metrics != nil {
		p.metrics.observeEntry(entry)
	}
}

// OnStateChanged implements engine.RTStatsSink, keeping the per-instance
// state/alarm/clustering gauges current between RT_STATS_ENTRY samples.
// Selection-change counting is driven directly by the engine's commit point
// (Metrics.IncSelectionChange), since InstanceStatus alone does not carry
// "currently selected" — only the engine's selection logic knows that.
func (p *Pipeline) OnStateChanged(status syncinstance.InstanceStatus) {
	if p.metrics == nil {
		return
	}
	p.metrics.observeStatus(status)
}
