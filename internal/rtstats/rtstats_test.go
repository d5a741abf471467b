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
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/xilinx-cns/sfptpd/internal/leapsecond"
	"github.com/xilinx-cns/sfptpd/internal/syncinstance"
)

func sampleEntry() syncinstance.RTStatsEntry {
	return syncinstance.RTStatsEntry{
		InstanceName: "ntp0",
		Time:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		OffsetNS:     123.5,
		FreqAdjPPB:   -4.25,
		InSync:       true,
	}
}

func TestTextSinkFormatsOneLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewTextSink(&buf)
	s.Write(sampleEntry())

	out := buf.String()
	if !strings.Contains(out, "ntp0") || !strings.Contains(out, "offset=+123.5ns") {
		t.Fatalf("unexpected text sink output: %q", out)
	}
}

func TestJSONSinkEmitsOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONSink(&buf)
	s.Write(sampleEntry())
	s.Write(sampleEntry())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines, got %d", len(lines))
	}
	var decoded jsonEntry
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("decoding json line: %v", err)
	}
	if decoded.Instance != "ntp0" || decoded.OffsetNS != 123.5 {
		t.Fatalf("unexpected decoded entry: %+v", decoded)
	}
}

func TestJSONSinkWithNilWriterDoesNotPanic(t *testing.T) {
	s := NewJSONSink(nil)
	s.Write(sampleEntry())
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("reading gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestPipelineUpdatesMetricsAndSinks(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	var buf bytes.Buffer
	p := NewPipeline(metrics, NewTextSink(&buf))

	p.OnRTStatsEntry(sampleEntry())

	if buf.Len() == 0 {
		t.Fatal("expected text sink to receive the entry")
	}
	g, err := metrics.offsetNS.GetMetricWithLabelValues("ntp0")
	if err != nil {
		t.Fatalf("fetching gauge: %v", err)
	}
	if got := gaugeValue(t, g); got != 123.5 {
		t.Fatalf("expected offset gauge 123.5, got %v", got)
	}
}

func TestPipelineWithNilMetricsDoesNotPanic(t *testing.T) {
	p := NewPipeline(nil)
	p.OnRTStatsEntry(sampleEntry())
	p.OnStateChanged(syncinstance.InstanceStatus{Name: "ntp0"})
}

func TestMetricsSelectionChangeIncrements(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.IncSelectionChange()
	metrics.IncSelectionChange()
	if got := counterValue(t, metrics.selectionChanges); got != 2 {
		t.Fatalf("expected 2 selection changes, got %v", got)
	}
}

func TestMetricsLeapSecondStateGauge(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.SetLeapSecondState(leapsecond.StateScheduled)
	if got := gaugeValue(t, metrics.leapSecondState); got != float64(leapsecond.StateScheduled) {
		t.Fatalf("expected leap second gauge %v, got %v", leapsecond.StateScheduled, got)
	}
}

func TestMetricsHelperRPCFailureIncrements(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.IncHelperRPCFailure()
	if got := counterValue(t, metrics.helperRPCFailures); got != 1 {
		t.Fatalf("expected 1 helper rpc failure, got %v", got)
	}
}

func TestHostSamplerWritesTextAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	metrics := NewMetrics(prometheus.NewRegistry())
	h := NewHostSampler(&buf, metrics, time.Second)

	h.sampleOnce(context.Background())

	if !strings.Contains(buf.String(), "host") {
		t.Fatalf("expected host sample line, got %q", buf.String())
	}
}
