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

package phc

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xilinx-cns/sfptpd/internal/helper"
)

// PPSSourceKind distinguishes the two ways a PHC's pulse-per-second signal
// can be read: through the PHC's own external-timestamp channel, or through
// a separate /dev/ppsN character device the kernel's pps_ldisc/pps-gpio
// stack exposes for the same pulse.
type PPSSourceKind int

const (
	// PPSViaEXTTS arms one of the PHC's own extts channels and reads edge
	// events from it directly.
	PPSViaEXTTS PPSSourceKind = iota
	// PPSViaDevPPS reads edges from an independent /dev/ppsN device that
	// the kernel associates with the same physical pulse.
	PPSViaDevPPS
)

// PPSSource is a configured PPS input for a Device.
type PPSSource struct {
	kind      PPSSourceKind
	channel   uint32
	devPPSFd  int
	lastEvent *ExtTSEvent
}

// ppsSysfsBase is where the kernel exposes pps character devices and their
// metadata, e.g. /sys/class/pps/pps0/name.
const ppsSysfsBase = "/sys/class/pps"

// vendorPPSNamePattern matches the "name" attribute the NIC driver's PPS
// child device publishes, e.g. "ptp0.ext" for sfc/xlnx adapters exposing a
// PHC-derived PPS source, or a bare vendor tag for a standalone PPS device.
var vendorPPSNamePattern = regexp.MustCompile(`^ptp(\d+)\.ext$|^(sfc|xlnx)`)

// FindDevPPSForPHC searches /sys/class/pps for the pps device associated
// with phcIndex, matching the "name" attribute convention PHC-backed PPS
// child devices use.
func FindDevPPSForPHC(phcIndex int) (string, error) {
	entries, err := os.ReadDir(ppsSysfsBase)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", ppsSysfsBase, err)
	}
	want := fmt.Sprintf("ptp%d.ext", phcIndex)
	for _, e := range entries {
		nameFile := filepath.Join(ppsSysfsBase, e.Name(), "name")
		raw, err := os.ReadFile(nameFile)
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(raw))
		// A ptpN.ext name only counts for this PHC's own index; a bare
		// vendor tag (no captured index) is accepted for any PHC.
		m := vendorPPSNamePattern.FindStringSubmatch(name)
		if name == want || (m != nil && m[1] == "") {
			return "/dev/" + e.Name(), nil
		}
	}
	return "", fmt.Errorf("no pps device found for phc%d", phcIndex)
}

// EnablePPSViaEXTTS arms extts channel ch on the device to source PPS
// samples directly through the PHC ioctls, per §4.2's "PPS" method.
func (d *Device) EnablePPSViaEXTTS(channel uint32) error {
	req := ExtTSRequest{Index: channel, Flags: PTPEnableFeature | PTPRisingEdge}
	if err := extTSRequest(d.fd, req); err != nil {
		return fmt.Errorf("arming extts channel %d: %w", channel, err)
	}
	d.ppsSource = &PPSSource{kind: PPSViaEXTTS, channel: channel}
	return nil
}

// EnablePPSViaDevPPS sources PPS samples from an independently opened
// /dev/ppsN device instead of the PHC's own extts channel.
func (d *Device) EnablePPSViaDevPPS(cli *helper.Client, path string) error {
	fd := cli.OpenDev(path)
	if fd < 0 {
		return fmt.Errorf("opening %s: errno %d", path, -fd)
	}
	d.ppsSource = &PPSSource{kind: PPSViaDevPPS, devPPSFd: fd}
	return nil
}

// DisablePPS tears down whichever PPS source was configured.
func (d *Device) DisablePPS() {
	if d.ppsSource == nil {
		return
	}
	if d.ppsSource.kind == PPSViaEXTTS {
		_ = extTSRequest(d.fd, ExtTSRequest{Index: d.ppsSource.channel, Flags: 0})
	}
	if d.ppsSource.kind == PPSViaDevPPS && d.ppsSource.devPPSFd >= 0 {
		_ = osCloseFd(d.ppsSource.devPPSFd)
	}
	d.ppsSource = nil
}

// sample reads the next PPS edge and compares it against the system clock
// reading bracketing it, applying the same smallest-window treatment as the
// other bracketed methods.
func (s *PPSSource) sample(d *Device) (Sample, error) {
	switch s.kind {
	case PPSViaEXTTS:
		return s.sampleEXTTS(d)
	case PPSViaDevPPS:
		return s.sampleDevPPS(d)
	default:
		return Sample{}, ErrNoSample
	}
}

func (s *PPSSource) sampleEXTTS(d *Device) (Sample, error) {
	before := time.Now()
	ev, err := readExtTSEvent(d.fd)
	after := time.Now()
	if err != nil {
		return Sample{}, fmt.Errorf("reading extts event: %w", err)
	}
	s.lastEvent = &ev
	return smallestWindow([]Triple{{SysBefore: before, Device: ev.T.Time(), SysAfter: after}})
}

func (s *PPSSource) sampleDevPPS(d *Device) (Sample, error) {
	before := time.Now()
	assertTime, err := readPPSAssert(s.devPPSFd)
	after := time.Now()
	if err != nil {
		return Sample{}, fmt.Errorf("reading pps assert event: %w", err)
	}
	return smallestWindow([]Triple{{SysBefore: before, Device: assertTime, SysAfter: after}})
}

// PPSSink drives a PHC's periodic output (PEROUT) channel so it can act as
// a PPS source for other equipment, per §4.2's output-channel support.
type PPSSink struct {
	channel uint32
}

// EnablePPSOutput configures periodic output on channel to pulse once per
// period starting at start.
func (d *Device) EnablePPSOutput(channel uint32, start time.Time, period time.Duration) error {
	req := PeroutRequest{
		StartOrPhase: fromTime(start),
		Period:       fromTime(time.Unix(0, 0).Add(period)),
		Index:        channel,
		Flags:        PTPEnableFeature,
	}
	if err := peroutRequest(d.fd, req); err != nil {
		return fmt.Errorf("arming perout channel %d: %w", channel, err)
	}
	d.ppsSink = &PPSSink{channel: channel}
	return nil
}

// DisablePPSOutput tears down a previously configured periodic output.
func (d *Device) DisablePPSOutput() error {
	if d.ppsSink == nil {
		return nil
	}
	req := PeroutRequest{Index: d.ppsSink.channel, Flags: 0}
	if err := peroutRequest(d.fd, req); err != nil {
		return fmt.Errorf("disarming perout channel %d: %w", d.ppsSink.channel, err)
	}
	d.ppsSink = nil
	return nil
}
