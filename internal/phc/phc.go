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
	"time"

	"golang.org/x/sys/unix"

	"github.com/xilinx-cns/sfptpd/internal/helper"
)

// EFXProbe is registered by a vendor-specific adapter (e.g. a Solarflare/AMD
// NIC driver shim) to supply the EFX comparison method; see
// RegisterEFXMethod. Absent any registration, EFX is simply never a
// candidate and the fallback skips straight past it.
type EFXProbe func(dev *Device) (Sample, error)

var efxProbe EFXProbe

// RegisterEFXMethod installs a vendor EFX probe, analogous to upstream
// sfptpd's "define_diff_method" extension point.
func RegisterEFXMethod(p EFXProbe) { efxProbe = p }

// Device is an open PHC (/dev/ptpN).
type Device struct {
	file        *os.File
	fd          uintptr
	index       int
	clockID     int32
	caps        ClockCaps
	methods     *MethodState
	prevSample  *Sample
	steppedSince bool
	ppsSource   *PPSSource
	ppsSink     *PPSSink
}

// Open opens /dev/ptpN through cli (either the privileged helper or the
// in-process fallback), reads its capabilities and builds a POSIX clockid.
func Open(cli *helper.Client, index int, order []Method) (*Device, error) {
	path := fmt.Sprintf("/dev/ptp%d", index)
	fd := cli.OpenDev(path)
	if fd < 0 {
		return nil, fmt.Errorf("opening %s: errno %d", path, -fd)
	}
	dev := &Device{
		file:    os.NewFile(uintptr(fd), path),
		fd:      uintptr(fd),
		index:   index,
		clockID: clockIDFromFd(uintptr(fd)),
		methods: NewMethodState(order),
	}
	caps, err := readClockCaps(dev.fd)
	if err != nil {
		dev.file.Close()
		return nil, fmt.Errorf("reading caps for %s: %w", path, err)
	}
	dev.caps = caps
	return dev, nil
}

// Close releases the underlying fd.
func (d *Device) Close() error { return d.file.Close() }

// Index returns the PHC's /dev/ptpN index.
func (d *Device) Index() int { return d.index }

// Caps returns the device's reported capabilities.
func (d *Device) Caps() ClockCaps { return d.caps }

// MaxAdjPPB returns the clamped maximum frequency adjustment, accounting
// for the 32-bit scaled-ppm timex field limit.
func (d *Device) MaxAdjPPB() float64 { return maxAdjPPB32Bit(d.caps) }

// Time reads the PHC's current time via clock_gettime.
func (d *Device) Time() (time.Time, error) {
	ts, err := clockGettime(d.clockID)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock_gettime on phc%d: %w", d.index, err)
	}
	return time.Unix(ts.Sec, ts.Nsec), nil
}

// AdjFreq adjusts the PHC clock frequency in PPB.
func (d *Device) AdjFreq(freqPPB float64) error {
	tx := &unix.Timex{Modes: clockAdjFrequency, Freq: int64(freqPPB * ppbToTimexPPM)}
	_, err := clockAdjtime(d.clockID, tx)
	return err
}

// Step steps the PHC clock by the given offset and invalidates any
// cache-dependent comparison method until a fresh sample is taken.
func (d *Device) Step(offset time.Duration) error {
	tx := stepTimex(offset)
	if _, err := clockAdjtime(d.clockID, tx); err != nil {
		return err
	}
	d.RecordStep()
	return nil
}

// RecordStep marks that an external stepper adjusted this PHC, so the next
// cache-dependent sample must be treated as stale (returns ErrNoSample)
// until a fresh one is captured, per §4.2's "stepping interaction".
func (d *Device) RecordStep() {
	d.steppedSince = true
	d.prevSample = nil
}

// clockAdjFrequency / ppbToTimexPPM / stepTimex live alongside the clock
// package's equivalents; duplicated here (rather than imported) because the
// PHC clockid differs from CLOCK_REALTIME and the conversion is a two-line
// pure function, not worth a cross-package dependency for.
const clockAdjFrequency = 0x0002
const ppbToTimexPPM = 65.536

func stepTimex(step time.Duration) *unix.Timex {
	sign := int64(1)
	if step < 0 {
		sign = -1
		step = -step
	}
	tx := &unix.Timex{Modes: 0x0100 | 0x2000} // ADJ_SETOFFSET | ADJ_NANO
	tx.Time.Sec = sign * int64(step/time.Second)
	tx.Time.Usec = sign * int64(step%time.Second)
	if tx.Time.Usec < 0 {
		tx.Time.Sec--
		tx.Time.Usec += 1000000000
	}
	return tx
}

// candidateMethods builds the SampleFunc table for the methods this device
// can attempt, skipping any the device caps say are unsupported.
func (d *Device) candidateMethods() map[Method]SampleFunc {
	m := map[Method]SampleFunc{}
	if d.steppedSince {
		// Every cache-dependent method must report stale until refreshed.
		stale := func() (Sample, error) { return Sample{}, ErrNoSample }
		m[MethodSysOffsetExtended] = stale
		m[MethodSysOffset] = stale
		m[MethodReadTime] = stale
		d.steppedSince = false
	}
	if d.caps.CrossTimestamping != 0 {
		m[MethodSysOffsetPrecise] = d.sampleSysOffsetPrecise
	}
	if efxProbe != nil {
		m[MethodEFX] = func() (Sample, error) { return efxProbe(d) }
	}
	if d.ppsSource != nil {
		m[MethodPPS] = d.samplePPS
	}
	if _, already := m[MethodSysOffsetExtended]; !already {
		m[MethodSysOffsetExtended] = d.sampleSysOffsetExtended
	}
	if _, already := m[MethodSysOffset]; !already {
		m[MethodSysOffset] = d.sampleSysOffset
	}
	if _, already := m[MethodReadTime]; !already {
		m[MethodReadTime] = d.sampleReadTime
	}
	return m
}

// Sample produces the next (phc - system) comparison sample using the
// configured fallback order, returning the method that produced it.
func (d *Device) Sample() (Sample, Method, error) {
	s, err := d.methods.Sample(d.candidateMethods())
	if err != nil {
		return Sample{}, d.methods.Active(), err
	}
	d.prevSample = &s
	return s, d.methods.Active(), nil
}

func (d *Device) sampleSysOffsetPrecise() (Sample, error) {
	res, err := readSysOffsetPrecise(d.fd)
	if err != nil {
		return Sample{}, err
	}
	offset := res.Device.Time().Sub(res.SysRealTime.Time())
	return Sample{Offset: offset, Window: 0, SysTime: res.SysRealTime.Time(), DeviceTime: res.Device.Time()}, nil
}

func (d *Device) sampleSysOffsetExtended() (Sample, error) {
	res, err := readSysOffsetExtended(d.fd, sysOffsetExtendedNumProbes)
	if err != nil {
		return Sample{}, err
	}
	triples := make([]Triple, res.NSamples)
	for i := uint32(0); i < res.NSamples; i++ {
		triples[i] = Triple{
			SysBefore: res.TS[i][0].Time(),
			Device:    res.TS[i][1].Time(),
			SysAfter:  res.TS[i][2].Time(),
		}
	}
	return smallestWindow(triples)
}

// sysOffsetExtendedNumProbes mirrors upstream's per-call sample count for
// PTP_SYS_OFFSET_EXTENDED.
const sysOffsetExtendedNumProbes = 5

// sysOffsetNumProbes mirrors upstream's per-call sample count for the
// legacy PTP_SYS_OFFSET.
const sysOffsetNumProbes = 5

func (d *Device) sampleSysOffset() (Sample, error) {
	res, err := readSysOffset(d.fd, sysOffsetNumProbes)
	if err != nil {
		return Sample{}, err
	}
	// PTP_SYS_OFFSET reports a flat, alternating (sys, phc, sys, phc, ...,
	// sys) array rather than SYS_OFFSET_EXTENDED's explicit triples: TS[2i]
	// and TS[2i+2] bracket the device read TS[2i+1].
	triples := make([]Triple, res.NSamples)
	for i := uint32(0); i < res.NSamples; i++ {
		triples[i] = Triple{
			SysBefore: res.TS[2*i].Time(),
			Device:    res.TS[2*i+1].Time(),
			SysAfter:  res.TS[2*i+2].Time(),
		}
	}
	return smallestWindow(triples)
}

func (d *Device) sampleReadTime() (Sample, error) {
	const n = 4
	triples := make([]Triple, n)
	for i := 0; i < n; i++ {
		before := time.Now()
		phcTime, err := d.Time()
		after := time.Now()
		if err != nil {
			return Sample{}, fmt.Errorf("read_time sample %d: %w", i, err)
		}
		triples[i] = Triple{SysBefore: before, Device: phcTime, SysAfter: after}
	}
	return smallestWindow(triples)
}

func (d *Device) samplePPS() (Sample, error) {
	if d.ppsSource == nil {
		return Sample{}, ErrNoSample
	}
	return d.ppsSource.sample(d)
}
