//go:build linux

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
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ptpClkMagic is the ioctl magic byte for linux/ptp_clock.h.
const ptpClkMagic = '='

// ioctl request numbers, computed the same way linux/ioctl.h's _IOR/_IOW/_IOWR
// macros do, matching the layout used by github.com/vtolstov/go-ioctl in the
// upstream PHC package this is grounded on.
const (
	iocDirNone  = 0
	iocDirWrite = 1
	iocDirRead  = 2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func iowr(typ, nr byte, size uintptr) uintptr {
	return ioc(iocDirRead|iocDirWrite, uintptr(typ), uintptr(nr), size)
}
func ior(typ, nr byte, size uintptr) uintptr {
	return ioc(iocDirRead, uintptr(typ), uintptr(nr), size)
}
func iow(typ, nr byte, size uintptr) uintptr {
	return ioc(iocDirWrite, uintptr(typ), uintptr(nr), size)
}

var (
	ioctlSysOffset         = iowr(ptpClkMagic, 5, unsafe.Sizeof(SysOffset{}))
	ioctlSysOffsetExtended = iowr(ptpClkMagic, 9, unsafe.Sizeof(SysOffsetExtended{}))
	ioctlSysOffsetPrecise  = iowr(ptpClkMagic, 8, unsafe.Sizeof(SysOffsetPrecise{}))
	ioctlClockGetcaps      = ior(ptpClkMagic, 1, unsafe.Sizeof(ClockCaps{}))
	ioctlPeroutRequest2    = iow(ptpClkMagic, 12, unsafe.Sizeof(PeroutRequest{}))
	ioctlExtTSRequest2     = iow(ptpClkMagic, 11, unsafe.Sizeof(ExtTSRequest{}))
	ioctlPinSetfunc        = iow(ptpClkMagic, 7, unsafe.Sizeof(rawPinDesc{}))
)

type rawPinDesc struct {
	Name  [64]byte
	Index uint32
	Func  uint32
	Chan  uint32
	Rsv   [5]uint32
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return fmt.Errorf("ioctl 0x%x on fd %d: %w", req, fd, errno)
	}
	return nil
}

func readSysOffset(fd uintptr, nsamples uint32) (*SysOffset, error) {
	res := &SysOffset{NSamples: nsamples}
	if err := ioctl(fd, ioctlSysOffset, unsafe.Pointer(res)); err != nil {
		return nil, fmt.Errorf("PTP_SYS_OFFSET: %w", err)
	}
	return res, nil
}

func readSysOffsetExtended(fd uintptr, nsamples uint32) (*SysOffsetExtended, error) {
	res := &SysOffsetExtended{NSamples: nsamples}
	if err := ioctl(fd, ioctlSysOffsetExtended, unsafe.Pointer(res)); err != nil {
		return nil, fmt.Errorf("PTP_SYS_OFFSET_EXTENDED: %w", err)
	}
	return res, nil
}

func readSysOffsetPrecise(fd uintptr) (*SysOffsetPrecise, error) {
	res := &SysOffsetPrecise{}
	if err := ioctl(fd, ioctlSysOffsetPrecise, unsafe.Pointer(res)); err != nil {
		return nil, fmt.Errorf("PTP_SYS_OFFSET_PRECISE: %w", err)
	}
	return res, nil
}

func readClockCaps(fd uintptr) (ClockCaps, error) {
	var caps ClockCaps
	if err := ioctl(fd, ioctlClockGetcaps, unsafe.Pointer(&caps)); err != nil {
		return caps, fmt.Errorf("PTP_CLOCK_GETCAPS: %w", err)
	}
	return caps, nil
}

func setPinFunc(fd uintptr, index uint32, pf uint32, ch uint32) error {
	raw := rawPinDesc{Index: index, Func: pf, Chan: ch}
	if err := ioctl(fd, ioctlPinSetfunc, unsafe.Pointer(&raw)); err != nil {
		return fmt.Errorf("PTP_PIN_SETFUNC: %w", err)
	}
	return nil
}

func peroutRequest(fd uintptr, req PeroutRequest) error {
	if err := ioctl(fd, ioctlPeroutRequest2, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("PTP_PEROUT_REQUEST2: %w", err)
	}
	return nil
}

func extTSRequest(fd uintptr, req ExtTSRequest) error {
	if err := ioctl(fd, ioctlExtTSRequest2, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("PTP_EXTTS_REQUEST2: %w", err)
	}
	return nil
}

// extTSEventSize is sizeof(struct ptp_extts_event).
const extTSEventSize = int(unsafe.Sizeof(ExtTSEvent{}))

// readExtTSEvent performs a blocking read of one external-timestamp event
// from an armed extts channel.
func readExtTSEvent(fd uintptr) (ExtTSEvent, error) {
	var ev ExtTSEvent
	buf := make([]byte, extTSEventSize)
	n, err := unix.Read(int(fd), buf)
	if err != nil {
		return ev, err
	}
	if n < extTSEventSize {
		return ev, fmt.Errorf("short read of extts event: %d bytes", n)
	}
	ev = *(*ExtTSEvent)(unsafe.Pointer(&buf[0]))
	return ev, nil
}

// ppsKInfo mirrors linux/pps.h's struct pps_kinfo, truncated to the fields
// this package consumes (the assert timestamp).
type ppsKInfo struct {
	AssertSeq    uint32
	ClearSeq     uint32
	AssertTU     [2]int64
	ClearTU      [2]int64
	CurrentMode  int32
}

const ppsMagic = 0xb5

var ioctlPPSFetch = iowr(ppsMagic, 0x84, unsafe.Sizeof(ppsFData{}))

// ppsFData mirrors struct pps_fdata: {info, timeout}.
type ppsFData struct {
	Info    ppsKInfo
	Timeout [3]int64
}

// readPPSAssert fetches the most recent PPS assert edge from an opened
// /dev/ppsN device via PPS_FETCH.
func readPPSAssert(fd int) (time.Time, error) {
	var data ppsFData
	if err := ioctl(uintptr(fd), ioctlPPSFetch, unsafe.Pointer(&data)); err != nil {
		return time.Time{}, fmt.Errorf("PPS_FETCH: %w", err)
	}
	return time.Unix(data.Info.AssertTU[0], data.Info.AssertTU[1]), nil
}

func osCloseFd(fd int) error { return unix.Close(fd) }

// clockIDFromFd derives a POSIX clockid_t from a PHC file descriptor using
// the kernel's FD_TO_CLOCKID convention: ((~fd) << 3) | 3.
func clockIDFromFd(fd uintptr) int32 {
	return int32((^int(fd) << 3) | 3)
}

func clockGettime(clockID int32) (unix.Timespec, error) {
	var ts unix.Timespec
	err := unix.ClockGettime(clockID, &ts)
	return ts, err
}

func clockAdjtime(clockID int32, tx *unix.Timex) (int, error) {
	r0, _, errno := unix.Syscall(unix.SYS_CLOCK_ADJTIME, uintptr(clockID), uintptr(unsafe.Pointer(tx)), 0)
	if errno != 0 {
		return int(r0), errno
	}
	return int(r0), nil
}
