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

package ifreg

import (
	"bytes"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux ethtool command constants (linux/ethtool.h).
const (
	ethtoolGDRVINFO   = 0x00000003
	ethtoolGetTSInfo  = 0x00000041
	siocethtool       = 0x8946
	ifnamsiz          = unix.IFNAMSIZ
)

type ethtoolDrvinfo struct {
	Cmd         uint32
	Driver      [32]byte
	Version     [32]byte
	FwVersion   [32]byte
	BusInfo     [32]byte
	EromVersion [32]byte
	Reserved2   [12]byte
	NPrivFlags  uint32
	NStats      uint32
	TestInfoLen uint32
	EedumpLen   uint32
	RegdumpLen  uint32
}

type ethtoolTSInfo struct {
	Cmd             uint32
	SOTimestamping  uint32
	PHCIndex        int32
	TxTypes         uint32
	TxReserved      [3]uint32
	RxFilters       uint32
	RxReserved      [3]uint32
}

type ifreqData struct {
	Name [ifnamsiz]byte
	Data uintptr
}

// EthtoolProbe implements PHCProbe over the kernel's SIOCETHTOOL ioctl via a
// throwaway AF_INET/SOCK_DGRAM socket, the standard userspace convention for
// issuing ethtool requests without the ethtool CLI.
type EthtoolProbe struct {
	sockFd int
}

// NewEthtoolProbe opens the control socket used for every ethtool ioctl.
func NewEthtoolProbe() (*EthtoolProbe, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("opening ethtool control socket: %w", err)
	}
	return &EthtoolProbe{sockFd: fd}, nil
}

// Close releases the control socket.
func (p *EthtoolProbe) Close() error { return unix.Close(p.sockFd) }

// Probe fetches driver identity and timestamping capability for name.
func (p *EthtoolProbe) Probe(name string) (EthtoolInfo, error) {
	var info EthtoolInfo

	drv, err := p.driverInfo(name)
	if err != nil {
		return info, err
	}
	info.DriverName = cString(drv.Driver[:])
	info.DriverVersion = cString(drv.Version[:])
	info.FirmwareVersion = cString(drv.FwVersion[:])

	ts, err := p.tsInfo(name)
	if err != nil {
		return info, err
	}
	info.PHCIndex = int(ts.PHCIndex)
	info.TSCaps = tsCapsFromBitmap(ts.SOTimestamping)

	vendor, device, err := pciIdsFromBusInfo(cString(drv.BusInfo[:]))
	if err == nil {
		info.PCIVendor = vendor
		info.PCIDevice = device
	}
	return info, nil
}

func (p *EthtoolProbe) driverInfo(name string) (ethtoolDrvinfo, error) {
	drv := ethtoolDrvinfo{Cmd: ethtoolGDRVINFO}
	if err := p.ioctl(name, unsafe.Pointer(&drv)); err != nil {
		return drv, fmt.Errorf("ETHTOOL_GDRVINFO on %s: %w", name, err)
	}
	return drv, nil
}

func (p *EthtoolProbe) tsInfo(name string) (ethtoolTSInfo, error) {
	ts := ethtoolTSInfo{Cmd: ethtoolGetTSInfo}
	if err := p.ioctl(name, unsafe.Pointer(&ts)); err != nil {
		return ts, fmt.Errorf("ETHTOOL_GET_TS_INFO on %s: %w", name, err)
	}
	return ts, nil
}

func (p *EthtoolProbe) ioctl(name string, data unsafe.Pointer) error {
	var req ifreqData
	copy(req.Name[:], name)
	req.Data = uintptr(data)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.sockFd), siocethtool, uintptr(unsafe.Pointer(&req)))
	if errno != 0 {
		return errno
	}
	return nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// tsCapsFromBitmap translates the kernel's SOF_TIMESTAMPING_* bitmap into
// this package's narrower TimestampCaps.
func tsCapsFromBitmap(bitmap uint32) TimestampCaps {
	const (
		soTimestampingTxHardware = 1 << 0
		soTimestampingTxSoftware = 1 << 1
		soTimestampingRxHardware = 1 << 2
		soTimestampingRxSoftware = 1 << 3
		soTimestampingRawHardware = 1 << 6
	)
	var caps TimestampCaps
	if bitmap&soTimestampingTxHardware != 0 {
		caps |= TSCapHardwareTransmit
	}
	if bitmap&soTimestampingRxHardware != 0 {
		caps |= TSCapHardwareReceive
	}
	if bitmap&soTimestampingRawHardware != 0 {
		caps |= TSCapHardwareRawClock
	}
	if bitmap&soTimestampingTxSoftware != 0 {
		caps |= TSCapSoftwareTransmit
	}
	if bitmap&soTimestampingRxSoftware != 0 {
		caps |= TSCapSoftwareReceive
	}
	return caps
}

// pciIdsFromBusInfo parses ethtool's bus_info field (e.g.
// "0000:03:00.0") by reading back the vendor/device ids sysfs exposes for
// that PCI address.
func pciIdsFromBusInfo(busInfo string) (vendor, device uint16, err error) {
	if busInfo == "" {
		return 0, 0, fmt.Errorf("empty bus_info")
	}
	return readPCIIDs(busInfo)
}
