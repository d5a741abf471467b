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
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jsimonetti/rtnetlink"
)

// LinkReader pulls the kernel's current link table. Only its typed output
// is consumed here; the wire-level RTM_GETLINK parsing lives entirely
// inside jsimonetti/rtnetlink.
type LinkReader struct {
	conn *rtnetlink.Conn
}

// OpenLinkReader dials the route netlink family.
func OpenLinkReader() (*LinkReader, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("dialing rtnetlink: %w", err)
	}
	return &LinkReader{conn: conn}, nil
}

// Close releases the netlink socket.
func (r *LinkReader) Close() error { return r.conn.Close() }

// List fetches the current link table and converts it to Interface
// records, consulting ethtool for capability/driver fields and probe for
// any associated PHC index.
func (r *LinkReader) List(probe PHCProbe) ([]*Interface, error) {
	msgs, err := r.conn.Link.List()
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	ifaces := make([]*Interface, 0, len(msgs))
	for _, m := range msgs {
		iface, err := fromLinkMessage(m, probe)
		if err != nil {
			log.Warnf("ifreg: skipping link %d: %v", m.Index, err)
			continue
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces, nil
}

// PHCProbe associates a network interface name with a PHC device index and
// vendor identity, typically backed by ethtool (SIOCETHTOOL/ETHTOOL_GET_TS_INFO)
// and sysfs PCI attributes.
type PHCProbe interface {
	Probe(name string) (EthtoolInfo, error)
}

// EthtoolInfo is the subset of ethtool-reported facts this registry needs.
type EthtoolInfo struct {
	TSCaps          TimestampCaps
	PHCIndex        int // -1 if none
	DriverName      string
	DriverVersion   string
	FirmwareVersion string
	PCIVendor       uint16
	PCIDevice       uint16
}

func fromLinkMessage(m rtnetlink.LinkMessage, probe PHCProbe) (*Interface, error) {
	if m.Attributes == nil {
		return nil, fmt.Errorf("link %d has no attributes", m.Index)
	}
	name := m.Attributes.Name
	if name == "" {
		return nil, fmt.Errorf("link %d has no name", m.Index)
	}

	var mac [6]byte
	copy(mac[:], m.Attributes.Address)

	iface := &Interface{
		IfIndex:      int(m.Index),
		Name:         name,
		PermanentMAC: mac,
		PHCIndex:     -1,
	}

	if probe != nil {
		info, err := probe.Probe(name)
		if err != nil {
			log.Debugf("ifreg: ethtool probe for %s failed: %v", name, err)
		} else {
			iface.TSCaps = info.TSCaps
			iface.PHCIndex = info.PHCIndex
			iface.DriverName = info.DriverName
			iface.DriverVersion = info.DriverVersion
			iface.FirmwareVersion = info.FirmwareVersion
			iface.PCIVendor = info.PCIVendor
			iface.PCIDevice = info.PCIDevice
			iface.Class = ClassifyPCIVendor(info.PCIVendor)
		}
	}
	iface.NICID = NICID(mac, iface.PCIVendor, iface.PCIDevice)
	return iface, nil
}
