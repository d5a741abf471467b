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

// Package ifreg maintains a snapshot of network interfaces relevant to time
// synchronisation: their timestamping capabilities, driver identity, and
// association with a PHC device.
package ifreg

import (
	"fmt"
	"sync"

	hashiver "github.com/hashicorp/go-version"
)

// Class buckets an interface by the vendor family that matters for
// comparison-method selection defaults.
type Class int

const (
	ClassOther Class = iota
	ClassSFC         // Solarflare/AMD network adapters
	ClassXNET        // Xilinx/AMD network adapters
)

func (c Class) String() string {
	switch c {
	case ClassSFC:
		return "sfc"
	case ClassXNET:
		return "xnet"
	default:
		return "other"
	}
}

// TimestampCaps is a bitmask of SOF_TIMESTAMPING_* capabilities reported by
// ethtool for an interface.
type TimestampCaps uint32

const (
	TSCapHardwareTransmit TimestampCaps = 1 << iota
	TSCapHardwareReceive
	TSCapHardwareRawClock
	TSCapSoftwareTransmit
	TSCapSoftwareReceive
)

func (c TimestampCaps) HasHardware() bool {
	return c&(TSCapHardwareTransmit|TSCapHardwareReceive|TSCapHardwareRawClock) != 0
}

// Interface is one network interface record. Renamed interfaces keep their
// old record (Deleted=true, Canonical pointing at the replacement) so that
// references taken before the rename remain valid.
type Interface struct {
	IfIndex        int
	Name           string
	PermanentMAC   [6]byte
	PCIVendor      uint16
	PCIDevice      uint16
	DriverName     string
	DriverVersion  string
	FirmwareVersion string
	TSCaps         TimestampCaps
	PHCIndex       int // -1 if none associated
	NICID          uint64
	Class          Class

	Deleted   bool
	Canonical *Interface
}

// HasPHC reports whether this interface has an associated PHC device.
func (i *Interface) HasPHC() bool { return i.PHCIndex >= 0 }

// parsedDriverVersion lazily parses DriverVersion for ordering comparisons;
// a malformed or empty string yields nil rather than an error, since version
// comparison is a diagnostic nicety, not a correctness requirement.
func (i *Interface) parsedDriverVersion() *hashiver.Version {
	if i.DriverVersion == "" {
		return nil
	}
	v, err := hashiver.NewVersion(i.DriverVersion)
	if err != nil {
		return nil
	}
	return v
}

// DriverAtLeast reports whether this interface's driver version is known
// and >= min. An unparsable or absent version is conservatively "no".
func (i *Interface) DriverAtLeast(min string) bool {
	v := i.parsedDriverVersion()
	if v == nil {
		return false
	}
	minV, err := hashiver.NewVersion(min)
	if err != nil {
		return false
	}
	return v.GreaterThanOrEqual(minV)
}

// Registry holds the current snapshot of interfaces, keyed by if_index and
// by name, with nic_id used to recognise a card across re-insertion.
//
// Per the concurrency model, updates are serialised under mu, the
// process-wide hardware-state lock also held by callers performing any
// ioctl that might race with a rename.
type Registry struct {
	mu         sync.RWMutex
	byIndex    map[int]*Interface
	byName     map[string]*Interface
	byNICID    map[uint64][]*Interface
	phcToNICID map[int]uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byIndex:    map[int]*Interface{},
		byName:     map[string]*Interface{},
		byNICID:    map[uint64][]*Interface{},
		phcToNICID: map[int]uint64{},
	}
}

// Upsert inserts or replaces the record for iface.IfIndex, handling the
// rename case: if a different interface previously held this index under a
// different name, or this name previously resolved to a different index,
// the stale record is retained as Deleted with Canonical pointing here.
func (r *Registry) Upsert(iface *Interface) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if iface.PHCIndex >= 0 {
		if existing, ok := r.phcToNICID[iface.PHCIndex]; ok && existing != iface.NICID {
			return fmt.Errorf("phc%d already associated with nic_id %d, cannot also claim %d", iface.PHCIndex, existing, iface.NICID)
		}
		r.phcToNICID[iface.PHCIndex] = iface.NICID
	}

	if old, ok := r.byIndex[iface.IfIndex]; ok && old.Name != iface.Name {
		old.Deleted = true
		old.Canonical = iface
		delete(r.byName, old.Name)
	}
	if old, ok := r.byName[iface.Name]; ok && old.IfIndex != iface.IfIndex {
		old.Deleted = true
		old.Canonical = iface
	}

	r.byIndex[iface.IfIndex] = iface
	r.byName[iface.Name] = iface
	r.byNICID[iface.NICID] = append(r.byNICID[iface.NICID], iface)
	return nil
}

// Remove marks the interface at ifIndex deleted without a canonical
// replacement (a genuine removal, as opposed to a rename).
func (r *Registry) Remove(ifIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iface, ok := r.byIndex[ifIndex]
	if !ok {
		return
	}
	iface.Deleted = true
	delete(r.byIndex, ifIndex)
	delete(r.byName, iface.Name)
}

// ByIndex looks up the record currently stored for ifIndex. Canonical
// chains are not followed here; use Resolve for a possibly-stale record.
func (r *Registry) ByIndex(ifIndex int) (*Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iface, ok := r.byIndex[ifIndex]
	return iface, ok
}

// ByName looks up the current record by interface name.
func (r *Registry) ByName(name string) (*Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iface, ok := r.byName[name]
	return iface, ok
}

// Resolve follows a possibly-stale interface record's Canonical chain to
// the live record, or returns a friendly not-found sentinel if the chain
// ends in a genuine deletion.
func Resolve(iface *Interface) (*Interface, error) {
	seen := map[*Interface]bool{}
	cur := iface
	for cur.Deleted && cur.Canonical != nil {
		if seen[cur] {
			return nil, fmt.Errorf("interface canonical chain cycle detected at %q", cur.Name)
		}
		seen[cur] = true
		cur = cur.Canonical
	}
	if cur.Deleted {
		return nil, fmt.Errorf("interface %q: %w", iface.Name, ErrInterfaceGone)
	}
	return cur, nil
}

// ErrInterfaceGone is returned by Resolve when an interface was removed
// (not renamed) since the caller's reference was taken.
var ErrInterfaceGone = fmt.Errorf("interface no longer present")

// BySharedNICID returns every interface record sharing iface's nic_id,
// satisfying the invariant that all interfaces exposing the same PHC share
// one nic_id.
func (r *Registry) BySharedNICID(nicID uint64) []*Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Interface, len(r.byNICID[nicID]))
	copy(out, r.byNICID[nicID])
	return out
}

// Snapshot returns every live (non-deleted) interface, for summary
// rendering and diagnostics.
func (r *Registry) Snapshot() []*Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Interface, 0, len(r.byIndex))
	for _, iface := range r.byIndex {
		if iface.Deleted {
			continue
		}
		out = append(out, iface)
	}
	return out
}
