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

	"github.com/cespare/xxhash"
)

// NICID derives a stable identifier for a physical card from its permanent
// MAC address and PCI vendor/device ids, so re-insertion under a new
// if_index (and possibly a new name) resolves to the same nic_id without
// needing a persisted table across restarts.
func NICID(permanentMAC [6]byte, pciVendor, pciDevice uint16) uint64 {
	key := fmt.Sprintf("%x:%04x:%04x", permanentMAC, pciVendor, pciDevice)
	return xxhash.Sum64String(key)
}

// ClassifyPCIVendor maps a PCI vendor id to the Class used for
// comparison-method defaults. Unknown vendors are ClassOther.
func ClassifyPCIVendor(pciVendor uint16) Class {
	switch pciVendor {
	case pciVendorSolarflare:
		return ClassSFC
	case pciVendorXilinx:
		return ClassXNET
	default:
		return ClassOther
	}
}

const (
	pciVendorSolarflare uint16 = 0x1924
	pciVendorXilinx     uint16 = 0x10ee
)
