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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const pciSysfsBase = "/sys/bus/pci/devices"

// readPCIIDs reads the vendor/device id files sysfs exposes for a PCI bus
// address as reported by ethtool's bus_info (e.g. "0000:03:00.0").
func readPCIIDs(busInfo string) (vendor, device uint16, err error) {
	dir := filepath.Join(pciSysfsBase, busInfo)
	vendor, err = readHexIDFile(filepath.Join(dir, "vendor"))
	if err != nil {
		return 0, 0, err
	}
	device, err = readHexIDFile(filepath.Join(dir, "device"))
	if err != nil {
		return 0, 0, err
	}
	return vendor, device, nil
}

func readHexIDFile(path string) (uint16, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	s := strings.TrimSpace(string(raw))
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parsing %s as hex: %w", path, err)
	}
	return uint16(v), nil
}
