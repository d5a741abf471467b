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

// Package topology renders the tabular interface/sync-instance summary
// that §6 says is "rewritten on each save": one table of the interfaces
// the registry currently knows about, one table of sync-instance status,
// with the selected instance called out.
package topology

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/xilinx-cns/sfptpd/internal/ifreg"
	"github.com/xilinx-cns/sfptpd/internal/selection"
	"github.com/xilinx-cns/sfptpd/internal/syncinstance"
)

var stateNames = map[selection.State]string{
	selection.StateSlave:      "slave",
	selection.StateMaster:     "master",
	selection.StatePassive:    "passive",
	selection.StateListening:  "listening",
	selection.StateSelection:  "selection",
	selection.StateFaulty:     "faulty",
	selection.StateDisabled:   "disabled",
}

func stateString(s selection.State) string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// terminalWidth returns the width to wrap diagnostic text to, falling back
// to 80 columns when stdout isn't a terminal (e.g. writing to a state
// file) or the ioctl fails.
func terminalWidth() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return 80
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// WriteSummary renders the interface table followed by the sync-instance
// table to w. selected is the name of the currently-chosen instance, or
// empty if none has been selected yet.
func WriteSummary(w io.Writer, ifaces []*ifreg.Interface, statuses map[string]syncinstance.InstanceStatus, selected string) error {
	divider(w)
	fmt.Fprintln(w, "# Interfaces")
	if err := writeInterfaceTable(w, ifaces); err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# Sync instances")
	if err := writeInstanceTable(w, statuses, selected); err != nil {
		return err
	}
	divider(w)
	return nil
}

// divider prints a rule sized to the controlling terminal's width, or 80
// columns when stdout isn't a terminal (writing to a state file).
func divider(w io.Writer) {
	width := terminalWidth()
	rule := make([]byte, width)
	for i := range rule {
		rule[i] = '-'
	}
	fmt.Fprintln(w, string(rule))
}

func writeInterfaceTable(w io.Writer, ifaces []*ifreg.Interface) error {
	sorted := make([]*ifreg.Interface, len(ifaces))
	copy(sorted, ifaces)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	table := tablewriter.NewTable(w)
	table.Header([]string{"Interface", "Class", "PHC", "NIC ID", "Deleted"})
	for _, iface := range sorted {
		phc := "-"
		if iface.HasPHC() {
			phc = fmt.Sprintf("phc%d", iface.PHCIndex)
		}
		table.Append([]string{
			iface.Name,
			iface.Class.String(),
			phc,
			fmt.Sprintf("%#x", iface.NICID),
			fmt.Sprintf("%v", iface.Deleted),
		})
	}
	return table.Render()
}

func writeInstanceTable(w io.Writer, statuses map[string]syncinstance.InstanceStatus, selected string) error {
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewTable(w)
	table.Header([]string{"Instance", "State", "Selected", "Alarms", "Offset (ns)", "Clock"})
	for _, name := range names {
		status := statuses[name]
		mark := ""
		if name == selected {
			mark = "*"
		}
		offset := "-"
		if status.OffsetValid {
			offset = fmt.Sprintf("%d", status.OffsetFromMaster.Duration().Nanoseconds())
		}
		clockName := "-"
		if status.Clock != nil {
			clockName = status.Clock.ShortName()
		}
		table.Append([]string{
			name,
			stateString(status.State),
			mark,
			fmt.Sprintf("%#x", status.Alarms),
			offset,
			clockName,
		})
	}
	return table.Render()
}
