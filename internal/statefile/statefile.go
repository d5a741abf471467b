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

// Package statefile implements the persistent per-instance state file
// format of §6: free-text `key: value` lines, one file per instance.
// Backed by go-ini configured with ":" as the key/value delimiter and no
// section headers, rather than hand-rolled line splitting.
package statefile

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-ini/ini"
)

// loadOptions configures go-ini to read and write "key: value" lines with
// no section headers; every key lands in ini.DefaultSection.
var loadOptions = ini.LoadOptions{
	KeyValueDelimiters:       ":",
	KeyValueDelimiterOnWrite: ":",
}

// Fields is the set of key/value pairs persisted for one instance:
// instance, clock-name, state, alarms, constraints, control-flags,
// offset-from-peer, in-sync, plus whatever instance-specific keys the
// caller adds.
type Fields map[string]string

// Save writes fields to path in "key: value" form, one line per key, sorted
// for a stable diff across saves.
func Save(path string, fields Fields) error {
	file := ini.Empty(loadOptions)
	section := file.Section(ini.DefaultSection)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		section.Key(k).SetValue(fields[k])
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("statefile: creating %s: %w", path, err)
	}
	defer f.Close()

	if _, err := file.WriteTo(f); err != nil {
		return fmt.Errorf("statefile: writing %s: %w", path, err)
	}
	return nil
}

// Load reads path back into Fields. A missing file is not an error; it
// returns an empty Fields (an instance that has never been saved before).
func Load(path string) (Fields, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Fields{}, nil
	}
	file, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return nil, fmt.Errorf("statefile: loading %s: %w", path, err)
	}
	section := file.Section(ini.DefaultSection)
	fields := make(Fields, len(section.Keys()))
	for _, key := range section.Keys() {
		fields[key.Name()] = key.Value()
	}
	return fields, nil
}
