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

package ntpsync

import (
	"fmt"
	"os"
)

// ChronyClockControlDisabler implements ClockControlDisabler for chronyd by
// editing whichever env-file convention exists on this host and restarting
// the daemon, per §4.7's "-x" convention.
type ChronyClockControlDisabler struct {
	Runner CommandRunner
}

// NewChronyClockControlDisabler builds a disabler using ExecCommandRunner.
func NewChronyClockControlDisabler() *ChronyClockControlDisabler {
	return &ChronyClockControlDisabler{Runner: ExecCommandRunner{}}
}

// DisableClockControl implements ClockControlDisabler.
func (d *ChronyClockControlDisabler) DisableClockControl() error {
	conv, path, content, err := readFirstExistingConvention()
	if err != nil {
		return err
	}

	edited := ApplyDisableEdit(conv, content)
	if err := os.WriteFile(path, []byte(edited), 0644); err != nil {
		return fmt.Errorf("ntpsync: writing %s: %w", path, err)
	}
	return RestartChronyd(d.Runner)
}

func readFirstExistingConvention() (EnvFileConvention, string, string, error) {
	for _, conv := range conventions {
		b, err := os.ReadFile(conv.Path)
		if err == nil {
			return conv, conv.Path, string(b), nil
		}
		if !os.IsNotExist(err) {
			return EnvFileConvention{}, "", "", fmt.Errorf("ntpsync: reading %s: %w", conv.Path, err)
		}
	}
	return EnvFileConvention{}, "", "", fmt.Errorf("ntpsync: no chronyd env-file found (tried %s, %s)",
		SysconfigChronydPath, DefaultChronyPath)
}
