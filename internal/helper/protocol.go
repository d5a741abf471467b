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

// Package helper implements the privileged-helper IPC: a small set-uid
// process that opens restricted devices and sockets on behalf of the
// unprivileged daemon, and an RPC client that falls back to doing the
// privileged operation in-process when no helper is configured.
package helper

import "fmt"

// RequestTag enumerates the fixed set of privileged operations.
type RequestTag uint32

// Request tags, matching the wire contract in the external interfaces
// section: SYNC, CLOSE, OPEN_CHRONY, OPEN_DEV, CHRONY_CONTROL.
const (
	ReqSync RequestTag = iota
	ReqClose
	ReqOpenChrony
	ReqOpenDev
	ReqChronyControl
)

func (r RequestTag) String() string {
	switch r {
	case ReqSync:
		return "SYNC"
	case ReqClose:
		return "CLOSE"
	case ReqOpenChrony:
		return "OPEN_CHRONY"
	case ReqOpenDev:
		return "OPEN_DEV"
	case ReqChronyControl:
		return "CHRONY_CONTROL"
	default:
		return fmt.Sprintf("RequestTag(%d)", uint32(r))
	}
}

// devPathMax is the fixed size of the OPEN_DEV path field on the wire.
const devPathMax = 128

// failingStepMax is the fixed size of the failing-step text field returned
// by OPEN_CHRONY. Step names longer than failingStepMax-1 bytes are
// truncated (see setFailingStep). This is a protocol-version sensitive
// constant; do not grow it without bumping ProtocolVersion.
const failingStepMax = 16

// ProtocolVersion is bumped whenever the wire struct layout changes.
const ProtocolVersion = 1

// Request is a fixed-size request record sent to the helper server.
type Request struct {
	Tag  RequestTag
	Path [devPathMax]byte // OPEN_DEV
	Op   uint32           // CHRONY_CONTROL
}

// NewOpenDevRequest builds an OPEN_DEV request for the given device path.
func NewOpenDevRequest(path string) (Request, error) {
	if len(path) >= devPathMax {
		return Request{}, fmt.Errorf("device path %q too long for wire request (max %d)", path, devPathMax-1)
	}
	var r Request
	r.Tag = ReqOpenDev
	copy(r.Path[:], path)
	return r, nil
}

// PathString extracts the NUL-terminated path from an OPEN_DEV request.
func (r Request) PathString() string {
	n := 0
	for n < len(r.Path) && r.Path[n] != 0 {
		n++
	}
	return string(r.Path[:n])
}

// ChronyControlOp enumerates CHRONY_CONTROL sub-operations.
type ChronyControlOp uint32

// Chrony control operations.
const (
	ChronyControlDisable ChronyControlOp = iota
	ChronyControlRestore
)

// Response is a fixed-size response record returned by the helper server.
type Response struct {
	Tag         RequestTag
	RC          int32
	FailingStep [failingStepMax]byte // OPEN_CHRONY only
}

// FailingStepString extracts the NUL-terminated failing-step text.
func (r Response) FailingStepString() string {
	n := 0
	for n < len(r.FailingStep) && r.FailingStep[n] != 0 {
		n++
	}
	return string(r.FailingStep[:n])
}

// setFailingStep truncates s to fit the fixed wire field: at most
// failingStepMax-1 bytes of s are kept, followed by a NUL.
func setFailingStep(r *Response, s string) {
	n := copy(r.FailingStep[:len(r.FailingStep)-1], s)
	r.FailingStep[n] = 0
}
