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

package helper

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// FatalHandler is invoked when an RPC fails for any reason other than a
// clean CLOSE: the helper is considered essential once configured, so any
// comm error is escalated to the owning thread/process.
type FatalHandler func(error)

// Client is the daemon-side RPC client. A client from NewDirectClient
// performs every privileged operation directly in-process (the fallback of
// §4.1); a client from Spawn talks to a helper child and serialises RPCs
// to it through mu.
type Client struct {
	mu     sync.Mutex
	fd     int
	cmd    *exec.Cmd
	pid    int
	onFail FatalHandler

	// OnRPCFailure, when set, is invoked (in addition to onFail) on every
	// RPC error. Wired by cmd/sfptpd to rtstats.Metrics.IncHelperRPCFailure
	// so the C16 counter is updated from the same path that produces the
	// error, never a separate one.
	OnRPCFailure func(error)
}

// NewDirectClient returns a Client that performs privileged operations
// in-process (no helper configured).
func NewDirectClient() *Client {
	return &Client{fd: -1}
}

// Spawn launches the helper binary at path, wiring one end of a seqpacket
// socketpair as its inherited fd (argv[1] carries the fd number, matching
// §6's "child inherits its end by fd number passed as argv[1]").
func Spawn(path string, onFail FatalHandler) (*Client, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, fmt.Errorf("creating helper socketpair: %w", err)
	}
	parentFd, childFd := fds[0], fds[1]

	cmd := exec.Command(path, fmt.Sprintf("%d", childFd))
	cmd.ExtraFiles = []*os.File{os.NewFile(uintptr(childFd), "helper-child")}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = unix.Close(parentFd)
		_ = unix.Close(childFd)
		return nil, fmt.Errorf("spawning helper %q: %w", path, err)
	}
	_ = unix.Close(childFd)

	c := &Client{fd: parentFd, cmd: cmd, pid: cmd.Process.Pid, onFail: onFail}
	if err := c.call(Request{Tag: ReqSync}); err != nil {
		return nil, fmt.Errorf("helper SYNC probe failed: %w", err)
	}
	go c.watchPid()
	return c, nil
}

// watchPid exits the daemon if the helper dies unexpectedly. On kernels
// without pidfd support cmd.Wait() still unblocks on helper exit, giving
// the same observable behaviour described in §4.1.
func (c *Client) watchPid() {
	if c.cmd == nil {
		return
	}
	err := c.cmd.Wait()
	log.Errorf("privileged helper (pid %d) exited unexpectedly: %v", c.pid, err)
	if c.onFail != nil {
		c.onFail(fmt.Errorf("helper process exited: %w", err))
	}
}

// call performs one RPC under the client mutex, returning only its error;
// callFd also returns the response and any accompanying fd. A helper-less
// client never reaches this path.
func (c *Client) call(req Request) error {
	_, _, err := c.callFd(req)
	return err
}

func (c *Client) callFd(req Request) (Response, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := sendRequest(c.fd, req); err != nil {
		c.fail(err)
		return Response{}, -1, err
	}
	resp, fd, err := recvResponse(c.fd)
	if err != nil {
		c.fail(err)
		return Response{}, -1, err
	}
	return resp, fd, nil
}

func (c *Client) fail(err error) {
	log.Errorf("privileged helper RPC failed: %v", err)
	if c.OnRPCFailure != nil {
		c.OnRPCFailure(err)
	}
	if c.onFail != nil {
		c.onFail(err)
	}
}

// Close sends CLOSE and tears down the connection. Unlike other RPC
// failures, an error here is not escalated to onFail.
func (c *Client) Close() error {
	if c.fd < 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = sendRequest(c.fd, Request{Tag: ReqClose})
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

// IsDirect reports whether this client has no helper configured and
// performs operations in-process.
func (c *Client) IsDirect() bool { return c.cmd == nil && c.pid == 0 }

// OpenDev opens a /dev/pps* or /dev/ptp* device, either via the helper or,
// when no helper is configured, directly. Returns a non-negative fd or a
// negative errno.
func (c *Client) OpenDev(path string) int {
	if c.IsDirect() {
		return directOpenDev(path)
	}
	req, err := NewOpenDevRequest(path)
	if err != nil {
		return -int(unix.EINVAL)
	}
	resp, fd, err := c.callFd(req)
	if err != nil {
		return -int(unix.EIO)
	}
	if resp.RC != 0 {
		return int(resp.RC)
	}
	return fd
}

func directOpenDev(path string) int {
	if !devPathPattern.MatchString(path) {
		return -int(unix.EPERM)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return -errnoInt(err)
	}
	return int(f.Fd())
}

// OpenChrony opens chronyd's control socket, either via the helper or
// directly when no helper is configured.
func (c *Client) OpenChrony() (fd int, failingStep string, err error) {
	if c.IsDirect() {
		ops := &chronyOps{}
		rc, step, sockFd := ops.open()
		if rc != 0 {
			return -1, step, fmt.Errorf("errno %d at step %q", -rc, step)
		}
		return sockFd, "", nil
	}
	resp, sockFd, callErr := c.callFd(Request{Tag: ReqOpenChrony})
	if callErr != nil {
		return -1, "rpc", callErr
	}
	if resp.RC != 0 {
		return -1, resp.FailingStepString(), fmt.Errorf("errno %d at step %q", -resp.RC, resp.FailingStepString())
	}
	return sockFd, "", nil
}

// ChronyControl issues a CHRONY_CONTROL sub-operation.
func (c *Client) ChronyControl(op ChronyControlOp) error {
	if c.IsDirect() {
		ops := &chronyOps{}
		if rc := ops.control(op); rc != 0 {
			return fmt.Errorf("errno %d", -rc)
		}
		return nil
	}
	resp, _, err := c.callFd(Request{Tag: ReqChronyControl, Op: uint32(op)})
	if err != nil {
		return err
	}
	if resp.RC != 0 {
		return fmt.Errorf("errno %d", -resp.RC)
	}
	return nil
}
