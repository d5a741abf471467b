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

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ChronydServerSocket is chronyd's well-known control socket.
const ChronydServerSocket = "/var/run/chrony/chronyd.sock"

// ClientSocketTemplate is the client path template from the external
// interfaces section; %d is replaced with the daemon's pid.
const ClientSocketTemplate = "/var/run/chrony-%d.sock"

// chronyOps holds the privileged operations the helper performs against
// chronyd: opening the (root-directory-confined) control socket, and
// editing the env file that controls whether chronyd disciplines the
// system clock.
type chronyOps struct{}

// open binds a client seqpacket^Wdgram socket in the root-owned chrony
// directory, chmods it 0666 (otherwise chronyd's pselect loop never sees
// the reply, per the external interfaces note), connects it to chronyd's
// server socket and returns the fd.
func (c *chronyOps) open() (rc int, failingStep string, fd int) {
	clientPath := fmt.Sprintf(ClientSocketTemplate, os.Getpid())
	_ = os.Remove(clientPath)

	sockFd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return -int32ToInt(unix.EMFILE), "socket", -1
	}
	addr := &unix.SockaddrUnix{Name: clientPath}
	if err := unix.Bind(sockFd, addr); err != nil {
		_ = unix.Close(sockFd)
		return -errnoInt(err), "bind", -1
	}
	if err := os.Chmod(clientPath, 0666); err != nil {
		_ = unix.Close(sockFd)
		return -errnoInt(err), "chmod", -1
	}
	serverAddr := &unix.SockaddrUnix{Name: ChronydServerSocket}
	if err := unix.Connect(sockFd, serverAddr); err != nil {
		_ = unix.Close(sockFd)
		return -errnoInt(err), "connect", -1
	}
	return 0, "", sockFd
}

// control performs a CHRONY_CONTROL sub-operation. The actual env-file edit
// lives in package ntpsync (it needs no privilege beyond writing
// /etc/sysconfig or /etc/default, which is why only the *socket* open is
// privileged here) — this hook exists so a future sub-operation needing
// root (e.g. restarting the service via a privileged exec) has a home.
func (c *chronyOps) control(op ChronyControlOp) int {
	log.Debugf("helper: chrony control op %v (no-op at IPC layer, handled by caller's restart)", op)
	return 0
}

func errnoInt(err error) int {
	if errno, ok := err.(unix.Errno); ok {
		return int(errno)
	}
	return int(unix.EIO)
}

func int32ToInt(e unix.Errno) int { return int(e) }
