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

// Command sfptpd-helper is the set-uid privileged helper of §4.1: it
// inherits one end of a seqpacket socket pair (its fd number passed as
// argv[1], per §6) from the unprivileged daemon and serves OPEN_DEV,
// OPEN_CHRONY and CHRONY_CONTROL requests until the peer closes the
// socket or sends CLOSE.
package main

import (
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/xilinx-cns/sfptpd/internal/helper"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <inherited-socket-fd>\n", os.Args[0])
		os.Exit(2)
	}
	fd, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid fd argument %q: %v\n", os.Args[0], os.Args[1], err)
		os.Exit(2)
	}

	srv := helper.NewServer(fd)
	if err := srv.Serve(); err != nil {
		log.WithError(err).Error("sfptpd-helper: server loop exited")
		os.Exit(1)
	}
}
