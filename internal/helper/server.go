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
	"regexp"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// devPathPattern is the only family of paths the helper server will open on
// the caller's behalf.
var devPathPattern = regexp.MustCompile(`^/dev/(pps|ptp)[0-9]+$`)

// Server runs the single-threaded privileged loop reading requests off fd
// and writing responses (optionally carrying one fd via SCM_RIGHTS) back.
type Server struct {
	fd      int
	chronys *chronyOps
}

// NewServer wraps an already-connected seqpacket socket fd (conventionally
// inherited as argv[1] by the helper binary).
func NewServer(fd int) *Server {
	return &Server{fd: fd, chronys: &chronyOps{}}
}

// Serve loops until the peer closes the socket or a CLOSE request arrives.
func (s *Server) Serve() error {
	for {
		req, err := recvRequest(s.fd)
		if err != nil {
			return fmt.Errorf("helper server: recv: %w", err)
		}
		resp, respFd, done := s.handle(req)
		if err := sendResponse(s.fd, resp, respFd); err != nil {
			return fmt.Errorf("helper server: send: %w", err)
		}
		if respFd >= 0 {
			_ = unix.Close(respFd)
		}
		if done {
			return nil
		}
	}
}

func (s *Server) handle(req Request) (resp Response, fd int, done bool) {
	fd = -1
	switch req.Tag {
	case ReqSync:
		resp = Response{Tag: ReqSync, RC: 0}
	case ReqClose:
		resp = Response{Tag: ReqClose, RC: 0}
		done = true
	case ReqOpenDev:
		path := req.PathString()
		if !devPathPattern.MatchString(path) {
			log.Warnf("helper: rejecting OPEN_DEV for disallowed path %q", path)
			resp = Response{Tag: ReqOpenDev, RC: -int32(unix.EPERM)}
			break
		}
		rawFd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err != nil {
			resp = Response{Tag: ReqOpenDev, RC: -int32(errnoOf(err))}
			break
		}
		fd = rawFd
		resp = Response{Tag: ReqOpenDev, RC: 0}
		// The raw fd has no Go wrapper that could close it early; it is
		// handed to the peer and closed by this process right after
		// sendmsg (see Serve).
	case ReqOpenChrony:
		rc, step, sockFd := s.chronys.open()
		resp = Response{Tag: ReqOpenChrony, RC: int32(rc)}
		setFailingStep(&resp, step)
		fd = sockFd
	case ReqChronyControl:
		rc := s.chronys.control(ChronyControlOp(req.Op))
		resp = Response{Tag: ReqChronyControl, RC: int32(rc)}
	default:
		log.Errorf("helper: unknown request tag %v", req.Tag)
		resp = Response{Tag: req.Tag, RC: -int32(unix.EINVAL)}
	}
	return resp, fd, done
}

func errnoOf(err error) unix.Errno {
	var errno unix.Errno
	if pe, ok := err.(interface{ Unwrap() error }); ok {
		if e, ok := pe.Unwrap().(unix.Errno); ok {
			return e
		}
	}
	if e, ok := err.(unix.Errno); ok {
		return e
	}
	return errno
}
