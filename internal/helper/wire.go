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
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// wire byte order for the fixed-size request/response records. A fixed
// little-endian order is used throughout; both ends of the socket pair run
// this same package on the same host, so the order only has to agree with
// itself.
var wireOrder = binary.LittleEndian

func encodeRequest(r Request) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, wireOrder, uint32(r.Tag))
	buf.Write(r.Path[:])
	_ = binary.Write(buf, wireOrder, r.Op)
	return buf.Bytes()
}

func decodeRequest(b []byte) (Request, error) {
	var r Request
	reader := bytes.NewReader(b)
	var tag uint32
	if err := binary.Read(reader, wireOrder, &tag); err != nil {
		return r, err
	}
	r.Tag = RequestTag(tag)
	if _, err := reader.Read(r.Path[:]); err != nil {
		return r, err
	}
	if err := binary.Read(reader, wireOrder, &r.Op); err != nil {
		return r, err
	}
	return r, nil
}

func encodeResponse(r Response) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, wireOrder, uint32(r.Tag))
	_ = binary.Write(buf, wireOrder, r.RC)
	buf.Write(r.FailingStep[:])
	return buf.Bytes()
}

func decodeResponse(b []byte) (Response, error) {
	var r Response
	reader := bytes.NewReader(b)
	var tag uint32
	if err := binary.Read(reader, wireOrder, &tag); err != nil {
		return r, err
	}
	r.Tag = RequestTag(tag)
	if err := binary.Read(reader, wireOrder, &r.RC); err != nil {
		return r, err
	}
	if _, err := reader.Read(r.FailingStep[:]); err != nil {
		return r, err
	}
	return r, nil
}

const maxMsgSize = 4 + devPathMax + 4 // tag + path + op, generous upper bound shared by both record shapes

func sendRequest(fd int, req Request) error {
	return unix.Sendmsg(fd, encodeRequest(req), nil, nil, 0)
}

func recvRequest(fd int) (Request, error) {
	buf := make([]byte, maxMsgSize)
	n, _, _, _, err := unix.Recvmsg(fd, buf, nil, 0)
	if err != nil {
		return Request{}, err
	}
	if n == 0 {
		return Request{}, fmt.Errorf("peer closed connection")
	}
	return decodeRequest(buf[:n])
}

// sendResponse writes resp, attaching respFd as SCM_RIGHTS ancillary data
// when respFd >= 0.
func sendResponse(fd int, resp Response, respFd int) error {
	var oob []byte
	if respFd >= 0 {
		oob = unix.UnixRights(respFd)
	}
	return unix.Sendmsg(fd, encodeResponse(resp), oob, nil, 0)
}

// recvResponse reads a response, extracting at most one ancillary fd.
func recvResponse(fd int) (Response, int, error) {
	buf := make([]byte, maxMsgSize)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return Response{}, -1, err
	}
	if n == 0 {
		return Response{}, -1, fmt.Errorf("peer closed connection")
	}
	resp, err := decodeResponse(buf[:n])
	if err != nil {
		return Response{}, -1, err
	}
	respFd := -1
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil && len(cmsgs) > 0 {
			if fds, err := unix.ParseUnixRights(&cmsgs[0]); err == nil && len(fds) > 0 {
				respFd = fds[0]
			}
		}
	}
	return resp, respFd, nil
}
