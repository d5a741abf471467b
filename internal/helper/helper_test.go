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
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRequestWireRoundTrip(t *testing.T) {
	req, err := NewOpenDevRequest("/dev/ptp3")
	require.NoError(t, err)
	decoded, err := decodeRequest(encodeRequest(req))
	require.NoError(t, err)
	require.Equal(t, ReqOpenDev, decoded.Tag)
	require.Equal(t, "/dev/ptp3", decoded.PathString())
}

func TestRequestPathTooLong(t *testing.T) {
	long := make([]byte, devPathMax)
	for i := range long {
		long[i] = 'a'
	}
	_, err := NewOpenDevRequest(string(long))
	require.Error(t, err)
}

func TestResponseWireRoundTrip(t *testing.T) {
	resp := Response{Tag: ReqOpenChrony, RC: -5}
	setFailingStep(&resp, "connect")
	decoded, err := decodeResponse(encodeResponse(resp))
	require.NoError(t, err)
	require.Equal(t, int32(-5), decoded.RC)
	require.Equal(t, "connect", decoded.FailingStepString())
}

func TestFailingStepTruncates(t *testing.T) {
	var resp Response
	setFailingStep(&resp, "this-step-name-is-definitely-too-long-for-the-field")
	require.Less(t, len(resp.FailingStepString()), failingStepMax)
}

func TestOpenDevPolicyAllowsOnlyPpsAndPtp(t *testing.T) {
	s := NewServer(-1)
	good := []string{"/dev/ptp0", "/dev/ptp12", "/dev/pps0"}
	bad := []string{"/dev/sda", "/etc/passwd", "/dev/ptp", "/dev/ptpX", "/dev/ppsabc"}

	for _, p := range good {
		require.True(t, devPathPattern.MatchString(p), p)
	}
	for _, p := range bad {
		require.False(t, devPathPattern.MatchString(p), p)
	}

	req, err := NewOpenDevRequest("/dev/sda")
	require.NoError(t, err)
	resp, fd, done := s.handle(req)
	require.Equal(t, int32(-int32(unix.EPERM)), resp.RC)
	require.Equal(t, -1, fd)
	require.False(t, done)
}

func TestCloseRequestEndsServeLoop(t *testing.T) {
	s := NewServer(-1)
	resp, fd, done := s.handle(Request{Tag: ReqClose})
	require.True(t, done)
	require.Equal(t, -1, fd)
	require.Equal(t, ReqClose, resp.Tag)
}
