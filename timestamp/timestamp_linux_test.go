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

package timestamp

import (
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestByteToTime(t *testing.T) {
	timeb := []byte{63, 155, 21, 96, 0, 0, 0, 0, 52, 156, 191, 42, 0, 0, 0, 0}
	require.Equal(t, int64(1612028735717200436), byteToTime(timeb).UnixNano())
}

func TestScmDataToTime(t *testing.T) {
	stamp := []byte{63, 155, 21, 96, 0, 0, 0, 0, 52, 156, 191, 42, 0, 0, 0, 0}
	zero := make([]byte, 16)
	join := func(parts ...[]byte) []byte {
		var out []byte
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}
	tests := []struct {
		name    string
		data    []byte
		want    int64
		wantErr bool
	}{
		{name: "hardware", data: join(zero, zero, stamp), want: 1612028735717200436},
		{name: "software", data: join(stamp, zero, zero), want: 1612028735717200436},
		{name: "zero", data: join(zero, zero, zero), wantErr: true},
		{name: "short", data: stamp, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := scmDataToTime(tt.data)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, res.UnixNano())
		})
	}
}

func TestSocketControlMessageTimestamp(t *testing.T) {
	if timestamping != unix.SO_TIMESTAMPING_NEW {
		t.Skip("sample is SO_TIMESTAMPING_NEW only")
	}
	var b []byte
	// the cmsghdr size depends on the platform
	switch runtime.GOARCH {
	case "amd64":
		b = []byte{60, 0, 0, 0, 0, 0, 0, 0, 41, 0, 0, 0, 25, 0, 0, 0, 42, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 64, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 65, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 230, 180, 10, 97, 0, 0, 0, 0, 239, 83, 199, 39, 0, 0, 0, 0}
	case "386":
		b = []byte{56, 0, 0, 0, 41, 0, 0, 0, 25, 0, 0, 0, 42, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 60, 0, 0, 0, 1, 0, 0, 0, 65, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 230, 180, 10, 97, 0, 0, 0, 0, 239, 83, 199, 39, 0, 0, 0, 0}
	default:
		t.Skip("sample is for amd64 and 386 only")
	}
	ts, err := SocketControlMessageTimestamp(b)
	require.NoError(t, err)
	require.Equal(t, int64(1628091622667374575), ts.UnixNano())

	_, err = SocketControlMessageTimestamp(b[:20])
	require.Error(t, err)
}

func TestEnableTimestamps(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer conn.Close()
	connFd, err := ConnFd(conn)
	require.NoError(t, err)

	require.Error(t, EnableTimestamps("magic", connFd, "lo", true))
	require.NoError(t, EnableTimestamps(SWTIMESTAMP, connFd, "lo", true))

	old, _ := unix.GetsockoptInt(connFd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING)
	cur, _ := unix.GetsockoptInt(connFd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING_NEW)
	require.Greater(t, old+cur, 0, "none of the socket options is set")
}

func TestReadTXtimestamp(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer conn.Close()
	connFd, err := ConnFd(conn)
	require.NoError(t, err)

	txts, attempts, err := ReadTXtimestamp(connFd)
	require.Equal(t, time.Time{}, txts)
	require.Equal(t, maxTXTS, attempts)
	require.Equal(t, fmt.Errorf("no TX timestamp found after %d tries", maxTXTS), err)

	require.NoError(t, EnableSWTimestamps(connFd, true))
	_, err = conn.WriteTo([]byte{}, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345})
	require.NoError(t, err)
	txts, attempts, err = ReadTXtimestamp(connFd)
	require.NoError(t, err)
	require.NotEqual(t, time.Time{}, txts)
	require.Equal(t, 1, attempts)
}

func TestRXTimestamp(t *testing.T) {
	request := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 42}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer conn.Close()
	connFd, err := ConnFd(conn)
	require.NoError(t, err)
	require.NoError(t, EnableSWTimestamps(connFd, false))

	cconn, err := net.DialTimeout("udp", conn.LocalAddr().String(), time.Second)
	require.NoError(t, err)
	defer cconn.Close()
	_, err = cconn.Write(request)
	require.NoError(t, err)

	buf := make([]byte, PayloadSizeBytes)
	oob := make([]byte, ControlSizeBytes)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	n, oobn, _, addr, err := conn.ReadMsgUDPAddrPort(buf, oob)
	require.NoError(t, err)
	require.Equal(t, request, buf[:n])
	require.Equal(t, netip.MustParseAddr("127.0.0.1"), addr.Addr().Unmap())
	ts, err := SocketControlMessageTimestamp(oob[:oobn])
	require.NoError(t, err)
	require.InDelta(t, time.Now().Unix(), ts.Unix(), 10, "kernel timestamps should be within 10s")
}
