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
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unix.Cmsghdr size differs depending on platform
var socketControlMessageHeaderOffset = binary.Size(unix.Cmsghdr{})

var timestamping = unix.SO_TIMESTAMPING_NEW

func init() {
	// kernels before 5.0 don't know SO_TIMESTAMPING_NEW
	var uname unix.Utsname
	if err := unix.Uname(&uname); err == nil {
		if uname.Release[0] < '5' {
			timestamping = unix.SO_TIMESTAMPING
		}
	}
}

// scmDataToTime parses the scm_timestamping payload. Of its three timespecs,
// software timestamps come in the first and hardware ones in the third.
func scmDataToTime(data []byte) (time.Time, error) {
	const size = 16
	if len(data) < size*3 {
		return time.Time{}, fmt.Errorf("timestamp payload too short: %d bytes", len(data))
	}
	ts := byteToTime(data[size*2 : size*3])
	// time.Unix(0, 0).IsZero() is false, hence UnixNano
	if ts.UnixNano() == 0 {
		ts = byteToTime(data[0:size])
		if ts.UnixNano() == 0 {
			return ts, fmt.Errorf("got zero timestamp")
		}
	}
	return ts, nil
}

// byteToTime converts a little endian __kernel_timespec.
// unix.Timespec can't be used as it has 32bit fields on 386.
func byteToTime(data []byte) time.Time {
	sec := int64(binary.LittleEndian.Uint64(data[0:8]))
	nsec := int64(binary.LittleEndian.Uint64(data[8:16]))
	return time.Unix(sec, nsec)
}

func ioctlTimestamp(fd int, ifname string, filter int32) error {
	hw := &hwtstampConfig{
		txType:   hwtstampTXON,
		rxFilter: filter,
	}
	i := &ifreq{data: uintptr(unsafe.Pointer(hw))}
	copy(i.name[:unix.IFNAMSIZ-1], ifname)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.SIOCSHWTSTAMP, uintptr(unsafe.Pointer(i))); errno != 0 {
		return fmt.Errorf("failed to run ioctl SIOCSHWTSTAMP: %s (%d)", unix.ErrnoName(errno), errno)
	}
	return nil
}

// EnableTimestamps turns on timestamping of the given kind, TX timestamps are only
// requested when tx is set. Only the event socket needs them.
func EnableTimestamps(kind string, connFd int, iface string, tx bool) error {
	switch kind {
	case HWTIMESTAMP:
		return EnableHWTimestamps(connFd, iface, tx)
	case SWTIMESTAMP:
		return EnableSWTimestamps(connFd, tx)
	}
	return fmt.Errorf("unknown timestamping %q", kind)
}

// EnableSWTimestamps enables SW RX, and optionally TX, timestamps on the socket
func EnableSWTimestamps(connFd int, tx bool) error {
	flags := unix.SOF_TIMESTAMPING_RX_SOFTWARE | unix.SOF_TIMESTAMPING_SOFTWARE
	if tx {
		// OPT_TSONLY returns the timestamp with an empty packet instead of the original one
		flags |= unix.SOF_TIMESTAMPING_TX_SOFTWARE | unix.SOF_TIMESTAMPING_OPT_TSONLY
	}
	if err := unix.SetsockoptInt(connFd, unix.SOL_SOCKET, timestamping, flags); err != nil {
		return fmt.Errorf("enabling software timestamps: %w", err)
	}
	if !tx {
		return nil
	}
	return unix.SetsockoptInt(connFd, unix.SOL_SOCKET, unix.SO_SELECT_ERR_QUEUE, 1)
}

// EnableHWTimestamps enables HW RX, and optionally TX, timestamps on the socket
func EnableHWTimestamps(connFd int, iface string, tx bool) error {
	if err := ioctlTimestamp(connFd, iface, hwtstampFilterAll); err != nil {
		if err := ioctlTimestamp(connFd, iface, hwtstampFilterPTPv2Event); err != nil {
			return err
		}
	}
	flags := unix.SOF_TIMESTAMPING_RX_HARDWARE | unix.SOF_TIMESTAMPING_RAW_HARDWARE
	if tx {
		flags |= unix.SOF_TIMESTAMPING_TX_HARDWARE | unix.SOF_TIMESTAMPING_OPT_TSONLY
	}
	if err := unix.SetsockoptInt(connFd, unix.SOL_SOCKET, timestamping, flags); err != nil {
		return fmt.Errorf("enabling hardware timestamps: %w", err)
	}
	if !tx {
		return nil
	}
	return unix.SetsockoptInt(connFd, unix.SOL_SOCKET, unix.SO_SELECT_ERR_QUEUE, 1)
}

// waitForTXTS polls the error queue for up to 1ms
func waitForTXTS(connFd int) error {
	fds := []unix.PollFd{{Fd: int32(connFd), Events: unix.POLLPRI}}
	_, err := unix.Poll(fds, 1)
	return err
}

// recvoob reads only the control message from MSG_ERRQUEUE, the packet itself is of no interest
func recvoob(connFd int, oob []byte) (int, error) {
	var msg unix.Msghdr
	msg.Control = &oob[0]
	msg.SetControllen(len(oob))
	_, _, e1 := unix.Syscall(unix.SYS_RECVMSG, uintptr(connFd), uintptr(unsafe.Pointer(&msg)), uintptr(unix.MSG_ERRQUEUE))
	if e1 != 0 {
		return 0, e1
	}
	return int(msg.Controllen), nil
}

// ReadTXtimestampBuf returns the latest TX timestamp from the error queue.
// Both buffers can be reused once it returns.
func ReadTXtimestampBuf(connFd int, oob, toob []byte) (time.Time, int, error) {
	var boob int
	txfound := false
	// The queue may hold stale timestamps of earlier messages. It has to be drained,
	// otherwise every following read is shifted by one message.
	attempts := 0
	for ; attempts < maxTXTS; attempts++ {
		if !txfound {
			_ = waitForTXTS(connFd)
		}
		n, err := recvoob(connFd, toob)
		if err != nil {
			if txfound {
				break
			}
			continue
		}
		txfound = true
		boob = n
		copy(oob, toob)
	}
	if !txfound {
		return time.Time{}, attempts, fmt.Errorf("no TX timestamp found after %d tries", maxTXTS)
	}
	ts, err := SocketControlMessageTimestamp(oob[:boob])
	return ts, attempts, err
}

// ReadTXtimestamp returns the latest TX timestamp
func ReadTXtimestamp(connFd int) (time.Time, int, error) {
	oob := make([]byte, ControlSizeBytes)
	toob := make([]byte, ControlSizeBytes)
	return ReadTXtimestampBuf(connFd, oob, toob)
}

// SocketControlMessageTimestamp is a trimmed unix.ParseSocketControlMessage
// that only looks for the timestamping message
func SocketControlMessageTimestamp(b []byte) (time.Time, error) {
	mlen := 0
	for i := 0; i+socketControlMessageHeaderOffset <= len(b); i += mlen {
		h := (*unix.Cmsghdr)(unsafe.Pointer(&b[i]))
		mlen = int(h.Len)
		if mlen < socketControlMessageHeaderOffset || i+mlen > len(b) {
			break
		}
		// older kernels answer SO_TIMESTAMPING_NEW with SO_TIMESTAMPING
		if h.Level == unix.SOL_SOCKET && (int(h.Type) == unix.SO_TIMESTAMPING_NEW || int(h.Type) == unix.SO_TIMESTAMPING) {
			return scmDataToTime(b[i+socketControlMessageHeaderOffset : i+mlen])
		}
	}
	return time.Time{}, fmt.Errorf("failed to find timestamp in socket control message")
}
