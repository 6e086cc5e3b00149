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

// SO_TIMESTAMPING helpers for the PTP event and general sockets

import (
	"net"

	"golang.org/x/sys/unix"
)

// from include/uapi/linux/net_tstamp.h
const (
	// HWTSTAMP_TX_ON
	hwtstampTXON int32 = 0x00000001
	// HWTSTAMP_FILTER_ALL
	hwtstampFilterAll int32 = 0x00000001
	// HWTSTAMP_FILTER_PTP_V2_EVENT
	hwtstampFilterPTPv2Event int32 = 0x0000000c
)

const (
	// ControlSizeBytes fits a socket control message with a timestamp.
	// A failed read may leave several timestamps queued, so it has some slack.
	ControlSizeBytes = 128
	// PayloadSizeBytes fits any PTP message we handle
	PayloadSizeBytes = 1500
	// how many queued TX timestamps we look through
	maxTXTS = 100
)

const (
	// HWTIMESTAMP is a hardware timestamp
	HWTIMESTAMP = "hardware"
	// SWTIMESTAMP is a software timestamp
	SWTIMESTAMP = "software"
)

// ifreq is the argument of ethernet ioctls
type ifreq struct {
	name [unix.IFNAMSIZ]byte
	data uintptr
}

// from include/uapi/linux/net_tstamp.h
type hwtstampConfig struct {
	flags    int32
	txType   int32
	rxFilter int32
}

// ConnFd returns file descriptor of a connection
func ConnFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var intfd int
	err = sc.Control(func(fd uintptr) {
		intfd = int(fd)
	})
	if err != nil {
		return -1, err
	}
	return intfd, nil
}
