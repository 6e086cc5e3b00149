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

package port

//go:generate mockgen -source=interfaces.go -package=port -destination=mock_interfaces.go -copyright_file=../../LICENSE_HEADER

import (
	"net/netip"
	"time"
)

// Transport moves PTP messages. Event messages go over port 319, general ones over 320.
type Transport interface {
	// Receive blocks until a packet arrives. ts is the receive timestamp, taken for event messages.
	Receive(event bool, buf []byte) (n int, src netip.Addr, ts time.Time, err error)
	// Send transmits b to dst, an invalid dst means the multicast group.
	// For event messages it returns the transmit timestamp.
	Send(event bool, b []byte, dst netip.Addr) (time.Time, error)
	// LocalAddr is the address our own messages come from
	LocalAddr() netip.Addr
	Close() error
}

// Clock is the iface for clock device controls
type Clock interface {
	Now() (time.Time, error)
	AdjFreqPPB(freq float64) error
	Step(step time.Duration) error
	FrequencyPPB() (float64, error)
	MaxFreqPPB() (float64, error)
	SetSync() error
}

// StatsServer is a stats server interface
type StatsServer interface {
	SetCounter(key string, val int64)
	UpdateCounterBy(key string, count int64)
}

// ReferenceBinder tracks what the local clock is synchronized from and which ports hold it as a reference
type ReferenceBinder interface {
	// Bind marks the local clock as the reference of the port
	Bind(port uint16)
	// Release drops the hold of the port, the binding clears once no port holds it
	Release(port uint16)
	// SetSource records what disciplines the local clock
	SetSource(src ReferenceSource)
	// Clear resets the source unless a port still holds the binding
	Clear()
}
