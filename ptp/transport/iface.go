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

package transport

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/jsimonetti/rtnetlink/rtnl"
	"golang.org/x/sys/unix"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// InterfaceInfo is what the daemon needs to know about its network interface
type InterfaceInfo struct {
	Iface *net.Interface
	// Addr is the first IPv4 address, our messages come from it
	Addr          netip.Addr
	ClockIdentity ptp.ClockIdentity
}

// Interface looks the interface up over netlink
func Interface(name string) (*InterfaceInfo, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("looking up interface %s: %w", name, err)
	}
	conn, err := rtnl.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("can't establish netlink connection: %w", err)
	}
	defer conn.Close()

	link, err := conn.LinkByIndex(iface.Index)
	if err != nil {
		return nil, fmt.Errorf("reading link %s: %w", name, err)
	}
	nets, err := conn.Addrs(link, unix.AF_INET)
	if err != nil {
		return nil, fmt.Errorf("reading addresses of %s: %w", name, err)
	}
	addr, err := firstIPv4(nets)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	cid, err := clockIdentity(link.HardwareAddr, addr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &InterfaceInfo{Iface: link, Addr: addr, ClockIdentity: cid}, nil
}

func firstIPv4(nets []*net.IPNet) (netip.Addr, error) {
	for _, n := range nets {
		if a, ok := netip.AddrFromSlice(n.IP); ok && a.Unmap().Is4() {
			return a.Unmap(), nil
		}
	}
	return netip.Addr{}, fmt.Errorf("no IPv4 address")
}

// clockIdentity is the EUI-64 of the MAC. Interfaces without one, like loopback,
// get an identity built from the IPv4 address.
func clockIdentity(mac net.HardwareAddr, addr netip.Addr) (ptp.ClockIdentity, error) {
	if len(mac) == 6 && !isZero(mac) {
		return ptp.NewClockIdentity(mac)
	}
	a := addr.As4()
	return ptp.NewClockIdentity(net.HardwareAddr{0x02, 0x00, a[0], a[1], a[2], a[3]})
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
