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

/*
Package transport implements the UDP/IPv4 transport of the PTP daemon:
an event socket on port 319 and a general socket on port 320, both joined
to the PTP multicast group on the configured interface.
*/
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/timestamp"
)

// ErrClosed is returned by Receive once the transport is closed
var ErrClosed = errors.New("transport closed")

// Config is what the transport needs from the port configuration
type Config struct {
	Iface            string
	Timestamping     string
	MulticastAddress string
	DSCP             int
	TTL              int
	// EventPort and GeneralPort default to 319 and 320
	EventPort   int
	GeneralPort int
}

func (c *Config) ports() (int, int) {
	e, g := c.EventPort, c.GeneralPort
	if e == 0 {
		e = ptp.PortEvent
	}
	if g == 0 {
		g = ptp.PortGeneral
	}
	return e, g
}

// socket is one bound UDP socket. Reads come from a single goroutine,
// writes are serialized so TX timestamps match the message sent.
type socket struct {
	conn *net.UDPConn
	fd   int
	port int
	tx   bool

	oob  []byte
	mu   sync.Mutex
	txob []byte
	tmp  []byte
}

func newSocket(ip netip.Addr, port int, kind, iface string, tx bool) (*socket, error) {
	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, uint16(port))))
	if err != nil {
		return nil, fmt.Errorf("listening on %d: %w", port, err)
	}
	fd, err := timestamp.ConnFd(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := timestamp.EnableTimestamps(kind, fd, iface, tx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable timestamps on port %d: %w", port, err)
	}
	return &socket{
		conn: conn,
		fd:   fd,
		port: conn.LocalAddr().(*net.UDPAddr).Port,
		tx:   tx,
		oob:  make([]byte, timestamp.ControlSizeBytes),
		txob: make([]byte, timestamp.ControlSizeBytes),
		tmp:  make([]byte, timestamp.ControlSizeBytes),
	}, nil
}

func (s *socket) receive(buf []byte) (int, netip.Addr, time.Time, error) {
	n, oobn, _, src, err := s.conn.ReadMsgUDPAddrPort(buf, s.oob)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, netip.Addr{}, time.Time{}, ErrClosed
		}
		return 0, netip.Addr{}, time.Time{}, err
	}
	ts, err := timestamp.SocketControlMessageTimestamp(s.oob[:oobn])
	if err != nil {
		// the packet is still good, the port falls back to its own clock
		log.Debugf("port %d: no RX timestamp from %s: %v", s.port, src.Addr(), err)
		ts = time.Time{}
	}
	return n, src.Addr().Unmap(), ts, nil
}

func (s *socket) send(b []byte, dst netip.AddrPort) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conn.WriteToUDPAddrPort(b, dst); err != nil {
		return time.Time{}, fmt.Errorf("failed to send to %s: %w", dst, err)
	}
	if !s.tx {
		return time.Time{}, nil
	}
	ts, _, err := timestamp.ReadTXtimestampBuf(s.fd, s.txob, s.tmp)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get timestamp of last packet: %w", err)
	}
	return ts, nil
}

// UDP is the PTP over UDP/IPv4 transport
type UDP struct {
	cfg     Config
	iface   *net.Interface
	local   netip.Addr
	group   netip.Addr
	event   *socket
	general *socket
}

// New binds both PTP sockets and joins the multicast group on cfg.Iface
func New(cfg Config) (*UDP, error) {
	group, err := netip.ParseAddr(cfg.MulticastAddress)
	if err != nil || !group.Is4() || !group.IsMulticast() {
		return nil, fmt.Errorf("multicast address %q must be an IPv4 multicast group", cfg.MulticastAddress)
	}
	info, err := Interface(cfg.Iface)
	if err != nil {
		return nil, err
	}
	t := &UDP{cfg: cfg, iface: info.Iface, local: info.Addr, group: group}
	eport, gport := cfg.ports()
	// bound to the wildcard address, otherwise multicast traffic doesn't reach us
	if t.event, err = newSocket(netip.IPv4Unspecified(), eport, cfg.Timestamping, cfg.Iface, true); err != nil {
		return nil, err
	}
	if t.general, err = newSocket(netip.IPv4Unspecified(), gport, timestamp.SWTIMESTAMP, cfg.Iface, false); err != nil {
		t.event.conn.Close()
		return nil, err
	}
	for _, s := range []*socket{t.event, t.general} {
		if err := t.joinGroup(s); err != nil {
			t.Close()
			return nil, err
		}
	}
	log.Infof("transport: listening on %s (%s) ports %d/%d, group %s", cfg.Iface, t.local, t.event.port, t.general.port, group)
	return t, nil
}

func (t *UDP) joinGroup(s *socket) error {
	p := ipv4.NewPacketConn(s.conn)
	if err := p.JoinGroup(t.iface, &net.UDPAddr{IP: net.IP(t.group.AsSlice())}); err != nil {
		return fmt.Errorf("joining %s on %s: %w", t.group, t.iface.Name, err)
	}
	if err := p.SetMulticastInterface(t.iface); err != nil {
		return fmt.Errorf("setting multicast interface: %w", err)
	}
	if err := p.SetMulticastLoopback(false); err != nil {
		return fmt.Errorf("disabling multicast loopback: %w", err)
	}
	ttl := t.cfg.TTL
	if ttl <= 0 {
		ttl = 1
	}
	if err := p.SetMulticastTTL(ttl); err != nil {
		return fmt.Errorf("setting multicast ttl: %w", err)
	}
	return setDSCP(p, t.cfg.DSCP)
}

// setDSCP puts the DSCP value into the upper six bits of the TOS byte
func setDSCP(p *ipv4.PacketConn, dscp int) error {
	if dscp == 0 {
		return nil
	}
	if err := p.SetTOS(dscp << 2); err != nil {
		return fmt.Errorf("setting DSCP %d: %w", dscp, err)
	}
	return nil
}

func (t *UDP) socket(event bool) *socket {
	if event {
		return t.event
	}
	return t.general
}

// Receive implements port.Transport
func (t *UDP) Receive(event bool, buf []byte) (int, netip.Addr, time.Time, error) {
	return t.socket(event).receive(buf)
}

// Send implements port.Transport. An invalid dst sends to the multicast group.
func (t *UDP) Send(event bool, b []byte, dst netip.Addr) (time.Time, error) {
	s := t.socket(event)
	if !dst.IsValid() {
		dst = t.group
	}
	return s.send(b, netip.AddrPortFrom(dst, uint16(t.destPort(event))))
}

func (t *UDP) destPort(event bool) int {
	e, g := t.cfg.ports()
	if event {
		return e
	}
	return g
}

// LocalAddr implements port.Transport
func (t *UDP) LocalAddr() netip.Addr {
	return t.local
}

// Close closes both sockets
func (t *UDP) Close() error {
	var errs []error
	for _, s := range []*socket{t.event, t.general} {
		if s != nil {
			errs = append(errs, s.conn.Close())
		}
	}
	return errors.Join(errs...)
}
