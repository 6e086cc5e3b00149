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
Package unicast implements unicast message negotiation (IEEE 1588 16.1):
the grantor side that answers transmission requests and the requester side
that keeps grants from a master alive.
*/
package unicast

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

const (
	// MinGrantDuration is the shortest grant a grantor hands out
	MinGrantDuration = 30 * time.Second
	// DefaultMaxGrantDuration is the longest grant a grantor hands out unless configured
	DefaultMaxGrantDuration = 300 * time.Second
	// GrantSlack is added to the expiry of every grant given, so the requester renews before we expire it
	GrantSlack = 10 * time.Second
	// ExpiryMargin is the time left at which a grant is considered expired
	ExpiryMargin = 5 * time.Second
	// CancelAckTimeout is how many refreshes we wait for a cancel to be acknowledged
	CancelAckTimeout = 3
	// DefaultMaxDestinations is how many peers a grantor serves unless configured
	DefaultMaxDestinations = 128
)

// GrantState is the lifecycle of a single grant
type GrantState uint8

// Grant states
const (
	StateNone GrantState = iota
	StateRequested
	StateGranted
	StateExpired
	StateCancelled
)

// GrantStateToString is a map from GrantState to string
var GrantStateToString = map[GrantState]string{
	StateNone:      "NONE",
	StateRequested: "REQUESTED",
	StateGranted:   "GRANTED",
	StateExpired:   "EXPIRED",
	StateCancelled: "CANCELLED",
}

func (s GrantState) String() string {
	if v, ok := GrantStateToString[s]; ok {
		return v
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// Negotiable reports whether unicast transmission of t can be negotiated
func Negotiable(t ptp.MessageType) bool {
	switch t {
	case ptp.MessageAnnounce, ptp.MessageSync, ptp.MessageDelayResp, ptp.MessagePDelayResp:
		return true
	}
	return false
}

// Limits are the message intervals a grantor accepts for one message type
type Limits struct {
	LogMinInterval ptp.LogInterval `yaml:"log_min_interval"`
	LogMaxInterval ptp.LogInterval `yaml:"log_max_interval"`
}

// Grant is one negotiated unicast transmission of one message type between two ports
type Grant struct {
	Peer        ptp.PortIdentity
	Address     netip.Addr
	MessageType ptp.MessageType
	LogInterval ptp.LogInterval
	Duration    time.Duration
	Expires     time.Time
	State       GrantState
	// LocalPreference of the node this grant belongs to, used by BMCA on the requester side
	LocalPreference uint8
	// Received counts messages that arrived under this grant since the last keepalive check
	Received int

	cancelCount int
}

// TimeLeft returns how long the grant has until it expires
func (g *Grant) TimeLeft(now time.Time) time.Duration {
	if g.State != StateGranted {
		return 0
	}
	left := g.Expires.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

func (g *Grant) String() string {
	return fmt.Sprintf("%s grant %s/%s state=%s interval=%d duration=%s", g.MessageType, g.Peer, g.Address, g.State, g.LogInterval, g.Duration)
}

func (g *Grant) reset() {
	g.State = StateNone
	g.Duration = 0
	g.Expires = time.Time{}
	g.cancelCount = 0
	g.Received = 0
}

// Counters are the negotiation counters of a GrantTable
type Counters struct {
	Requested         int64
	Granted           int64
	Denied            int64
	CancelSent        int64
	CancelReceived    int64
	CancelAckSent     int64
	CancelAckReceived int64
	Expired           int64
}

// grantKey hashes what identifies a grant. Requester side grants use PortIdentityAll as peer
// since the master identity is not known before it answers.
func grantKey(peer ptp.PortIdentity, addr netip.Addr, t ptp.MessageType) uint64 {
	var b [8 + 2 + 16 + 1]byte
	binary.BigEndian.PutUint64(b[0:], uint64(peer.ClockIdentity))
	binary.BigEndian.PutUint16(b[8:], peer.PortNumber)
	a := addr.As16()
	copy(b[10:], a[:])
	b[26] = byte(t)
	return xxhash.Sum64(b[:])
}

// GrantTable holds grants, indexed by peer, address and message type
type GrantTable struct {
	sync.Mutex
	limits      map[ptp.MessageType]Limits
	maxDuration time.Duration
	maxDests    int
	grants      map[uint64]*Grant
	dests       map[netip.Addr]int
	counters    Counters
	// keepIdle keeps grants that went back to StateNone, the requester remembers its backoff in them
	keepIdle bool
}

// NewGrantTable returns a table that grants within limits and for at most maxDuration,
// to no more than maxDests addresses at once
func NewGrantTable(limits map[ptp.MessageType]Limits, maxDuration time.Duration, maxDests int) *GrantTable {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxGrantDuration
	}
	if maxDests <= 0 {
		maxDests = DefaultMaxDestinations
	}
	return &GrantTable{
		limits:      limits,
		maxDuration: maxDuration,
		maxDests:    maxDests,
		grants:      map[uint64]*Grant{},
		dests:       map[netip.Addr]int{},
	}
}

func (gt *GrantTable) find(peer ptp.PortIdentity, addr netip.Addr, t ptp.MessageType) *Grant {
	for _, p := range []ptp.PortIdentity{peer, ptp.PortIdentityAll} {
		g, ok := gt.grants[grantKey(p, addr, t)]
		if ok && g.Address == addr && g.MessageType == t && (g.Peer == p || p == ptp.PortIdentityAll) {
			return g
		}
	}
	return nil
}

func (gt *GrantTable) store(g *Grant, keyPeer ptp.PortIdentity) {
	k := grantKey(keyPeer, g.Address, g.MessageType)
	if old, ok := gt.grants[k]; ok {
		if old.Address != g.Address || old.MessageType != g.MessageType {
			log.Warningf("unicast: grant key collision between %s and %s", old, g)
		}
		gt.release(old.Address)
	}
	gt.grants[k] = g
	gt.dests[g.Address]++
}

func (gt *GrantTable) release(addr netip.Addr) {
	gt.dests[addr]--
	if gt.dests[addr] <= 0 {
		delete(gt.dests, addr)
	}
}

// Len returns the number of grants held, in any state
func (gt *GrantTable) Len() int {
	gt.Lock()
	defer gt.Unlock()
	return len(gt.grants)
}

// Get returns the grant for peer, address and message type
func (gt *GrantTable) Get(peer ptp.PortIdentity, addr netip.Addr, t ptp.MessageType) (*Grant, bool) {
	gt.Lock()
	defer gt.Unlock()
	g := gt.find(peer, addr, t)
	return g, g != nil
}

func deny(req *ptp.RequestUnicastTransmissionTLV) *ptp.GrantUnicastTransmissionTLV {
	return &ptp.GrantUnicastTransmissionTLV{
		MsgTypeAndReserved:    ptp.NewUnicastMsgTypeAndFlags(req.MsgTypeAndReserved.MsgType(), 0),
		LogInterMessagePeriod: req.LogInterMessagePeriod,
		DurationField:         0,
	}
}

// HandleRequest answers a REQUEST_UNICAST_TRANSMISSION. A denial is a grant with zero duration.
func (gt *GrantTable) HandleRequest(peer ptp.PortIdentity, addr netip.Addr, req *ptp.RequestUnicastTransmissionTLV, now time.Time) *ptp.GrantUnicastTransmissionTLV {
	gt.Lock()
	defer gt.Unlock()

	t := req.MsgTypeAndReserved.MsgType()
	gt.counters.Requested++
	limits, ok := gt.limits[t]
	if !ok || !Negotiable(t) {
		log.Debugf("unicast: denied %s request from %s(%s): not negotiable", t, peer, addr)
		gt.counters.Denied++
		return deny(req)
	}

	// a denial ends an existing grant, nothing is stored for new peers until they are granted
	g := gt.find(peer, addr, t)
	denied := func() *ptp.GrantUnicastTransmissionTLV {
		gt.counters.Denied++
		if g != nil {
			g.reset()
		}
		return deny(req)
	}
	if req.DurationField == 0 {
		log.Debugf("unicast: denied %s request from %s(%s): zero duration", t, peer, addr)
		return denied()
	}
	if req.LogInterMessagePeriod < limits.LogMinInterval {
		log.Debugf("unicast: denied %s request from %s(%s): interval %d below %d", t, peer, addr, req.LogInterMessagePeriod, limits.LogMinInterval)
		return denied()
	}
	if g == nil && gt.dests[addr] == 0 && len(gt.dests) >= gt.maxDests {
		log.Warningf("unicast: denied %s request from %s(%s): serving %d destinations already", t, peer, addr, len(gt.dests))
		return denied()
	}
	if g == nil {
		g = &Grant{Peer: peer, Address: addr, MessageType: t}
		gt.store(g, peer)
	}

	interval := req.LogInterMessagePeriod
	if interval > limits.LogMaxInterval {
		interval = limits.LogMaxInterval
	}
	duration := time.Duration(req.DurationField) * time.Second
	switch {
	case duration > gt.maxDuration:
		duration = gt.maxDuration
	case duration <= MinGrantDuration:
		duration = MinGrantDuration
	}

	if g.State != StateGranted || g.LogInterval != interval {
		log.Infof("unicast: granted %s to %s(%s), interval %d, duration %s", t, peer, addr, interval, duration)
	}
	g.State = StateGranted
	g.LogInterval = interval
	g.Duration = duration
	g.Expires = now.Add(duration + GrantSlack)
	g.cancelCount = 0
	gt.counters.Granted++

	return &ptp.GrantUnicastTransmissionTLV{
		MsgTypeAndReserved:    ptp.NewUnicastMsgTypeAndFlags(t, 0),
		LogInterMessagePeriod: interval,
		DurationField:         uint32(duration / time.Second),
		Renewal:               ptp.GrantRenewalInvited,
	}
}

// HandleCancel processes a CANCEL_UNICAST_TRANSMISSION from peer.
// The acknowledgement is returned only when there was a grant to cancel.
func (gt *GrantTable) HandleCancel(peer ptp.PortIdentity, addr netip.Addr, c *ptp.CancelUnicastTransmissionTLV) (*ptp.AcknowledgeCancelUnicastTransmissionTLV, bool) {
	gt.Lock()
	defer gt.Unlock()

	t := c.MsgTypeAndFlags.MsgType()
	gt.counters.CancelReceived++
	g := gt.find(peer, addr, t)
	if g == nil || g.State != StateGranted {
		log.Debugf("unicast: cancel of %s from %s(%s) for nothing granted", t, peer, addr)
		return nil, false
	}
	log.Infof("unicast: %s grant with %s(%s) cancelled by peer", t, peer, addr)
	g.reset()
	gt.counters.CancelAckSent++
	return &ptp.AcknowledgeCancelUnicastTransmissionTLV{
		MsgTypeAndFlags: ptp.NewUnicastMsgTypeAndFlags(t, 0),
	}, true
}

// HandleAckCancel processes an ACKNOWLEDGE_CANCEL_UNICAST_TRANSMISSION from peer
func (gt *GrantTable) HandleAckCancel(peer ptp.PortIdentity, addr netip.Addr, a *ptp.AcknowledgeCancelUnicastTransmissionTLV) {
	gt.Lock()
	defer gt.Unlock()

	t := a.MsgTypeAndFlags.MsgType()
	gt.counters.CancelAckReceived++
	g := gt.find(peer, addr, t)
	if g == nil {
		log.Debugf("unicast: cancel acknowledge of %s from unknown %s(%s)", t, peer, addr)
		return
	}
	if g.State != StateCancelled {
		log.Debugf("unicast: cancel acknowledge of %s from %s(%s) for grant in state %s", t, peer, addr, g.State)
	}
	g.reset()
}

// Cancel ends a grant from our side and returns the TLV to send to the peer
func (gt *GrantTable) Cancel(g *Grant) (*ptp.CancelUnicastTransmissionTLV, bool) {
	gt.Lock()
	defer gt.Unlock()
	return gt.cancel(g)
}

func (gt *GrantTable) cancel(g *Grant) (*ptp.CancelUnicastTransmissionTLV, bool) {
	if g.State != StateGranted && g.State != StateExpired && g.State != StateCancelled {
		return nil, false
	}
	if g.State != StateCancelled {
		g.cancelCount = 0
	}
	g.State = StateCancelled
	gt.counters.CancelSent++
	return &ptp.CancelUnicastTransmissionTLV{
		MsgTypeAndFlags: ptp.NewUnicastMsgTypeAndFlags(g.MessageType, 0),
	}, true
}

// Active reports whether messages of type t may be exchanged with peer at addr
func (gt *GrantTable) Active(peer ptp.PortIdentity, addr netip.Addr, t ptp.MessageType, now time.Time) bool {
	gt.Lock()
	defer gt.Unlock()
	g := gt.find(peer, addr, t)
	return g != nil && g.State == StateGranted && now.Before(g.Expires)
}

// Granted returns active grants of type t, ordered by peer
func (gt *GrantTable) Granted(t ptp.MessageType, now time.Time) []*Grant {
	gt.Lock()
	defer gt.Unlock()
	var out []*Grant
	for _, g := range gt.grants {
		if g.MessageType == t && g.State == StateGranted && now.Before(g.Expires) {
			out = append(out, g)
		}
	}
	sortGrants(out)
	return out
}

// Grants returns a copy of every grant in the table, ordered by peer
func (gt *GrantTable) Grants() []Grant {
	gt.Lock()
	defer gt.Unlock()
	list := make([]*Grant, 0, len(gt.grants))
	for _, g := range gt.grants {
		list = append(list, g)
	}
	sortGrants(list)
	out := make([]Grant, 0, len(list))
	for _, g := range list {
		out = append(out, *g)
	}
	return out
}

// Counters returns a copy of negotiation counters
func (gt *GrantTable) Counters() Counters {
	gt.Lock()
	defer gt.Unlock()
	return gt.counters
}

func sortGrants(list []*Grant) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Peer != list[j].Peer {
			return list[i].Peer.Less(list[j].Peer)
		}
		if list[i].Address != list[j].Address {
			return list[i].Address.Less(list[j].Address)
		}
		return list[i].MessageType < list[j].MessageType
	})
}

// Refresh is called once a second. Grants with ExpiryMargin or less left become expired,
// cancels not acknowledged within CancelAckTimeout refreshes are dropped.
// Grants that ended on an earlier call are removed from the table.
// It returns the grants that expired on this call.
func (gt *GrantTable) Refresh(now time.Time) []*Grant {
	gt.Lock()
	defer gt.Unlock()
	var expired []*Grant
	for k, g := range gt.grants {
		switch g.State {
		case StateNone, StateExpired:
			if !gt.keepIdle {
				delete(gt.grants, k)
				gt.release(g.Address)
			}
		case StateGranted:
			if g.Expires.Sub(now) <= ExpiryMargin {
				log.Infof("unicast: %s expired", g)
				g.State = StateExpired
				gt.counters.Expired++
				expired = append(expired, g)
			}
		case StateCancelled:
			g.cancelCount++
			if g.cancelCount > CancelAckTimeout {
				log.Debugf("unicast: no acknowledge for cancel of %s", g)
				g.reset()
			}
		}
	}
	sortGrants(expired)
	return expired
}
