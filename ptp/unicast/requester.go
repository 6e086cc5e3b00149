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

package unicast

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

const (
	// MinRequestDuration is the shortest grant we ever ask for
	MinRequestDuration = 5 * time.Second
	// GrantKeepaliveInterval is how many refreshes pass between checks that granted messages actually arrive
	GrantKeepaliveInterval = 5
)

var (
	// ErrRateLimited is returned when a request would exceed the configured request rate
	ErrRateLimited = errors.New("unicast request rate exceeded")
	// ErrNotRequested is returned for grants we never asked for
	ErrNotRequested = errors.New("grant for message not requested")
	// ErrDenied is returned when the master answered with a zero duration grant
	ErrDenied = errors.New("unicast transmission denied")
)

// RequesterConfig configures the requesting side of negotiation
type RequesterConfig struct {
	// Duration asked for in every request
	Duration       time.Duration
	DelayMechanism ptp.DelayMechanism
	// Limits per message type, requests start at LogMinInterval and back off to LogMaxInterval on denial
	Limits map[ptp.MessageType]Limits
	// RequestRate is the number of requests per second allowed, RequestBurst how many may go at once
	RequestRate  float64
	RequestBurst int
}

// Requester asks masters for unicast transmission and keeps the grants renewed
type Requester struct {
	cfg     RequesterConfig
	table   *GrantTable
	limiter *rate.Limiter
	ticks   int
}

// NewRequester returns a Requester
func NewRequester(cfg RequesterConfig) *Requester {
	if cfg.Duration < MinRequestDuration {
		cfg.Duration = MinRequestDuration
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 1
	}
	limit := rate.Inf
	if cfg.RequestRate > 0 {
		limit = rate.Limit(cfg.RequestRate)
	}
	table := NewGrantTable(cfg.Limits, cfg.Duration, 0)
	table.keepIdle = true
	return &Requester{
		cfg:     cfg,
		table:   table,
		limiter: rate.NewLimiter(limit, cfg.RequestBurst),
	}
}

// Table returns the table of grants we were given
func (r *Requester) Table() *GrantTable {
	return r.table
}

func (r *Requester) delayType() (ptp.MessageType, bool) {
	switch r.cfg.DelayMechanism {
	case ptp.DelayMechanismE2E:
		return ptp.MessageDelayResp, true
	case ptp.DelayMechanismP2P:
		return ptp.MessagePDelayResp, true
	}
	return 0, false
}

// grant returns the requester side grant of master, creating it. Caller holds the table lock.
func (r *Requester) grant(master netip.Addr, t ptp.MessageType) *Grant {
	g := r.table.find(ptp.PortIdentityAll, master, t)
	if g == nil {
		g = &Grant{
			Peer:        ptp.PortIdentityAll,
			Address:     master,
			MessageType: t,
			LogInterval: r.cfg.Limits[t].LogMinInterval,
		}
		r.table.store(g, ptp.PortIdentityAll)
	}
	return g
}

// Want builds a request for unicast transmission of t from master
func (r *Requester) Want(master netip.Addr, t ptp.MessageType, now time.Time) (*ptp.RequestUnicastTransmissionTLV, error) {
	if !Negotiable(t) {
		return nil, fmt.Errorf("requesting %s: %w", t, ErrNotRequested)
	}
	if !r.limiter.AllowN(now, 1) {
		return nil, ErrRateLimited
	}
	r.table.Lock()
	defer r.table.Unlock()

	g := r.grant(master, t)
	g.State = StateRequested
	r.table.counters.Requested++
	log.Debugf("unicast: requesting %s from %s, interval %d, duration %s", t, master, g.LogInterval, r.cfg.Duration)
	return &ptp.RequestUnicastTransmissionTLV{
		MsgTypeAndReserved:    ptp.NewUnicastMsgTypeAndFlags(t, 0),
		LogInterMessagePeriod: g.LogInterval,
		DurationField:         uint32(r.cfg.Duration / time.Second),
	}, nil
}

// Pending returns the message types that should be requested from master now.
// Announce is always wanted, delay responses only once Sync is granted.
func (r *Requester) Pending(master netip.Addr) []ptp.MessageType {
	r.table.Lock()
	defer r.table.Unlock()

	needs := func(t ptp.MessageType) bool {
		g := r.table.find(ptp.PortIdentityAll, master, t)
		return g == nil || g.State != StateGranted
	}
	var out []ptp.MessageType
	if needs(ptp.MessageAnnounce) {
		out = append(out, ptp.MessageAnnounce)
	}
	if needs(ptp.MessageSync) {
		return append(out, ptp.MessageSync)
	}
	if dt, ok := r.delayType(); ok && needs(dt) {
		out = append(out, dt)
	}
	return out
}

// Request is a request TLV together with the master it goes to
type Request struct {
	Master netip.Addr
	TLV    *ptp.RequestUnicastTransmissionTLV
}

func (r *Requester) refresh(now time.Time) {
	r.table.Refresh(now)
	r.ticks++
	if r.ticks%GrantKeepaliveInterval == 0 {
		r.keepalive()
	}
}

func (r *Requester) want(master netip.Addr, types []ptp.MessageType, now time.Time) []*ptp.RequestUnicastTransmissionTLV {
	var out []*ptp.RequestUnicastTransmissionTLV
	for _, t := range types {
		req, err := r.Want(master, t, now)
		if err != nil {
			log.Debugf("unicast: not requesting %s from %s: %v", t, master, err)
			continue
		}
		out = append(out, req)
	}
	return out
}

// Tick is called once a second with the current master, it returns the requests to send.
// Requests over the rate limit are retried on the next tick.
func (r *Requester) Tick(master netip.Addr, now time.Time) []*ptp.RequestUnicastTransmissionTLV {
	r.refresh(now)
	return r.want(master, r.Pending(master), now)
}

// Poll is Tick for a list of configured masters. Announce is requested from every master
// so BMCA can compare them, timing messages only from selected, which may be invalid.
func (r *Requester) Poll(masters []netip.Addr, selected netip.Addr, now time.Time) []Request {
	r.refresh(now)
	var out []Request
	for _, m := range masters {
		types := r.Pending(m)
		if m != selected {
			var announce []ptp.MessageType
			for _, t := range types {
				if t == ptp.MessageAnnounce {
					announce = append(announce, t)
				}
			}
			types = announce
		}
		for _, tlv := range r.want(m, types, now) {
			out = append(out, Request{Master: m, TLV: tlv})
		}
	}
	return out
}

// keepalive expires grants under which nothing arrived since the last check, so they get requested again
func (r *Requester) keepalive() {
	r.table.Lock()
	defer r.table.Unlock()
	for _, g := range r.table.grants {
		if g.State == StateGranted && g.Received == 0 {
			log.Infof("unicast: no %s received from %s, requesting again", g.MessageType, g.Address)
			g.State = StateExpired
		}
		g.Received = 0
	}
}

// Received records a message that arrived under a grant
func (r *Requester) Received(master netip.Addr, t ptp.MessageType) {
	r.table.Lock()
	defer r.table.Unlock()
	if g := r.table.find(ptp.PortIdentityAll, master, t); g != nil {
		g.Received++
	}
}

// HandleGrant processes a GRANT_UNICAST_TRANSMISSION from master.
// On denial the next request asks for a longer interval, wrapping to the shortest past the maximum.
func (r *Requester) HandleGrant(peer ptp.PortIdentity, master netip.Addr, grant *ptp.GrantUnicastTransmissionTLV, now time.Time) error {
	r.table.Lock()
	defer r.table.Unlock()

	t := grant.MsgTypeAndReserved.MsgType()
	g := r.table.find(ptp.PortIdentityAll, master, t)
	if g == nil || (g.State != StateRequested && g.State != StateGranted && g.State != StateExpired) {
		return fmt.Errorf("%s from %s: %w", t, master, ErrNotRequested)
	}
	if grant.DurationField == 0 {
		r.table.counters.Denied++
		limits := r.cfg.Limits[t]
		g.LogInterval++
		if g.LogInterval > limits.LogMaxInterval {
			g.LogInterval = limits.LogMinInterval
		}
		g.reset()
		return fmt.Errorf("%s from %s: %w", t, master, ErrDenied)
	}
	if g.State != StateGranted {
		log.Infof("unicast: %s granted by %s(%s), interval %d, duration %ds", t, peer, master, grant.LogInterMessagePeriod, grant.DurationField)
	}
	r.table.counters.Granted++
	g.Peer = peer
	g.State = StateGranted
	g.LogInterval = grant.LogInterMessagePeriod
	g.Duration = time.Duration(grant.DurationField) * time.Second
	g.Expires = now.Add(g.Duration)
	g.cancelCount = 0
	return nil
}

// HandleCancel processes a CANCEL_UNICAST_TRANSMISSION from master
func (r *Requester) HandleCancel(peer ptp.PortIdentity, master netip.Addr, c *ptp.CancelUnicastTransmissionTLV) (*ptp.AcknowledgeCancelUnicastTransmissionTLV, bool) {
	return r.table.HandleCancel(peer, master, c)
}

// HandleAckCancel processes an ACKNOWLEDGE_CANCEL_UNICAST_TRANSMISSION from master
func (r *Requester) HandleAckCancel(peer ptp.PortIdentity, master netip.Addr, a *ptp.AcknowledgeCancelUnicastTransmissionTLV) {
	r.table.HandleAckCancel(peer, master, a)
}

// Active reports whether messages of type t from master are covered by a grant
func (r *Requester) Active(master netip.Addr, t ptp.MessageType, now time.Time) bool {
	return r.table.Active(ptp.PortIdentityAll, master, t, now)
}

// SwitchMaster returns cancels for the timing grants of the previous master.
// Announce grants are kept so BMCA still hears it.
func (r *Requester) SwitchMaster(previous netip.Addr) []*ptp.CancelUnicastTransmissionTLV {
	r.table.Lock()
	defer r.table.Unlock()
	var out []*ptp.CancelUnicastTransmissionTLV
	for _, t := range []ptp.MessageType{ptp.MessageSync, ptp.MessageDelayResp, ptp.MessagePDelayResp} {
		g := r.table.find(ptp.PortIdentityAll, previous, t)
		if g == nil {
			continue
		}
		if c, ok := r.table.cancel(g); ok {
			out = append(out, c)
		}
	}
	return out
}
