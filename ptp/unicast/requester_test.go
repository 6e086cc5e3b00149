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
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

func newRequester() *Requester {
	return NewRequester(RequesterConfig{
		Duration:       60 * time.Second,
		DelayMechanism: ptp.DelayMechanismE2E,
		Limits:         limits,
	})
}

func grantFor(req *ptp.RequestUnicastTransmissionTLV) *ptp.GrantUnicastTransmissionTLV {
	return &ptp.GrantUnicastTransmissionTLV{
		MsgTypeAndReserved:    req.MsgTypeAndReserved,
		LogInterMessagePeriod: req.LogInterMessagePeriod,
		DurationField:         req.DurationField,
		Renewal:               ptp.GrantRenewalInvited,
	}
}

func requestedTypes(reqs []*ptp.RequestUnicastTransmissionTLV) []ptp.MessageType {
	out := []ptp.MessageType{}
	for _, r := range reqs {
		out = append(out, r.MsgTypeAndReserved.MsgType())
	}
	return out
}

func TestRequesterMinimumDuration(t *testing.T) {
	r := NewRequester(RequesterConfig{Limits: limits})
	req, err := r.Want(addr, ptp.MessageSync, now)
	require.NoError(t, err)
	require.Equal(t, uint32(5), req.DurationField)
	require.Equal(t, ptp.LogInterval(-7), req.LogInterMessagePeriod)

	_, err = r.Want(addr, ptp.MessageFollowUp, now)
	require.ErrorIs(t, err, ErrNotRequested)
}

func TestRequesterOrder(t *testing.T) {
	r := newRequester()
	reqs := r.Tick(addr, now)
	require.Equal(t, []ptp.MessageType{ptp.MessageAnnounce, ptp.MessageSync}, requestedTypes(reqs))

	// still waiting, requests go out again
	reqs = r.Tick(addr, now.Add(time.Second))
	require.Equal(t, []ptp.MessageType{ptp.MessageAnnounce, ptp.MessageSync}, requestedTypes(reqs))

	for _, req := range reqs {
		require.NoError(t, r.HandleGrant(peer, addr, grantFor(req), now.Add(time.Second)))
	}
	require.True(t, r.Active(addr, ptp.MessageSync, now.Add(2*time.Second)))
	require.True(t, r.Active(addr, ptp.MessageAnnounce, now.Add(2*time.Second)))

	reqs = r.Tick(addr, now.Add(2*time.Second))
	require.Equal(t, []ptp.MessageType{ptp.MessageDelayResp}, requestedTypes(reqs))
	require.NoError(t, r.HandleGrant(peer, addr, grantFor(reqs[0]), now.Add(2*time.Second)))

	require.Empty(t, r.Tick(addr, now.Add(3*time.Second)))
}

func TestRequesterP2P(t *testing.T) {
	r := NewRequester(RequesterConfig{
		Duration:       60 * time.Second,
		DelayMechanism: ptp.DelayMechanismP2P,
		Limits:         limits,
	})
	for _, t2 := range []ptp.MessageType{ptp.MessageAnnounce, ptp.MessageSync} {
		req, err := r.Want(addr, t2, now)
		require.NoError(t, err)
		require.NoError(t, r.HandleGrant(peer, addr, grantFor(req), now))
	}
	require.Equal(t, []ptp.MessageType{ptp.MessagePDelayResp}, r.Pending(addr))
}

func TestRequesterRenewal(t *testing.T) {
	r := newRequester()
	req, err := r.Want(addr, ptp.MessageAnnounce, now)
	require.NoError(t, err)
	require.NoError(t, r.HandleGrant(peer, addr, grantFor(req), now))
	req, err = r.Want(addr, ptp.MessageSync, now)
	require.NoError(t, err)
	require.NoError(t, r.HandleGrant(peer, addr, grantFor(req), now))
	req, err = r.Want(addr, ptp.MessageDelayResp, now)
	require.NoError(t, err)
	require.NoError(t, r.HandleGrant(peer, addr, grantFor(req), now))

	r.Received(addr, ptp.MessageAnnounce)
	r.Received(addr, ptp.MessageSync)
	r.Received(addr, ptp.MessageDelayResp)
	require.Empty(t, r.Tick(addr, now.Add(54*time.Second)))

	// 5 seconds before the end every grant is renewed
	reqs := r.Tick(addr, now.Add(55*time.Second))
	require.Equal(t, []ptp.MessageType{ptp.MessageAnnounce, ptp.MessageSync}, requestedTypes(reqs))
	require.Equal(t, int64(3), r.Table().Counters().Expired)
}

func TestRequesterKeepalive(t *testing.T) {
	r := newRequester()
	req, err := r.Want(addr, ptp.MessageAnnounce, now)
	require.NoError(t, err)
	require.NoError(t, r.HandleGrant(peer, addr, grantFor(req), now))

	for i := 1; i < GrantKeepaliveInterval; i++ {
		r.Received(addr, ptp.MessageAnnounce)
		reqs := r.Tick(addr, now.Add(time.Duration(i)*time.Second))
		require.NotContains(t, requestedTypes(reqs), ptp.MessageAnnounce)
	}
	// keepalive check resets the counter
	reqs := r.Tick(addr, now.Add(GrantKeepaliveInterval*time.Second))
	require.NotContains(t, requestedTypes(reqs), ptp.MessageAnnounce)

	// nothing arrived for a whole keepalive interval
	for i := 1; i < GrantKeepaliveInterval; i++ {
		r.Tick(addr, now.Add(time.Duration(GrantKeepaliveInterval+i)*time.Second))
	}
	reqs = r.Tick(addr, now.Add(2*GrantKeepaliveInterval*time.Second))
	require.Contains(t, requestedTypes(reqs), ptp.MessageAnnounce)
}

func TestRequesterDenialBacksOff(t *testing.T) {
	r := newRequester()
	intervals := []ptp.LogInterval{}
	for i := 0; i < 5; i++ {
		req, err := r.Want(addr, ptp.MessageAnnounce, now)
		require.NoError(t, err)
		intervals = append(intervals, req.LogInterMessagePeriod)
		deny := grantFor(req)
		deny.DurationField = 0
		require.ErrorIs(t, r.HandleGrant(peer, addr, deny, now), ErrDenied)
	}
	require.Equal(t, []ptp.LogInterval{0, 1, 2, 3, 0}, intervals)
	require.Equal(t, int64(5), r.Table().Counters().Denied)
}

func TestRequesterUnrequestedGrant(t *testing.T) {
	r := newRequester()
	g := &ptp.GrantUnicastTransmissionTLV{
		MsgTypeAndReserved: ptp.NewUnicastMsgTypeAndFlags(ptp.MessageSync, 0),
		DurationField:      60,
	}
	require.ErrorIs(t, r.HandleGrant(peer, addr, g, now), ErrNotRequested)
	require.False(t, r.Active(addr, ptp.MessageSync, now))
}

func TestRequesterRateLimit(t *testing.T) {
	r := NewRequester(RequesterConfig{
		Duration:     60 * time.Second,
		Limits:       limits,
		RequestRate:  1,
		RequestBurst: 1,
	})
	_, err := r.Want(addr, ptp.MessageAnnounce, now)
	require.NoError(t, err)
	_, err = r.Want(addr, ptp.MessageSync, now)
	require.ErrorIs(t, err, ErrRateLimited)
	_, err = r.Want(addr, ptp.MessageSync, now.Add(time.Second))
	require.NoError(t, err)
}

func TestRequesterMasterCancel(t *testing.T) {
	r := newRequester()
	req, err := r.Want(addr, ptp.MessageSync, now)
	require.NoError(t, err)
	require.NoError(t, r.HandleGrant(peer, addr, grantFor(req), now))

	ack, ok := r.HandleCancel(peer, addr, &ptp.CancelUnicastTransmissionTLV{MsgTypeAndFlags: ptp.NewUnicastMsgTypeAndFlags(ptp.MessageSync, 0)})
	require.True(t, ok)
	require.Equal(t, ptp.MessageSync, ack.MsgTypeAndFlags.MsgType())
	require.False(t, r.Active(addr, ptp.MessageSync, now))
	require.Contains(t, r.Pending(addr), ptp.MessageSync)
}

func TestRequesterSwitchMaster(t *testing.T) {
	r := newRequester()
	for _, mt := range []ptp.MessageType{ptp.MessageAnnounce, ptp.MessageSync, ptp.MessageDelayResp} {
		req, err := r.Want(addr, mt, now)
		require.NoError(t, err)
		require.NoError(t, r.HandleGrant(peer, addr, grantFor(req), now))
	}
	cancels := r.SwitchMaster(addr)
	require.Len(t, cancels, 2)
	require.Equal(t, ptp.MessageSync, cancels[0].MsgTypeAndFlags.MsgType())
	require.Equal(t, ptp.MessageDelayResp, cancels[1].MsgTypeAndFlags.MsgType())
	require.True(t, r.Active(addr, ptp.MessageAnnounce, now))
	require.False(t, r.Active(addr, ptp.MessageSync, now))

	r.HandleAckCancel(peer, addr, &ptp.AcknowledgeCancelUnicastTransmissionTLV{MsgTypeAndFlags: ptp.NewUnicastMsgTypeAndFlags(ptp.MessageSync, 0)})
	g, ok := r.Table().Get(ptp.PortIdentityAll, addr, ptp.MessageSync)
	require.True(t, ok)
	require.Equal(t, StateNone, g.State)
}

func TestRequesterPoll(t *testing.T) {
	r := newRequester()
	reqs := r.Poll([]netip.Addr{addr, addr2}, addr2, now)
	got := map[netip.Addr][]ptp.MessageType{}
	for _, req := range reqs {
		got[req.Master] = append(got[req.Master], req.TLV.MsgTypeAndReserved.MsgType())
	}
	require.Equal(t, []ptp.MessageType{ptp.MessageAnnounce}, got[addr])
	require.Equal(t, []ptp.MessageType{ptp.MessageAnnounce, ptp.MessageSync}, got[addr2])

	// no master selected yet
	reqs = r.Poll([]netip.Addr{addr, addr2}, netip.Addr{}, now.Add(time.Second))
	require.Len(t, reqs, 2)
	for _, req := range reqs {
		require.Equal(t, ptp.MessageAnnounce, req.TLV.MsgTypeAndReserved.MsgType())
	}
}
