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

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/cespare/xxhash"
	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/servo"
)

// HandlePacket decodes one datagram and dispatches it by message type. It is called by Run.
func (p *Port) HandlePacket(pkt *Packet, now time.Time) {
	defer p.checkFault(now)
	if pkt.Err != nil {
		p.raise(fmt.Errorf("receiving: %w", pkt.Err))
		return
	}
	m, err := ptp.Unpack(pkt.Data)
	if err != nil {
		log.Debugf("port %d: decoding packet from %s: %v", p.identity.PortNumber, pkt.Src, err)
		p.stats.UpdateCounterBy(keyDecodeErrors, 1)
		return
	}
	if m.Dropped > 0 {
		p.stats.UpdateCounterBy(keyTLVsDropped, int64(m.Dropped))
	}
	t := m.MessageType()
	p.stats.UpdateCounterBy(rxKey(t), 1)

	if m.Version.Major() != p.cfg.VersionField().Major() {
		log.Debugf("port %d: dropping %s of version %d", p.identity.PortNumber, t, m.Version.Major())
		p.stats.UpdateCounterBy(keyWrongVersion, 1)
		return
	}
	if !p.cfg.AnyDomain && m.DomainNumber != p.dds.DomainNumber {
		p.stats.UpdateCounterBy(keyWrongDomain, 1)
		return
	}
	if pkt.Src == p.tr.LocalAddr() && m.SourcePortIdentity == p.identity {
		// our own multicast coming back, no peer to match it with
		p.stats.UpdateCounterBy(keyLooped, 1)
		return
	}
	if t == ptp.MessageManagement {
		p.handleManagement(m, pkt.Src, now)
		return
	}
	if !operational(p.state) {
		return
	}
	s := Sample{
		MessageType: t,
		Sequence:    m.SequenceID,
		Timestamp:   pkt.TS,
		Peer:        m.SourcePortIdentity,
	}
	switch t {
	case ptp.MessageAnnounce:
		p.handleAnnounce(m, pkt.Src, now)
	case ptp.MessageSync:
		p.handleSync(m, s, pkt.Src, now)
	case ptp.MessageFollowUp:
		p.handleFollowUp(m, now)
	case ptp.MessageDelayReq:
		p.handleDelayReq(m, s, pkt.Src, now)
	case ptp.MessageDelayResp:
		p.handleDelayResp(m, pkt.Src)
	case ptp.MessagePDelayReq:
		p.handlePDelayReq(m, s, pkt.Src)
	case ptp.MessagePDelayResp:
		p.handlePDelayResp(m, s)
	case ptp.MessagePDelayRespFollowUp:
		p.handlePDelayRespFollowUp(m)
	case ptp.MessageSignaling:
		p.handleSignaling(m, pkt.Src, now)
	}
}

func (p *Port) handleAnnounce(m *ptp.Message, src netip.Addr, now time.Time) {
	if p.requester != nil {
		p.requester.Received(src, ptp.MessageAnnounce)
	}
	rec, ok := p.foreign.Observe(m, src, now)
	if !ok {
		return
	}
	for i, a := range p.masters {
		if a == src {
			p.foreign.SetLocalPreference(rec.Dataset.Sender, uint8(min(i, 255)))
			break
		}
	}
	switch {
	case p.state == ptp.PortStateListening || p.state == ptp.PortStatePassive:
		p.start(timerAnnounceReceipt, now, p.receiptTimeout())
	case slaveSide(p.state) && rec.Dataset.Sender == p.parent.ParentPortIdentity:
		p.start(timerAnnounceReceipt, now, p.receiptTimeout())
	}
	p.runBMC(now)
}

// fromParent reports whether m was sent by the master we follow
func (p *Port) fromParent(m *ptp.Message) bool {
	return slaveSide(p.state) && m.SourcePortIdentity == p.parent.ParentPortIdentity
}

func syncKey(id ptp.PortIdentity, seq uint16) uint64 {
	var b [12]byte
	binary.BigEndian.PutUint64(b[0:], uint64(id.ClockIdentity))
	binary.BigEndian.PutUint16(b[8:], id.PortNumber)
	binary.BigEndian.PutUint16(b[10:], seq)
	return xxhash.Sum64(b[:])
}

func (p *Port) handleSync(m *ptp.Message, s Sample, src netip.Addr, now time.Time) {
	if !p.fromParent(m) {
		return
	}
	if p.requester != nil {
		p.requester.Received(src, ptp.MessageSync)
	}
	if li := m.LogMessageInterval; li >= -7 && li <= 7 {
		p.loop.SetSyncInterval(li.Duration())
	}
	if m.Flags().TwoStep {
		p.storeSync(syncKey(s.Peer, s.Sequence), &pendingSync{received: s.Timestamp, correction: m.CorrectionField.Duration()})
		return
	}
	body := m.Body.(*ptp.SyncBody)
	p.offset(body.OriginTimestamp.Time(), s.Timestamp, m.CorrectionField.Duration(), now)
}

// storeSync keeps a two-step Sync until its Follow_Up shows up, evicting the oldest when full
func (p *Port) storeSync(key uint64, ps *pendingSync) {
	if len(p.syncs) >= maxPendingSyncs {
		var oldest uint64
		var first time.Time
		for k, v := range p.syncs {
			if first.IsZero() || v.received.Before(first) {
				oldest, first = k, v.received
			}
		}
		delete(p.syncs, oldest)
	}
	p.syncs[key] = ps
}

func (p *Port) handleFollowUp(m *ptp.Message, now time.Time) {
	if !p.fromParent(m) {
		return
	}
	key := syncKey(m.SourcePortIdentity, m.SequenceID)
	ps, ok := p.syncs[key]
	if !ok {
		log.Debugf("port %d: follow_up %d without sync", p.identity.PortNumber, m.SequenceID)
		return
	}
	delete(p.syncs, key)
	body := m.Body.(*ptp.FollowUpBody)
	p.offset(body.PreciseOriginTimestamp.Time(), ps.received, ps.correction+m.CorrectionField.Duration(), now)
}

// offset feeds a complete t1/t2 pair to the control loop and acts on what it did
func (p *Port) offset(t1, t2 time.Time, correction time.Duration, now time.Time) {
	p.lastSync = &syncRecord{t1: t1, t2: t2, correction: correction}
	d, err := p.loop.Offset(servo.OffsetSample{Origin: t1, Receive: t2, Correction: correction})
	if err != nil {
		p.raise(err)
		return
	}
	p.stats.SetCounter(KeyOffset, d.Offset.Nanoseconds())
	p.stats.SetCounter(KeyFreq, int64(d.FreqPPB))
	switch d.Action {
	case servo.ActionStep:
		p.stats.SetCounter(KeySteps, int64(p.loop.Steps()))
		if p.subscribed {
			p.emit(EventStep{Offset: d.Offset})
		}
		// timestamps taken before the step are useless now
		p.lastSync = nil
		p.delayReq = nil
		clear(p.syncs)
		p.toState(ptp.PortStateUncalibrated, now)
	case servo.ActionSlew:
		if p.state == ptp.PortStateUncalibrated {
			p.toState(ptp.PortStateSlave, now)
		}
	}
	p.updateQuality(d.Status)
	if d.StatusChanged {
		p.lockChanged(d.Status)
	}
}

// lockChanged reports lock gained or lost to subscribers
func (p *Port) lockChanged(status servo.Status) {
	locked := status == servo.StatusLocked
	if locked == p.locked {
		return
	}
	p.locked = locked
	if !p.subscribed {
		return
	}
	if locked {
		p.emit(EventLocked{Master: p.parent.ParentPortIdentity})
		return
	}
	p.emit(EventUnlocked{})
}

// sendDelayReq starts an E2E delay measurement, it needs a Sync to pair with
func (p *Port) sendDelayReq(now time.Time) {
	if !slaveSide(p.state) || p.lastSync == nil {
		return
	}
	seq := p.nextSeq(ptp.MessageDelayReq)
	m := ptp.NewMessage(&ptp.DelayReqBody{OriginTimestamp: ptp.NewTimestamp(p.originTime(now))})
	p.header(m, logIntervalUnspecified)
	m.SequenceID = seq
	dst := p.unicastDst()
	ts, err := p.send(m, dst)
	if err != nil {
		log.Errorf("port %d: %v", p.identity.PortNumber, err)
		return
	}
	p.delayReq = &pendingDelayReq{seq: seq, t3: ts, sync: *p.lastSync}
}

// unicastDst is where messages to the parent go, invalid meaning multicast
func (p *Port) unicastDst() netip.Addr {
	if p.cfg.Unicast.Enabled && p.parentAddr.IsValid() {
		return p.parentAddr
	}
	return netip.Addr{}
}

func (p *Port) handleDelayResp(m *ptp.Message, src netip.Addr) {
	if !p.fromParent(m) || p.delayReq == nil {
		return
	}
	body := m.Body.(*ptp.DelayRespBody)
	if body.RequestingPortIdentity != p.identity || m.SequenceID != p.delayReq.seq {
		return
	}
	if p.requester != nil {
		p.requester.Received(src, ptp.MessageDelayResp)
	}
	pr := p.delayReq
	p.delayReq = nil
	delay, ok := p.loop.Delay(servo.DelaySample{
		T1:         pr.sync.t1,
		T2:         pr.sync.t2,
		T3:         pr.t3,
		T4:         body.ReceiveTimestamp.Time(),
		Correction: pr.sync.correction + m.CorrectionField.Duration(),
	})
	if ok {
		p.stats.SetCounter(KeyPathDelay, delay.Nanoseconds())
	}
}

// sendPDelayReq starts a peer delay measurement
func (p *Port) sendPDelayReq(now time.Time) {
	if p.pdelay != nil && !p.pdelay.responded {
		log.Debugf("port %d: no response to pdelay_req %d", p.identity.PortNumber, p.pdelay.seq)
	}
	seq := p.nextSeq(ptp.MessagePDelayReq)
	m := ptp.NewMessage(&ptp.PDelayReqBody{OriginTimestamp: ptp.NewTimestamp(p.originTime(now))})
	p.header(m, p.cfg.LogMinPdelayReqInterval)
	m.SequenceID = seq
	ts, err := p.send(m, netip.Addr{})
	if err != nil {
		log.Errorf("port %d: %v", p.identity.PortNumber, err)
		p.pdelay = nil
		return
	}
	p.pdelay = &pendingPDelay{seq: seq, t1: ts}
}

func (p *Port) handlePDelayResp(m *ptp.Message, s Sample) {
	pd := p.pdelay
	if pd == nil || pd.responded {
		return
	}
	body := m.Body.(*ptp.PDelayRespBody)
	if body.RequestingPortIdentity != p.identity || m.SequenceID != pd.seq {
		return
	}
	pd.responded = true
	pd.t2 = body.RequestReceiptTimestamp.Time()
	pd.t4 = s.Timestamp
	pd.correction = m.CorrectionField.Duration()
	if !m.Flags().TwoStep {
		p.peerDelayDone(pd.t2)
	}
}

func (p *Port) handlePDelayRespFollowUp(m *ptp.Message) {
	pd := p.pdelay
	if pd == nil || !pd.responded || m.SequenceID != pd.seq {
		return
	}
	body := m.Body.(*ptp.PDelayRespFollowUpBody)
	if body.RequestingPortIdentity != p.identity {
		return
	}
	pd.correction += m.CorrectionField.Duration()
	p.peerDelayDone(body.ResponseOriginTimestamp.Time())
}

// peerDelayDone completes the exchange with the peer's response departure time t3
func (p *Port) peerDelayDone(t3 time.Time) {
	pd := p.pdelay
	p.pdelay = nil
	delay, ok := p.loop.Delay(servo.DelaySample{
		T1:         pd.t1,
		T2:         pd.t2,
		T3:         t3,
		T4:         pd.t4,
		Correction: pd.correction,
	})
	if ok {
		p.peerDelay = delay
		p.stats.SetCounter(KeyPathDelay, delay.Nanoseconds())
	}
}
