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
	"fmt"
	"net/netip"
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/unicast"
)

func (p *Port) nextSeq(t ptp.MessageType) uint16 {
	s := p.seq[t&0xf]
	p.seq[t&0xf]++
	return s
}

// header fills the header fields every message we send carries
func (p *Port) header(m *ptp.Message, interval ptp.LogInterval) {
	m.Version = p.cfg.VersionField()
	m.DomainNumber = p.dds.DomainNumber
	m.SourcePortIdentity = p.identity
	m.LogMessageInterval = interval
}

// flags returns the flag field for t towards dst, time properties go into every message
func (p *Port) flags(t ptp.MessageType, dst netip.Addr) uint16 {
	f := uint16(p.timeProps.Flags)
	if dst.IsValid() {
		f |= ptp.FlagUnicast
	}
	// the responder turnaround is only known once Pdelay_Resp is out, so it always gets a follow up
	if t == ptp.MessagePDelayResp || (p.cfg.TwoStep && t == ptp.MessageSync) {
		f |= ptp.FlagTwoStep
	}
	return f
}

// send packs and transmits m to dst, returning the transmit timestamp of event messages.
// An invalid dst sends to the multicast group.
func (p *Port) send(m *ptp.Message, dst netip.Addr) (time.Time, error) {
	t := m.MessageType()
	m.FlagField |= p.flags(t, dst)
	n, err := ptp.Pack(m, p.buf)
	if err != nil {
		return time.Time{}, fmt.Errorf("packing %s: %w", t, err)
	}
	ts, err := p.tr.Send(m.IsEvent, p.buf[:n], dst)
	if err != nil {
		p.stats.UpdateCounterBy(keyTxErrors, 1)
		err = fmt.Errorf("sending %s to %v: %w", t, dst, err)
		p.raise(err)
		return time.Time{}, err
	}
	p.stats.UpdateCounterBy(txKey(t), 1)
	return ts, nil
}

// originTime reads the clock we timestamp with, falling back to now
func (p *Port) originTime(now time.Time) time.Time {
	t, err := p.clock.Now()
	if err != nil {
		log.Warningf("reading clock: %v", err)
		return now
	}
	return t
}

// destinations returns where messages of type t go now: the multicast group, or every
// unicast grantee whose interval is up
func (p *Port) destinations(t ptp.MessageType, now time.Time) []netip.Addr {
	if !p.cfg.Unicast.Enabled {
		return []netip.Addr{{}}
	}
	var out []netip.Addr
	for _, g := range p.grants.Granted(t, now) {
		if next, ok := p.nextSend[g]; ok && now.Before(next) {
			continue
		}
		p.nextSend[g] = now.Add(g.LogInterval.Duration())
		out = append(out, g.Address)
	}
	return out
}

func (p *Port) sendAnnounce(now time.Time) {
	for _, dst := range p.destinations(ptp.MessageAnnounce, now) {
		m := ptp.NewMessage(&ptp.AnnounceBody{
			OriginTimestamp:         ptp.NewTimestamp(p.originTime(now)),
			CurrentUTCOffset:        p.timeProps.CurrentUTCOffset,
			GrandmasterPriority1:    p.parent.GrandmasterPriority1,
			GrandmasterClockQuality: p.parent.GrandmasterClockQuality,
			GrandmasterPriority2:    p.parent.GrandmasterPriority2,
			GrandmasterIdentity:     p.parent.GrandmasterIdentity,
			StepsRemoved:            p.stepsRemoved,
			TimeSource:              p.timeProps.TimeSource,
		})
		p.header(m, p.cfg.LogAnnounceInterval)
		m.SequenceID = p.nextSeq(ptp.MessageAnnounce)
		if _, err := p.send(m, dst); err != nil {
			log.Errorf("port %d: %v", p.identity.PortNumber, err)
			return
		}
	}
}

func (p *Port) sendSync(now time.Time) {
	for _, dst := range p.destinations(ptp.MessageSync, now) {
		seq := p.nextSeq(ptp.MessageSync)
		m := ptp.NewMessage(&ptp.SyncBody{OriginTimestamp: ptp.NewTimestamp(p.originTime(now))})
		p.header(m, p.cfg.LogSyncInterval)
		m.SequenceID = seq
		ts, err := p.send(m, dst)
		if err != nil {
			log.Errorf("port %d: %v", p.identity.PortNumber, err)
			return
		}
		if !p.cfg.TwoStep {
			continue
		}
		fu := ptp.NewMessage(&ptp.FollowUpBody{PreciseOriginTimestamp: ptp.NewTimestamp(ts)})
		p.header(fu, p.cfg.LogSyncInterval)
		fu.SequenceID = seq
		if _, err := p.send(fu, dst); err != nil {
			log.Errorf("port %d: %v", p.identity.PortNumber, err)
			return
		}
	}
}

// handleDelayReq answers a slave with the arrival time of its Delay_Req
func (p *Port) handleDelayReq(m *ptp.Message, s Sample, src netip.Addr, now time.Time) {
	if p.state != ptp.PortStateMaster {
		return
	}
	var dst netip.Addr
	if p.cfg.Unicast.Enabled {
		if !p.grants.Active(m.SourcePortIdentity, src, ptp.MessageDelayResp, now) {
			log.Debugf("port %d: delay_req from %s without grant", p.identity.PortNumber, src)
			p.stats.UpdateCounterBy(keyNoGrant, 1)
			return
		}
		dst = src
	}
	resp := ptp.NewMessage(&ptp.DelayRespBody{
		ReceiveTimestamp:       ptp.NewTimestamp(s.Timestamp),
		RequestingPortIdentity: m.SourcePortIdentity,
	})
	p.header(resp, p.cfg.LogMinDelayReqInterval)
	resp.SequenceID = m.SequenceID
	resp.CorrectionField = m.CorrectionField
	if _, err := p.send(resp, dst); err != nil {
		log.Errorf("port %d: %v", p.identity.PortNumber, err)
	}
}

// handlePDelayReq answers a peer delay request, in any operational state
func (p *Port) handlePDelayReq(m *ptp.Message, s Sample, src netip.Addr) {
	if p.delayMechanism != ptp.DelayMechanismP2P {
		return
	}
	var dst netip.Addr
	if m.Flags().Unicast {
		dst = src
	}
	resp := ptp.NewMessage(&ptp.PDelayRespBody{
		RequestReceiptTimestamp: ptp.NewTimestamp(s.Timestamp),
		RequestingPortIdentity:  m.SourcePortIdentity,
	})
	p.header(resp, logIntervalUnspecified)
	resp.SequenceID = m.SequenceID
	ts, err := p.send(resp, dst)
	if err != nil {
		log.Errorf("port %d: %v", p.identity.PortNumber, err)
		return
	}
	fu := ptp.NewMessage(&ptp.PDelayRespFollowUpBody{
		ResponseOriginTimestamp: ptp.NewTimestamp(ts),
		RequestingPortIdentity:  m.SourcePortIdentity,
	})
	p.header(fu, logIntervalUnspecified)
	fu.SequenceID = m.SequenceID
	fu.CorrectionField = m.CorrectionField
	if _, err := p.send(fu, dst); err != nil {
		log.Errorf("port %d: %v", p.identity.PortNumber, err)
	}
}

// pruneSends forgets send schedules of grants that are gone
func (p *Port) pruneSends() {
	for g := range p.nextSend {
		if g.State != unicast.StateGranted {
			delete(p.nextSend, g)
		}
	}
}
