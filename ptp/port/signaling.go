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
	"net/netip"
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// handleSignaling runs every unicast negotiation TLV of m through the grantor or requester side
// and answers with one signaling message carrying all replies
func (p *Port) handleSignaling(m *ptp.Message, src netip.Addr, now time.Time) {
	body := m.Body.(*ptp.SignalingBody)
	target := body.TargetPortIdentity
	if target != p.identity && target != ptp.PortIdentityAll &&
		!(target.ClockIdentity == p.identity.ClockIdentity && target.PortNumber == 0xffff) {
		return
	}
	if !p.cfg.Unicast.Enabled {
		log.Debugf("port %d: signaling from %s with unicast negotiation disabled", p.identity.PortNumber, src)
		return
	}
	peer := m.SourcePortIdentity
	var reply []ptp.TLV
	for _, tlv := range m.TLVs {
		switch v := tlv.(type) {
		case *ptp.RequestUnicastTransmissionTLV:
			reply = append(reply, p.grants.HandleRequest(peer, src, v, now))
		case *ptp.GrantUnicastTransmissionTLV:
			if p.requester == nil {
				continue
			}
			if err := p.requester.HandleGrant(peer, src, v, now); err != nil {
				log.Infof("port %d: %v", p.identity.PortNumber, err)
			}
		case *ptp.CancelUnicastTransmissionTLV:
			if p.requester != nil {
				if ack, ok := p.requester.HandleCancel(peer, src, v); ok {
					reply = append(reply, ack)
					continue
				}
			}
			if ack, ok := p.grants.HandleCancel(peer, src, v); ok {
				reply = append(reply, ack)
			}
		case *ptp.AcknowledgeCancelUnicastTransmissionTLV:
			if p.requester != nil {
				p.requester.HandleAckCancel(peer, src, v)
			}
			p.grants.HandleAckCancel(peer, src, v)
		default:
			log.Debugf("port %d: ignoring %s in signaling from %s", p.identity.PortNumber, tlv.Type(), src)
		}
	}
	if len(reply) > 0 {
		p.sendSignaling(peer, src, reply...)
	}
}

func (p *Port) sendSignaling(target ptp.PortIdentity, dst netip.Addr, tlvs ...ptp.TLV) {
	m := ptp.NewMessage(&ptp.SignalingBody{TargetPortIdentity: target})
	for _, tlv := range tlvs {
		m.AddTLV(tlv)
	}
	p.header(m, logIntervalUnspecified)
	m.SequenceID = p.nextSeq(ptp.MessageSignaling)
	if _, err := p.send(m, dst); err != nil {
		log.Errorf("port %d: %v", p.identity.PortNumber, err)
	}
}

// unicastTick refreshes grants on both sides and sends the requests that are due
func (p *Port) unicastTick(now time.Time) {
	for _, g := range p.grants.Refresh(now) {
		log.Debugf("port %d: grant %s ended", p.identity.PortNumber, g)
	}
	p.pruneSends()
	if p.requester == nil {
		return
	}
	var selected netip.Addr
	if slaveSide(p.state) {
		selected = p.parentAddr
	}
	byMaster := map[netip.Addr][]ptp.TLV{}
	var order []netip.Addr
	for _, r := range p.requester.Poll(p.masters, selected, now) {
		if _, ok := byMaster[r.Master]; !ok {
			order = append(order, r.Master)
		}
		byMaster[r.Master] = append(byMaster[r.Master], r.TLV)
	}
	for _, m := range order {
		p.sendSignaling(ptp.PortIdentityAll, m, byMaster[m]...)
	}
}

// cancelTiming cancels the timing grants we hold from master, announce keeps flowing
func (p *Port) cancelTiming(master netip.Addr) {
	if p.requester == nil || !master.IsValid() {
		return
	}
	cancels := p.requester.SwitchMaster(master)
	if len(cancels) == 0 {
		return
	}
	tlvs := make([]ptp.TLV, 0, len(cancels))
	for _, c := range cancels {
		tlvs = append(tlvs, c)
	}
	p.sendSignaling(ptp.PortIdentityAll, master, tlvs...)
}
