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
	"errors"
	"net/netip"
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// handleManagement answers GET, SET and COMMAND requests addressed to this port
func (p *Port) handleManagement(m *ptp.Message, src netip.Addr, now time.Time) {
	resp, ok := p.ManagementResponse(m, now)
	if !ok {
		return
	}
	if _, err := p.send(resp, src); err != nil {
		log.Errorf("port %d: %v", p.identity.PortNumber, err)
	}
}

// ManagementResponse builds the reply to management request m. It returns false when m
// is not for us or needs no reply.
func (p *Port) ManagementResponse(m *ptp.Message, now time.Time) (*ptp.Message, bool) {
	body, ok := m.Body.(*ptp.ManagementBody)
	if !ok {
		return nil, false
	}
	target := body.TargetPortIdentity
	if target.ClockIdentity != ptp.ClockIdentityAll && target.ClockIdentity != p.identity.ClockIdentity {
		return nil, false
	}
	if target.PortNumber != 0xffff && target.PortNumber != 0 && target.PortNumber != p.identity.PortNumber {
		return nil, false
	}
	tlv, ok := m.ManagementTLV()
	if !ok {
		log.Debugf("port %d: management %s without management tlv", p.identity.PortNumber, body.Action())
		return nil, false
	}

	var (
		action = ptp.RESPONSE
		data   ptp.ManagementData
		err    error
	)
	switch body.Action() {
	case ptp.GET:
		data, err = p.managementGet(tlv.ID, now)
	case ptp.SET:
		data, err = p.managementSet(tlv, now)
	case ptp.COMMAND:
		action = ptp.ACKNOWLEDGE
		err = p.managementCommand(tlv.ID, now)
	default:
		return nil, false
	}

	resp := ptp.NewMessage(&ptp.ManagementBody{
		TargetPortIdentity:   m.SourcePortIdentity,
		StartingBoundaryHops: body.StartingBoundaryHops - body.BoundaryHops,
		BoundaryHops:         body.StartingBoundaryHops - body.BoundaryHops,
		ActionField:          action,
	})
	p.header(resp, logIntervalUnspecified)
	resp.SequenceID = m.SequenceID
	var mgmtErr ptp.ManagementErrorID
	switch {
	case errors.As(err, &mgmtErr):
		log.Debugf("port %d: management %s %s: %s", p.identity.PortNumber, body.Action(), tlv.ID, mgmtErr)
		resp.AddTLV(&ptp.ManagementErrorStatusTLV{ManagementErrorID: mgmtErr, ManagementID: tlv.ID})
	case err != nil:
		log.Warningf("port %d: management %s %s: %v", p.identity.PortNumber, body.Action(), tlv.ID, err)
		resp.AddTLV(&ptp.ManagementErrorStatusTLV{
			ManagementErrorID: ptp.ErrorGeneralError,
			ManagementID:      tlv.ID,
			DisplayData:       ptp.PTPText(err.Error()),
		})
	default:
		resp.AddTLV(&ptp.ManagementTLV{ID: tlv.ID, Data: data})
	}
	return resp, true
}

func (p *Port) managementGet(id ptp.ManagementID, now time.Time) (ptp.ManagementData, error) {
	octet := func(v uint8) (ptp.ManagementData, error) {
		return ptp.NewOctetSetting(id, v), nil
	}
	switch id {
	case ptp.IDNullPTPManagement:
		return nil, nil
	case ptp.IDDefaultDataSet:
		dds := p.dds
		return &dds, nil
	case ptp.IDCurrentDataSet:
		delay, _ := p.loop.MeanPathDelay()
		return &ptp.CurrentDataSetTLV{
			StepsRemoved:     p.stepsRemoved,
			OffsetFromMaster: ptp.NewTimeInterval(float64(p.loop.LastOffset())),
			MeanPathDelay:    ptp.NewTimeInterval(float64(delay)),
		}, nil
	case ptp.IDParentDataSet:
		parent := p.parent
		return &parent, nil
	case ptp.IDTimePropertiesDataSet:
		tp := p.timeProps
		return &tp, nil
	case ptp.IDPortDataSet:
		return &ptp.PortDataSetTLV{
			PortIdentity:            p.identity,
			PortState:               p.state,
			LogMinDelayReqInterval:  p.cfg.LogMinDelayReqInterval,
			PeerMeanPathDelay:       ptp.NewTimeInterval(float64(p.peerDelay)),
			LogAnnounceInterval:     p.cfg.LogAnnounceInterval,
			AnnounceReceiptTimeout:  p.cfg.AnnounceReceiptTimeout,
			LogSyncInterval:         p.cfg.LogSyncInterval,
			DelayMechanism:          p.delayMechanism,
			LogMinPdelayReqInterval: p.cfg.LogMinPdelayReqInterval,
			VersionNumber:           p.cfg.VersionField().Major(),
		}, nil
	case ptp.IDPriority1:
		return octet(p.dds.Priority1)
	case ptp.IDPriority2:
		return octet(p.dds.Priority2)
	case ptp.IDDomain:
		return octet(p.dds.DomainNumber)
	case ptp.IDSlaveOnly:
		return octet(boolOctet(p.cfg.SlaveOnly))
	case ptp.IDLogAnnounceInterval:
		return octet(uint8(p.cfg.LogAnnounceInterval))
	case ptp.IDAnnounceReceiptTimeout:
		return octet(p.cfg.AnnounceReceiptTimeout)
	case ptp.IDLogSyncInterval:
		return octet(uint8(p.cfg.LogSyncInterval))
	case ptp.IDVersionNumber:
		return octet(p.cfg.VersionField().Major())
	case ptp.IDClockAccuracy:
		return octet(uint8(p.dds.ClockQuality.ClockAccuracy))
	case ptp.IDDelayMechanism:
		return octet(uint8(p.delayMechanism))
	case ptp.IDLogMinPdelayReqInterval:
		return octet(uint8(p.cfg.LogMinPdelayReqInterval))
	case ptp.IDUnicastNegotiationEnable:
		return octet(boolOctet(p.cfg.Unicast.Enabled))
	case ptp.IDTime:
		return &ptp.TimeTLV{CurrentTime: ptp.NewTimestamp(p.originTime(now))}, nil
	}
	return nil, ptp.ErrorNotSupported
}

// managementSet applies a SET and returns the value now in effect
func (p *Port) managementSet(tlv *ptp.ManagementTLV, now time.Time) (ptp.ManagementData, error) {
	v, ok := tlv.Data.(*ptp.OctetSettingTLV)
	switch tlv.ID {
	case ptp.IDPriority1, ptp.IDPriority2, ptp.IDSlaveOnly, ptp.IDLogAnnounceInterval, ptp.IDLogSyncInterval:
		if !ok {
			return nil, ptp.ErrorWrongLength
		}
	default:
		return nil, ptp.ErrorNotSupported
	}
	switch tlv.ID {
	case ptp.IDPriority1:
		p.dds.Priority1 = v.Value
		p.cfg.Priority1 = v.Value
	case ptp.IDPriority2:
		p.dds.Priority2 = v.Value
		p.cfg.Priority2 = v.Value
	case ptp.IDSlaveOnly:
		p.cfg.SlaveOnly = v.Flag()
		p.dds.ClockQuality.ClockClass = p.configured
		p.dds.SoTSC &^= ptp.DefaultDataSetSlaveOnly
		if p.cfg.SlaveOnly {
			p.dds.ClockQuality.ClockClass = ptp.ClockClassSlaveOnly
			p.dds.SoTSC |= ptp.DefaultDataSetSlaveOnly
		}
	case ptp.IDLogAnnounceInterval:
		li := v.LogInterval()
		if li < -7 || li > 7 {
			return nil, ptp.ErrorWrongValue
		}
		p.cfg.LogAnnounceInterval = li
	case ptp.IDLogSyncInterval:
		li := v.LogInterval()
		if li < -7 || li > 7 {
			return nil, ptp.ErrorWrongValue
		}
		p.cfg.LogSyncInterval = li
	}
	log.Infof("port %d: %s set to %d", p.identity.PortNumber, tlv.ID, v.Value)
	if p.state == ptp.PortStateMaster {
		p.setParentSelf()
	}
	p.runBMC(now)
	return p.managementGet(tlv.ID, now)
}

func (p *Port) managementCommand(id ptp.ManagementID, now time.Time) error {
	switch id {
	case ptp.IDNullPTPManagement:
		return nil
	case ptp.IDDisablePort:
		p.toState(ptp.PortStateDisabled, now)
		return nil
	case ptp.IDEnablePort:
		p.enable(now)
		return nil
	}
	return ptp.ErrorNotSupported
}

func boolOctet(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
