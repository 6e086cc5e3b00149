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
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/unicast"
	"github.com/facebook/ptpd/servo"
)

func init() {
	log.SetLevel(log.DebugLevel)
}

var (
	base       = time.Unix(1700000000, 0)
	localAddr  = netip.MustParseAddr("192.0.2.1")
	masterAddr = netip.MustParseAddr("192.0.2.100")
	slaveAddr  = netip.MustParseAddr("192.0.2.200")
	localID    = ptp.ClockIdentity(0x001122fffe334455)
	masterPort = ptp.PortIdentity{ClockIdentity: 0xaabbccfffeddeeff, PortNumber: 1}
	slavePort  = ptp.PortIdentity{ClockIdentity: 0x0a0b0cfffe0d0e0f, PortNumber: 1}
)

type sentMsg struct {
	msg *ptp.Message
	dst netip.Addr
}

type harness struct {
	t     *testing.T
	port  *Port
	tr    *MockTransport
	clk   *MockClock
	ref   *Reference
	sent  []sentMsg
	txTS  time.Time
	txErr error
}

func newHarness(t *testing.T, cfg *Config) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		t:    t,
		tr:   NewMockTransport(ctrl),
		clk:  NewMockClock(ctrl),
		ref:  NewReference(),
		txTS: base,
	}
	stats := NewMockStatsServer(ctrl)
	stats.EXPECT().SetCounter(gomock.Any(), gomock.Any()).AnyTimes()
	stats.EXPECT().UpdateCounterBy(gomock.Any(), gomock.Any()).AnyTimes()
	h.clk.EXPECT().FrequencyPPB().Return(0.0, nil)
	h.clk.EXPECT().MaxFreqPPB().Return(500000.0, nil)
	h.clk.EXPECT().Now().Return(base, nil).AnyTimes()
	h.tr.EXPECT().LocalAddr().Return(localAddr).AnyTimes()
	h.tr.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ bool, b []byte, dst netip.Addr) (time.Time, error) {
			if h.txErr != nil {
				return time.Time{}, h.txErr
			}
			m, err := ptp.Unpack(append([]byte(nil), b...))
			require.NoError(t, err)
			h.sent = append(h.sent, sentMsg{msg: m, dst: dst})
			return h.txTS, nil
		}).AnyTimes()

	p, err := New(cfg, localID, h.tr, h.clk, stats, h.ref)
	require.NoError(t, err)
	h.port = p
	return h
}

// allowClock lets the servo adjust the clock freely
func (h *harness) allowClock() {
	h.clk.EXPECT().AdjFreqPPB(gomock.Any()).Return(nil).AnyTimes()
	h.clk.EXPECT().Step(gomock.Any()).Return(nil).AnyTimes()
}

func (h *harness) receive(m *ptp.Message, src netip.Addr, ts time.Time, now time.Time) {
	b, err := m.MarshalBinary()
	require.NoError(h.t, err)
	h.port.HandlePacket(&Packet{Data: b, Src: src, TS: ts, Event: m.IsEvent}, now)
}

func (h *harness) sentTypes() []ptp.MessageType {
	out := []ptp.MessageType{}
	for _, s := range h.sent {
		out = append(out, s.msg.MessageType())
	}
	return out
}

func (h *harness) events() []Event {
	var out []Event
	for {
		select {
		case e := <-h.port.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Iface = "lo"
	return cfg
}

func announceFrom(id ptp.PortIdentity, seq uint16, class ptp.ClockClass) *ptp.Message {
	m := ptp.NewMessage(&ptp.AnnounceBody{
		CurrentUTCOffset:     37,
		GrandmasterPriority1: 128,
		GrandmasterClockQuality: ptp.ClockQuality{
			ClockClass:              class,
			ClockAccuracy:           0x21,
			OffsetScaledLogVariance: 0x4e5d,
		},
		GrandmasterPriority2: 128,
		GrandmasterIdentity:  id.ClockIdentity,
		TimeSource:           ptp.TimeSourceGNSS,
	})
	m.SourcePortIdentity = id
	m.SequenceID = seq
	m.LogMessageInterval = 1
	m.FlagField = ptp.FlagCurrentUtcOffsetValid | ptp.FlagPTPTimescale
	return m
}

func twoStepSync(seq uint16) *ptp.Message {
	m := ptp.NewMessage(&ptp.SyncBody{})
	m.SourcePortIdentity = masterPort
	m.SequenceID = seq
	m.FlagField = ptp.FlagTwoStep
	return m
}

func followUp(seq uint16, t1 time.Time) *ptp.Message {
	m := ptp.NewMessage(&ptp.FollowUpBody{PreciseOriginTimestamp: ptp.NewTimestamp(t1)})
	m.SourcePortIdentity = masterPort
	m.SequenceID = seq
	return m
}

// toSlave feeds two announces from a better master
func (h *harness) toSlave() {
	h.port.Start(base)
	h.receive(announceFrom(masterPort, 0, 6), masterAddr, time.Time{}, base)
	h.receive(announceFrom(masterPort, 1, 6), masterAddr, time.Time{}, base.Add(2*time.Second))
	require.Equal(h.t, ptp.PortStateUncalibrated, h.port.state)
}

func TestPortStartListening(t *testing.T) {
	h := newHarness(t, testConfig())
	h.port.Start(base)
	require.Equal(t, ptp.PortStateListening, h.port.State())
	require.Equal(t, []Event{EventStateChange{Old: ptp.PortStateInitializing, New: ptp.PortStateListening}}, h.events())
	require.True(t, h.port.running(timerAnnounceReceipt))
	require.True(t, h.port.running(timerBMC))
	require.False(t, h.port.running(timerPDelayReq))
	require.Equal(t, base.Add(12*time.Second), h.port.timers[timerAnnounceReceipt])
}

func TestPortStartDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Disabled = true
	h := newHarness(t, cfg)
	h.port.Start(base)
	require.Equal(t, ptp.PortStateDisabled, h.port.State())

	h.port.Enable(base)
	require.Equal(t, ptp.PortStateListening, h.port.State())
}

func TestPortAnnounceTimeoutBecomesMaster(t *testing.T) {
	h := newHarness(t, testConfig())
	h.port.Start(base)
	now := base.Add(12 * time.Second)
	h.port.Expire(now)
	require.Equal(t, ptp.PortStateMaster, h.port.State())
	require.Equal(t, []uint16{1}, h.ref.Holders())
	require.Equal(t, SourceExternal, h.ref.Source())

	h.txTS = now.Add(time.Microsecond)
	h.port.Expire(now)
	require.Equal(t, []ptp.MessageType{ptp.MessageAnnounce, ptp.MessageSync, ptp.MessageFollowUp}, h.sentTypes())

	a := h.sent[0].msg
	require.False(t, h.sent[0].dst.IsValid())
	require.Equal(t, localID, a.Body.(*ptp.AnnounceBody).GrandmasterIdentity)
	require.Equal(t, ptp.ClockClassDefault, a.Body.(*ptp.AnnounceBody).GrandmasterClockQuality.ClockClass)
	require.Equal(t, ptp.PortIdentity{ClockIdentity: localID, PortNumber: 1}, a.SourcePortIdentity)
	require.True(t, a.Flags().PTPTimescale)

	sync := h.sent[1].msg
	fu := h.sent[2].msg
	require.True(t, sync.Flags().TwoStep)
	require.Equal(t, sync.SequenceID, fu.SequenceID)
	require.Equal(t, h.txTS, fu.Body.(*ptp.FollowUpBody).PreciseOriginTimestamp.Time())
}

func TestPortAnnounceTimeoutSlaveOnly(t *testing.T) {
	cfg := testConfig()
	cfg.SlaveOnly = true
	h := newHarness(t, cfg)
	h.port.Start(base)
	now := base.Add(12 * time.Second)
	h.port.Expire(now)
	require.Equal(t, ptp.PortStateListening, h.port.State())
	require.Equal(t, now.Add(12*time.Second), h.port.timers[timerAnnounceReceipt])
	require.Empty(t, h.sent)
}

func TestPortBecomesSlave(t *testing.T) {
	h := newHarness(t, testConfig())
	h.toSlave()
	require.Equal(t, masterPort, h.port.parent.ParentPortIdentity)
	require.Equal(t, masterAddr, h.port.parentAddr)
	require.Equal(t, uint16(1), h.port.stepsRemoved)
	require.Equal(t, ptp.TimeSourceGNSS, h.port.timeProps.TimeSource)
	require.Equal(t, SourcePTP, h.ref.Source())
	require.True(t, h.port.running(timerDelayReq))

	// first sample is 1ms off and steps the clock
	h.clk.EXPECT().Step(-time.Millisecond).Return(nil)
	rx := base.Add(3 * time.Second)
	h.receive(twoStepSync(0), masterAddr, rx, rx)
	h.receive(followUp(0, rx.Add(-time.Millisecond)), masterAddr, time.Time{}, rx)
	require.Equal(t, ptp.PortStateUncalibrated, h.port.State())
	require.Equal(t, 1, h.port.loop.Steps())

	// small offset is slewed and the port locks
	h.clk.EXPECT().AdjFreqPPB(gomock.Any()).Return(nil)
	rx = base.Add(4 * time.Second)
	h.receive(twoStepSync(1), masterAddr, rx, rx)
	h.receive(followUp(1, rx.Add(-100*time.Nanosecond)), masterAddr, time.Time{}, rx)
	require.Equal(t, ptp.PortStateSlave, h.port.State())
	require.Equal(t, 100*time.Nanosecond, h.port.loop.LastOffset())

	require.Equal(t, []Event{
		EventStateChange{Old: ptp.PortStateInitializing, New: ptp.PortStateListening},
		EventStateChange{Old: ptp.PortStateListening, New: ptp.PortStateUncalibrated},
		EventStep{Offset: time.Millisecond},
		EventStateChange{Old: ptp.PortStateUncalibrated, New: ptp.PortStateSlave},
	}, h.events())
}

func TestPortFollowUpWithoutSync(t *testing.T) {
	h := newHarness(t, testConfig())
	h.toSlave()
	h.receive(followUp(7, base), masterAddr, time.Time{}, base)
	require.Nil(t, h.port.lastSync)
	require.Equal(t, ptp.PortStateUncalibrated, h.port.State())
}

func TestPortIgnoresSyncFromOtherMaster(t *testing.T) {
	h := newHarness(t, testConfig())
	h.toSlave()
	m := twoStepSync(0)
	m.SourcePortIdentity = slavePort
	h.receive(m, slaveAddr, base, base)
	require.Empty(t, h.port.syncs)
}

func TestPortDelayRequest(t *testing.T) {
	h := newHarness(t, testConfig())
	h.allowClock()
	h.toSlave()

	// no sync yet, nothing to pair a delay request with
	h.port.sendDelayReq(base)
	require.Empty(t, h.sent)

	rx := base.Add(3 * time.Second)
	h.receive(twoStepSync(0), masterAddr, rx, rx)
	h.receive(followUp(0, rx.Add(-100*time.Nanosecond)), masterAddr, time.Time{}, rx)

	h.txTS = rx.Add(500 * time.Millisecond)
	h.port.sendDelayReq(rx)
	require.Equal(t, []ptp.MessageType{ptp.MessageDelayReq}, h.sentTypes())
	req := h.sent[0].msg

	resp := ptp.NewMessage(&ptp.DelayRespBody{
		ReceiveTimestamp:       ptp.NewTimestamp(h.txTS.Add(300 * time.Nanosecond)),
		RequestingPortIdentity: h.port.identity,
	})
	resp.SourcePortIdentity = masterPort
	resp.SequenceID = req.SequenceID
	h.receive(resp, masterAddr, time.Time{}, rx)

	delay, ok := h.port.loop.MeanPathDelay()
	require.True(t, ok)
	require.Equal(t, 200*time.Nanosecond, delay)
	require.Nil(t, h.port.delayReq)
}

func TestPortDelayRespWrongSequence(t *testing.T) {
	h := newHarness(t, testConfig())
	h.allowClock()
	h.toSlave()
	rx := base.Add(3 * time.Second)
	h.receive(twoStepSync(0), masterAddr, rx, rx)
	h.receive(followUp(0, rx.Add(-100*time.Nanosecond)), masterAddr, time.Time{}, rx)
	h.port.sendDelayReq(rx)

	resp := ptp.NewMessage(&ptp.DelayRespBody{
		ReceiveTimestamp:       ptp.NewTimestamp(rx),
		RequestingPortIdentity: h.port.identity,
	})
	resp.SourcePortIdentity = masterPort
	resp.SequenceID = h.sent[0].msg.SequenceID + 1
	h.receive(resp, masterAddr, time.Time{}, rx)
	_, ok := h.port.loop.MeanPathDelay()
	require.False(t, ok)
	require.NotNil(t, h.port.delayReq)
}

func TestPortMasterAnswersDelayReq(t *testing.T) {
	h := newHarness(t, testConfig())
	h.port.Start(base)
	h.port.Expire(base.Add(12 * time.Second))
	require.Equal(t, ptp.PortStateMaster, h.port.State())
	h.sent = nil

	req := ptp.NewMessage(&ptp.DelayReqBody{})
	req.SourcePortIdentity = slavePort
	req.SequenceID = 42
	req.CorrectionField = ptp.NewCorrection(1000)
	rx := base.Add(13 * time.Second)
	h.receive(req, slaveAddr, rx, rx)

	require.Equal(t, []ptp.MessageType{ptp.MessageDelayResp}, h.sentTypes())
	resp := h.sent[0].msg
	body := resp.Body.(*ptp.DelayRespBody)
	require.Equal(t, uint16(42), resp.SequenceID)
	require.Equal(t, slavePort, body.RequestingPortIdentity)
	require.Equal(t, rx, body.ReceiveTimestamp.Time())
	require.Equal(t, req.CorrectionField, resp.CorrectionField)
	require.Equal(t, h.port.cfg.LogMinDelayReqInterval, resp.LogMessageInterval)
}

func TestPortDropsLoopedMessages(t *testing.T) {
	h := newHarness(t, testConfig())
	h.port.Start(base)
	h.port.Expire(base.Add(12 * time.Second))
	h.sent = nil

	req := ptp.NewMessage(&ptp.DelayReqBody{})
	req.SourcePortIdentity = h.port.identity
	h.receive(req, localAddr, base, base)
	require.Empty(t, h.sent)
}

func TestPortDropsWrongDomain(t *testing.T) {
	h := newHarness(t, testConfig())
	h.port.Start(base)
	for i := uint16(0); i < 3; i++ {
		m := announceFrom(masterPort, i, 6)
		m.DomainNumber = 4
		h.receive(m, masterAddr, time.Time{}, base.Add(time.Duration(i)*time.Second))
	}
	require.Equal(t, ptp.PortStateListening, h.port.State())
	require.Equal(t, 0, h.port.foreign.Len())
}

func TestPortDecodeError(t *testing.T) {
	h := newHarness(t, testConfig())
	h.port.Start(base)
	h.port.HandlePacket(&Packet{Data: []byte{1, 2, 3}, Src: masterAddr}, base)
	require.Equal(t, ptp.PortStateListening, h.port.State())
}

func TestPortFaultAndRecovery(t *testing.T) {
	h := newHarness(t, testConfig())
	h.port.Start(base)
	now := base.Add(12 * time.Second)
	h.port.Expire(now)
	require.Equal(t, ptp.PortStateMaster, h.port.State())

	h.txErr = errors.New("network is unreachable")
	h.port.Expire(now)
	require.Equal(t, ptp.PortStateFaulty, h.port.State())
	require.Error(t, h.port.Fault())
	require.Empty(t, h.ref.Holders())
	require.False(t, h.port.running(timerAnnounce))
	require.True(t, h.port.running(timerStats))

	h.txErr = nil
	h.port.Expire(now.Add(h.port.cfg.FaultResetInterval))
	require.Equal(t, ptp.PortStateListening, h.port.State())
	require.NoError(t, h.port.Fault())
}

func TestPortReceiveErrorFaults(t *testing.T) {
	h := newHarness(t, testConfig())
	h.port.Start(base)
	h.port.HandlePacket(&Packet{Err: errors.New("socket closed")}, base)
	require.Equal(t, ptp.PortStateFaulty, h.port.State())
}

func TestPortBetterMasterWhileMasterGoesPassive(t *testing.T) {
	cfg := testConfig()
	cfg.ClockClass = 7
	h := newHarness(t, cfg)
	h.port.Start(base)
	h.port.Expire(base.Add(12 * time.Second))
	require.Equal(t, ptp.PortStateMaster, h.port.State())

	now := base.Add(13 * time.Second)
	h.receive(announceFrom(masterPort, 0, 6), masterAddr, time.Time{}, now)
	h.receive(announceFrom(masterPort, 1, 6), masterAddr, time.Time{}, now.Add(2*time.Second))
	require.Equal(t, ptp.PortStatePassive, h.port.State())
	require.Equal(t, []uint16{1}, h.ref.Holders())
}

func TestPortPreMasterQualification(t *testing.T) {
	h := newHarness(t, testConfig())
	h.port.Start(base)
	now := base.Add(time.Second)
	// a worse master shows up, we are better but need to qualify first
	h.receive(announceFrom(masterPort, 0, 250), masterAddr, time.Time{}, now)
	h.receive(announceFrom(masterPort, 1, 250), masterAddr, time.Time{}, now)
	require.Equal(t, ptp.PortStatePreMaster, h.port.State())
	require.Equal(t, now.Add(2*time.Second), h.port.timers[timerQualification])

	h.port.Expire(now.Add(2 * time.Second))
	require.Equal(t, ptp.PortStateMaster, h.port.State())
}

func TestPortPeerDelay(t *testing.T) {
	cfg := testConfig()
	cfg.DelayMechanism = DelayP2P
	h := newHarness(t, cfg)
	h.port.Start(base)
	require.True(t, h.port.running(timerPDelayReq))

	h.txTS = base
	h.port.Expire(base)
	require.Equal(t, []ptp.MessageType{ptp.MessagePDelayReq}, h.sentTypes())
	seq := h.sent[0].msg.SequenceID

	resp := ptp.NewMessage(&ptp.PDelayRespBody{
		RequestReceiptTimestamp: ptp.NewTimestamp(base.Add(1000 * time.Nanosecond)),
		RequestingPortIdentity:  h.port.identity,
	})
	resp.SourcePortIdentity = masterPort
	resp.SequenceID = seq
	resp.FlagField = ptp.FlagTwoStep
	h.receive(resp, masterAddr, base.Add(2100*time.Nanosecond), base)

	fu := ptp.NewMessage(&ptp.PDelayRespFollowUpBody{
		ResponseOriginTimestamp: ptp.NewTimestamp(base.Add(1500 * time.Nanosecond)),
		RequestingPortIdentity:  h.port.identity,
	})
	fu.SourcePortIdentity = masterPort
	fu.SequenceID = seq
	h.receive(fu, masterAddr, time.Time{}, base)

	require.Equal(t, 800*time.Nanosecond, h.port.peerDelay)
	require.Nil(t, h.port.pdelay)
}

func TestPortAnswersPeerDelay(t *testing.T) {
	cfg := testConfig()
	cfg.DelayMechanism = DelayP2P
	h := newHarness(t, cfg)
	h.port.Start(base)

	req := ptp.NewMessage(&ptp.PDelayReqBody{})
	req.SourcePortIdentity = masterPort
	req.SequenceID = 9
	rx := base.Add(time.Second)
	h.txTS = rx.Add(time.Microsecond)
	h.receive(req, masterAddr, rx, rx)

	require.Equal(t, []ptp.MessageType{ptp.MessagePDelayResp, ptp.MessagePDelayRespFollowUp}, h.sentTypes())
	resp := h.sent[0].msg.Body.(*ptp.PDelayRespBody)
	require.Equal(t, rx, resp.RequestReceiptTimestamp.Time())
	require.Equal(t, masterPort, resp.RequestingPortIdentity)
	fu := h.sent[1].msg.Body.(*ptp.PDelayRespFollowUpBody)
	require.Equal(t, h.txTS, fu.ResponseOriginTimestamp.Time())
	require.Equal(t, uint16(9), h.sent[1].msg.SequenceID)
}

func TestPortAnswersPeerDelayOneStep(t *testing.T) {
	cfg := testConfig()
	cfg.DelayMechanism = DelayP2P
	cfg.TwoStep = false
	h := newHarness(t, cfg)
	h.port.Start(base)

	req := ptp.NewMessage(&ptp.PDelayReqBody{})
	req.SourcePortIdentity = masterPort
	req.SequenceID = 10
	req.CorrectionField = ptp.NewCorrection(250)
	rx := base.Add(time.Second)
	h.txTS = rx.Add(3 * time.Microsecond)
	h.receive(req, masterAddr, rx, rx)

	// turnaround goes out in the follow up even when sync is one-step
	require.Equal(t, []ptp.MessageType{ptp.MessagePDelayResp, ptp.MessagePDelayRespFollowUp}, h.sentTypes())
	resp := h.sent[0].msg
	require.True(t, resp.Flags().TwoStep)
	require.Equal(t, ptp.Correction(0), resp.CorrectionField)
	require.Equal(t, rx, resp.Body.(*ptp.PDelayRespBody).RequestReceiptTimestamp.Time())
	fu := h.sent[1].msg
	require.Equal(t, req.CorrectionField, fu.CorrectionField)
	require.Equal(t, h.txTS, fu.Body.(*ptp.PDelayRespFollowUpBody).ResponseOriginTimestamp.Time())
}

func TestPortGrantsUnicast(t *testing.T) {
	cfg := testConfig()
	cfg.Unicast.Enabled = true
	h := newHarness(t, cfg)
	h.port.Start(base)
	h.port.Expire(base.Add(12 * time.Second))
	require.Equal(t, ptp.PortStateMaster, h.port.State())
	h.sent = nil

	sig := ptp.NewMessage(&ptp.SignalingBody{TargetPortIdentity: ptp.PortIdentityAll})
	sig.SourcePortIdentity = slavePort
	sig.AddTLV(&ptp.RequestUnicastTransmissionTLV{
		MsgTypeAndReserved:    ptp.NewUnicastMsgTypeAndFlags(ptp.MessageSync, 0),
		LogInterMessagePeriod: 0,
		DurationField:         60,
	})
	now := base.Add(13 * time.Second)
	h.receive(sig, slaveAddr, time.Time{}, now)

	require.Equal(t, []ptp.MessageType{ptp.MessageSignaling}, h.sentTypes())
	require.Equal(t, slaveAddr, h.sent[0].dst)
	require.Len(t, h.sent[0].msg.TLVs, 1)
	grant := h.sent[0].msg.TLVs[0].(*ptp.GrantUnicastTransmissionTLV)
	require.Equal(t, uint32(60), grant.DurationField)
	require.Equal(t, ptp.MessageSync, grant.MsgTypeAndReserved.MsgType())

	h.sent = nil
	h.port.sendSync(now)
	require.Equal(t, []ptp.MessageType{ptp.MessageSync, ptp.MessageFollowUp}, h.sentTypes())
	require.Equal(t, slaveAddr, h.sent[0].dst)
	require.True(t, h.sent[0].msg.Flags().Unicast)

	// interval not up yet
	h.sent = nil
	h.port.sendSync(now.Add(100 * time.Millisecond))
	require.Empty(t, h.sent)

	// no announce grant, nothing goes out
	h.port.sendAnnounce(now)
	require.Empty(t, h.sent)
}

func TestPortUnicastRequests(t *testing.T) {
	cfg := testConfig()
	cfg.Unicast.Enabled = true
	cfg.Unicast.Masters = []string{masterAddr.String()}
	cfg.SlaveOnly = true
	h := newHarness(t, cfg)
	h.port.Start(base)
	h.port.Expire(base)

	require.Equal(t, []ptp.MessageType{ptp.MessageSignaling}, h.sentTypes())
	require.Equal(t, masterAddr, h.sent[0].dst)
	require.Len(t, h.sent[0].msg.TLVs, 1)
	req := h.sent[0].msg.TLVs[0].(*ptp.RequestUnicastTransmissionTLV)
	require.Equal(t, ptp.MessageAnnounce, req.MsgTypeAndReserved.MsgType())

	grant := ptp.NewMessage(&ptp.SignalingBody{TargetPortIdentity: h.port.identity})
	grant.SourcePortIdentity = masterPort
	grant.AddTLV(&ptp.GrantUnicastTransmissionTLV{
		MsgTypeAndReserved:    ptp.NewUnicastMsgTypeAndFlags(ptp.MessageAnnounce, 0),
		LogInterMessagePeriod: req.LogInterMessagePeriod,
		DurationField:         req.DurationField,
	})
	h.receive(grant, masterAddr, time.Time{}, base)
	require.True(t, h.port.requester.Active(masterAddr, ptp.MessageAnnounce, base))
}

func TestPortSlaveOnlyDeniesGrants(t *testing.T) {
	cfg := testConfig()
	cfg.Unicast.Enabled = true
	cfg.SlaveOnly = true
	h := newHarness(t, cfg)
	h.port.Start(base)

	sig := ptp.NewMessage(&ptp.SignalingBody{TargetPortIdentity: ptp.PortIdentityAll})
	sig.SourcePortIdentity = slavePort
	sig.AddTLV(&ptp.RequestUnicastTransmissionTLV{
		MsgTypeAndReserved: ptp.NewUnicastMsgTypeAndFlags(ptp.MessageAnnounce, 0),
		DurationField:      60,
	})
	h.receive(sig, slaveAddr, time.Time{}, base)
	require.Len(t, h.sent, 1)
	grant := h.sent[0].msg.TLVs[0].(*ptp.GrantUnicastTransmissionTLV)
	require.Equal(t, uint32(0), grant.DurationField)
	require.Equal(t, int64(1), h.port.grants.Counters().Denied)
}

func TestPortMasterChangeResetsLoop(t *testing.T) {
	h := newHarness(t, testConfig())
	h.allowClock()
	h.toSlave()
	rx := base.Add(3 * time.Second)
	h.receive(twoStepSync(0), masterAddr, rx, rx)
	h.receive(followUp(0, rx.Add(-100*time.Nanosecond)), masterAddr, time.Time{}, rx)
	require.NotNil(t, h.port.lastSync)
	h.events()

	better := ptp.PortIdentity{ClockIdentity: 0x1111111111111111, PortNumber: 1}
	now := base.Add(4 * time.Second)
	h.receive(announceFrom(better, 0, 6), slaveAddr, time.Time{}, now)
	h.receive(announceFrom(better, 1, 6), slaveAddr, time.Time{}, now)
	require.Equal(t, better, h.port.parent.ParentPortIdentity)
	require.Equal(t, slaveAddr, h.port.parentAddr)
	require.Nil(t, h.port.lastSync)
	require.Equal(t, ptp.PortStateUncalibrated, h.port.State())
	require.Contains(t, h.events(), Event(EventUnlocked{}))
}

func TestPortNextDeadline(t *testing.T) {
	h := newHarness(t, testConfig())
	_, ok := h.port.nextDeadline()
	require.False(t, ok)
	h.port.Start(base)
	next, ok := h.port.nextDeadline()
	require.True(t, ok)
	require.Equal(t, base, next)
	h.port.Expire(base)
	next, ok = h.port.nextDeadline()
	require.True(t, ok)
	require.Equal(t, base.Add(time.Second), next)
}

func TestPortGrantLimitsFollowConfig(t *testing.T) {
	cfg := testConfig()
	limits := cfg.GrantLimits()
	require.Equal(t, unicast.Limits{LogMinInterval: 1, LogMaxInterval: 3}, limits[ptp.MessageAnnounce])
	require.Equal(t, unicast.Limits{LogMinInterval: 0, LogMaxInterval: 3}, limits[ptp.MessageSync])
}

func TestPortAnnouncedQualityFollowsServo(t *testing.T) {
	cfg := testConfig()
	cfg.ClockClass = ptp.ClockClass6
	cfg.ClockAccuracy = ptp.ClockAccuracyMicrosecond1
	cfg.Servo.AccuracyExpr = "offset + 200"
	h := newHarness(t, cfg)
	h.port.Start(base)
	h.port.Expire(base.Add(12 * time.Second))
	require.Equal(t, ptp.PortStateMaster, h.port.State())

	announced := func(status servo.Status) ptp.ClockQuality {
		h.port.updateQuality(status)
		h.sent = nil
		h.port.sendAnnounce(base.Add(13 * time.Second))
		require.Len(t, h.sent, 1)
		return h.sent[0].msg.Body.(*ptp.AnnounceBody).GrandmasterClockQuality
	}

	q := announced(servo.StatusFreerun)
	require.Equal(t, ptp.ClockClass6, q.ClockClass)
	require.Equal(t, ptp.ClockAccuracyMicrosecond1, q.ClockAccuracy)

	q = announced(servo.StatusLocked)
	require.Equal(t, ptp.ClockClass6, q.ClockClass)
	require.Equal(t, ptp.ClockAccuracyNanosecond250, q.ClockAccuracy)

	q = announced(servo.StatusHoldover)
	require.Equal(t, ptp.ClockClass7, q.ClockClass)
	require.Equal(t, ptp.ClockAccuracyNanosecond250, q.ClockAccuracy)
	require.Equal(t, q, h.port.dds.ClockQuality)

	q = announced(servo.StatusUnstable)
	require.Equal(t, ptp.ClockClass52, q.ClockClass)

	q = announced(servo.StatusLocked)
	require.Equal(t, ptp.ClockClass6, q.ClockClass)
}

func TestPortQualityKeepsForeignParent(t *testing.T) {
	cfg := testConfig()
	cfg.ClockClass = ptp.ClockClass13
	h := newHarness(t, cfg)
	h.port.Start(base)
	h.receive(announceFrom(masterPort, 0, 6), masterAddr, time.Time{}, base)
	h.receive(announceFrom(masterPort, 1, 6), masterAddr, time.Time{}, base.Add(2*time.Second))
	require.Equal(t, ptp.PortStatePassive, h.port.State())

	h.port.updateQuality(servo.StatusHoldover)
	require.Equal(t, ptp.ClockClass14, h.port.dds.ClockQuality.ClockClass)
	require.Equal(t, ptp.ClockClass6, h.port.parent.GrandmasterClockQuality.ClockClass)
	require.Equal(t, masterPort.ClockIdentity, h.port.parent.GrandmasterIdentity)
}

func TestDegradedClass(t *testing.T) {
	tests := []struct {
		configured ptp.ClockClass
		status     servo.Status
		want       ptp.ClockClass
	}{
		{ptp.ClockClass6, servo.StatusLocked, ptp.ClockClass6},
		{ptp.ClockClass6, servo.StatusFreerun, ptp.ClockClass6},
		{ptp.ClockClass6, servo.StatusHoldover, ptp.ClockClass7},
		{ptp.ClockClass6, servo.StatusUnstable, ptp.ClockClass52},
		{ptp.ClockClass7, servo.StatusUnstable, ptp.ClockClass52},
		{ptp.ClockClass13, servo.StatusHoldover, ptp.ClockClass14},
		{ptp.ClockClass14, servo.StatusUnstable, ptp.ClockClass58},
		{ptp.ClockClassDefault, servo.StatusHoldover, ptp.ClockClassDefault},
		{ptp.ClockClassSlaveOnly, servo.StatusUnstable, ptp.ClockClassSlaveOnly},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, degradedClass(tt.configured, tt.status), "class %d status %s", tt.configured, tt.status)
	}
}

func TestPortTelcoProfileRanksQualityFirst(t *testing.T) {
	for profile, want := range map[string]ptp.PortState{
		BMCDefault: ptp.PortStatePreMaster,
		BMCTelco:   ptp.PortStateUncalibrated,
	} {
		t.Run(profile, func(t *testing.T) {
			cfg := testConfig()
			cfg.Priority1 = 1
			cfg.BMCProfile = profile
			h := newHarness(t, cfg)
			h.port.Start(base)
			h.receive(announceFrom(masterPort, 0, 6), masterAddr, time.Time{}, base)
			h.receive(announceFrom(masterPort, 1, 6), masterAddr, time.Time{}, base.Add(2*time.Second))
			require.Equal(t, want, h.port.State())
		})
	}
}
