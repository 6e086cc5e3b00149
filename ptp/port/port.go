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
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/ptpd/ptp/bmc"
	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/unicast"
	"github.com/facebook/ptpd/servo"
)

const (
	maxPacketSize   = 1500
	maxPendingSyncs = 16
	eventQueueSize  = 64
	packetQueueSize = 128
	unicastTick     = time.Second
	// logIntervalUnspecified goes into messages that carry no interval
	logIntervalUnspecified ptp.LogInterval = 0x7f
)

// Packet is one received datagram
type Packet struct {
	Data  []byte
	Src   netip.Addr
	TS    time.Time
	Event bool
	Err   error
}

// Sample is an event message arrival handed to the control loop
type Sample struct {
	MessageType ptp.MessageType
	Sequence    uint16
	Timestamp   time.Time
	Peer        ptp.PortIdentity
}

// syncRecord holds the t1/t2 pair of the last complete Sync
type syncRecord struct {
	t1         time.Time
	t2         time.Time
	correction time.Duration
}

// pendingSync is a two-step Sync waiting for its Follow_Up
type pendingSync struct {
	received   time.Time
	correction time.Duration
}

type pendingDelayReq struct {
	seq  uint16
	t3   time.Time
	sync syncRecord
}

type pendingPDelay struct {
	seq        uint16
	t1         time.Time
	t2         time.Time
	t4         time.Time
	correction time.Duration
	responded  bool
}

// Port is one PTP port of an ordinary clock
type Port struct {
	cfg   *Config
	tr    Transport
	clock Clock
	stats StatsServer
	ref   ReferenceBinder
	nowFn func() time.Time

	identity       ptp.PortIdentity
	delayMechanism ptp.DelayMechanism
	masters        []netip.Addr
	configured     ptp.ClockClass

	mu           sync.Mutex
	state        ptp.PortState
	dds          ptp.DefaultDataSetTLV
	parent       ptp.ParentDataSetTLV
	parentAddr   netip.Addr
	timeProps    ptp.TimePropertiesDataSetTLV
	stepsRemoved uint16
	comparator   bmc.Comparator
	foreign      *bmc.ForeignMasterTable
	loop         *servo.ControlLoop
	grants       *unicast.GrantTable
	requester    *unicast.Requester
	nextSend     map[*unicast.Grant]time.Time
	seq          [16]uint16
	syncs        map[uint64]*pendingSync
	lastSync     *syncRecord
	delayReq     *pendingDelayReq
	pdelay       *pendingPDelay
	peerDelay    time.Duration
	subscribed   bool
	locked       bool
	timers       [numTimers]time.Time
	pendingFault error
	lastFault    error

	buf     []byte
	events  chan Event
	packets chan *Packet
}

// New creates a port of the clock identified by clockID. The port starts in INITIALIZING once Run is called.
func New(cfg *Config, clockID ptp.ClockIdentity, tr Transport, clk Clock, stats StatsServer, ref ReferenceBinder) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dm, err := ParseDelayMechanism(cfg.DelayMechanism)
	if err != nil {
		return nil, err
	}
	masters, err := cfg.Masters()
	if err != nil {
		return nil, err
	}
	freq, err := clk.FrequencyPPB()
	if err != nil {
		return nil, fmt.Errorf("reading clock frequency: %w", err)
	}
	maxFreq, err := clk.MaxFreqPPB()
	if err != nil {
		return nil, fmt.Errorf("reading clock max frequency: %w", err)
	}
	loop, err := servo.NewControlLoop(&cfg.Servo, clk, freq, maxFreq)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		ref = NewReference()
	}
	p := &Port{
		cfg:            cfg,
		tr:             tr,
		clock:          clk,
		stats:          stats,
		ref:            ref,
		nowFn:          time.Now,
		identity:       ptp.PortIdentity{ClockIdentity: clockID, PortNumber: cfg.PortNumber},
		delayMechanism: dm,
		masters:        masters,
		configured:     cfg.ClockClass,
		state:          ptp.PortStateInitializing,
		comparator: bmc.Comparator{
			AnyDomain:      cfg.AnyDomain,
			Domain:         cfg.DomainNumber,
			PreferUTCValid: cfg.PreferUTCValid,
			Telco:          cfg.BMCProfile == BMCTelco,
		},
		loop:     loop,
		nextSend: map[*unicast.Grant]time.Time{},
		syncs:    map[uint64]*pendingSync{},
		buf:      make([]byte, maxPacketSize),
		events:   make(chan Event, eventQueueSize),
		packets:  make(chan *Packet, packetQueueSize),
	}
	p.foreign = bmc.NewForeignMasterTable(p.identity, cfg.ForeignMasterCapacity, cfg.LogAnnounceInterval.Duration())
	p.foreign.Comparator = p.comparator
	if cfg.Unicast.Enabled {
		limits := cfg.GrantLimits()
		if cfg.SlaveOnly {
			// a slave-only clock has nothing to grant
			limits = nil
		}
		p.grants = unicast.NewGrantTable(limits, cfg.Unicast.MaxDuration, cfg.Unicast.MaxDestinations)
		if len(masters) > 0 {
			p.requester = unicast.NewRequester(unicast.RequesterConfig{
				Duration:       cfg.Unicast.Duration,
				DelayMechanism: dm,
				Limits:         cfg.GrantLimits(),
				RequestRate:    cfg.Unicast.RequestRate,
				RequestBurst:   cfg.Unicast.RequestBurst,
			})
		}
	} else {
		p.grants = unicast.NewGrantTable(nil, cfg.Unicast.MaxDuration, cfg.Unicast.MaxDestinations)
	}
	p.resetDatasets()
	return p, nil
}

// Events returns the channel port events are delivered on
func (p *Port) Events() <-chan Event {
	return p.events
}

// Identity returns the port identity
func (p *Port) Identity() ptp.PortIdentity {
	return p.identity
}

// State returns the current port state
func (p *Port) State() ptp.PortState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run starts the port and processes packets and timers until ctx is done
func (p *Port) Run(ctx context.Context) error {
	eg, ictx := errgroup.WithContext(ctx)
	for _, event := range []bool{true, false} {
		eg.Go(func() error {
			return p.receive(ictx, event)
		})
	}
	eg.Go(func() error {
		return p.runLoop(ictx)
	})
	return eg.Wait()
}

// receive reads packets from the transport and hands them to the main loop.
// Read errors are passed on too, they fault the port.
func (p *Port) receive(ctx context.Context, event bool) error {
	doneChan := make(chan error, 1)
	go func() {
		for {
			buf := make([]byte, maxPacketSize)
			n, src, ts, err := p.tr.Receive(event, buf)
			pkt := &Packet{Data: buf[:n], Src: src, TS: ts, Event: event, Err: err}
			if err != nil {
				pkt.Data = nil
			}
			select {
			case p.packets <- pkt:
			case <-ctx.Done():
				doneChan <- ctx.Err()
				return
			}
			if err != nil {
				// give the main loop time to fault and recover before reading again
				select {
				case <-time.After(p.cfg.FaultResetInterval):
				case <-ctx.Done():
					doneChan <- ctx.Err()
					return
				}
			}
		}
	}()
	select {
	case <-ctx.Done():
		log.Debugf("cancelled port receiver (event=%v)", event)
		return ctx.Err()
	case err := <-doneChan:
		return err
	}
}

func (p *Port) runLoop(ctx context.Context) error {
	p.mu.Lock()
	p.Start(p.nowFn())
	p.mu.Unlock()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.shutdown()
			p.mu.Unlock()
			return ctx.Err()
		case pkt := <-p.packets:
			p.mu.Lock()
			p.HandlePacket(pkt, p.nowFn())
			p.mu.Unlock()
		case <-timer.C:
			p.mu.Lock()
			p.Expire(p.nowFn())
			p.mu.Unlock()
		}
		p.mu.Lock()
		wait := time.Hour
		if next, ok := p.nextDeadline(); ok {
			wait = max(time.Until(next), 0)
		}
		p.mu.Unlock()
		timer.Reset(wait)
	}
}

// Start puts the port into INITIALIZING, or DISABLED when configured so. It is called by Run.
func (p *Port) Start(now time.Time) {
	p.start(timerStats, now, 0)
	if p.cfg.Disabled {
		p.toState(ptp.PortStateDisabled, now)
		return
	}
	p.state = ptp.PortStateInitializing
	p.enter(ptp.PortStateInitializing, ptp.PortStateInitializing, now)
	p.checkFault(now)
}

// shutdown leaves the reference and parks the clock at its mean frequency
func (p *Port) shutdown() {
	if masterSide(p.state) {
		p.ref.Release(p.identity.PortNumber)
	}
	if slaveSide(p.state) {
		p.ref.Clear()
		p.cancelTiming(p.parentAddr)
	}
	if err := p.loop.Park(); err != nil {
		log.Errorf("parking clock: %v", err)
	}
}

// resetDatasets loads the local datasets from config and makes the local clock the parent
func (p *Port) resetDatasets() {
	var sotsc uint8
	if p.cfg.TwoStep {
		sotsc |= ptp.DefaultDataSetTwoStep
	}
	if p.cfg.SlaveOnly {
		sotsc |= ptp.DefaultDataSetSlaveOnly
	}
	p.dds = ptp.DefaultDataSetTLV{
		SoTSC:       sotsc,
		NumberPorts: 1,
		Priority1:   p.cfg.Priority1,
		ClockQuality: ptp.ClockQuality{
			ClockClass:              p.cfg.ClockClass,
			ClockAccuracy:           p.cfg.ClockAccuracy,
			OffsetScaledLogVariance: p.cfg.OffsetScaledLogVariance,
		},
		Priority2:     p.cfg.Priority2,
		ClockIdentity: p.identity.ClockIdentity,
		DomainNumber:  p.cfg.DomainNumber,
	}
	p.setParentSelf()
}

// setParentSelf makes the local clock the grandmaster, as when becoming MASTER
func (p *Port) setParentSelf() {
	p.parent = ptp.ParentDataSetTLV{
		ParentPortIdentity:                    p.identity,
		ObservedParentOffsetScaledLogVariance: 0xffff,
		ObservedParentClockPhaseChangeRate:    0x7fffffff,
		GrandmasterPriority1:                  p.dds.Priority1,
		GrandmasterClockQuality:               p.dds.ClockQuality,
		GrandmasterPriority2:                  p.dds.Priority2,
		GrandmasterIdentity:                   p.dds.ClockIdentity,
	}
	p.parentAddr = netip.Addr{}
	p.stepsRemoved = 0
	var flags uint16
	if p.cfg.UTCOffsetValid {
		flags |= ptp.FlagCurrentUtcOffsetValid
	}
	if p.cfg.PTPTimescale {
		flags |= ptp.FlagPTPTimescale
	}
	p.timeProps = ptp.TimePropertiesDataSetTLV{
		CurrentUTCOffset: p.cfg.CurrentUTCOffset,
		Flags:            uint8(flags),
		TimeSource:       p.cfg.TimeSource,
	}
}

// degradedClass is the class we advertise for a configured class given the servo status.
// Primary and application specific references drop to their holdover class, then to
// their degradation class once the clock is unstable. Other classes are not touched.
func degradedClass(configured ptp.ClockClass, status servo.Status) ptp.ClockClass {
	switch status {
	case servo.StatusHoldover:
		switch configured {
		case ptp.ClockClass6:
			return ptp.ClockClass7
		case ptp.ClockClass13:
			return ptp.ClockClass14
		}
	case servo.StatusUnstable:
		switch configured {
		case ptp.ClockClass6, ptp.ClockClass7:
			return ptp.ClockClass52
		case ptp.ClockClass13, ptp.ClockClass14:
			return ptp.ClockClass58
		}
	}
	return configured
}

// updateQuality refreshes the clock quality we advertise from the servo classification.
// A clock that never synchronised keeps the configured accuracy.
func (p *Port) updateQuality(status servo.Status) {
	q := &p.dds.ClockQuality
	old := *q
	q.ClockClass = degradedClass(p.configured, status)
	if p.cfg.SlaveOnly {
		q.ClockClass = ptp.ClockClassSlaveOnly
	}
	q.ClockAccuracy = p.cfg.ClockAccuracy
	if status != servo.StatusFreerun {
		q.ClockAccuracy = p.loop.Accuracy()
	}
	if p.parent.GrandmasterIdentity == p.dds.ClockIdentity {
		p.parent.GrandmasterClockQuality = *q
	}
	if *q != old {
		log.Debugf("port %d: advertising clock class %d accuracy %#x", p.identity.PortNumber, q.ClockClass, q.ClockAccuracy)
	}
}

// setParent takes the parent and time properties datasets from the announce of rec
func (p *Port) setParent(rec *bmc.ForeignRecord) {
	a := rec.Announce
	p.parent = ptp.ParentDataSetTLV{
		ParentPortIdentity:                    rec.Dataset.Sender,
		ObservedParentOffsetScaledLogVariance: 0xffff,
		ObservedParentClockPhaseChangeRate:    0x7fffffff,
		GrandmasterPriority1:                  a.GrandmasterPriority1,
		GrandmasterClockQuality:               a.GrandmasterClockQuality,
		GrandmasterPriority2:                  a.GrandmasterPriority2,
		GrandmasterIdentity:                   a.GrandmasterIdentity,
	}
	p.parentAddr = rec.Address
	p.stepsRemoved = a.StepsRemoved + 1
	p.timeProps = ptp.TimePropertiesDataSetTLV{
		CurrentUTCOffset: a.CurrentUTCOffset,
		Flags:            uint8(rec.Header.FlagField & 0xff),
		TimeSource:       a.TimeSource,
	}
}

// toState moves the port to state to, running the leave actions of the old state and the enter actions of the new one
func (p *Port) toState(to ptp.PortState, now time.Time) {
	from := p.state
	if from == to {
		return
	}
	if err := Transition(from, to); err != nil {
		log.Warningf("port %d: %v", p.identity.PortNumber, err)
		p.stats.UpdateCounterBy(keyIllegal, 1)
		return
	}
	p.leave(from, to, now)
	p.state = to
	log.Infof("port %d: %s -> %s", p.identity.PortNumber, from, to)
	p.stats.UpdateCounterBy(KeyStateChanges, 1)
	p.stats.SetCounter(KeyState, int64(to))
	p.emit(EventStateChange{Old: from, New: to})
	p.enter(from, to, now)
}

func (p *Port) leave(from, to ptp.PortState, now time.Time) {
	switch from {
	case ptp.PortStateMaster:
		p.stop(timerAnnounce)
		p.stop(timerSync)
		clear(p.nextSend)
	case ptp.PortStatePreMaster:
		p.stop(timerQualification)
	case ptp.PortStateFaulty:
		p.stop(timerFault)
	}
	if masterSide(from) && !masterSide(to) {
		p.ref.Release(p.identity.PortNumber)
	}
	if slaveSide(from) && !slaveSide(to) {
		p.subscribed = false
		p.stop(timerDelayReq)
		p.ref.Clear()
		p.cancelTiming(p.parentAddr)
		p.delayReq = nil
		p.lastSync = nil
		clear(p.syncs)
	}
	if listensAnnounce(from) && !listensAnnounce(to) {
		p.stop(timerAnnounceReceipt)
	}
	if !operational(to) {
		for id := range p.timers {
			if timerID(id) != timerStats {
				p.stop(timerID(id))
			}
		}
	}
}

func (p *Port) enter(from, to ptp.PortState, now time.Time) {
	switch to {
	case ptp.PortStateInitializing:
		p.initialize(now)
		p.toState(ptp.PortStateListening, now)
	case ptp.PortStateListening:
		if from == ptp.PortStateInitializing {
			p.start(timerBMC, now, p.announceInterval())
			if p.delayMechanism == ptp.DelayMechanismP2P {
				p.start(timerPDelayReq, now, 0)
			}
			if p.cfg.Unicast.Enabled {
				p.start(timerUnicast, now, 0)
			}
		}
		p.start(timerAnnounceReceipt, now, p.receiptTimeout())
	case ptp.PortStatePreMaster:
		p.start(timerQualification, now, time.Duration(p.stepsRemoved+1)*p.announceInterval())
	case ptp.PortStateMaster:
		p.setParentSelf()
		p.ref.Bind(p.identity.PortNumber)
		p.start(timerAnnounce, now, 0)
		p.start(timerSync, now, 0)
	case ptp.PortStatePassive:
		p.ref.Bind(p.identity.PortNumber)
		p.start(timerAnnounceReceipt, now, p.receiptTimeout())
	case ptp.PortStateUncalibrated, ptp.PortStateSlave:
		if !slaveSide(from) {
			p.loop.Reset()
			p.loop.SetSyncInterval(p.cfg.LogSyncInterval.Duration())
			p.subscribed = true
			p.ref.SetSource(SourcePTP)
			if p.delayMechanism == ptp.DelayMechanismE2E {
				p.start(timerDelayReq, now, p.cfg.LogMinDelayReqInterval.Duration())
			}
		}
		p.start(timerAnnounceReceipt, now, p.receiptTimeout())
	case ptp.PortStateFaulty:
		p.stats.UpdateCounterBy(KeyFaults, 1)
		p.start(timerFault, now, p.cfg.FaultResetInterval)
	case ptp.PortStateDisabled:
		p.foreign.Clear()
	}
}

// initialize clears everything learned from the network
func (p *Port) initialize(now time.Time) {
	log.Infof("port %d: initializing %s", p.identity.PortNumber, p.identity)
	p.resetDatasets()
	p.foreign.Clear()
	p.loop.Reset()
	p.lastSync = nil
	p.delayReq = nil
	p.pdelay = nil
	p.peerDelay = 0
	clear(p.syncs)
	clear(p.nextSend)
	p.lastFault = nil
}

// fault records err and moves the port to FAULTY, it comes back after FaultResetInterval
func (p *Port) fault(now time.Time, err error) {
	log.Errorf("port %d: fault in %s: %v", p.identity.PortNumber, p.state, err)
	p.lastFault = err
	p.toState(ptp.PortStateFaulty, now)
}

// checkFault acts on a fault raised while handling a packet or a timer
func (p *Port) checkFault(now time.Time) {
	if p.pendingFault == nil {
		return
	}
	err := p.pendingFault
	p.pendingFault = nil
	p.fault(now, err)
}

// raise defers a fault until the current handler returns
func (p *Port) raise(err error) {
	if p.pendingFault == nil {
		p.pendingFault = err
	}
}

// Disable moves the port to DISABLED
func (p *Port) Disable(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toState(ptp.PortStateDisabled, now)
}

// Enable brings a DISABLED port back through INITIALIZING
func (p *Port) Enable(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enable(now)
}

func (p *Port) enable(now time.Time) {
	if p.state != ptp.PortStateDisabled {
		return
	}
	p.toState(ptp.PortStateInitializing, now)
}

func (p *Port) announceInterval() time.Duration {
	return p.cfg.LogAnnounceInterval.Duration()
}

func (p *Port) receiptTimeout() time.Duration {
	return time.Duration(p.cfg.AnnounceReceiptTimeout) * p.announceInterval()
}

// runBMC expires stale foreign masters and acts on the state decision
func (p *Port) runBMC(now time.Time) {
	if !operational(p.state) {
		return
	}
	if n := p.foreign.Expire(now, p.receiptTimeout()); n > 0 {
		log.Debugf("port %d: expired %d foreign masters", p.identity.PortNumber, n)
	}
	best := p.foreign.Best()
	var bestDS *bmc.Dataset
	if best != nil {
		bestDS = &best.Dataset
	}
	local := bmc.LocalDataset(&p.dds, p.identity)
	rec, err := p.comparator.StateDecision(local, bestDS, p.cfg.SlaveOnly, p.state == ptp.PortStateListening)
	if err != nil {
		p.raise(err)
		return
	}
	switch rec {
	case ptp.PortStateListening:
		p.toState(ptp.PortStateListening, now)
	case ptp.PortStateMaster:
		if p.state == ptp.PortStateMaster || p.state == ptp.PortStatePreMaster {
			return
		}
		if p.dds.ClockQuality.ClockClass < 128 {
			p.toState(ptp.PortStateMaster, now)
			return
		}
		p.setParentSelf()
		p.toState(ptp.PortStatePreMaster, now)
	case ptp.PortStatePassive:
		p.setParent(best)
		p.toState(ptp.PortStatePassive, now)
	case ptp.PortStateSlave:
		changed := p.parent.ParentPortIdentity != best.Dataset.Sender
		previous := p.parentAddr
		wasSlave := slaveSide(p.state)
		p.setParent(best)
		if !wasSlave {
			p.toState(ptp.PortStateUncalibrated, now)
			return
		}
		if changed {
			log.Infof("port %d: new master %s (%s)", p.identity.PortNumber, best.Dataset.Sender, best.Address)
			if previous != best.Address {
				p.cancelTiming(previous)
			}
			p.loop.Reset()
			p.lastSync = nil
			p.delayReq = nil
			clear(p.syncs)
			p.locked = false
			p.emit(EventUnlocked{})
			p.toState(ptp.PortStateUncalibrated, now)
		}
	case ptp.PortStateFaulty:
		p.raise(fmt.Errorf("state decision returned %s", rec))
	}
}

// Fault returns the error that last put the port into FAULTY
func (p *Port) Fault() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFault
}
