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
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/servo"
)

type timerID uint8

const (
	timerAnnounce timerID = iota
	timerSync
	timerDelayReq
	timerPDelayReq
	timerAnnounceReceipt
	timerQualification
	timerUnicast
	timerFault
	timerStats
	timerBMC
	numTimers
)

var timerToString = [numTimers]string{
	timerAnnounce:        "announce",
	timerSync:            "sync",
	timerDelayReq:        "delay_req",
	timerPDelayReq:       "pdelay_req",
	timerAnnounceReceipt: "announce_receipt",
	timerQualification:   "qualification",
	timerUnicast:         "unicast",
	timerFault:           "fault",
	timerStats:           "stats",
	timerBMC:             "bmc",
}

func (t timerID) String() string {
	return timerToString[t]
}

// start (re)arms timer id to fire d after now
func (p *Port) start(id timerID, now time.Time, d time.Duration) {
	p.timers[id] = now.Add(d)
}

func (p *Port) stop(id timerID) {
	p.timers[id] = time.Time{}
}

func (p *Port) running(id timerID) bool {
	return !p.timers[id].IsZero()
}

// nextDeadline returns the earliest armed timer deadline
func (p *Port) nextDeadline() (time.Time, bool) {
	var next time.Time
	for _, d := range p.timers {
		if d.IsZero() {
			continue
		}
		if next.IsZero() || d.Before(next) {
			next = d
		}
	}
	return next, !next.IsZero()
}

// Expire fires every timer due at now. Timers are disarmed before they fire and
// the periodic ones re-arm themselves.
func (p *Port) Expire(now time.Time) {
	for i := range p.timers {
		id := timerID(i)
		d := p.timers[id]
		if d.IsZero() || d.After(now) {
			continue
		}
		p.stop(id)
		p.fire(id, now)
		p.checkFault(now)
	}
}

func (p *Port) fire(id timerID, now time.Time) {
	log.Tracef("port %d: %s timer fired in %s", p.identity.PortNumber, id, p.state)
	switch id {
	case timerAnnounce:
		p.sendAnnounce(now)
		p.start(id, now, p.announceInterval())
	case timerSync:
		p.sendSync(now)
		p.start(id, now, p.cfg.LogSyncInterval.Duration())
	case timerDelayReq:
		p.sendDelayReq(now)
		p.start(id, now, p.cfg.LogMinDelayReqInterval.Duration())
	case timerPDelayReq:
		p.sendPDelayReq(now)
		p.start(id, now, p.cfg.LogMinPdelayReqInterval.Duration())
	case timerAnnounceReceipt:
		p.announceTimeout(now)
	case timerQualification:
		p.toState(ptp.PortStateMaster, now)
	case timerUnicast:
		p.unicastTick(now)
		p.start(id, now, unicastTick)
	case timerFault:
		log.Infof("port %d: clearing fault %v", p.identity.PortNumber, p.lastFault)
		p.toState(ptp.PortStateInitializing, now)
	case timerStats:
		p.servoTick(now)
		p.publish()
		p.start(id, now, p.cfg.StatsInterval)
	case timerBMC:
		p.runBMC(now)
		p.start(id, now, p.announceInterval())
	}
}

// announceTimeout runs when the master stopped announcing: forget all masters and
// either take over as master or go back to listening
func (p *Port) announceTimeout(now time.Time) {
	log.Warningf("port %d: announce receipt timeout in %s", p.identity.PortNumber, p.state)
	p.foreign.Clear()
	if !p.cfg.SlaveOnly && p.dds.ClockQuality.ClockClass != ptp.ClockClassSlaveOnly {
		p.toState(ptp.PortStateMaster, now)
		return
	}
	p.toState(ptp.PortStateListening, now)
	p.start(timerAnnounceReceipt, now, p.receiptTimeout())
}

// servoTick ages the clock status, holdover is reported whether or not we are still slave
func (p *Port) servoTick(now time.Time) {
	status, changed, err := p.loop.Tick(now)
	if err != nil {
		p.raise(err)
		return
	}
	if !changed {
		return
	}
	log.Infof("port %d: clock status %s", p.identity.PortNumber, status)
	p.updateQuality(status)
	if status == servo.StatusHoldover {
		p.emit(EventHoldover{FreqPPB: -p.loop.FreqPPB()})
	}
	p.lockChanged(status)
}
