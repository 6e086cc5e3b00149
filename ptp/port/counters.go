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
	"strings"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// Stats keys the port reports
const (
	PortStatsRxPrefix = "ptp.ptpd.portstats.rx."
	PortStatsTxPrefix = "ptp.ptpd.portstats.tx."

	keyDecodeErrors  = "ptp.ptpd.portstats.rx.decode_errors"
	keyTLVsDropped   = "ptp.ptpd.portstats.rx.tlvs_dropped"
	keyLooped        = "ptp.ptpd.portstats.rx.looped"
	keyWrongDomain   = "ptp.ptpd.portstats.rx.wrong_domain"
	keyWrongVersion  = "ptp.ptpd.portstats.rx.wrong_version"
	keyNoGrant       = "ptp.ptpd.portstats.rx.no_grant"
	keyTxErrors      = "ptp.ptpd.portstats.tx.errors"
	KeyStateChanges  = "ptp.ptpd.port.state_changes"
	keyIllegal       = "ptp.ptpd.port.illegal_transitions"
	KeyFaults        = "ptp.ptpd.port.faults"
	keyEventsDropped = "ptp.ptpd.port.events_dropped"
	KeyState         = "ptp.ptpd.port.state"
	KeyForeign       = "ptp.ptpd.port.foreign_masters"
	KeyGrants        = "ptp.ptpd.unicast.grants"
	KeyGrantsDenied  = "ptp.ptpd.unicast.denied"
	KeyOffset        = "ptp.ptpd.servo.offset_ns"
	KeyPathDelay     = "ptp.ptpd.servo.path_delay_ns"
	KeyFreq          = "ptp.ptpd.servo.freq_ppb"
	KeySteps         = "ptp.ptpd.servo.steps"
	KeyClockStatus   = "ptp.ptpd.servo.status"
	KeyClockAdev     = "ptp.ptpd.servo.adev_ppt"
	KeySaturated     = "ptp.ptpd.servo.saturated"
)

func rxKey(t ptp.MessageType) string {
	return fmt.Sprintf("%s%s", PortStatsRxPrefix, strings.ToLower(t.String()))
}

func txKey(t ptp.MessageType) string {
	return fmt.Sprintf("%s%s", PortStatsTxPrefix, strings.ToLower(t.String()))
}

// publish pushes the gauges, per message counters are updated as packets go by
func (p *Port) publish() {
	p.stats.SetCounter(KeyState, int64(p.state))
	p.stats.SetCounter(KeyForeign, int64(p.foreign.Len()))
	c := p.grants.Counters()
	p.stats.SetCounter(KeyGrants, c.Granted)
	p.stats.SetCounter(KeyGrantsDenied, c.Denied)
	p.stats.SetCounter(KeyOffset, p.loop.LastOffset().Nanoseconds())
	delay, _ := p.loop.MeanPathDelay()
	p.stats.SetCounter(KeyPathDelay, delay.Nanoseconds())
	p.stats.SetCounter(KeyFreq, int64(p.loop.FreqPPB()))
	p.stats.SetCounter(KeySteps, int64(p.loop.Steps()))
	p.stats.SetCounter(KeyClockStatus, int64(p.loop.Status()))
	p.stats.SetCounter(KeyClockAdev, int64(p.loop.Adev()*1000))
	var saturated int64
	if p.loop.Saturated() {
		saturated = 1
	}
	p.stats.SetCounter(KeySaturated, saturated)
}
