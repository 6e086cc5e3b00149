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

package bmc

import (
	"errors"
	"fmt"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// ErrSameIdentity is returned when the local clock and the best master compare equal
var ErrSameIdentity = errors.New("local clock and best master have the same identity")

// LocalDataset returns the dataset the local clock would announce (D0)
func LocalDataset(dds *ptp.DefaultDataSetTLV, port ptp.PortIdentity) *Dataset {
	return &Dataset{
		Priority1:               dds.Priority1,
		GrandmasterIdentity:     dds.ClockIdentity,
		GrandmasterClockQuality: dds.ClockQuality,
		Priority2:               dds.Priority2,
		Sender:                  port,
		Receiver:                port,
		Domain:                  dds.DomainNumber,
		LocalPreference:         LowestLocalPreference,
	}
}

// StateDecision runs the state decision with no optional comparison extensions
func StateDecision(local, best *Dataset, slaveOnly, listening bool) (ptp.PortState, error) {
	return Comparator{}.StateDecision(local, best, slaveOnly, listening)
}

// StateDecision picks the recommended port state given the local dataset and the best foreign one.
// best is nil when no master is qualified. MASTER is returned where the port should go through PRE_MASTER
// first, the port decides that.
func (c Comparator) StateDecision(local, best *Dataset, slaveOnly, listening bool) (ptp.PortState, error) {
	if best == nil {
		if slaveOnly || listening {
			return ptp.PortStateListening, nil
		}
		return ptp.PortStateMaster, nil
	}
	if slaveOnly {
		return ptp.PortStateSlave, nil
	}
	// local preference only orders foreign masters against each other
	me := *local
	me.LocalPreference = best.LocalPreference

	comp := c.Dscmp(&me, best)
	switch {
	case comp > Unknown:
		return ptp.PortStateMaster, nil
	case comp < Unknown && local.GrandmasterClockQuality.ClockClass < 128:
		return ptp.PortStatePassive, nil
	case comp < Unknown:
		return ptp.PortStateSlave, nil
	}
	return ptp.PortStateFaulty, fmt.Errorf("comparing with %s: %w", best.Sender, ErrSameIdentity)
}
