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
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// Event is something that happened to the port, delivered on the channel returned by Port.Events
type Event interface {
	fmt.Stringer
	event()
}

// EventStateChange is emitted on every port state change
type EventStateChange struct {
	Old ptp.PortState
	New ptp.PortState
}

func (EventStateChange) event() {}

func (e EventStateChange) String() string {
	return fmt.Sprintf("state %s -> %s", e.Old, e.New)
}

// EventStep is emitted when the clock was stepped
type EventStep struct {
	Offset time.Duration
}

func (EventStep) event() {}

func (e EventStep) String() string {
	return fmt.Sprintf("clock stepped by %v", -e.Offset)
}

// EventLocked is emitted when the clock locks to the master
type EventLocked struct {
	Master ptp.PortIdentity
}

func (EventLocked) event() {}

func (e EventLocked) String() string {
	return fmt.Sprintf("locked to %s", e.Master)
}

// EventUnlocked is emitted when the clock loses lock
type EventUnlocked struct{}

func (EventUnlocked) event() {}

func (EventUnlocked) String() string { return "unlocked" }

// EventHoldover is emitted when the clock enters holdover
type EventHoldover struct {
	FreqPPB float64
}

func (EventHoldover) event() {}

func (e EventHoldover) String() string {
	return fmt.Sprintf("holdover at %+.0f ppb", e.FreqPPB)
}

// emit delivers e without blocking the port, events are dropped when nobody reads them
func (p *Port) emit(e Event) {
	select {
	case p.events <- e:
	default:
		log.Debugf("event queue full, dropping %s", e)
		p.stats.UpdateCounterBy(keyEventsDropped, 1)
	}
}
