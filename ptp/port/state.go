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
	"fmt"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// ErrIllegalTransition is returned for a state change the port state machine doesn't allow
var ErrIllegalTransition = errors.New("illegal port state transition")

type stateSet map[ptp.PortState]bool

func states(list ...ptp.PortState) stateSet {
	s := stateSet{}
	for _, st := range list {
		s[st] = true
	}
	return s
}

// transitions lists the states reachable from each state.
// FAULTY and DISABLED are reachable from everywhere and are not repeated here.
var transitions = map[ptp.PortState]stateSet{
	ptp.PortStateInitializing: states(ptp.PortStateListening),
	ptp.PortStateListening: states(
		ptp.PortStateMaster,
		ptp.PortStatePreMaster,
		ptp.PortStateUncalibrated,
		ptp.PortStateSlave,
		ptp.PortStatePassive,
	),
	ptp.PortStatePreMaster: states(
		ptp.PortStateMaster,
		ptp.PortStateUncalibrated,
		ptp.PortStateSlave,
		ptp.PortStatePassive,
		ptp.PortStateListening,
	),
	ptp.PortStateMaster: states(
		ptp.PortStateUncalibrated,
		ptp.PortStateSlave,
		ptp.PortStatePassive,
		ptp.PortStateListening,
	),
	ptp.PortStatePassive: states(
		ptp.PortStateMaster,
		ptp.PortStatePreMaster,
		ptp.PortStateUncalibrated,
		ptp.PortStateSlave,
		ptp.PortStateListening,
	),
	ptp.PortStateUncalibrated: states(
		ptp.PortStateSlave,
		ptp.PortStateMaster,
		ptp.PortStatePreMaster,
		ptp.PortStatePassive,
		ptp.PortStateListening,
	),
	ptp.PortStateSlave: states(
		ptp.PortStateUncalibrated,
		ptp.PortStateMaster,
		ptp.PortStatePreMaster,
		ptp.PortStatePassive,
		ptp.PortStateListening,
	),
	ptp.PortStateFaulty:   states(ptp.PortStateInitializing),
	ptp.PortStateDisabled: states(ptp.PortStateInitializing),
}

// Transition checks that the port may go from one state to the other.
// Staying in the same state is always allowed and is a no-op for the caller.
func Transition(from, to ptp.PortState) error {
	if from == to {
		return nil
	}
	allowed, ok := transitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown state %s", ErrIllegalTransition, from)
	}
	if to == ptp.PortStateFaulty || to == ptp.PortStateDisabled {
		return nil
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// slaveSide reports whether the port synchronizes to a master in this state
func slaveSide(s ptp.PortState) bool {
	return s == ptp.PortStateUncalibrated || s == ptp.PortStateSlave
}

// masterSide reports whether the port holds the local clock as a reference for others in this state
func masterSide(s ptp.PortState) bool {
	return s == ptp.PortStateMaster || s == ptp.PortStatePassive
}

// listensAnnounce reports whether the announce receipt timeout runs in this state
func listensAnnounce(s ptp.PortState) bool {
	switch s {
	case ptp.PortStateListening, ptp.PortStatePassive, ptp.PortStateUncalibrated, ptp.PortStateSlave:
		return true
	}
	return false
}

// operational reports whether the port exchanges PTP messages in this state
func operational(s ptp.PortState) bool {
	switch s {
	case ptp.PortStateInitializing, ptp.PortStateFaulty, ptp.PortStateDisabled:
		return false
	}
	return true
}
