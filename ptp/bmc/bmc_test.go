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
	"testing"

	"github.com/stretchr/testify/require"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

var (
	pi1 = ptp.PortIdentity{
		PortNumber:    1,
		ClockIdentity: 5212879185253000328,
	}
	pi2 = ptp.PortIdentity{
		PortNumber:    1,
		ClockIdentity: 0,
	}
	receiver = ptp.PortIdentity{
		PortNumber:    1,
		ClockIdentity: 0x0000000000000042,
	}
)

func TestDscmp2(t *testing.T) {
	a1 := Dataset{StepsRemoved: 1, Sender: pi1, Receiver: receiver}
	a2 := Dataset{StepsRemoved: 3, Sender: pi1, Receiver: receiver}
	a3 := Dataset{StepsRemoved: 1, Sender: pi2, Receiver: receiver}
	require.Equal(t, Unknown, Dscmp2(&a1, &a1))
	require.Equal(t, ABetter, Dscmp2(&a1, &a2))
	require.Equal(t, BBetter, Dscmp2(&a2, &a1))
	require.Equal(t, BBetterTopo, Dscmp2(&a1, &a3))
	require.Equal(t, ABetterTopo, Dscmp2(&a3, &a1))
}

func TestDscmp2OneStepApart(t *testing.T) {
	// receiver < sender
	near := Dataset{StepsRemoved: 1, Sender: pi2, Receiver: receiver}
	far := Dataset{StepsRemoved: 2, Sender: pi1, Receiver: receiver}
	require.Equal(t, ABetter, Dscmp2(&near, &far))
	require.Equal(t, BBetter, Dscmp2(&far, &near))

	// receiver > sender
	far.Sender = pi2
	require.Equal(t, ABetterTopo, Dscmp2(&near, &far))
	require.Equal(t, BBetterTopo, Dscmp2(&far, &near))

	// announce we sent ourselves
	far.Sender = receiver
	require.Equal(t, Unknown, Dscmp2(&near, &far))
}

func TestDscmp(t *testing.T) {
	a1 := Dataset{StepsRemoved: 1, Sender: pi1}
	a2 := Dataset{StepsRemoved: 1, Sender: pi1}
	a3 := Dataset{GrandmasterIdentity: 1, Priority1: 1}
	a4 := Dataset{GrandmasterIdentity: 2, Priority1: 2}
	a5 := Dataset{GrandmasterIdentity: 1, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass7}}
	a6 := Dataset{GrandmasterIdentity: 2, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass13}}
	a7 := Dataset{GrandmasterIdentity: 1, GrandmasterClockQuality: ptp.ClockQuality{ClockAccuracy: 42}}
	a8 := Dataset{GrandmasterIdentity: 2, GrandmasterClockQuality: ptp.ClockQuality{ClockAccuracy: 69}}
	a9 := Dataset{GrandmasterIdentity: 1, GrandmasterClockQuality: ptp.ClockQuality{OffsetScaledLogVariance: 42}}
	a10 := Dataset{GrandmasterIdentity: 2, GrandmasterClockQuality: ptp.ClockQuality{OffsetScaledLogVariance: 69}}
	a11 := Dataset{GrandmasterIdentity: 1, Priority2: 1}
	a12 := Dataset{GrandmasterIdentity: 2, Priority2: 2}
	a13 := Dataset{GrandmasterIdentity: 1}
	a14 := Dataset{GrandmasterIdentity: 2}
	a15 := Dataset{GrandmasterIdentity: 1, LocalPreference: 1}
	a16 := Dataset{GrandmasterIdentity: 2, LocalPreference: 2, Priority1: 0}
	require.Equal(t, Unknown, Dscmp(&a1, &a2))
	require.Equal(t, ABetter, Dscmp(&a3, &a4))
	require.Equal(t, BBetter, Dscmp(&a4, &a3))
	require.Equal(t, ABetter, Dscmp(&a5, &a6))
	require.Equal(t, BBetter, Dscmp(&a6, &a5))
	require.Equal(t, ABetter, Dscmp(&a7, &a8))
	require.Equal(t, BBetter, Dscmp(&a8, &a7))
	require.Equal(t, ABetter, Dscmp(&a9, &a10))
	require.Equal(t, BBetter, Dscmp(&a10, &a9))
	require.Equal(t, ABetter, Dscmp(&a11, &a12))
	require.Equal(t, BBetter, Dscmp(&a12, &a11))
	require.Equal(t, ABetter, Dscmp(&a13, &a14))
	require.Equal(t, BBetter, Dscmp(&a14, &a13))
	require.Equal(t, ABetter, Dscmp(&a15, &a16))
	require.Equal(t, BBetter, Dscmp(&a16, &a15))
}

func TestDscmpClassBeforePriority2(t *testing.T) {
	gps := Dataset{
		GrandmasterIdentity:     2,
		Priority1:               128,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6},
		Priority2:               200,
	}
	free := Dataset{
		GrandmasterIdentity:     1,
		Priority1:               128,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClassDefault},
		Priority2:               1,
	}
	require.Equal(t, ABetter, Dscmp(&gps, &free))
	require.Equal(t, BBetter, Dscmp(&free, &gps))
}

func TestDscmpDisqualified(t *testing.T) {
	good := Dataset{GrandmasterIdentity: 1, Priority1: 255, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClassDefault}}
	bad := Dataset{GrandmasterIdentity: 2, Priority1: 1, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6}, Disqualified: true}
	require.Equal(t, ABetter, Dscmp(&good, &bad))
	require.Equal(t, BBetter, Dscmp(&bad, &good))
}

func TestComparatorExtensions(t *testing.T) {
	a := Dataset{GrandmasterIdentity: 1, Domain: 4}
	b := Dataset{GrandmasterIdentity: 2, Domain: 0}
	require.Equal(t, ABetter, Dscmp(&a, &b))

	c := Comparator{AnyDomain: true, Domain: 0}
	require.Equal(t, BBetter, c.Dscmp(&a, &b))
	c.Domain = 4
	require.Equal(t, ABetter, c.Dscmp(&a, &b))
	c.Domain = 7
	require.Equal(t, BBetter, c.Dscmp(&a, &b))

	u := Dataset{GrandmasterIdentity: 2, UTCValid: true, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClassDefault}}
	n := Dataset{GrandmasterIdentity: 1, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6}}
	require.Equal(t, BBetter, Dscmp(&u, &n))
	require.Equal(t, ABetter, Comparator{PreferUTCValid: true}.Dscmp(&u, &n))

	// telco ranks quality above priority1
	p1 := Dataset{GrandmasterIdentity: 1, Priority1: 1, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClassDefault}}
	q6 := Dataset{GrandmasterIdentity: 2, Priority1: 128, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6}}
	require.Equal(t, ABetter, Dscmp(&p1, &q6))
	require.Equal(t, BBetter, Comparator{Telco: true}.Dscmp(&p1, &q6))
	st, err := Comparator{Telco: true}.StateDecision(&p1, &q6, false, false)
	require.NoError(t, err)
	require.Equal(t, ptp.PortStateSlave, st)
}

func TestTelcoDscmp(t *testing.T) {
	a1 := Dataset{StepsRemoved: 1, Sender: pi1}
	a2 := Dataset{StepsRemoved: 1, Sender: pi1}
	a3 := Dataset{GrandmasterIdentity: 1, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass7}}
	a4 := Dataset{GrandmasterIdentity: 2, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass13}}
	a5 := Dataset{GrandmasterIdentity: 1, GrandmasterClockQuality: ptp.ClockQuality{ClockAccuracy: 42}}
	a6 := Dataset{GrandmasterIdentity: 2, GrandmasterClockQuality: ptp.ClockQuality{ClockAccuracy: 69}}
	a7 := Dataset{GrandmasterIdentity: 1, GrandmasterClockQuality: ptp.ClockQuality{OffsetScaledLogVariance: 42}}
	a8 := Dataset{GrandmasterIdentity: 2, GrandmasterClockQuality: ptp.ClockQuality{OffsetScaledLogVariance: 69}}
	a9 := Dataset{GrandmasterIdentity: 1, Priority2: 1}
	a10 := Dataset{GrandmasterIdentity: 2, Priority2: 2}
	a11 := Dataset{GrandmasterIdentity: 1, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: 128}}
	a12 := Dataset{GrandmasterIdentity: 2, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: 128}}
	lp1 := Dataset{GrandmasterIdentity: 1, Priority1: 1, LocalPreference: 1}
	lp2 := Dataset{GrandmasterIdentity: 2, Priority1: 2, LocalPreference: 2}
	require.Equal(t, Unknown, TelcoDscmp(&a1, &a2))
	require.Equal(t, Unknown, TelcoDscmp(nil, nil))
	require.Equal(t, ABetter, TelcoDscmp(&a1, nil))
	require.Equal(t, BBetter, TelcoDscmp(nil, &a1))
	require.Equal(t, ABetter, TelcoDscmp(&a3, &a4))
	require.Equal(t, BBetter, TelcoDscmp(&a4, &a3))
	require.Equal(t, ABetter, TelcoDscmp(&a5, &a6))
	require.Equal(t, BBetter, TelcoDscmp(&a6, &a5))
	require.Equal(t, ABetter, TelcoDscmp(&a7, &a8))
	require.Equal(t, BBetter, TelcoDscmp(&a8, &a7))
	require.Equal(t, ABetter, TelcoDscmp(&a9, &a10))
	require.Equal(t, BBetter, TelcoDscmp(&a10, &a9))
	require.Equal(t, ABetter, TelcoDscmp(&a11, &a12))
	require.Equal(t, BBetter, TelcoDscmp(&a12, &a11))
	require.Equal(t, ABetter, TelcoDscmp(&lp1, &lp2))
	lp1.LocalPreference = 3
	require.Equal(t, BBetter, TelcoDscmp(&lp1, &lp2))
}

func TestNewDataset(t *testing.T) {
	m := ptp.NewMessage(&ptp.AnnounceBody{
		GrandmasterPriority1:    128,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6, ClockAccuracy: ptp.ClockAccuracyNanosecond100},
		GrandmasterPriority2:    127,
		GrandmasterIdentity:     0xc42a1fffe6d7ca6,
		StepsRemoved:            2,
	})
	m.SourcePortIdentity = pi1
	m.DomainNumber = 24
	m.SetFlags(ptp.Flags{CurrentUtcOffsetValid: true})

	ds, err := NewDataset(m, receiver)
	require.NoError(t, err)
	require.Equal(t, &Dataset{
		Priority1:               128,
		GrandmasterIdentity:     0xc42a1fffe6d7ca6,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6, ClockAccuracy: ptp.ClockAccuracyNanosecond100},
		Priority2:               127,
		StepsRemoved:            2,
		Sender:                  pi1,
		Receiver:                receiver,
		Domain:                  24,
		UTCValid:                true,
	}, ds)

	_, err = NewDataset(ptp.NewMessage(&ptp.SyncBody{}), receiver)
	require.Error(t, err)
}

func TestStateDecision(t *testing.T) {
	self := ptp.PortIdentity{ClockIdentity: 0x42, PortNumber: 1}
	local := LocalDataset(&ptp.DefaultDataSetTLV{
		Priority1:     128,
		ClockQuality:  ptp.ClockQuality{ClockClass: ptp.ClockClassDefault},
		Priority2:     128,
		ClockIdentity: 0x42,
	}, self)
	better := &Dataset{
		GrandmasterIdentity:     0x99,
		Priority1:               128,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6},
		Priority2:               128,
		Sender:                  pi1,
		Receiver:                self,
	}
	worse := &Dataset{
		GrandmasterIdentity:     0x99,
		Priority1:               200,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClassDefault},
		Priority2:               128,
		Sender:                  pi1,
		Receiver:                self,
	}
	gmLocal := *local
	gmLocal.GrandmasterClockQuality.ClockClass = ptp.ClockClass7

	tests := []struct {
		name      string
		local     *Dataset
		best      *Dataset
		slaveOnly bool
		listening bool
		want      ptp.PortState
	}{
		{name: "no master while listening", local: local, listening: true, want: ptp.PortStateListening},
		{name: "no master slave only", local: local, slaveOnly: true, want: ptp.PortStateListening},
		{name: "no master", local: local, want: ptp.PortStateMaster},
		{name: "slave only", local: local, best: worse, slaveOnly: true, want: ptp.PortStateSlave},
		{name: "foreign better", local: local, best: better, want: ptp.PortStateSlave},
		{name: "local better", local: local, best: worse, want: ptp.PortStateMaster},
		{name: "grandmaster class loses", local: &gmLocal, best: better, want: ptp.PortStatePassive},
		{name: "grandmaster class wins", local: &gmLocal, best: worse, want: ptp.PortStateMaster},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StateDecision(tt.local, tt.best, tt.slaveOnly, tt.listening)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStateDecisionSameIdentity(t *testing.T) {
	self := ptp.PortIdentity{ClockIdentity: 0x42, PortNumber: 1}
	local := LocalDataset(&ptp.DefaultDataSetTLV{ClockIdentity: 0x42}, self)
	echo := *local
	echo.LocalPreference = 0

	got, err := StateDecision(local, &echo, false, false)
	require.ErrorIs(t, err, ErrSameIdentity)
	require.Equal(t, ptp.PortStateFaulty, got)
}
