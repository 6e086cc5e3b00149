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
	"fmt"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// ComparisonResult is the type to represent comparisons
type ComparisonResult int8

const (
	// ABetterTopo means A is better based on topology
	ABetterTopo ComparisonResult = 2
	// ABetter means A is better based on Announce Response
	ABetter ComparisonResult = 1
	// Unknown means we failed to determine better
	Unknown ComparisonResult = 0
	// BBetter means B is better based on Announce Response
	BBetter ComparisonResult = -1
	// BBetterTopo means B is better based on topology
	BBetterTopo ComparisonResult = -2
)

func (c ComparisonResult) String() string {
	switch c {
	case ABetterTopo:
		return "A better by topology"
	case ABetter:
		return "A better"
	case BBetter:
		return "B better"
	case BBetterTopo:
		return "B better by topology"
	}
	return "unknown"
}

// LowestLocalPreference is the local preference of a master nobody configured
const LowestLocalPreference uint8 = 255

// Dataset is what the BMCA knows about one candidate master, see IEEE 1588 9.3.4
type Dataset struct {
	Priority1               uint8
	GrandmasterIdentity     ptp.ClockIdentity
	GrandmasterClockQuality ptp.ClockQuality
	Priority2               uint8
	StepsRemoved            uint16
	// Sender is the port the announce came from
	Sender ptp.PortIdentity
	// Receiver is the local port the announce arrived on
	Receiver ptp.PortIdentity
	Domain   uint8
	// LocalPreference orders masters configured for unicast negotiation, lower wins
	LocalPreference uint8
	Disqualified    bool
	UTCValid        bool
}

// String implements fmt.Stringer
func (d *Dataset) String() string {
	return fmt.Sprintf("gm=%s p1=%d class=%d acc=%#x var=%d p2=%d steps=%d sender=%s",
		d.GrandmasterIdentity, d.Priority1, d.GrandmasterClockQuality.ClockClass,
		d.GrandmasterClockQuality.ClockAccuracy, d.GrandmasterClockQuality.OffsetScaledLogVariance,
		d.Priority2, d.StepsRemoved, d.Sender)
}

// NewDataset builds a Dataset from a received Announce message
func NewDataset(m *ptp.Message, receiver ptp.PortIdentity) (*Dataset, error) {
	a, ok := m.Body.(*ptp.AnnounceBody)
	if !ok {
		return nil, fmt.Errorf("%s is not an announce", m.MessageType())
	}
	return &Dataset{
		Priority1:               a.GrandmasterPriority1,
		GrandmasterIdentity:     a.GrandmasterIdentity,
		GrandmasterClockQuality: a.GrandmasterClockQuality,
		Priority2:               a.GrandmasterPriority2,
		StepsRemoved:            a.StepsRemoved,
		Sender:                  m.SourcePortIdentity,
		Receiver:                receiver,
		Domain:                  m.DomainNumber,
		UTCValid:                m.Flags().CurrentUtcOffsetValid,
	}, nil
}

// ComparePortIdentity compares two port identities
func ComparePortIdentity(this *ptp.PortIdentity, that *ptp.PortIdentity) int64 {
	return int64(this.Compare(*that))
}

// Comparator holds the optional extensions of the dataset comparison
type Comparator struct {
	// AnyDomain accepts masters from every domain, preferring Domain and then lower domains
	AnyDomain bool
	Domain    uint8
	// PreferUTCValid ranks masters with a valid UTC offset above the rest
	PreferUTCValid bool
	// Telco orders datasets with TelcoDscmp, the other extensions are not used then
	Telco bool
}

// Dscmp2 finds better Dataset based on network topology
func Dscmp2(a *Dataset, b *Dataset) ComparisonResult {
	if a.StepsRemoved+1 < b.StepsRemoved {
		return ABetter
	}
	if b.StepsRemoved+1 < a.StepsRemoved {
		return BBetter
	}
	// within one step of each other
	if a.StepsRemoved > b.StepsRemoved {
		switch a.Receiver.Compare(a.Sender) {
		case -1:
			return BBetter
		case 1:
			return BBetterTopo
		}
		return Unknown
	}
	if b.StepsRemoved > a.StepsRemoved {
		switch b.Receiver.Compare(b.Sender) {
		case -1:
			return ABetter
		case 1:
			return ABetterTopo
		}
		return Unknown
	}

	diff := ComparePortIdentity(&a.Sender, &b.Sender)
	if diff < 0 {
		return ABetterTopo
	}
	if diff > 0 {
		return BBetterTopo
	}
	return Unknown
}

// Dscmp finds better Dataset with no optional extensions enabled
func Dscmp(a *Dataset, b *Dataset) ComparisonResult {
	return Comparator{}.Dscmp(a, b)
}

// Dscmp finds better Dataset based on Announce content
func (c Comparator) Dscmp(a *Dataset, b *Dataset) ComparisonResult {
	if c.Telco {
		return TelcoDscmp(a, b)
	}
	if a.Disqualified != b.Disqualified {
		if b.Disqualified {
			return ABetter
		}
		return BBetter
	}
	if a.GrandmasterIdentity == b.GrandmasterIdentity {
		return Dscmp2(a, b)
	}
	if c.AnyDomain {
		if a.Domain == c.Domain && b.Domain != c.Domain {
			return ABetter
		}
		if a.Domain != c.Domain && b.Domain == c.Domain {
			return BBetter
		}
		if a.Domain < b.Domain {
			return ABetter
		}
		if a.Domain > b.Domain {
			return BBetter
		}
	}
	if a.LocalPreference < b.LocalPreference {
		return ABetter
	}
	if a.LocalPreference > b.LocalPreference {
		return BBetter
	}
	if a.Priority1 < b.Priority1 {
		return ABetter
	}
	if a.Priority1 > b.Priority1 {
		return BBetter
	}
	if c.PreferUTCValid && a.UTCValid != b.UTCValid {
		if a.UTCValid {
			return ABetter
		}
		return BBetter
	}
	if r := compareQuality(a.GrandmasterClockQuality, b.GrandmasterClockQuality); r != Unknown {
		return r
	}
	if a.Priority2 < b.Priority2 {
		return ABetter
	}
	if a.Priority2 > b.Priority2 {
		return BBetter
	}
	if a.GrandmasterIdentity < b.GrandmasterIdentity {
		return ABetter
	}
	return BBetter
}

func compareQuality(a, b ptp.ClockQuality) ComparisonResult {
	if a.ClockClass < b.ClockClass {
		return ABetter
	}
	if a.ClockClass > b.ClockClass {
		return BBetter
	}
	if a.ClockAccuracy < b.ClockAccuracy {
		return ABetter
	}
	if a.ClockAccuracy > b.ClockAccuracy {
		return BBetter
	}
	if a.OffsetScaledLogVariance < b.OffsetScaledLogVariance {
		return ABetter
	}
	if a.OffsetScaledLogVariance > b.OffsetScaledLogVariance {
		return BBetter
	}
	return Unknown
}

// TelcoDscmp finds better Dataset the G.8275 way: clock quality first, then priority2, then local priority.
// Priority1 is not used.
func TelcoDscmp(a *Dataset, b *Dataset) ComparisonResult {
	if a != nil && b == nil {
		return ABetter
	}
	if b != nil && a == nil {
		return BBetter
	}
	if a == nil || *a == *b {
		return Unknown
	}
	if a.Disqualified != b.Disqualified {
		if b.Disqualified {
			return ABetter
		}
		return BBetter
	}
	if r := compareQuality(a.GrandmasterClockQuality, b.GrandmasterClockQuality); r != Unknown {
		return r
	}
	if a.Priority2 < b.Priority2 {
		return ABetter
	}
	if a.Priority2 > b.Priority2 {
		return BBetter
	}
	if a.LocalPreference < b.LocalPreference {
		return ABetter
	}
	if a.LocalPreference > b.LocalPreference {
		return BBetter
	}
	if a.GrandmasterClockQuality.ClockClass <= 127 {
		return Dscmp2(a, b)
	}
	if a.GrandmasterIdentity == b.GrandmasterIdentity {
		return Dscmp2(a, b)
	}
	if a.GrandmasterIdentity < b.GrandmasterIdentity {
		return ABetter
	}
	return BBetter
}
