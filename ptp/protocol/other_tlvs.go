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

package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	organizationExtensionMinLen = 6
	atoiMinLen                  = 16
	cumFreqLen                  = 22
	ptpMonResponseMinLen        = 2 + 4 + 8 + 8 + timestampSize
	ptpMonMTIEResponseLen       = 2 + 2 + 8 + 8 + timestampSize + timestampSize
)

// OrganizationExtensionTLV Table 53 ORGANIZATION_EXTENSION TLV format.
// TLVType keeps which of the three organization extension types was used.
type OrganizationExtensionTLV struct {
	TLVType             TLVType
	OrganizationID      [3]uint8
	OrganizationSubType [3]uint8
	DataField           []byte
}

func newOrganizationExtension(t TLVType) TLV {
	return &OrganizationExtensionTLV{TLVType: t}
}

// Type implements TLV
func (t *OrganizationExtensionTLV) Type() TLVType {
	if t.TLVType == 0 {
		return TLVOrganizationExtension
	}
	return t.TLVType
}

// Len implements TLV
func (t *OrganizationExtensionTLV) Len() int {
	return organizationExtensionMinLen + len(t.DataField)
}

// MarshalBinaryTo implements TLV
func (t *OrganizationExtensionTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.bytes(t.OrganizationID[:])
	w.bytes(t.OrganizationSubType[:])
	w.bytes(t.DataField)
	return w.result()
}

// UnmarshalBinary implements TLV
func (t *OrganizationExtensionTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	copy(t.OrganizationID[:], c.take(3))
	copy(t.OrganizationSubType[:], c.take(3))
	t.DataField = c.bytes(len(b) - organizationExtensionMinLen)
	return c.err
}

// PathTraceTLV Table 115 PATH_TRACE TLV format
type PathTraceTLV struct {
	PathSequence []ClockIdentity
}

// Type implements TLV
func (t *PathTraceTLV) Type() TLVType { return TLVPathTrace }

// Len implements TLV
func (t *PathTraceTLV) Len() int { return 8 * len(t.PathSequence) }

// MarshalBinaryTo implements TLV
func (t *PathTraceTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	for _, c := range t.PathSequence {
		w.u64(uint64(c))
	}
	return w.result()
}

// UnmarshalBinary implements TLV
func (t *PathTraceTLV) UnmarshalBinary(b []byte) error {
	if len(b)%8 != 0 {
		return fmt.Errorf("path trace of %d bytes is not a list of clock identities", len(b))
	}
	t.PathSequence = make([]ClockIdentity, 0, len(b)/8)
	for i := 0; i+8 <= len(b); i += 8 {
		t.PathSequence = append(t.PathSequence, ClockIdentity(binary.BigEndian.Uint64(b[i:])))
	}
	return nil
}

// AlternateTimeOffsetIndicatorTLV is a Table 116 ALTERNATE_TIME_OFFSET_INDICATOR TLV format
type AlternateTimeOffsetIndicatorTLV struct {
	KeyField       uint8
	CurrentOffset  int32
	JumpSeconds    int32
	TimeOfNextJump PTPSeconds
	DisplayName    PTPText
}

// Type implements TLV
func (t *AlternateTimeOffsetIndicatorTLV) Type() TLVType { return TLVAlternateTimeOffsetIndicator }

// Len implements TLV
func (t *AlternateTimeOffsetIndicatorTLV) Len() int {
	return 1 + 4 + 4 + 6 + t.DisplayName.Len()
}

// MarshalBinaryTo implements TLV
func (t *AlternateTimeOffsetIndicatorTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u8(t.KeyField)
	w.u32(uint32(t.CurrentOffset))
	w.u32(uint32(t.JumpSeconds))
	w.bytes(t.TimeOfNextJump[:])
	w.text(t.DisplayName)
	return w.result()
}

// UnmarshalBinary implements TLV
func (t *AlternateTimeOffsetIndicatorTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.KeyField = c.u8()
	t.CurrentOffset = int32(c.u32())
	t.JumpSeconds = int32(c.u32())
	copy(t.TimeOfNextJump[:], c.take(6))
	t.DisplayName = c.text()
	return c.err
}

// CumulativeFrequencyScaleFactorOffsetTLV carries the accumulated rate ratio of the path
// and the last grandmaster changes, the same data 802.1AS puts in Follow_Up information.
type CumulativeFrequencyScaleFactorOffsetTLV struct {
	ScaledCumulativeRateOffset int32
	GMTimeBaseIndicator        uint16
	LastGMPhaseChange          [12]uint8 // ScaledNs, 96 bits
	ScaledLastGMFreqChange     int32
}

// Type implements TLV
func (t *CumulativeFrequencyScaleFactorOffsetTLV) Type() TLVType {
	return TLVCumulativeFrequencyScaleFactorOffset
}

// Len implements TLV
func (t *CumulativeFrequencyScaleFactorOffsetTLV) Len() int { return cumFreqLen }

// RateRatio returns the cumulative rate ratio, (offset / 2^41) + 1
func (t *CumulativeFrequencyScaleFactorOffsetTLV) RateRatio() float64 {
	return float64(t.ScaledCumulativeRateOffset)/float64(uint64(1)<<41) + 1
}

// MarshalBinaryTo implements TLV
func (t *CumulativeFrequencyScaleFactorOffsetTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u32(uint32(t.ScaledCumulativeRateOffset))
	w.u16(t.GMTimeBaseIndicator)
	w.bytes(t.LastGMPhaseChange[:])
	w.u32(uint32(t.ScaledLastGMFreqChange))
	return w.result()
}

// UnmarshalBinary implements TLV
func (t *CumulativeFrequencyScaleFactorOffsetTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.ScaledCumulativeRateOffset = int32(c.u32())
	t.GMTimeBaseIndicator = c.u16()
	copy(t.LastGMPhaseChange[:], c.take(12))
	t.ScaledLastGMFreqChange = int32(c.u32())
	return c.err
}

// PTPMonRequestTLV asks a port for its monitoring snapshot. It has no value.
type PTPMonRequestTLV struct{}

// Type implements TLV
func (t *PTPMonRequestTLV) Type() TLVType { return TLVPTPMonRequest }

// Len implements TLV
func (t *PTPMonRequestTLV) Len() int { return 0 }

// MarshalBinaryTo implements TLV
func (t *PTPMonRequestTLV) MarshalBinaryTo(_ []byte) (int, error) { return 0, nil }

// UnmarshalBinary implements TLV
func (t *PTPMonRequestTLV) UnmarshalBinary(_ []byte) error { return nil }

// PTPMonResponseTLV is the monitoring snapshot a slave port returns:
// its state, the address of its parent, offset and delay, and when they were measured.
type PTPMonResponseTLV struct {
	PortState         PortState
	Reserved          uint8
	ParentPortAddress PortAddress
	OffsetFromMaster  TimeInterval
	MeanPathDelay     TimeInterval
	MeasurementTime   Timestamp
}

// Type implements TLV
func (t *PTPMonResponseTLV) Type() TLVType { return TLVPTPMonResponse }

// Len implements TLV
func (t *PTPMonResponseTLV) Len() int {
	return 2 + t.ParentPortAddress.Len() + 8 + 8 + timestampSize
}

// MarshalBinaryTo implements TLV
func (t *PTPMonResponseTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u8(uint8(t.PortState))
	w.u8(t.Reserved)
	w.portAddress(t.ParentPortAddress)
	w.u64(uint64(t.OffsetFromMaster))
	w.u64(uint64(t.MeanPathDelay))
	w.timestamp(t.MeasurementTime)
	return w.result()
}

// UnmarshalBinary implements TLV
func (t *PTPMonResponseTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.PortState = PortState(c.u8())
	t.Reserved = c.u8()
	t.ParentPortAddress = c.portAddress()
	t.OffsetFromMaster = TimeInterval(c.u64())
	t.MeanPathDelay = TimeInterval(c.u64())
	t.MeasurementTime = c.timestamp()
	return c.err
}

// PTPMonMTIERequestTLV asks a port for its MTIE window. It has no value.
type PTPMonMTIERequestTLV struct{}

// Type implements TLV
func (t *PTPMonMTIERequestTLV) Type() TLVType { return TLVPTPMonMTIERequest }

// Len implements TLV
func (t *PTPMonMTIERequestTLV) Len() int { return 0 }

// MarshalBinaryTo implements TLV
func (t *PTPMonMTIERequestTLV) MarshalBinaryTo(_ []byte) (int, error) { return 0, nil }

// UnmarshalBinary implements TLV
func (t *PTPMonMTIERequestTLV) UnmarshalBinary(_ []byte) error { return nil }

// PTPMonMTIEResponseTLV reports the extremes of offset from master over the last window
type PTPMonMTIEResponseTLV struct {
	WindowNumber        uint16
	WindowDuration      uint16 // seconds
	MinOffsetFromMaster TimeInterval
	MaxOffsetFromMaster TimeInterval
	MinOffsetTime       Timestamp
	MaxOffsetTime       Timestamp
}

// Type implements TLV
func (t *PTPMonMTIEResponseTLV) Type() TLVType { return TLVPTPMonMTIEResponse }

// Len implements TLV
func (t *PTPMonMTIEResponseTLV) Len() int { return ptpMonMTIEResponseLen }

// MTIE returns the maximum time interval error over the window
func (t *PTPMonMTIEResponseTLV) MTIE() TimeInterval {
	return t.MaxOffsetFromMaster - t.MinOffsetFromMaster
}

// MarshalBinaryTo implements TLV
func (t *PTPMonMTIEResponseTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u16(t.WindowNumber)
	w.u16(t.WindowDuration)
	w.u64(uint64(t.MinOffsetFromMaster))
	w.u64(uint64(t.MaxOffsetFromMaster))
	w.timestamp(t.MinOffsetTime)
	w.timestamp(t.MaxOffsetTime)
	return w.result()
}

// UnmarshalBinary implements TLV
func (t *PTPMonMTIEResponseTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.WindowNumber = c.u16()
	t.WindowDuration = c.u16()
	t.MinOffsetFromMaster = TimeInterval(c.u64())
	t.MaxOffsetFromMaster = TimeInterval(c.u64())
	t.MinOffsetTime = c.timestamp()
	t.MaxOffsetTime = c.timestamp()
	return c.err
}
