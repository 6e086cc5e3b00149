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
)

// what version of PTP protocol we implement
const (
	MajorVersion     uint8 = 2
	MinorVersion     uint8 = 1
	Version                = MajorVersion | MinorVersion<<4
	MajorVersionMask uint8 = 0x0f
)

// UDP ports PTP messages are exchanged on
const (
	PortEvent   = 319
	PortGeneral = 320
)

// HeaderSize is the size of the common message header
const HeaderSize = 34

// flags used in FlagField as per Table 37 Values of flagField
const (
	// first octet
	FlagAlternateMaster  uint16 = 1 << (8 + 0)
	FlagTwoStep          uint16 = 1 << (8 + 1)
	FlagUnicast          uint16 = 1 << (8 + 2)
	FlagProfileSpecific1 uint16 = 1 << (8 + 5)
	FlagProfileSpecific2 uint16 = 1 << (8 + 6)
	FlagSecurity         uint16 = 1 << (8 + 7)
	// second octet
	FlagLeap61                   uint16 = 1 << 0
	FlagLeap59                   uint16 = 1 << 1
	FlagCurrentUtcOffsetValid    uint16 = 1 << 2
	FlagPTPTimescale             uint16 = 1 << 3
	FlagTimeTraceable            uint16 = 1 << 4
	FlagFrequencyTraceable       uint16 = 1 << 5
	FlagSynchronizationUncertain uint16 = 1 << 6
)

// Header Table 35 Common message header format
type Header struct {
	SdoIDAndMsgType     SdoIDAndMsgType // first 4 bits is SdoId, next 4 bytes are msgtype
	Version             VersionField
	MessageLength       uint16
	DomainNumber        uint8
	MinorSdoID          uint8
	FlagField           uint16
	CorrectionField     Correction
	MessageTypeSpecific uint32
	SourcePortIdentity  PortIdentity
	SequenceID          uint16
	ControlField        uint8 // the use of this field is obsolete according to IEEE, unless it's ipv4
	LogMessageInterval  LogInterval
}

// MessageType returns MessageType
func (p *Header) MessageType() MessageType {
	return p.SdoIDAndMsgType.MsgType()
}

// SetSequence populates sequence field
func (p *Header) SetSequence(sequence uint16) {
	p.SequenceID = sequence
}

// Flags expands the two flag octets into named booleans
func (p *Header) Flags() Flags {
	f := p.FlagField
	return Flags{
		AlternateMaster:          f&FlagAlternateMaster != 0,
		TwoStep:                  f&FlagTwoStep != 0,
		Unicast:                  f&FlagUnicast != 0,
		ProfileSpecific1:         f&FlagProfileSpecific1 != 0,
		ProfileSpecific2:         f&FlagProfileSpecific2 != 0,
		Security:                 f&FlagSecurity != 0,
		Leap61:                   f&FlagLeap61 != 0,
		Leap59:                   f&FlagLeap59 != 0,
		CurrentUtcOffsetValid:    f&FlagCurrentUtcOffsetValid != 0,
		PTPTimescale:             f&FlagPTPTimescale != 0,
		TimeTraceable:            f&FlagTimeTraceable != 0,
		FrequencyTraceable:       f&FlagFrequencyTraceable != 0,
		SynchronizationUncertain: f&FlagSynchronizationUncertain != 0,
	}
}

// SetFlags replaces the whole flag field, so no bit survives from a previous use of the header
func (p *Header) SetFlags(f Flags) {
	p.FlagField = f.Field()
}

// Flags is the named view of Header.FlagField
type Flags struct {
	AlternateMaster          bool
	TwoStep                  bool
	Unicast                  bool
	ProfileSpecific1         bool
	ProfileSpecific2         bool
	Security                 bool
	Leap61                   bool
	Leap59                   bool
	CurrentUtcOffsetValid    bool
	PTPTimescale             bool
	TimeTraceable            bool
	FrequencyTraceable       bool
	SynchronizationUncertain bool
}

// Field packs Flags back into the two flag octets
func (f Flags) Field() uint16 {
	var v uint16
	set := func(cond bool, bit uint16) {
		if cond {
			v |= bit
		}
	}
	set(f.AlternateMaster, FlagAlternateMaster)
	set(f.TwoStep, FlagTwoStep)
	set(f.Unicast, FlagUnicast)
	set(f.ProfileSpecific1, FlagProfileSpecific1)
	set(f.ProfileSpecific2, FlagProfileSpecific2)
	set(f.Security, FlagSecurity)
	set(f.Leap61, FlagLeap61)
	set(f.Leap59, FlagLeap59)
	set(f.CurrentUtcOffsetValid, FlagCurrentUtcOffsetValid)
	set(f.PTPTimescale, FlagPTPTimescale)
	set(f.TimeTraceable, FlagTimeTraceable)
	set(f.FrequencyTraceable, FlagFrequencyTraceable)
	set(f.SynchronizationUncertain, FlagSynchronizationUncertain)
	return v
}

// MarshalBinaryTo writes the header into b
func (p *Header) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < HeaderSize {
		return 0, ErrBufferTooSmall
	}
	b[0] = byte(p.SdoIDAndMsgType)
	b[1] = byte(p.Version)
	binary.BigEndian.PutUint16(b[2:], p.MessageLength)
	b[4] = p.DomainNumber
	b[5] = p.MinorSdoID
	binary.BigEndian.PutUint16(b[6:], p.FlagField)
	binary.BigEndian.PutUint64(b[8:], uint64(p.CorrectionField))
	binary.BigEndian.PutUint32(b[16:], p.MessageTypeSpecific)
	p.SourcePortIdentity.marshalTo(b[20:])
	binary.BigEndian.PutUint16(b[30:], p.SequenceID)
	b[32] = p.ControlField
	b[33] = byte(p.LogMessageInterval)
	return HeaderSize, nil
}

// UnmarshalBinary populates the header from b
func (p *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return newDecodeError(DecodeHeaderTooShort, "need %d bytes, got %d", HeaderSize, len(b))
	}
	p.SdoIDAndMsgType = SdoIDAndMsgType(b[0])
	p.Version = VersionField(b[1])
	p.MessageLength = binary.BigEndian.Uint16(b[2:])
	p.DomainNumber = b[4]
	p.MinorSdoID = b[5]
	p.FlagField = binary.BigEndian.Uint16(b[6:])
	p.CorrectionField = Correction(binary.BigEndian.Uint64(b[8:]))
	p.MessageTypeSpecific = binary.BigEndian.Uint32(b[16:])
	p.SourcePortIdentity.unmarshal(b[20:])
	p.SequenceID = binary.BigEndian.Uint16(b[30:])
	p.ControlField = b[32]
	p.LogMessageInterval = LogInterval(b[33])
	return nil
}

// controlField values, Table 42, still set for compatibility with v1 hardware
var controlFields = map[MessageType]uint8{
	MessageSync:       0,
	MessageDelayReq:   1,
	MessageFollowUp:   2,
	MessageDelayResp:  3,
	MessageManagement: 4,
}

// ControlFieldFor returns deprecated controlField value for the message type
func ControlFieldFor(t MessageType) uint8 {
	if v, ok := controlFields[t]; ok {
		return v
	}
	return 5
}
