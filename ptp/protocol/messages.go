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

// Body is one of the ten message bodies following the common header
type Body interface {
	MessageType() MessageType
	// BodySize is the fixed size of the body without the header
	BodySize() int
	MarshalBinaryTo(b []byte) (int, error)
	UnmarshalBinary(b []byte) error
}

// Body sizes, without the common header
const (
	timestampBodySize  = timestampSize
	twoFieldBodySize   = timestampSize + portIdentitySize
	announceBodySize   = 30
	signalingBodySize  = portIdentitySize
	managementBodySize = portIdentitySize + 4
)

// NewBody returns an empty body for the message type
func NewBody(t MessageType) (Body, error) {
	switch t {
	case MessageSync:
		return &SyncBody{}, nil
	case MessageDelayReq:
		return &DelayReqBody{}, nil
	case MessagePDelayReq:
		return &PDelayReqBody{}, nil
	case MessagePDelayResp:
		return &PDelayRespBody{}, nil
	case MessageFollowUp:
		return &FollowUpBody{}, nil
	case MessageDelayResp:
		return &DelayRespBody{}, nil
	case MessagePDelayRespFollowUp:
		return &PDelayRespFollowUpBody{}, nil
	case MessageAnnounce:
		return &AnnounceBody{}, nil
	case MessageSignaling:
		return &SignalingBody{}, nil
	case MessageManagement:
		return &ManagementBody{}, nil
	}
	return nil, newDecodeError(DecodeUnknownType, "message type %d", t)
}

func checkBodyBuf(b []byte, size int) error {
	if len(b) < size {
		return fmt.Errorf("need %d bytes, got %d: %w", size, len(b), ErrBufferTooSmall)
	}
	return nil
}

// SyncBody Table 44 Sync and Delay_Req message fields
type SyncBody struct {
	OriginTimestamp Timestamp
}

// MessageType implements Body
func (p *SyncBody) MessageType() MessageType { return MessageSync }

// BodySize implements Body
func (p *SyncBody) BodySize() int { return timestampBodySize }

// MarshalBinaryTo implements Body
func (p *SyncBody) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkBodyBuf(b, timestampBodySize); err != nil {
		return 0, err
	}
	p.OriginTimestamp.marshalTo(b)
	return timestampBodySize, nil
}

// UnmarshalBinary implements Body
func (p *SyncBody) UnmarshalBinary(b []byte) error {
	if err := checkBodyBuf(b, timestampBodySize); err != nil {
		return err
	}
	p.OriginTimestamp.unmarshal(b)
	return nil
}

// DelayReqBody Table 44 Sync and Delay_Req message fields
type DelayReqBody struct {
	OriginTimestamp Timestamp
}

// MessageType implements Body
func (p *DelayReqBody) MessageType() MessageType { return MessageDelayReq }

// BodySize implements Body
func (p *DelayReqBody) BodySize() int { return timestampBodySize }

// MarshalBinaryTo implements Body
func (p *DelayReqBody) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkBodyBuf(b, timestampBodySize); err != nil {
		return 0, err
	}
	p.OriginTimestamp.marshalTo(b)
	return timestampBodySize, nil
}

// UnmarshalBinary implements Body
func (p *DelayReqBody) UnmarshalBinary(b []byte) error {
	if err := checkBodyBuf(b, timestampBodySize); err != nil {
		return err
	}
	p.OriginTimestamp.unmarshal(b)
	return nil
}

// FollowUpBody Table 45 Follow_Up message fields
type FollowUpBody struct {
	PreciseOriginTimestamp Timestamp
}

// MessageType implements Body
func (p *FollowUpBody) MessageType() MessageType { return MessageFollowUp }

// BodySize implements Body
func (p *FollowUpBody) BodySize() int { return timestampBodySize }

// MarshalBinaryTo implements Body
func (p *FollowUpBody) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkBodyBuf(b, timestampBodySize); err != nil {
		return 0, err
	}
	p.PreciseOriginTimestamp.marshalTo(b)
	return timestampBodySize, nil
}

// UnmarshalBinary implements Body
func (p *FollowUpBody) UnmarshalBinary(b []byte) error {
	if err := checkBodyBuf(b, timestampBodySize); err != nil {
		return err
	}
	p.PreciseOriginTimestamp.unmarshal(b)
	return nil
}

// timestampAndPort is the shared layout of bodies carrying a timestamp and a port identity
type timestampAndPort struct {
	ts   *Timestamp
	port *PortIdentity
}

func (f timestampAndPort) marshalTo(b []byte) (int, error) {
	if err := checkBodyBuf(b, twoFieldBodySize); err != nil {
		return 0, err
	}
	f.ts.marshalTo(b)
	f.port.marshalTo(b[timestampSize:])
	return twoFieldBodySize, nil
}

func (f timestampAndPort) unmarshal(b []byte) error {
	if err := checkBodyBuf(b, twoFieldBodySize); err != nil {
		return err
	}
	f.ts.unmarshal(b)
	f.port.unmarshal(b[timestampSize:])
	return nil
}

// DelayRespBody Table 46 Delay_Resp message fields
type DelayRespBody struct {
	ReceiveTimestamp       Timestamp
	RequestingPortIdentity PortIdentity
}

func (p *DelayRespBody) fields() timestampAndPort {
	return timestampAndPort{&p.ReceiveTimestamp, &p.RequestingPortIdentity}
}

// MessageType implements Body
func (p *DelayRespBody) MessageType() MessageType { return MessageDelayResp }

// BodySize implements Body
func (p *DelayRespBody) BodySize() int { return twoFieldBodySize }

// MarshalBinaryTo implements Body
func (p *DelayRespBody) MarshalBinaryTo(b []byte) (int, error) { return p.fields().marshalTo(b) }

// UnmarshalBinary implements Body
func (p *DelayRespBody) UnmarshalBinary(b []byte) error { return p.fields().unmarshal(b) }

// PDelayReqBody Table 47 Pdelay_Req message fields
type PDelayReqBody struct {
	OriginTimestamp Timestamp
	Reserved        [10]uint8
}

// MessageType implements Body
func (p *PDelayReqBody) MessageType() MessageType { return MessagePDelayReq }

// BodySize implements Body
func (p *PDelayReqBody) BodySize() int { return twoFieldBodySize }

// MarshalBinaryTo implements Body
func (p *PDelayReqBody) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkBodyBuf(b, twoFieldBodySize); err != nil {
		return 0, err
	}
	p.OriginTimestamp.marshalTo(b)
	copy(b[timestampSize:], p.Reserved[:])
	return twoFieldBodySize, nil
}

// UnmarshalBinary implements Body
func (p *PDelayReqBody) UnmarshalBinary(b []byte) error {
	if err := checkBodyBuf(b, twoFieldBodySize); err != nil {
		return err
	}
	p.OriginTimestamp.unmarshal(b)
	copy(p.Reserved[:], b[timestampSize:twoFieldBodySize])
	return nil
}

// PDelayRespBody Table 48 Pdelay_Resp message fields
type PDelayRespBody struct {
	RequestReceiptTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

func (p *PDelayRespBody) fields() timestampAndPort {
	return timestampAndPort{&p.RequestReceiptTimestamp, &p.RequestingPortIdentity}
}

// MessageType implements Body
func (p *PDelayRespBody) MessageType() MessageType { return MessagePDelayResp }

// BodySize implements Body
func (p *PDelayRespBody) BodySize() int { return twoFieldBodySize }

// MarshalBinaryTo implements Body
func (p *PDelayRespBody) MarshalBinaryTo(b []byte) (int, error) { return p.fields().marshalTo(b) }

// UnmarshalBinary implements Body
func (p *PDelayRespBody) UnmarshalBinary(b []byte) error { return p.fields().unmarshal(b) }

// PDelayRespFollowUpBody Table 49 Pdelay_Resp_Follow_Up message fields
type PDelayRespFollowUpBody struct {
	ResponseOriginTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

func (p *PDelayRespFollowUpBody) fields() timestampAndPort {
	return timestampAndPort{&p.ResponseOriginTimestamp, &p.RequestingPortIdentity}
}

// MessageType implements Body
func (p *PDelayRespFollowUpBody) MessageType() MessageType { return MessagePDelayRespFollowUp }

// BodySize implements Body
func (p *PDelayRespFollowUpBody) BodySize() int { return twoFieldBodySize }

// MarshalBinaryTo implements Body
func (p *PDelayRespFollowUpBody) MarshalBinaryTo(b []byte) (int, error) {
	return p.fields().marshalTo(b)
}

// UnmarshalBinary implements Body
func (p *PDelayRespFollowUpBody) UnmarshalBinary(b []byte) error { return p.fields().unmarshal(b) }

// AnnounceBody Table 43 Announce message fields
type AnnounceBody struct {
	OriginTimestamp         Timestamp
	CurrentUTCOffset        int16
	Reserved                uint8
	GrandmasterPriority1    uint8
	GrandmasterClockQuality ClockQuality
	GrandmasterPriority2    uint8
	GrandmasterIdentity     ClockIdentity
	StepsRemoved            uint16
	TimeSource              TimeSource
}

// MessageType implements Body
func (p *AnnounceBody) MessageType() MessageType { return MessageAnnounce }

// BodySize implements Body
func (p *AnnounceBody) BodySize() int { return announceBodySize }

// MarshalBinaryTo implements Body
func (p *AnnounceBody) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkBodyBuf(b, announceBodySize); err != nil {
		return 0, err
	}
	p.OriginTimestamp.marshalTo(b)
	binary.BigEndian.PutUint16(b[10:], uint16(p.CurrentUTCOffset))
	b[12] = p.Reserved
	b[13] = p.GrandmasterPriority1
	p.GrandmasterClockQuality.marshalTo(b[14:])
	b[18] = p.GrandmasterPriority2
	binary.BigEndian.PutUint64(b[19:], uint64(p.GrandmasterIdentity))
	binary.BigEndian.PutUint16(b[27:], p.StepsRemoved)
	b[29] = byte(p.TimeSource)
	return announceBodySize, nil
}

// UnmarshalBinary implements Body
func (p *AnnounceBody) UnmarshalBinary(b []byte) error {
	if err := checkBodyBuf(b, announceBodySize); err != nil {
		return err
	}
	p.OriginTimestamp.unmarshal(b)
	p.CurrentUTCOffset = int16(binary.BigEndian.Uint16(b[10:]))
	p.Reserved = b[12]
	p.GrandmasterPriority1 = b[13]
	p.GrandmasterClockQuality.unmarshal(b[14:])
	p.GrandmasterPriority2 = b[18]
	p.GrandmasterIdentity = ClockIdentity(binary.BigEndian.Uint64(b[19:]))
	p.StepsRemoved = binary.BigEndian.Uint16(b[27:])
	p.TimeSource = TimeSource(b[29])
	return nil
}

// SignalingBody Table 51 Signaling message fields, TLVs follow
type SignalingBody struct {
	TargetPortIdentity PortIdentity
}

// MessageType implements Body
func (p *SignalingBody) MessageType() MessageType { return MessageSignaling }

// BodySize implements Body
func (p *SignalingBody) BodySize() int { return signalingBodySize }

// MarshalBinaryTo implements Body
func (p *SignalingBody) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkBodyBuf(b, signalingBodySize); err != nil {
		return 0, err
	}
	p.TargetPortIdentity.marshalTo(b)
	return signalingBodySize, nil
}

// UnmarshalBinary implements Body
func (p *SignalingBody) UnmarshalBinary(b []byte) error {
	if err := checkBodyBuf(b, signalingBodySize); err != nil {
		return err
	}
	p.TargetPortIdentity.unmarshal(b)
	return nil
}

// Action indicate the action to be taken on receipt of the PTP message as defined in Table 57
type Action uint8

// actions as in Table 57 Values of the actionField
const (
	GET Action = iota
	SET
	RESPONSE
	COMMAND
	ACKNOWLEDGE
)

var actionToString = map[Action]string{
	GET:         "GET",
	SET:         "SET",
	RESPONSE:    "RESPONSE",
	COMMAND:     "COMMAND",
	ACKNOWLEDGE: "ACKNOWLEDGE",
}

func (a Action) String() string {
	if s, ok := actionToString[a]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(a))
}

// ManagementBody Table 56 Management message fields, the management TLV follows
type ManagementBody struct {
	TargetPortIdentity   PortIdentity
	StartingBoundaryHops uint8
	BoundaryHops         uint8
	ActionField          Action // lower nibble, upper one is reserved
	Reserved             uint8
}

// MessageType implements Body
func (p *ManagementBody) MessageType() MessageType { return MessageManagement }

// BodySize implements Body
func (p *ManagementBody) BodySize() int { return managementBodySize }

// Action returns the management action with the reserved nibble masked out
func (p *ManagementBody) Action() Action {
	return Action(lowerNibble(uint8(p.ActionField)))
}

// MarshalBinaryTo implements Body
func (p *ManagementBody) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkBodyBuf(b, managementBodySize); err != nil {
		return 0, err
	}
	p.TargetPortIdentity.marshalTo(b)
	b[10] = p.StartingBoundaryHops
	b[11] = p.BoundaryHops
	b[12] = setLowerNibble(0, uint8(p.ActionField))
	b[13] = p.Reserved
	return managementBodySize, nil
}

// UnmarshalBinary implements Body
func (p *ManagementBody) UnmarshalBinary(b []byte) error {
	if err := checkBodyBuf(b, managementBodySize); err != nil {
		return err
	}
	p.TargetPortIdentity.unmarshal(b)
	p.StartingBoundaryHops = b[10]
	p.BoundaryHops = b[11]
	p.ActionField = Action(lowerNibble(b[12]))
	p.Reserved = b[13]
	return nil
}
