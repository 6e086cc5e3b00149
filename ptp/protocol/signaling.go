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

// fixed value lengths of unicast negotiation TLVs
const (
	requestUnicastLen = 6
	grantUnicastLen   = 8
	cancelUnicastLen  = 2
)

// UnicastMsgTypeAndFlags is a uint8 where first 4 bites contain MessageType and last 4 bits contain some flags
type UnicastMsgTypeAndFlags uint8

// MsgType extracts MessageType from UnicastMsgTypeAndFlags
func (m UnicastMsgTypeAndFlags) MsgType() MessageType {
	return MessageType(upperNibble(uint8(m)))
}

// Flags extracts the lower nibble
func (m UnicastMsgTypeAndFlags) Flags() uint8 {
	return lowerNibble(uint8(m))
}

// NewUnicastMsgTypeAndFlags builds new UnicastMsgTypeAndFlags from MessageType and flags
func NewUnicastMsgTypeAndFlags(msgType MessageType, flags uint8) UnicastMsgTypeAndFlags {
	return UnicastMsgTypeAndFlags(setLowerNibble(setUpperNibble(0, uint8(msgType)), flags))
}

// cancel and acknowledge cancel carry the message type and the maintain flags in one octet
const (
	// UnicastFlagMaintainRequest asks the grantor to keep existing grants (16.1.4.4)
	UnicastFlagMaintainRequest uint8 = 1 << 0
	// UnicastFlagMaintainGrant asks the grantee to keep existing grants
	UnicastFlagMaintainGrant uint8 = 1 << 1
)

// GrantRenewalInvited is the R flag of GrantUnicastTransmissionTLV
const GrantRenewalInvited uint8 = 1

// RequestUnicastTransmissionTLV Table 110 REQUEST_UNICAST_TRANSMISSION TLV format
type RequestUnicastTransmissionTLV struct {
	MsgTypeAndReserved    UnicastMsgTypeAndFlags // first 4 bits only, same enums as with normal message type
	LogInterMessagePeriod LogInterval
	DurationField         uint32
}

// Type implements TLV
func (t *RequestUnicastTransmissionTLV) Type() TLVType { return TLVRequestUnicastTransmission }

// Len implements TLV
func (t *RequestUnicastTransmissionTLV) Len() int { return requestUnicastLen }

// MarshalBinaryTo implements TLV
func (t *RequestUnicastTransmissionTLV) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkTLVValue(b, requestUnicastLen, t.Type()); err != nil {
		return 0, err
	}
	b[0] = byte(t.MsgTypeAndReserved)
	b[1] = byte(t.LogInterMessagePeriod)
	binary.BigEndian.PutUint32(b[2:], t.DurationField)
	return requestUnicastLen, nil
}

// UnmarshalBinary implements TLV
func (t *RequestUnicastTransmissionTLV) UnmarshalBinary(b []byte) error {
	if err := checkTLVValue(b, requestUnicastLen, t.Type()); err != nil {
		return err
	}
	t.MsgTypeAndReserved = UnicastMsgTypeAndFlags(b[0])
	t.LogInterMessagePeriod = LogInterval(b[1])
	t.DurationField = binary.BigEndian.Uint32(b[2:])
	return nil
}

// GrantUnicastTransmissionTLV Table 111 GRANT_UNICAST_TRANSMISSION TLV format
type GrantUnicastTransmissionTLV struct {
	MsgTypeAndReserved    UnicastMsgTypeAndFlags // first 4 bits only, same enums as with normal message type
	LogInterMessagePeriod LogInterval
	DurationField         uint32
	Reserved              uint8
	Renewal               uint8
}

// Type implements TLV
func (t *GrantUnicastTransmissionTLV) Type() TLVType { return TLVGrantUnicastTransmission }

// Len implements TLV
func (t *GrantUnicastTransmissionTLV) Len() int { return grantUnicastLen }

// RenewalInvited reports the R flag
func (t *GrantUnicastTransmissionTLV) RenewalInvited() bool {
	return t.Renewal&GrantRenewalInvited != 0
}

// MarshalBinaryTo implements TLV
func (t *GrantUnicastTransmissionTLV) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkTLVValue(b, grantUnicastLen, t.Type()); err != nil {
		return 0, err
	}
	b[0] = byte(t.MsgTypeAndReserved)
	b[1] = byte(t.LogInterMessagePeriod)
	binary.BigEndian.PutUint32(b[2:], t.DurationField)
	b[6] = t.Reserved
	b[7] = t.Renewal
	return grantUnicastLen, nil
}

// UnmarshalBinary implements TLV
func (t *GrantUnicastTransmissionTLV) UnmarshalBinary(b []byte) error {
	if err := checkTLVValue(b, grantUnicastLen, t.Type()); err != nil {
		return err
	}
	t.MsgTypeAndReserved = UnicastMsgTypeAndFlags(b[0])
	t.LogInterMessagePeriod = LogInterval(b[1])
	t.DurationField = binary.BigEndian.Uint32(b[2:])
	t.Reserved = b[6]
	t.Renewal = b[7]
	return nil
}

// CancelUnicastTransmissionTLV Table 112 CANCEL_UNICAST_TRANSMISSION TLV format
type CancelUnicastTransmissionTLV struct {
	MsgTypeAndFlags UnicastMsgTypeAndFlags // first 4 bits is msg type, then flags R and/or G
	Reserved        uint8
}

// Type implements TLV
func (t *CancelUnicastTransmissionTLV) Type() TLVType { return TLVCancelUnicastTransmission }

// Len implements TLV
func (t *CancelUnicastTransmissionTLV) Len() int { return cancelUnicastLen }

// MarshalBinaryTo implements TLV
func (t *CancelUnicastTransmissionTLV) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkTLVValue(b, cancelUnicastLen, t.Type()); err != nil {
		return 0, err
	}
	b[0] = byte(t.MsgTypeAndFlags)
	b[1] = t.Reserved
	return cancelUnicastLen, nil
}

// UnmarshalBinary implements TLV
func (t *CancelUnicastTransmissionTLV) UnmarshalBinary(b []byte) error {
	if err := checkTLVValue(b, cancelUnicastLen, t.Type()); err != nil {
		return err
	}
	t.MsgTypeAndFlags = UnicastMsgTypeAndFlags(b[0])
	t.Reserved = b[1]
	return nil
}

// AcknowledgeCancelUnicastTransmissionTLV Table 113 ACKNOWLEDGE_CANCEL_UNICAST_TRANSMISSION TLV format
type AcknowledgeCancelUnicastTransmissionTLV struct {
	MsgTypeAndFlags UnicastMsgTypeAndFlags // first 4 bits is msg type, then flags R and/or G
	Reserved        uint8
}

// Type implements TLV
func (t *AcknowledgeCancelUnicastTransmissionTLV) Type() TLVType {
	return TLVAcknowledgeCancelUnicastTransmission
}

// Len implements TLV
func (t *AcknowledgeCancelUnicastTransmissionTLV) Len() int { return cancelUnicastLen }

// MarshalBinaryTo implements TLV
func (t *AcknowledgeCancelUnicastTransmissionTLV) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkTLVValue(b, cancelUnicastLen, t.Type()); err != nil {
		return 0, err
	}
	b[0] = byte(t.MsgTypeAndFlags)
	b[1] = t.Reserved
	return cancelUnicastLen, nil
}

// UnmarshalBinary implements TLV
func (t *AcknowledgeCancelUnicastTransmissionTLV) UnmarshalBinary(b []byte) error {
	if err := checkTLVValue(b, cancelUnicastLen, t.Type()); err != nil {
		return err
	}
	t.MsgTypeAndFlags = UnicastMsgTypeAndFlags(b[0])
	t.Reserved = b[1]
	return nil
}
