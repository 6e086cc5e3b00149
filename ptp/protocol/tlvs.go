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
	"errors"
	"fmt"
)

// TLVHeadSize is the size of tlvType and lengthField
const TLVHeadSize = 4

// TLV abstracts away any TLV. Marshal and unmarshal work on the value only,
// the head is written by MarshalTLV using Len.
type TLV interface {
	Type() TLVType
	// Len is the value length before padding
	Len() int
	MarshalBinaryTo(b []byte) (int, error)
	UnmarshalBinary(b []byte) error
}

// TLVHead is common part of all TLVs
type TLVHead struct {
	TLVType     TLVType
	LengthField uint16
}

// Type implements TLV interface
func (t TLVHead) Type() TLVType {
	return t.TLVType
}

func (t *TLVHead) unmarshal(b []byte) {
	t.TLVType = TLVType(binary.BigEndian.Uint16(b))
	t.LengthField = binary.BigEndian.Uint16(b[2:])
}

// evenLen rounds a value length up to even, one pad octet at most
func evenLen(n int) int {
	return n + n%2
}

// TLVSize returns the number of bytes TLV takes on the wire, including head and padding
func TLVSize(t TLV) int {
	return TLVHeadSize + evenLen(t.Len())
}

// MarshalTLV writes head, value and padding of TLV into b.
// lengthField is taken from Len, so it always matches what is written.
func MarshalTLV(t TLV, b []byte) (int, error) {
	l := t.Len()
	size := TLVHeadSize + evenLen(l)
	if size-TLVHeadSize > 0xffff {
		return 0, fmt.Errorf("%s value of %d bytes doesn't fit lengthField", t.Type(), l)
	}
	if len(b) < size {
		return 0, fmt.Errorf("writing %s of %d bytes: %w", t.Type(), size, ErrBufferTooSmall)
	}
	binary.BigEndian.PutUint16(b, uint16(t.Type()))
	binary.BigEndian.PutUint16(b[2:], uint16(evenLen(l)))
	n, err := t.MarshalBinaryTo(b[TLVHeadSize : TLVHeadSize+l])
	if err != nil {
		return 0, fmt.Errorf("writing %s: %w", t.Type(), err)
	}
	if n != l {
		return 0, fmt.Errorf("%s wrote %d bytes, announced %d", t.Type(), n, l)
	}
	if l%2 != 0 {
		b[TLVHeadSize+l] = 0
	}
	return size, nil
}

func writeTLVs(tlvs []TLV, b []byte) (int, error) {
	pos := 0
	for _, tlv := range tlvs {
		n, err := MarshalTLV(tlv, b[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
	}
	return pos, nil
}

// tlvFamily describes how a tlvType is decoded
type tlvFamily struct {
	newTLV func(TLVType) TLV
	minLen int
}

var tlvRegistry = map[TLVType]tlvFamily{
	TLVManagement:                           {func(TLVType) TLV { return &ManagementTLV{} }, managementIDSize},
	TLVManagementErrorStatus:                {func(TLVType) TLV { return &ManagementErrorStatusTLV{} }, managementErrorStatusMinLen},
	TLVOrganizationExtension:                {newOrganizationExtension, organizationExtensionMinLen},
	TLVOrganizationExtensionPropagate:       {newOrganizationExtension, organizationExtensionMinLen},
	TLVOrganizationExtensionDoNotPropagate:  {newOrganizationExtension, organizationExtensionMinLen},
	TLVRequestUnicastTransmission:           {func(TLVType) TLV { return &RequestUnicastTransmissionTLV{} }, requestUnicastLen},
	TLVGrantUnicastTransmission:             {func(TLVType) TLV { return &GrantUnicastTransmissionTLV{} }, grantUnicastLen},
	TLVCancelUnicastTransmission:            {func(TLVType) TLV { return &CancelUnicastTransmissionTLV{} }, cancelUnicastLen},
	TLVAcknowledgeCancelUnicastTransmission: {func(TLVType) TLV { return &AcknowledgeCancelUnicastTransmissionTLV{} }, cancelUnicastLen},
	TLVPathTrace:                            {func(TLVType) TLV { return &PathTraceTLV{} }, 0},
	TLVAlternateTimeOffsetIndicator:         {func(TLVType) TLV { return &AlternateTimeOffsetIndicatorTLV{} }, atoiMinLen},
	TLVCumulativeFrequencyScaleFactorOffset: {func(TLVType) TLV { return &CumulativeFrequencyScaleFactorOffsetTLV{} }, cumFreqLen},
	TLVPTPMonRequest:                        {func(TLVType) TLV { return &PTPMonRequestTLV{} }, 0},
	TLVPTPMonResponse:                       {func(TLVType) TLV { return &PTPMonResponseTLV{} }, ptpMonResponseMinLen},
	TLVPTPMonMTIERequest:                    {func(TLVType) TLV { return &PTPMonMTIERequestTLV{} }, 0},
	TLVPTPMonMTIEResponse:                   {func(TLVType) TLV { return &PTPMonMTIEResponseTLV{} }, ptpMonMTIEResponseLen},
}

// DecodeTLV decodes a single TLV from b, which must start with the TLV head.
// It returns the TLV and the number of bytes consumed.
// Unknown and unsupported TLVs are reported as such and still consume their bytes,
// so the caller can skip them.
func DecodeTLV(b []byte) (TLV, int, error) {
	if len(b) < TLVHeadSize {
		return nil, 0, newDecodeError(DecodeCorruptTLV, "%d bytes left for TLV head", len(b))
	}
	head := TLVHead{}
	head.unmarshal(b)
	size := TLVHeadSize + int(head.LengthField)
	if size > len(b) {
		return nil, 0, newDecodeError(DecodeCorruptTLV, "%s claims %d bytes, only %d left", head.TLVType, head.LengthField, len(b)-TLVHeadSize)
	}
	if head.TLVType >= tlvAuthenticationFirst && head.TLVType <= tlvAuthenticationLast {
		return nil, size, newDecodeError(DecodeUnsupportedTLV, "%s", head.TLVType)
	}
	family, ok := tlvRegistry[head.TLVType]
	if !ok {
		return nil, size, newDecodeError(DecodeUnknownTLV, "%s", head.TLVType)
	}
	if int(head.LengthField) < family.minLen {
		return nil, 0, newDecodeError(DecodeCorruptTLV, "%s length %d is below minimum %d", head.TLVType, head.LengthField, family.minLen)
	}
	tlv := family.newTLV(head.TLVType)
	value := b[TLVHeadSize:size]
	if err := tlv.UnmarshalBinary(value); err != nil {
		var de *DecodeError
		if errors.As(err, &de) && (de.Kind == DecodeUnknownTLV || de.Kind == DecodeUnsupportedTLV) {
			return nil, size, err
		}
		return nil, 0, newDecodeError(DecodeCorruptTLV, "%s: %v", head.TLVType, err)
	}
	// the decoded content must account for the whole value, allowing for one pad octet
	if l := tlv.Len(); l != int(head.LengthField) && evenLen(l) != int(head.LengthField) {
		return nil, 0, newDecodeError(DecodeCorruptTLV, "%s lengthField %d, decoded %d bytes", head.TLVType, head.LengthField, l)
	}
	return tlv, size, nil
}

func checkTLVValue(b []byte, want int, t TLVType) error {
	if len(b) < want {
		return fmt.Errorf("%s needs %d bytes, got %d: %w", t, want, len(b), ErrBufferTooSmall)
	}
	return nil
}
