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
	"errors"
	"fmt"
)

// Message is the common header, one of the ten bodies and the TLVs that follow, in wire order
type Message struct {
	Header
	Body Body
	TLVs []TLV
	// IsEvent is set for Sync, Delay_Req, Pdelay_Req and Pdelay_Resp
	IsEvent bool
	// Dropped counts unknown and unsupported TLVs skipped on decode
	Dropped int
}

// NewMessage builds a Message around body with the header fields that depend on the type filled in
func NewMessage(body Body) *Message {
	t := body.MessageType()
	m := &Message{
		Header: Header{
			SdoIDAndMsgType: NewSdoIDAndMsgType(t, 0),
			Version:         NewVersionField(MajorVersion, MinorVersion),
			ControlField:    ControlFieldFor(t),
		},
		Body:    body,
		IsEvent: t.IsEvent(),
	}
	m.MessageLength = uint16(m.Len())
	return m
}

// Len returns the exact number of bytes Message takes on the wire
func (m *Message) Len() int {
	n := HeaderSize
	if m.Body != nil {
		n += m.Body.BodySize()
	}
	for _, tlv := range m.TLVs {
		n += TLVSize(tlv)
	}
	return n
}

// AddTLV appends tlv, keeping messageLength in sync
func (m *Message) AddTLV(tlv TLV) {
	m.TLVs = append(m.TLVs, tlv)
	m.MessageLength = uint16(m.Len())
}

// Pack serializes m into b and returns the number of bytes written.
// Body goes first, then TLVs in order, and the header last, once messageLength is known.
func Pack(m *Message, b []byte) (int, error) {
	if m.Body == nil {
		return 0, &EncodeError{Kind: EncodeOther, Err: fmt.Errorf("message has no body")}
	}
	size := m.Len()
	if size > 0xffff {
		return 0, &EncodeError{Kind: EncodeOther, Err: fmt.Errorf("message of %d bytes doesn't fit messageLength", size)}
	}
	if len(b) < size {
		return 0, &EncodeError{Kind: EncodeBufferTooSmall, Err: fmt.Errorf("need %d bytes, have %d", size, len(b))}
	}
	pos := HeaderSize
	n, err := m.Body.MarshalBinaryTo(b[pos:])
	if err != nil {
		return 0, encodeError(fmt.Errorf("writing %s body: %w", m.Body.MessageType(), err))
	}
	pos += n
	n, err = writeTLVs(m.TLVs, b[pos:])
	if err != nil {
		return 0, encodeError(err)
	}
	pos += n

	m.SdoIDAndMsgType = m.SdoIDAndMsgType.WithMsgType(m.Body.MessageType())
	m.MessageLength = uint16(pos)
	m.IsEvent = m.Body.MessageType().IsEvent()
	if _, err := m.Header.MarshalBinaryTo(b); err != nil {
		return 0, encodeError(err)
	}
	return pos, nil
}

// MarshalBinaryTo is Pack as a method
func (m *Message) MarshalBinaryTo(b []byte) (int, error) {
	return Pack(m, b)
}

// MarshalBinary converts Message to []bytes
func (m *Message) MarshalBinary() ([]byte, error) {
	b := make([]byte, m.Len())
	n, err := Pack(m, b)
	if err != nil {
		return nil, err
	}
	return b[:n], nil
}

// Unpack decodes a Message from b.
// Bytes past messageLength are ignored, so are trailing bytes too short for a TLV head.
func Unpack(b []byte) (*Message, error) {
	m := &Message{}
	if err := m.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return m, nil
}

// UnmarshalBinary decodes b into m
func (m *Message) UnmarshalBinary(b []byte) error {
	if err := m.Header.UnmarshalBinary(b); err != nil {
		return err
	}
	body, err := NewBody(m.MessageType())
	if err != nil {
		return err
	}
	need := HeaderSize + body.BodySize()
	if int(m.MessageLength) < need {
		return newDecodeError(DecodeBodyTooShort, "%s messageLength %d, need %d", m.MessageType(), m.MessageLength, need)
	}
	if len(b) < need {
		return newDecodeError(DecodeBodyTooShort, "%s has %d bytes, need %d", m.MessageType(), len(b), need)
	}
	if err := body.UnmarshalBinary(b[HeaderSize:need]); err != nil {
		return newDecodeError(DecodeBodyTooShort, "%s: %v", m.MessageType(), err)
	}
	m.Body = body
	m.IsEvent = m.MessageType().IsEvent()

	boundary := len(b)
	if int(m.MessageLength) < boundary {
		boundary = int(m.MessageLength)
	}
	m.TLVs = m.TLVs[:0]
	m.Dropped = 0
	pos := need
	for boundary-pos >= TLVHeadSize {
		tlv, n, err := DecodeTLV(b[pos:boundary])
		if err != nil {
			if errors.Is(err, ErrUnknownTLV) || errors.Is(err, ErrUnsupportedTLV) {
				m.Dropped++
				pos += n
				continue
			}
			return err
		}
		m.TLVs = append(m.TLVs, tlv)
		pos += n
	}
	return nil
}

// FindTLV returns the first TLV of type t
func (m *Message) FindTLV(t TLVType) (TLV, bool) {
	for _, tlv := range m.TLVs {
		if tlv.Type() == t {
			return tlv, true
		}
	}
	return nil, false
}

// ManagementTLV returns the management TLV of a management message
func (m *Message) ManagementTLV() (*ManagementTLV, bool) {
	tlv, ok := m.FindTLV(TLVManagement)
	if !ok {
		return nil, false
	}
	mt, ok := tlv.(*ManagementTLV)
	return mt, ok
}
