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

// cursor reads fields of variable-length records. The first short read sticks in err
// and every read after it returns zero values.
type cursor struct {
	b   []byte
	pos int
	err error
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if len(c.b)-c.pos < n {
		c.err = fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, c.pos, len(c.b)-c.pos, ErrBufferTooSmall)
		return nil
	}
	v := c.b[c.pos : c.pos+n]
	c.pos += n
	return v
}

func (c *cursor) u8() uint8 {
	if v := c.take(1); v != nil {
		return v[0]
	}
	return 0
}

func (c *cursor) u16() uint16 {
	if v := c.take(2); v != nil {
		return binary.BigEndian.Uint16(v)
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if v := c.take(4); v != nil {
		return binary.BigEndian.Uint32(v)
	}
	return 0
}

func (c *cursor) u64() uint64 {
	if v := c.take(8); v != nil {
		return binary.BigEndian.Uint64(v)
	}
	return 0
}

func (c *cursor) bytes(n int) []byte {
	v := c.take(n)
	if v == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, v)
	return out
}

func (c *cursor) text() PTPText {
	if c.err != nil {
		return ""
	}
	var t PTPText
	if err := t.UnmarshalBinary(c.b[c.pos:]); err != nil {
		c.err = err
		return ""
	}
	c.pos += t.Len()
	return t
}

func (c *cursor) portAddress() PortAddress {
	if c.err != nil {
		return PortAddress{}
	}
	var a PortAddress
	if err := a.UnmarshalBinary(c.b[c.pos:]); err != nil {
		c.err = err
		return PortAddress{}
	}
	c.pos += a.Len()
	return a
}

func (c *cursor) timestamp() Timestamp {
	var t Timestamp
	if v := c.take(timestampSize); v != nil {
		t.unmarshal(v)
	}
	return t
}

func (c *cursor) portIdentity() PortIdentity {
	var p PortIdentity
	if v := c.take(portIdentitySize); v != nil {
		p.unmarshal(v)
	}
	return p
}

func (c *cursor) clockQuality() ClockQuality {
	var q ClockQuality
	if v := c.take(clockQualitySize); v != nil {
		q.unmarshal(v)
	}
	return q
}

// writer is the marshalling counterpart of cursor
type writer struct {
	b   []byte
	pos int
	err error
}

func (w *writer) put(n int) []byte {
	if w.err != nil {
		return nil
	}
	if len(w.b)-w.pos < n {
		w.err = fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, w.pos, len(w.b)-w.pos, ErrBufferTooSmall)
		return nil
	}
	v := w.b[w.pos : w.pos+n]
	w.pos += n
	return v
}

func (w *writer) u8(v uint8) {
	if b := w.put(1); b != nil {
		b[0] = v
	}
}

func (w *writer) u16(v uint16) {
	if b := w.put(2); b != nil {
		binary.BigEndian.PutUint16(b, v)
	}
}

func (w *writer) u32(v uint32) {
	if b := w.put(4); b != nil {
		binary.BigEndian.PutUint32(b, v)
	}
}

func (w *writer) u64(v uint64) {
	if b := w.put(8); b != nil {
		binary.BigEndian.PutUint64(b, v)
	}
}

func (w *writer) bytes(v []byte) {
	if b := w.put(len(v)); b != nil {
		copy(b, v)
	}
}

func (w *writer) text(t PTPText) {
	if w.err != nil {
		return
	}
	n, err := t.MarshalBinaryTo(w.b[w.pos:])
	if err != nil {
		w.err = err
		return
	}
	w.pos += n
}

func (w *writer) portAddress(a PortAddress) {
	if w.err != nil {
		return
	}
	n, err := a.MarshalBinaryTo(w.b[w.pos:])
	if err != nil {
		w.err = err
		return
	}
	w.pos += n
}

func (w *writer) timestamp(t Timestamp) {
	if b := w.put(timestampSize); b != nil {
		t.marshalTo(b)
	}
}

func (w *writer) portIdentity(p PortIdentity) {
	if b := w.put(portIdentitySize); b != nil {
		p.marshalTo(b)
	}
}

func (w *writer) clockQuality(q ClockQuality) {
	if b := w.put(clockQualitySize); b != nil {
		q.marshalTo(b)
	}
}

func (w *writer) result() (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	return w.pos, nil
}
