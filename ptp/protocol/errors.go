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

// Sentinel errors matched with errors.Is against DecodeError and EncodeError
var (
	ErrHeaderTooShort = errors.New("header too short")
	ErrBodyTooShort   = errors.New("body too short")
	ErrUnknownType    = errors.New("unknown message type")
	ErrCorruptTLV     = errors.New("corrupt TLV")
	ErrUnsupportedTLV = errors.New("unsupported TLV")
	ErrUnknownTLV     = errors.New("unknown TLV")
	ErrBufferTooSmall = errors.New("buffer too small")
	ErrEncode         = errors.New("encode error")
)

// DecodeErrorKind enumerates reasons for a message to be rejected
type DecodeErrorKind uint8

// DecodeErrorKind values
const (
	DecodeHeaderTooShort DecodeErrorKind = iota
	DecodeBodyTooShort
	DecodeUnknownType
	DecodeCorruptTLV
	DecodeUnsupportedTLV
	DecodeUnknownTLV
	DecodeBufferTooSmall
)

var decodeErrorSentinels = map[DecodeErrorKind]error{
	DecodeHeaderTooShort: ErrHeaderTooShort,
	DecodeBodyTooShort:   ErrBodyTooShort,
	DecodeUnknownType:    ErrUnknownType,
	DecodeCorruptTLV:     ErrCorruptTLV,
	DecodeUnsupportedTLV: ErrUnsupportedTLV,
	DecodeUnknownTLV:     ErrUnknownTLV,
	DecodeBufferTooSmall: ErrBufferTooSmall,
}

func (k DecodeErrorKind) String() string {
	if err, ok := decodeErrorSentinels[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("decode error %d", k)
}

// DecodeError is returned when bytes can't be turned into a Message.
// All of them are recoverable by dropping the offending message.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

func newDecodeError(kind DecodeErrorKind, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the sentinel matching the error kind
func (e *DecodeError) Unwrap() error {
	return decodeErrorSentinels[e.Kind]
}

// EncodeErrorKind enumerates reasons for a Message to fail serialization
type EncodeErrorKind uint8

// EncodeErrorKind values
const (
	EncodeBufferTooSmall EncodeErrorKind = iota
	EncodeOther
)

func (k EncodeErrorKind) String() string {
	if k == EncodeBufferTooSmall {
		return ErrBufferTooSmall.Error()
	}
	return ErrEncode.Error()
}

// EncodeError is returned when a Message can't be serialized
type EncodeError struct {
	Kind EncodeErrorKind
	Err  error
}

func (e *EncodeError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap allows matching both the sentinel and the underlying cause
func (e *EncodeError) Unwrap() []error {
	sentinel := ErrEncode
	if e.Kind == EncodeBufferTooSmall {
		sentinel = ErrBufferTooSmall
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

func encodeError(err error) error {
	if err == nil {
		return nil
	}
	var ee *EncodeError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, ErrBufferTooSmall) {
		return &EncodeError{Kind: EncodeBufferTooSmall, Err: err}
	}
	return &EncodeError{Kind: EncodeOther, Err: err}
}
