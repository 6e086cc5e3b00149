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
	"math"
	"net"
	"time"
)

// 2 ** 16
const twoPow16 = 65536

// MessageType is type for Message Types
type MessageType uint8

// As per Table 36 Values of messageType field
const (
	MessageSync               MessageType = 0x0
	MessageDelayReq           MessageType = 0x1
	MessagePDelayReq          MessageType = 0x2
	MessagePDelayResp         MessageType = 0x3
	MessageFollowUp           MessageType = 0x8
	MessageDelayResp          MessageType = 0x9
	MessagePDelayRespFollowUp MessageType = 0xA
	MessageAnnounce           MessageType = 0xB
	MessageSignaling          MessageType = 0xC
	MessageManagement         MessageType = 0xD
)

// MessageTypeToString is a map from MessageType to string
var MessageTypeToString = map[MessageType]string{
	MessageSync:               "SYNC",
	MessageDelayReq:           "DELAY_REQ",
	MessagePDelayReq:          "PDELAY_REQ",
	MessagePDelayResp:         "PDELAY_RESP",
	MessageFollowUp:           "FOLLOW_UP",
	MessageDelayResp:          "DELAY_RESP",
	MessagePDelayRespFollowUp: "PDELAY_RESP_FOLLOW_UP",
	MessageAnnounce:           "ANNOUNCE",
	MessageSignaling:          "SIGNALING",
	MessageManagement:         "MANAGEMENT",
}

func (m MessageType) String() string {
	if s, ok := MessageTypeToString[m]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
}

// IsEvent reports whether messages of this type are event messages,
// which are timestamped and sent to the event port.
func (m MessageType) IsEvent() bool {
	return m < 0x8
}

// SdoIDAndMsgType packs majorSdoId (transportSpecific in v2.0) into the upper nibble
// and messageType into the lower nibble of the first header octet.
type SdoIDAndMsgType uint8

// MsgType extracts MessageType from SdoIDAndMsgType
func (m SdoIDAndMsgType) MsgType() MessageType {
	return MessageType(lowerNibble(uint8(m)))
}

// SdoID extracts majorSdoId from SdoIDAndMsgType
func (m SdoIDAndMsgType) SdoID() uint8 {
	return upperNibble(uint8(m))
}

// WithMsgType returns a copy with the lower nibble replaced
func (m SdoIDAndMsgType) WithMsgType(t MessageType) SdoIDAndMsgType {
	return SdoIDAndMsgType(setLowerNibble(uint8(m), uint8(t)))
}

// WithSdoID returns a copy with the upper nibble replaced
func (m SdoIDAndMsgType) WithSdoID(sdoID uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(setUpperNibble(uint8(m), sdoID))
}

// NewSdoIDAndMsgType builds new SdoIDAndMsgType from MessageType and flags
func NewSdoIDAndMsgType(msgType MessageType, sdoID uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(0).WithSdoID(sdoID).WithMsgType(msgType)
}

// ProbeMsgType reads first 8 bits of data and tries to decode it to SdoIDAndMsgType, then return MessageType
func ProbeMsgType(data []byte) (msg MessageType, err error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("not enough data to probe MsgType")
	}
	return SdoIDAndMsgType(data[0]).MsgType(), nil
}

// VersionField packs minorVersionPTP into the upper nibble and versionPTP into the lower one
type VersionField uint8

// Major returns versionPTP
func (v VersionField) Major() uint8 { return lowerNibble(uint8(v)) }

// Minor returns minorVersionPTP
func (v VersionField) Minor() uint8 { return upperNibble(uint8(v)) }

// NewVersionField builds VersionField from major and minor versions
func NewVersionField(major, minor uint8) VersionField {
	return VersionField(setUpperNibble(setLowerNibble(0, major), minor))
}

func (v VersionField) String() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

func lowerNibble(b uint8) uint8       { return b & 0x0f }
func upperNibble(b uint8) uint8       { return b >> 4 }
func setLowerNibble(b, v uint8) uint8 { return b&0xf0 | v&0x0f }
func setUpperNibble(b, v uint8) uint8 { return b&0x0f | v<<4 }

// TLVType is type for TLV types
type TLVType uint16

// As per Table 52 tlvType values, plus the experimental monitoring range
const (
	TLVManagement                           TLVType = 0x0001
	TLVManagementErrorStatus                TLVType = 0x0002
	TLVOrganizationExtension                TLVType = 0x0003
	TLVRequestUnicastTransmission           TLVType = 0x0004
	TLVGrantUnicastTransmission             TLVType = 0x0005
	TLVCancelUnicastTransmission            TLVType = 0x0006
	TLVAcknowledgeCancelUnicastTransmission TLVType = 0x0007
	TLVPathTrace                            TLVType = 0x0008
	TLVAlternateTimeOffsetIndicator         TLVType = 0x0009
	TLVAuthentication                       TLVType = 0x2000
	TLVAuthenticationChallenge              TLVType = 0x2001
	TLVSecurityAssociationUpdate            TLVType = 0x2002
	TLVCumulativeFrequencyScaleFactorOffset TLVType = 0x2003
	TLVPTPMonRequest                        TLVType = 0x21FE
	TLVPTPMonResponse                       TLVType = 0x21FF
	TLVPTPMonMTIERequest                    TLVType = 0x2200
	TLVPTPMonMTIEResponse                   TLVType = 0x2201
	TLVOrganizationExtensionPropagate       TLVType = 0x4000
	TLVOrganizationExtensionDoNotPropagate  TLVType = 0x8000
	tlvAuthenticationLast                   TLVType = TLVSecurityAssociationUpdate
	tlvAuthenticationFirst                  TLVType = TLVAuthentication
)

// TLVTypeToString is a map from TLVType to string
var TLVTypeToString = map[TLVType]string{
	TLVManagement:                           "MANAGEMENT",
	TLVManagementErrorStatus:                "MANAGEMENT_ERROR_STATUS",
	TLVOrganizationExtension:                "ORGANIZATION_EXTENSION",
	TLVRequestUnicastTransmission:           "REQUEST_UNICAST_TRANSMISSION",
	TLVGrantUnicastTransmission:             "GRANT_UNICAST_TRANSMISSION",
	TLVCancelUnicastTransmission:            "CANCEL_UNICAST_TRANSMISSION",
	TLVAcknowledgeCancelUnicastTransmission: "ACKNOWLEDGE_CANCEL_UNICAST_TRANSMISSION",
	TLVPathTrace:                            "PATH_TRACE",
	TLVAlternateTimeOffsetIndicator:         "ALTERNATE_TIME_OFFSET_INDICATOR",
	TLVAuthentication:                       "AUTHENTICATION",
	TLVAuthenticationChallenge:              "AUTHENTICATION_CHALLENGE",
	TLVSecurityAssociationUpdate:            "SECURITY_ASSOCIATION_UPDATE",
	TLVCumulativeFrequencyScaleFactorOffset: "CUM_FREQ_SCALE_FACTOR_OFFSET",
	TLVPTPMonRequest:                        "PTPMON_REQUEST",
	TLVPTPMonResponse:                       "PTPMON_RESPONSE",
	TLVPTPMonMTIERequest:                    "PTPMON_MTIE_REQUEST",
	TLVPTPMonMTIEResponse:                   "PTPMON_MTIE_RESPONSE",
	TLVOrganizationExtensionPropagate:       "ORGANIZATION_EXTENSION_PROPAGATE",
	TLVOrganizationExtensionDoNotPropagate:  "ORGANIZATION_EXTENSION_DO_NOT_PROPAGATE",
}

func (t TLVType) String() string {
	if s, ok := TLVTypeToString[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(0x%04x)", uint16(t))
}

// IntFloat is a float64 stored in int64
type IntFloat int64

// Value decodes IntFloat to float64
func (t IntFloat) Value() float64 {
	return float64(t) / twoPow16
}

/*
TimeInterval is the time interval expressed in nanoseconds, multiplied by 2**16.
Positive or negative time intervals outside the maximum range of this data type shall be encoded as the largest
positive and negative values of the data type, respectively.
For example, 2.5 ns is expressed as 0000 0000 0002 8000 base 16
*/
type TimeInterval IntFloat

// Nanoseconds decodes TimeInterval to human-understandable nanoseconds
func (t TimeInterval) Nanoseconds() float64 {
	return IntFloat(t).Value()
}

// SecondsNanoseconds splits TimeInterval into a signed seconds and nanoseconds pair.
// Fractional nanoseconds are dropped from the magnitude, so -2.5ns gives -2ns,
// and both parts carry the sign of the interval.
func (t TimeInterval) SecondsNanoseconds() (int64, int32) {
	v := int64(t)
	mag := uint64(v)
	if v < 0 {
		mag = uint64(-v)
	}
	ns := int64(mag >> 16)
	if v < 0 {
		ns = -ns
	}
	return ns / 1e9, int32(ns % 1e9)
}

// Duration returns TimeInterval as time.Duration, dropping fractions of nanoseconds
func (t TimeInterval) Duration() time.Duration {
	s, ns := t.SecondsNanoseconds()
	return time.Duration(s)*time.Second + time.Duration(ns)
}

func (t TimeInterval) String() string {
	return fmt.Sprintf("TimeInterval(%.3fns)", t.Nanoseconds())
}

// NewTimeInterval returns TimeInterval built from Nanoseconds
func NewTimeInterval(ns float64) TimeInterval {
	v := ns * twoPow16
	switch {
	case v >= math.MaxInt64:
		return TimeInterval(math.MaxInt64)
	case v <= math.MinInt64:
		return TimeInterval(math.MinInt64)
	}
	return TimeInterval(v)
}

// NewTimeIntervalFromParts builds TimeInterval from a signed seconds and nanoseconds pair
func NewTimeIntervalFromParts(seconds int64, nanoseconds int32) TimeInterval {
	return NewTimeInterval(float64(seconds)*1e9 + float64(nanoseconds))
}

/*
Correction is the value of the correction measured in nanoseconds and multiplied by 2**16.
For example, 2.5 ns is represented as 0000 0000 0002 8000 base 16
A value of one in all bits, except the most significant, of the field shall indicate that the correction is too big to be represented.
*/
type Correction IntFloat

// Nanoseconds decodes Correction to human-understandable nanoseconds
func (t Correction) Nanoseconds() float64 {
	if t.TooBig() {
		return math.Inf(1)
	}
	return IntFloat(t).Value()
}

// Duration converts PTP CorrectionField to time.Duration, ignoring
// case where correction is too big, and dropping fractions of nanoseconds
func (t Correction) Duration() time.Duration {
	if !t.TooBig() {
		return time.Duration(t.Nanoseconds())
	}
	return 0
}

func (t Correction) String() string {
	if t.TooBig() {
		return "Correction(Too big)"
	}
	return fmt.Sprintf("Correction(%.3fns)", t.Nanoseconds())
}

// TooBig means correction is too big to be represented.
func (t Correction) TooBig() bool {
	return t == 0x7fffffffffffffff // one in all bits, except the most significant
}

// NewCorrection returns Correction built from Nanoseconds
func NewCorrection(ns float64) Correction {
	t := ns * twoPow16
	if t > 0x7fffffffffffffff {
		return Correction(0x7fffffffffffffff)
	}
	return Correction(t)
}

// The ClockIdentity type identifies unique entities within a PTP Network, e.g. a PTP Instance or an entity of a common service.
type ClockIdentity uint64

// ClockIdentityAll is the wildcard clock identity
const ClockIdentityAll ClockIdentity = 0xffffffffffffffff

// String formats ClockIdentity same way ptp4l pmc client does
func (c ClockIdentity) String() string {
	ptr := make([]byte, 8)
	binary.BigEndian.PutUint64(ptr, uint64(c))
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x",
		ptr[0], ptr[1], ptr[2], ptr[3],
		ptr[4], ptr[5], ptr[6], ptr[7],
	)
}

// MAC turns ClockIdentity into the MAC address it was based upon. EUI-48 is assumed.
func (c ClockIdentity) MAC() net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	mac[0] = byte(c >> 56)
	mac[1] = byte(c >> 48)
	mac[2] = byte(c >> 40)
	mac[3] = byte(c >> 16)
	mac[4] = byte(c >> 8)
	mac[5] = byte(c)
	return mac
}

// NewClockIdentity creates new ClockIdentity from MAC address
func NewClockIdentity(mac net.HardwareAddr) (ClockIdentity, error) {
	b := [8]byte{}
	switch len(mac) {
	case 6: // EUI-48
		b[0] = mac[0]
		b[1] = mac[1]
		b[2] = mac[2]
		b[3] = 0xFF
		b[4] = 0xFE
		b[5] = mac[3]
		b[6] = mac[4]
		b[7] = mac[5]
	case 8: // EUI-64
		copy(b[:], mac)
	default:
		return 0, fmt.Errorf("unsupported MAC %v, must be either EUI48 or EUI64", mac)
	}
	return ClockIdentity(binary.BigEndian.Uint64(b[:])), nil
}

// The PortIdentity type identifies a PTP Port or a Link Port
type PortIdentity struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

const portIdentitySize = 10

// PortIdentityAll addresses all ports of all clocks
var PortIdentityAll = PortIdentity{ClockIdentity: ClockIdentityAll, PortNumber: 0xffff}

// String formats PortIdentity same way ptp4l pmc client does
func (p PortIdentity) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// Compare returns an integer comparing two port identities. The result will be 0 if p == q, -1 if p < q, and +1 if p > q.
// The definition of "less than" is the same as the Less method.
func (p PortIdentity) Compare(q PortIdentity) int {
	cl1, cl2 := p.ClockIdentity, q.ClockIdentity
	switch {
	case cl1 < cl2:
		return -1
	case cl1 > cl2:
		return 1
	}
	pn1, pn2 := p.PortNumber, q.PortNumber
	switch {
	case pn1 < pn2:
		return -1
	case pn1 > pn2:
		return 1
	}
	return 0
}

// Less reports whether p sorts before q. Port identities sort first by clock identity, then their port numbers.
func (p PortIdentity) Less(q PortIdentity) bool { return p.Compare(q) == -1 }

func (p PortIdentity) marshalTo(b []byte) {
	binary.BigEndian.PutUint64(b, uint64(p.ClockIdentity))
	binary.BigEndian.PutUint16(b[8:], p.PortNumber)
}

func (p *PortIdentity) unmarshal(b []byte) {
	p.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b))
	p.PortNumber = binary.BigEndian.Uint16(b[8:])
}

// PTPSeconds type representing seconds
type PTPSeconds [6]uint8 // uint48

// Empty returns 0 seconds
func (s PTPSeconds) Empty() bool {
	return s == [6]uint8{0, 0, 0, 0, 0, 0}
}

// Seconds returns number of seconds as uint64
func (s PTPSeconds) Seconds() uint64 {
	return uint64(s[5]) | uint64(s[4])<<8 | uint64(s[3])<<16 | uint64(s[2])<<24 |
		uint64(s[1])<<32 | uint64(s[0])<<40
}

// Time returns number of seconds in as Time
func (s PTPSeconds) Time() time.Time {
	if s.Empty() {
		return time.Time{}
	}
	return time.Unix(int64(s.Seconds()), 0)
}

// String returns number of seconds in as String
func (s PTPSeconds) String() string {
	if s.Empty() {
		return "PTPSeconds(empty)"
	}
	return fmt.Sprintf("PTPSeconds(%s)", s.Time())
}

// NewPTPSecondsFromUint64 truncates v to 48 bits
func NewPTPSecondsFromUint64(v uint64) PTPSeconds {
	s := PTPSeconds{}
	s[0] = byte(v >> 40)
	s[1] = byte(v >> 32)
	s[2] = byte(v >> 24)
	s[3] = byte(v >> 16)
	s[4] = byte(v >> 8)
	s[5] = byte(v)
	return s
}

// NewPTPSeconds creates a new instance of PTPSeconds
func NewPTPSeconds(t time.Time) PTPSeconds {
	if t.IsZero() {
		return PTPSeconds{}
	}
	return NewPTPSecondsFromUint64(uint64(t.Unix()))
}

/*
Timestamp type represents a positive time with respect to the epoch.
The secondsField member is the integer portion of the timestamp in units of seconds.
The nanosecondsField member is the fractional portion of the timestamp in units of nanoseconds.
The nanosecondsField member is always less than 10**9 .
For example:
+2.000000001 seconds is represented by secondsField = 0000 0000 0002 base 16 and nanosecondsField= 0000 0001 base 16.
*/
type Timestamp struct {
	Seconds     PTPSeconds
	Nanoseconds uint32
}

const timestampSize = 10

// Time turns Timestamp into normal Go time.Time
func (t Timestamp) Time() time.Time {
	if t.Empty() {
		return time.Time{}
	}
	return time.Unix(int64(t.Seconds.Seconds()), int64(t.Nanoseconds))
}

// Empty timestamp
func (t Timestamp) Empty() bool {
	return t.Nanoseconds == 0 && t.Seconds.Empty()
}

// Sub returns the signed interval t-u. The wire form is unsigned, the result is not.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	s := int64(t.Seconds.Seconds()) - int64(u.Seconds.Seconds())
	ns := int64(t.Nanoseconds) - int64(u.Nanoseconds)
	return time.Duration(s)*time.Second + time.Duration(ns)
}

// String representation of the timestamp
func (t Timestamp) String() string {
	if t.Empty() {
		return "Timestamp(empty)"
	}
	return fmt.Sprintf("Timestamp(%s)", t.Time())
}

func (t Timestamp) marshalTo(b []byte) {
	copy(b, t.Seconds[:])
	binary.BigEndian.PutUint32(b[6:], t.Nanoseconds)
}

func (t *Timestamp) unmarshal(b []byte) {
	copy(t.Seconds[:], b[:6])
	t.Nanoseconds = binary.BigEndian.Uint32(b[6:])
}

// NewTimestamp allows to create Timestamp from time.Time
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{
		Seconds:     NewPTPSecondsFromUint64(uint64(t.Unix())),
		Nanoseconds: uint32(t.Nanosecond()),
	}
}

// ClockClass represents a PTP clock class
type ClockClass uint8

// Available Clock Classes
// https://datatracker.ietf.org/doc/html/rfc8173#section-7.6.2.4
const (
	ClockClass6         ClockClass = 6
	ClockClass7         ClockClass = 7
	ClockClass13        ClockClass = 13
	ClockClass14        ClockClass = 14
	ClockClass52        ClockClass = 52
	ClockClass58        ClockClass = 58
	ClockClassDefault   ClockClass = 248
	ClockClassSlaveOnly ClockClass = 255
)

// ClockAccuracy represents a PTP clock accuracy
type ClockAccuracy uint8

// Available Clock Accuracy
// https://datatracker.ietf.org/doc/html/rfc8173#section-7.6.2.5
const (
	ClockAccuracyNanosecond25       ClockAccuracy = 0x20
	ClockAccuracyNanosecond100      ClockAccuracy = 0x21
	ClockAccuracyNanosecond250      ClockAccuracy = 0x22
	ClockAccuracyMicrosecond1       ClockAccuracy = 0x23
	ClockAccuracyMicrosecond2point5 ClockAccuracy = 0x24
	ClockAccuracyMicrosecond10      ClockAccuracy = 0x25
	ClockAccuracyMicrosecond25      ClockAccuracy = 0x26
	ClockAccuracyMicrosecond100     ClockAccuracy = 0x27
	ClockAccuracyMicrosecond250     ClockAccuracy = 0x28
	ClockAccuracyMillisecond1       ClockAccuracy = 0x29
	ClockAccuracyMillisecond2point5 ClockAccuracy = 0x2A
	ClockAccuracyMillisecond10      ClockAccuracy = 0x2B
	ClockAccuracyMillisecond25      ClockAccuracy = 0x2C
	ClockAccuracyMillisecond100     ClockAccuracy = 0x2D
	ClockAccuracyMillisecond250     ClockAccuracy = 0x2E
	ClockAccuracySecond1            ClockAccuracy = 0x2F
	ClockAccuracySecond10           ClockAccuracy = 0x30
	ClockAccuracySecondGreater10    ClockAccuracy = 0x31
	ClockAccuracyUnknown            ClockAccuracy = 0xFE
)

var accuracySteps = []struct {
	limit    time.Duration
	accuracy ClockAccuracy
}{
	{25 * time.Nanosecond, ClockAccuracyNanosecond25},
	{100 * time.Nanosecond, ClockAccuracyNanosecond100},
	{250 * time.Nanosecond, ClockAccuracyNanosecond250},
	{time.Microsecond, ClockAccuracyMicrosecond1},
	{2500 * time.Nanosecond, ClockAccuracyMicrosecond2point5},
	{10 * time.Microsecond, ClockAccuracyMicrosecond10},
	{25 * time.Microsecond, ClockAccuracyMicrosecond25},
	{100 * time.Microsecond, ClockAccuracyMicrosecond100},
	{250 * time.Microsecond, ClockAccuracyMicrosecond250},
	{time.Millisecond, ClockAccuracyMillisecond1},
	{2500 * time.Microsecond, ClockAccuracyMillisecond2point5},
	{10 * time.Millisecond, ClockAccuracyMillisecond10},
	{25 * time.Millisecond, ClockAccuracyMillisecond25},
	{100 * time.Millisecond, ClockAccuracyMillisecond100},
	{250 * time.Millisecond, ClockAccuracyMillisecond250},
	{time.Second, ClockAccuracySecond1},
	{10 * time.Second, ClockAccuracySecond10},
}

// ClockAccuracyFromOffset returns PTP Clock Accuracy covering the time.Duration
func ClockAccuracyFromOffset(offset time.Duration) ClockAccuracy {
	if offset < 0 {
		offset *= -1
	}
	for _, s := range accuracySteps {
		if offset <= s.limit {
			return s.accuracy
		}
	}
	return ClockAccuracySecondGreater10
}

// Duration returns matching time.Duration of PTP Clock Accuracy
func (c ClockAccuracy) Duration() time.Duration {
	for _, s := range accuracySteps {
		if s.accuracy == c {
			return s.limit
		}
	}
	return 25 * time.Second
}

// ClockQuality represents the quality of a clock.
type ClockQuality struct {
	ClockClass              ClockClass    `json:"clock_class"`
	ClockAccuracy           ClockAccuracy `json:"clock_accuracy"`
	OffsetScaledLogVariance uint16        `json:"offset_scaled_log_variance"`
}

const clockQualitySize = 4

func (c ClockQuality) marshalTo(b []byte) {
	b[0] = byte(c.ClockClass)
	b[1] = byte(c.ClockAccuracy)
	binary.BigEndian.PutUint16(b[2:], c.OffsetScaledLogVariance)
}

func (c *ClockQuality) unmarshal(b []byte) {
	c.ClockClass = ClockClass(b[0])
	c.ClockAccuracy = ClockAccuracy(b[1])
	c.OffsetScaledLogVariance = binary.BigEndian.Uint16(b[2:])
}

// TimeSource indicates the immediate source of time used by the Grandmaster PTP Instance
type TimeSource uint8

// TimeSource values, Table 6 timeSource enumeration
const (
	TimeSourceAtomicClock        TimeSource = 0x10
	TimeSourceGNSS               TimeSource = 0x20
	TimeSourceTerrestrialRadio   TimeSource = 0x30
	TimeSourceSerialTimeCode     TimeSource = 0x39
	TimeSourcePTP                TimeSource = 0x40
	TimeSourceNTP                TimeSource = 0x50
	TimeSourceHandSet            TimeSource = 0x60
	TimeSourceOther              TimeSource = 0x90
	TimeSourceInternalOscillator TimeSource = 0xa0
)

// TimeSourceToString is a map from TimeSource to string
var TimeSourceToString = map[TimeSource]string{
	TimeSourceAtomicClock:        "ATOMIC_CLOCK",
	TimeSourceGNSS:               "GNSS",
	TimeSourceTerrestrialRadio:   "TERRESTRIAL_RADIO",
	TimeSourceSerialTimeCode:     "SERIAL_TIME_CODE",
	TimeSourcePTP:                "PTP",
	TimeSourceNTP:                "NTP",
	TimeSourceHandSet:            "HAND_SET",
	TimeSourceOther:              "OTHER",
	TimeSourceInternalOscillator: "INTERNAL_OSCILLATOR",
}

func (t TimeSource) String() string {
	return TimeSourceToString[t]
}

// LogInterval shall be the logarithm, to base 2, of the requested period in seconds.
// In layman's terms, it's specified as a power of two in seconds.
type LogInterval int8

// Duration returns LogInterval as time.Duration
func (i LogInterval) Duration() time.Duration {
	secs := math.Pow(2, float64(i))
	return time.Duration(secs * float64(time.Second))
}

// NewLogInterval returns new LogInterval from time.Duration.
// The values of these logarithmic attributes shall be selected from integers in the range -128 to 127 subject to
// further limits established in the applicable PTP Profile.
func NewLogInterval(d time.Duration) (LogInterval, error) {
	li := int(math.Log2(d.Seconds()))
	if li > 127 {
		return 0, fmt.Errorf("logInterval %d is too big", li)
	}
	if li < -128 {
		return 0, fmt.Errorf("logInterval %d is too small", li)
	}
	return LogInterval(li), nil
}

/*
PTPText data type is used to represent textual material in PTP messages.
TextField is encoded as UTF-8.
The most significant byte of the leading text symbol shall be the element of the array with index 0.
UTF-8 encoding has variable length, thus LengthField can be larger than number of characters.

	type PTPText struct {
		LengthField uint8
		TextField   []byte
	}

No terminator or padding goes on the wire, padding is the business of the enclosing TLV.
*/
type PTPText string

// Len returns number of bytes PTPText takes on the wire
func (p PTPText) Len() int {
	return 1 + len(p)
}

// UnmarshalBinary populates ptptext from bytes
func (p *PTPText) UnmarshalBinary(b []byte) error {
	if len(b) < 1 {
		return fmt.Errorf("reading PTPText LengthField: %w", ErrBufferTooSmall)
	}
	length := int(b[0])
	if len(b) < length+1 {
		return fmt.Errorf("text field is too short, need %d got %d: %w", length+1, len(b), ErrBufferTooSmall)
	}
	*p = PTPText(b[1 : 1+length])
	return nil
}

// MarshalBinaryTo writes PTPText into b, returning number of bytes written
func (p PTPText) MarshalBinaryTo(b []byte) (int, error) {
	if len(p) > 255 {
		return 0, fmt.Errorf("text is too long: %d bytes", len(p))
	}
	if len(b) < p.Len() {
		return 0, ErrBufferTooSmall
	}
	b[0] = uint8(len(p))
	copy(b[1:], p)
	return p.Len(), nil
}

// MarshalBinary converts ptptext to []bytes
func (p PTPText) MarshalBinary() ([]byte, error) {
	b := make([]byte, p.Len())
	_, err := p.MarshalBinaryTo(b)
	return b, err
}

// PortState is a enum describing one of possible states of port state machines
type PortState uint8

// Table 20 PTP state enumeration
const (
	PortStateInitializing PortState = iota + 1
	PortStateFaulty
	PortStateDisabled
	PortStateListening
	PortStatePreMaster
	PortStateMaster
	PortStatePassive
	PortStateUncalibrated
	PortStateSlave
)

// PortStateToString is a map from PortState to string
var PortStateToString = map[PortState]string{
	PortStateInitializing: "INITIALIZING",
	PortStateFaulty:       "FAULTY",
	PortStateDisabled:     "DISABLED",
	PortStateListening:    "LISTENING",
	PortStatePreMaster:    "PRE_MASTER",
	PortStateMaster:       "MASTER",
	PortStatePassive:      "PASSIVE",
	PortStateUncalibrated: "UNCALIBRATED",
	PortStateSlave:        "SLAVE",
}

func (ps PortState) String() string {
	if s, ok := PortStateToString[ps]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(ps))
}

// TransportType is a enum describing network transport protocol types
type TransportType uint16

// Table 3 networkProtocol enumeration
const (
	/* 0 is Reserved in spec. Use it for UDS */
	TransportTypeUDS TransportType = iota
	TransportTypeUDPIPV4
	TransportTypeUDPIPV6
	TransportTypeIEEE8023
	TransportTypeDeviceNet
	TransportTypeControlNet
	TransportTypePROFINET
)

// TransportTypeToString is a map from TransportType to string
var TransportTypeToString = map[TransportType]string{
	TransportTypeUDS:        "UDS",
	TransportTypeUDPIPV4:    "UDP_IPV4",
	TransportTypeUDPIPV6:    "UDP_IPV6",
	TransportTypeIEEE8023:   "IEEE_802_3",
	TransportTypeDeviceNet:  "DEVICENET",
	TransportTypeControlNet: "CONTROLNET",
	TransportTypePROFINET:   "PROFINET",
}

func (t TransportType) String() string {
	return TransportTypeToString[t]
}

// PortAddress see 5.3.6 PortAddress
type PortAddress struct {
	NetworkProtocol TransportType
	AddressLength   uint16
	AddressField    []byte
}

// NewPortAddress builds PortAddress from an IP address
func NewPortAddress(ip net.IP) PortAddress {
	if ip4 := ip.To4(); ip4 != nil {
		return PortAddress{NetworkProtocol: TransportTypeUDPIPV4, AddressLength: 4, AddressField: []byte(ip4)}
	}
	ip16 := ip.To16()
	return PortAddress{NetworkProtocol: TransportTypeUDPIPV6, AddressLength: uint16(len(ip16)), AddressField: []byte(ip16)}
}

// Len returns number of bytes PortAddress takes on the wire
func (p *PortAddress) Len() int {
	return 4 + len(p.AddressField)
}

// UnmarshalBinary converts bytes to PortAddress
func (p *PortAddress) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("not enough data to decode PortAddress: %w", ErrBufferTooSmall)
	}
	p.NetworkProtocol = TransportType(binary.BigEndian.Uint16(b[0:]))
	p.AddressLength = binary.BigEndian.Uint16(b[2:])
	if len(b) < 4+int(p.AddressLength) {
		return fmt.Errorf("not enough data to decode PortAddress address: %w", ErrBufferTooSmall)
	}
	p.AddressField = make([]byte, p.AddressLength)
	copy(p.AddressField, b[4:4+int(p.AddressLength)])
	return nil
}

// IP converts PortAddress to IP
func (p *PortAddress) IP() (net.IP, error) {
	if p.NetworkProtocol != TransportTypeUDPIPV4 && p.NetworkProtocol != TransportTypeUDPIPV6 {
		return nil, fmt.Errorf("unsupported network protocol %s (%d)", p.NetworkProtocol, p.NetworkProtocol)
	}
	if p.NetworkProtocol == TransportTypeUDPIPV4 && (p.AddressLength != 4 || len(p.AddressField) != 4) {
		return nil, fmt.Errorf("unexpected length of IPv4: %d", len(p.AddressField))
	}
	if p.NetworkProtocol == TransportTypeUDPIPV6 && (p.AddressLength != 16 || len(p.AddressField) != 16) {
		return nil, fmt.Errorf("unexpected length of IPv6: %d", len(p.AddressField))
	}
	return net.IP(p.AddressField), nil
}

// MarshalBinaryTo writes PortAddress into b
func (p *PortAddress) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < p.Len() {
		return 0, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint16(b, uint16(p.NetworkProtocol))
	binary.BigEndian.PutUint16(b[2:], uint16(len(p.AddressField)))
	copy(b[4:], p.AddressField)
	return p.Len(), nil
}

// MarshalBinary converts PortAddress to []bytes
func (p *PortAddress) MarshalBinary() ([]byte, error) {
	b := make([]byte, p.Len())
	_, err := p.MarshalBinaryTo(b)
	return b, err
}
