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

const managementIDSize = 2

// ManagementID is type for Management IDs
type ManagementID uint16

// Management IDs we support, from Table 59 managementId values
const (
	IDNullPTPManagement        ManagementID = 0x0000
	IDClockDescription         ManagementID = 0x0001
	IDUserDescription          ManagementID = 0x0002
	IDInitialize               ManagementID = 0x0005
	IDDefaultDataSet           ManagementID = 0x2000
	IDCurrentDataSet           ManagementID = 0x2001
	IDParentDataSet            ManagementID = 0x2002
	IDTimePropertiesDataSet    ManagementID = 0x2003
	IDPortDataSet              ManagementID = 0x2004
	IDPriority1                ManagementID = 0x2005
	IDPriority2                ManagementID = 0x2006
	IDDomain                   ManagementID = 0x2007
	IDSlaveOnly                ManagementID = 0x2008
	IDLogAnnounceInterval      ManagementID = 0x2009
	IDAnnounceReceiptTimeout   ManagementID = 0x200A
	IDLogSyncInterval          ManagementID = 0x200B
	IDVersionNumber            ManagementID = 0x200C
	IDEnablePort               ManagementID = 0x200D
	IDDisablePort              ManagementID = 0x200E
	IDTime                     ManagementID = 0x200F
	IDClockAccuracy            ManagementID = 0x2010
	IDUTCProperties            ManagementID = 0x2011
	IDTraceabilityProperties   ManagementID = 0x2012
	IDTimescaleProperties      ManagementID = 0x2013
	IDUnicastNegotiationEnable ManagementID = 0x2014
	IDDelayMechanism           ManagementID = 0x6000
	IDLogMinPdelayReqInterval  ManagementID = 0x6001
)

// ManagementIDToString is a map from ManagementID to string
var ManagementIDToString = map[ManagementID]string{
	IDNullPTPManagement:        "NULL_PTP_MANAGEMENT",
	IDClockDescription:         "CLOCK_DESCRIPTION",
	IDUserDescription:          "USER_DESCRIPTION",
	IDInitialize:               "INITIALIZE",
	IDDefaultDataSet:           "DEFAULT_DATA_SET",
	IDCurrentDataSet:           "CURRENT_DATA_SET",
	IDParentDataSet:            "PARENT_DATA_SET",
	IDTimePropertiesDataSet:    "TIME_PROPERTIES_DATA_SET",
	IDPortDataSet:              "PORT_DATA_SET",
	IDPriority1:                "PRIORITY1",
	IDPriority2:                "PRIORITY2",
	IDDomain:                   "DOMAIN",
	IDSlaveOnly:                "SLAVE_ONLY",
	IDLogAnnounceInterval:      "LOG_ANNOUNCE_INTERVAL",
	IDAnnounceReceiptTimeout:   "ANNOUNCE_RECEIPT_TIMEOUT",
	IDLogSyncInterval:          "LOG_SYNC_INTERVAL",
	IDVersionNumber:            "VERSION_NUMBER",
	IDEnablePort:               "ENABLE_PORT",
	IDDisablePort:              "DISABLE_PORT",
	IDTime:                     "TIME",
	IDClockAccuracy:            "CLOCK_ACCURACY",
	IDUTCProperties:            "UTC_PROPERTIES",
	IDTraceabilityProperties:   "TRACEABILITY_PROPERTIES",
	IDTimescaleProperties:      "TIMESCALE_PROPERTIES",
	IDUnicastNegotiationEnable: "UNICAST_NEGOTIATION_ENABLE",
	IDDelayMechanism:           "DELAY_MECHANISM",
	IDLogMinPdelayReqInterval:  "LOG_MIN_PDELAY_REQ_INTERVAL",
}

func (m ManagementID) String() string {
	if s, ok := ManagementIDToString[m]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_MANAGEMENT_ID=0x%04x", uint16(m))
}

// ManagementData is the data field of a management TLV, selected by managementId
type ManagementData interface {
	ManagementID() ManagementID
	Len() int
	MarshalBinaryTo(b []byte) (int, error)
	UnmarshalBinary(b []byte) error
}

// managementRegistry maps managementId to the constructor of its data field.
// A nil constructor means the id never carries data.
var managementRegistry = map[ManagementID]func() ManagementData{
	IDNullPTPManagement:        nil,
	IDClockDescription:         func() ManagementData { return &ClockDescriptionTLV{} },
	IDUserDescription:          func() ManagementData { return &UserDescriptionTLV{} },
	IDInitialize:               func() ManagementData { return &InitializeTLV{} },
	IDDefaultDataSet:           func() ManagementData { return &DefaultDataSetTLV{} },
	IDCurrentDataSet:           func() ManagementData { return &CurrentDataSetTLV{} },
	IDParentDataSet:            func() ManagementData { return &ParentDataSetTLV{} },
	IDTimePropertiesDataSet:    func() ManagementData { return &TimePropertiesDataSetTLV{} },
	IDPortDataSet:              func() ManagementData { return &PortDataSetTLV{} },
	IDPriority1:                octetSetting(IDPriority1),
	IDPriority2:                octetSetting(IDPriority2),
	IDDomain:                   octetSetting(IDDomain),
	IDSlaveOnly:                octetSetting(IDSlaveOnly),
	IDLogAnnounceInterval:      octetSetting(IDLogAnnounceInterval),
	IDAnnounceReceiptTimeout:   octetSetting(IDAnnounceReceiptTimeout),
	IDLogSyncInterval:          octetSetting(IDLogSyncInterval),
	IDVersionNumber:            octetSetting(IDVersionNumber),
	IDEnablePort:               nil,
	IDDisablePort:              nil,
	IDTime:                     func() ManagementData { return &TimeTLV{} },
	IDClockAccuracy:            octetSetting(IDClockAccuracy),
	IDUTCProperties:            func() ManagementData { return &UTCPropertiesTLV{} },
	IDTraceabilityProperties:   octetSetting(IDTraceabilityProperties),
	IDTimescaleProperties:      func() ManagementData { return &TimescalePropertiesTLV{} },
	IDUnicastNegotiationEnable: octetSetting(IDUnicastNegotiationEnable),
	IDDelayMechanism:           octetSetting(IDDelayMechanism),
	IDLogMinPdelayReqInterval:  octetSetting(IDLogMinPdelayReqInterval),
}

func octetSetting(id ManagementID) func() ManagementData {
	return func() ManagementData { return &OctetSettingTLV{ID: id} }
}

// NewManagementData returns an empty data field for the managementId
func NewManagementData(id ManagementID) (ManagementData, error) {
	ctor, ok := managementRegistry[id]
	if !ok {
		return nil, newDecodeError(DecodeUnknownTLV, "%s", id)
	}
	if ctor == nil {
		return nil, nil
	}
	return ctor(), nil
}

// ManagementTLV Table 58 Management TLV fields.
// Data is nil for an empty TLV, which is what GET, COMMAND and ACKNOWLEDGE carry.
type ManagementTLV struct {
	ID   ManagementID
	Data ManagementData
}

// Type implements TLV
func (t *ManagementTLV) Type() TLVType { return TLVManagement }

// Empty reports whether the TLV carries the managementId only
func (t *ManagementTLV) Empty() bool { return t.Data == nil }

// Len implements TLV
func (t *ManagementTLV) Len() int {
	if t.Data == nil {
		return managementIDSize
	}
	return managementIDSize + t.Data.Len()
}

// MarshalBinaryTo implements TLV
func (t *ManagementTLV) MarshalBinaryTo(b []byte) (int, error) {
	if err := checkTLVValue(b, t.Len(), t.Type()); err != nil {
		return 0, err
	}
	if t.Data != nil && t.Data.ManagementID() != t.ID {
		return 0, fmt.Errorf("managementId %s doesn't match data %s", t.ID, t.Data.ManagementID())
	}
	binary.BigEndian.PutUint16(b, uint16(t.ID))
	if t.Data == nil {
		return managementIDSize, nil
	}
	n, err := t.Data.MarshalBinaryTo(b[managementIDSize:])
	if err != nil {
		return 0, fmt.Errorf("writing %s: %w", t.ID, err)
	}
	return managementIDSize + n, nil
}

// UnmarshalBinary implements TLV
func (t *ManagementTLV) UnmarshalBinary(b []byte) error {
	if err := checkTLVValue(b, managementIDSize, t.Type()); err != nil {
		return err
	}
	t.ID = ManagementID(binary.BigEndian.Uint16(b))
	data, err := NewManagementData(t.ID)
	if err != nil {
		return err
	}
	t.Data = nil
	if len(b) == managementIDSize {
		return nil
	}
	if data == nil {
		return fmt.Errorf("%s carries %d bytes of data, expected none", t.ID, len(b)-managementIDSize)
	}
	if err := data.UnmarshalBinary(b[managementIDSize:]); err != nil {
		return fmt.Errorf("reading %s: %w", t.ID, err)
	}
	t.Data = data
	return nil
}

// ManagementErrorID is an enum for possible management errors
type ManagementErrorID uint16

// Table 109 ManagementErrorID enumeration
const (
	ErrorResponseTooBig ManagementErrorID = 0x0001 // The requested operation could not fit in a single response message
	ErrorNoSuchID       ManagementErrorID = 0x0002 // The managementId is not recognized
	ErrorWrongLength    ManagementErrorID = 0x0003 // The managementId was identified but the length of the data was wrong
	ErrorWrongValue     ManagementErrorID = 0x0004 // The managementId and length were correct but one or more values were wrong
	ErrorNotSetable     ManagementErrorID = 0x0005 // Some of the variables in the set command were not updated because they are not configurable
	ErrorNotSupported   ManagementErrorID = 0x0006 // The requested operation is not supported in this PTP Instance
	ErrorUnpopulated    ManagementErrorID = 0x0007 // The targetPortIdentity refers to an entity that is not present
	ErrorGeneralError   ManagementErrorID = 0xFFFE // An error occurred that is not covered by other ManagementErrorID values
)

// ManagementErrorIDToString is a map from ManagementErrorID to string
var ManagementErrorIDToString = map[ManagementErrorID]string{
	ErrorResponseTooBig: "RESPONSE_TOO_BIG",
	ErrorNoSuchID:       "NO_SUCH_ID",
	ErrorWrongLength:    "WRONG_LENGTH",
	ErrorWrongValue:     "WRONG_VALUE",
	ErrorNotSetable:     "NOT_SETABLE",
	ErrorNotSupported:   "NOT_SUPPORTED",
	ErrorUnpopulated:    "UNPOPULATED",
	ErrorGeneralError:   "GENERAL_ERROR",
}

func (t ManagementErrorID) String() string {
	s := ManagementErrorIDToString[t]
	if s == "" {
		return fmt.Sprintf("UNKNOWN_ERROR_ID=%d", t)
	}
	return s
}

func (t ManagementErrorID) Error() string {
	return t.String()
}

const managementErrorStatusMinLen = 8

// ManagementErrorStatusTLV spec Table 108 MANAGEMENT_ERROR_STATUS TLV format
type ManagementErrorStatusTLV struct {
	ManagementErrorID ManagementErrorID
	ManagementID      ManagementID
	Reserved          uint32
	DisplayData       PTPText
}

// Type implements TLV
func (t *ManagementErrorStatusTLV) Type() TLVType { return TLVManagementErrorStatus }

// Len implements TLV. Empty displayData is omitted from the wire.
func (t *ManagementErrorStatusTLV) Len() int {
	if t.DisplayData == "" {
		return managementErrorStatusMinLen
	}
	return managementErrorStatusMinLen + t.DisplayData.Len()
}

// MarshalBinaryTo implements TLV
func (t *ManagementErrorStatusTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u16(uint16(t.ManagementErrorID))
	w.u16(uint16(t.ManagementID))
	w.u32(t.Reserved)
	if t.DisplayData != "" {
		w.text(t.DisplayData)
	}
	return w.result()
}

// UnmarshalBinary implements TLV
func (t *ManagementErrorStatusTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.ManagementErrorID = ManagementErrorID(c.u16())
	t.ManagementID = ManagementID(c.u16())
	t.Reserved = c.u32()
	t.DisplayData = ""
	// a single octet left is padding
	if c.err == nil && len(b)-c.pos > 1 {
		t.DisplayData = c.text()
	}
	return c.err
}

// ClockType bits of CLOCK_DESCRIPTION, Table 42
type ClockType uint16

// clockType bits
const (
	ClockTypeOrdinary   ClockType = 1 << 15
	ClockTypeBoundary   ClockType = 1 << 14
	ClockTypeP2PTC      ClockType = 1 << 13
	ClockTypeE2ETC      ClockType = 1 << 12
	ClockTypeManagement ClockType = 1 << 11
)

// ClockDescriptionTLV Table 60 CLOCK_DESCRIPTION management TLV data field
type ClockDescriptionTLV struct {
	ClockType             ClockType
	PhysicalLayerProtocol PTPText
	PhysicalAddress       []byte
	ProtocolAddress       PortAddress
	ManufacturerIdentity  [3]uint8
	Reserved              uint8
	ProductDescription    PTPText
	RevisionData          PTPText
	UserDescription       PTPText
	ProfileIdentity       [6]uint8
}

// ManagementID implements ManagementData
func (t *ClockDescriptionTLV) ManagementID() ManagementID { return IDClockDescription }

// Len implements ManagementData
func (t *ClockDescriptionTLV) Len() int {
	return 2 + t.PhysicalLayerProtocol.Len() + 2 + len(t.PhysicalAddress) + t.ProtocolAddress.Len() +
		3 + 1 + t.ProductDescription.Len() + t.RevisionData.Len() + t.UserDescription.Len() + 6
}

// MarshalBinaryTo implements ManagementData
func (t *ClockDescriptionTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u16(uint16(t.ClockType))
	w.text(t.PhysicalLayerProtocol)
	w.u16(uint16(len(t.PhysicalAddress)))
	w.bytes(t.PhysicalAddress)
	w.portAddress(t.ProtocolAddress)
	w.bytes(t.ManufacturerIdentity[:])
	w.u8(t.Reserved)
	w.text(t.ProductDescription)
	w.text(t.RevisionData)
	w.text(t.UserDescription)
	w.bytes(t.ProfileIdentity[:])
	return w.result()
}

// UnmarshalBinary implements ManagementData
func (t *ClockDescriptionTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.ClockType = ClockType(c.u16())
	t.PhysicalLayerProtocol = c.text()
	t.PhysicalAddress = c.bytes(int(c.u16()))
	t.ProtocolAddress = c.portAddress()
	copy(t.ManufacturerIdentity[:], c.take(3))
	t.Reserved = c.u8()
	t.ProductDescription = c.text()
	t.RevisionData = c.text()
	t.UserDescription = c.text()
	copy(t.ProfileIdentity[:], c.take(6))
	return c.err
}

// UserDescriptionTLV Table 61 USER_DESCRIPTION management TLV data field
type UserDescriptionTLV struct {
	UserDescription PTPText
}

// ManagementID implements ManagementData
func (t *UserDescriptionTLV) ManagementID() ManagementID { return IDUserDescription }

// Len implements ManagementData
func (t *UserDescriptionTLV) Len() int { return t.UserDescription.Len() }

// MarshalBinaryTo implements ManagementData
func (t *UserDescriptionTLV) MarshalBinaryTo(b []byte) (int, error) {
	return t.UserDescription.MarshalBinaryTo(b)
}

// UnmarshalBinary implements ManagementData
func (t *UserDescriptionTLV) UnmarshalBinary(b []byte) error {
	return t.UserDescription.UnmarshalBinary(b)
}

// InitializeTLV Table 62 INITIALIZE management TLV data field
type InitializeTLV struct {
	InitializationKey uint16
}

// ManagementID implements ManagementData
func (t *InitializeTLV) ManagementID() ManagementID { return IDInitialize }

// Len implements ManagementData
func (t *InitializeTLV) Len() int { return 2 }

// MarshalBinaryTo implements ManagementData
func (t *InitializeTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u16(t.InitializationKey)
	return w.result()
}

// UnmarshalBinary implements ManagementData
func (t *InitializeTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.InitializationKey = c.u16()
	return c.err
}

// DefaultDataSet flags
const (
	DefaultDataSetTwoStep   uint8 = 1 << 0
	DefaultDataSetSlaveOnly uint8 = 1 << 1
)

// DefaultDataSetTLV Spec Table 69 - DEFAULT_DATA_SET management TLV data field
// size = 20 bytes
type DefaultDataSetTLV struct {
	SoTSC         uint8
	Reserved0     uint8
	NumberPorts   uint16
	Priority1     uint8
	ClockQuality  ClockQuality
	Priority2     uint8
	ClockIdentity ClockIdentity
	DomainNumber  uint8
	Reserved1     uint8
}

// ManagementID implements ManagementData
func (t *DefaultDataSetTLV) ManagementID() ManagementID { return IDDefaultDataSet }

// Len implements ManagementData
func (t *DefaultDataSetTLV) Len() int { return 20 }

// MarshalBinaryTo implements ManagementData
func (t *DefaultDataSetTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u8(t.SoTSC)
	w.u8(t.Reserved0)
	w.u16(t.NumberPorts)
	w.u8(t.Priority1)
	w.clockQuality(t.ClockQuality)
	w.u8(t.Priority2)
	w.u64(uint64(t.ClockIdentity))
	w.u8(t.DomainNumber)
	w.u8(t.Reserved1)
	return w.result()
}

// UnmarshalBinary implements ManagementData
func (t *DefaultDataSetTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.SoTSC = c.u8()
	t.Reserved0 = c.u8()
	t.NumberPorts = c.u16()
	t.Priority1 = c.u8()
	t.ClockQuality = c.clockQuality()
	t.Priority2 = c.u8()
	t.ClockIdentity = ClockIdentity(c.u64())
	t.DomainNumber = c.u8()
	t.Reserved1 = c.u8()
	return c.err
}

// CurrentDataSetTLV Spec Table 84 - CURRENT_DATA_SET management TLV data field
// size = 18 bytes
type CurrentDataSetTLV struct {
	StepsRemoved     uint16
	OffsetFromMaster TimeInterval
	MeanPathDelay    TimeInterval
}

// ManagementID implements ManagementData
func (t *CurrentDataSetTLV) ManagementID() ManagementID { return IDCurrentDataSet }

// Len implements ManagementData
func (t *CurrentDataSetTLV) Len() int { return 18 }

// MarshalBinaryTo implements ManagementData
func (t *CurrentDataSetTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u16(t.StepsRemoved)
	w.u64(uint64(t.OffsetFromMaster))
	w.u64(uint64(t.MeanPathDelay))
	return w.result()
}

// UnmarshalBinary implements ManagementData
func (t *CurrentDataSetTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.StepsRemoved = c.u16()
	t.OffsetFromMaster = TimeInterval(c.u64())
	t.MeanPathDelay = TimeInterval(c.u64())
	return c.err
}

// ParentDataSetTLV Spec Table 85 - PARENT_DATA_SET management TLV data field
// size = 32 bytes
type ParentDataSetTLV struct {
	ParentPortIdentity                    PortIdentity
	PS                                    uint8
	Reserved                              uint8
	ObservedParentOffsetScaledLogVariance uint16
	ObservedParentClockPhaseChangeRate    uint32
	GrandmasterPriority1                  uint8
	GrandmasterClockQuality               ClockQuality
	GrandmasterPriority2                  uint8
	GrandmasterIdentity                   ClockIdentity
}

// ManagementID implements ManagementData
func (t *ParentDataSetTLV) ManagementID() ManagementID { return IDParentDataSet }

// Len implements ManagementData
func (t *ParentDataSetTLV) Len() int { return 32 }

// MarshalBinaryTo implements ManagementData
func (t *ParentDataSetTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.portIdentity(t.ParentPortIdentity)
	w.u8(t.PS)
	w.u8(t.Reserved)
	w.u16(t.ObservedParentOffsetScaledLogVariance)
	w.u32(t.ObservedParentClockPhaseChangeRate)
	w.u8(t.GrandmasterPriority1)
	w.clockQuality(t.GrandmasterClockQuality)
	w.u8(t.GrandmasterPriority2)
	w.u64(uint64(t.GrandmasterIdentity))
	return w.result()
}

// UnmarshalBinary implements ManagementData
func (t *ParentDataSetTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.ParentPortIdentity = c.portIdentity()
	t.PS = c.u8()
	t.Reserved = c.u8()
	t.ObservedParentOffsetScaledLogVariance = c.u16()
	t.ObservedParentClockPhaseChangeRate = c.u32()
	t.GrandmasterPriority1 = c.u8()
	t.GrandmasterClockQuality = c.clockQuality()
	t.GrandmasterPriority2 = c.u8()
	t.GrandmasterIdentity = ClockIdentity(c.u64())
	return c.err
}

// TimePropertiesDataSetTLV Table 86 TIME_PROPERTIES_DATA_SET management TLV data field.
// Flags uses the second octet values of the header flag field (FlagLeap61 and friends).
type TimePropertiesDataSetTLV struct {
	CurrentUTCOffset int16
	Flags            uint8
	TimeSource       TimeSource
}

// ManagementID implements ManagementData
func (t *TimePropertiesDataSetTLV) ManagementID() ManagementID { return IDTimePropertiesDataSet }

// Len implements ManagementData
func (t *TimePropertiesDataSetTLV) Len() int { return 4 }

// MarshalBinaryTo implements ManagementData
func (t *TimePropertiesDataSetTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u16(uint16(t.CurrentUTCOffset))
	w.u8(t.Flags)
	w.u8(uint8(t.TimeSource))
	return w.result()
}

// UnmarshalBinary implements ManagementData
func (t *TimePropertiesDataSetTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.CurrentUTCOffset = int16(c.u16())
	t.Flags = c.u8()
	t.TimeSource = TimeSource(c.u8())
	return c.err
}

// DelayMechanism Table 9 delayMechanism enumeration
type DelayMechanism uint8

// DelayMechanism values
const (
	DelayMechanismE2E      DelayMechanism = 0x01
	DelayMechanismP2P      DelayMechanism = 0x02
	DelayMechanismDisabled DelayMechanism = 0xFE
)

var delayMechanismToString = map[DelayMechanism]string{
	DelayMechanismE2E:      "E2E",
	DelayMechanismP2P:      "P2P",
	DelayMechanismDisabled: "DISABLED",
}

func (d DelayMechanism) String() string {
	if s, ok := delayMechanismToString[d]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(d))
}

// PortDataSetTLV Table 87 PORT_DATA_SET management TLV data field
// size = 26 bytes
type PortDataSetTLV struct {
	PortIdentity            PortIdentity
	PortState               PortState
	LogMinDelayReqInterval  LogInterval
	PeerMeanPathDelay       TimeInterval
	LogAnnounceInterval     LogInterval
	AnnounceReceiptTimeout  uint8
	LogSyncInterval         LogInterval
	DelayMechanism          DelayMechanism
	LogMinPdelayReqInterval LogInterval
	VersionNumber           uint8 // lower nibble
}

// ManagementID implements ManagementData
func (t *PortDataSetTLV) ManagementID() ManagementID { return IDPortDataSet }

// Len implements ManagementData
func (t *PortDataSetTLV) Len() int { return 26 }

// MarshalBinaryTo implements ManagementData
func (t *PortDataSetTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.portIdentity(t.PortIdentity)
	w.u8(uint8(t.PortState))
	w.u8(uint8(t.LogMinDelayReqInterval))
	w.u64(uint64(t.PeerMeanPathDelay))
	w.u8(uint8(t.LogAnnounceInterval))
	w.u8(t.AnnounceReceiptTimeout)
	w.u8(uint8(t.LogSyncInterval))
	w.u8(uint8(t.DelayMechanism))
	w.u8(uint8(t.LogMinPdelayReqInterval))
	w.u8(setLowerNibble(0, t.VersionNumber))
	return w.result()
}

// UnmarshalBinary implements ManagementData
func (t *PortDataSetTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.PortIdentity = c.portIdentity()
	t.PortState = PortState(c.u8())
	t.LogMinDelayReqInterval = LogInterval(c.u8())
	t.PeerMeanPathDelay = TimeInterval(c.u64())
	t.LogAnnounceInterval = LogInterval(c.u8())
	t.AnnounceReceiptTimeout = c.u8()
	t.LogSyncInterval = LogInterval(c.u8())
	t.DelayMechanism = DelayMechanism(c.u8())
	t.LogMinPdelayReqInterval = LogInterval(c.u8())
	t.VersionNumber = lowerNibble(c.u8())
	return c.err
}

// OctetSettingTLV is the data field shared by all management ids carrying a single
// octet followed by a reserved one: PRIORITY1, PRIORITY2, DOMAIN, SLAVE_ONLY,
// LOG_ANNOUNCE_INTERVAL, ANNOUNCE_RECEIPT_TIMEOUT, LOG_SYNC_INTERVAL, VERSION_NUMBER,
// CLOCK_ACCURACY, TRACEABILITY_PROPERTIES, UNICAST_NEGOTIATION_ENABLE,
// DELAY_MECHANISM and LOG_MIN_PDELAY_REQ_INTERVAL.
type OctetSettingTLV struct {
	ID       ManagementID
	Value    uint8
	Reserved uint8
}

// NewOctetSetting builds OctetSettingTLV for id
func NewOctetSetting(id ManagementID, v uint8) *OctetSettingTLV {
	return &OctetSettingTLV{ID: id, Value: v}
}

// ManagementID implements ManagementData
func (t *OctetSettingTLV) ManagementID() ManagementID { return t.ID }

// Len implements ManagementData
func (t *OctetSettingTLV) Len() int { return 2 }

// Flag returns bit 0 of Value, used by SLAVE_ONLY and UNICAST_NEGOTIATION_ENABLE
func (t *OctetSettingTLV) Flag() bool { return t.Value&1 != 0 }

// LogInterval returns Value as a signed log interval
func (t *OctetSettingTLV) LogInterval() LogInterval { return LogInterval(t.Value) }

// MarshalBinaryTo implements ManagementData
func (t *OctetSettingTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u8(t.Value)
	w.u8(t.Reserved)
	return w.result()
}

// UnmarshalBinary implements ManagementData
func (t *OctetSettingTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.Value = c.u8()
	t.Reserved = c.u8()
	return c.err
}

// TimeTLV Table 73 TIME management TLV data field
type TimeTLV struct {
	CurrentTime Timestamp
}

// ManagementID implements ManagementData
func (t *TimeTLV) ManagementID() ManagementID { return IDTime }

// Len implements ManagementData
func (t *TimeTLV) Len() int { return timestampSize }

// MarshalBinaryTo implements ManagementData
func (t *TimeTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.timestamp(t.CurrentTime)
	return w.result()
}

// UnmarshalBinary implements ManagementData
func (t *TimeTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.CurrentTime = c.timestamp()
	return c.err
}

// UTCPropertiesTLV Table 75 UTC_PROPERTIES management TLV data field.
// Flags carries LI_61, LI_59 and UTCV in the same bits as the header flag field.
type UTCPropertiesTLV struct {
	CurrentUTCOffset int16
	Flags            uint8
	Reserved         uint8
}

// ManagementID implements ManagementData
func (t *UTCPropertiesTLV) ManagementID() ManagementID { return IDUTCProperties }

// Len implements ManagementData
func (t *UTCPropertiesTLV) Len() int { return 4 }

// MarshalBinaryTo implements ManagementData
func (t *UTCPropertiesTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u16(uint16(t.CurrentUTCOffset))
	w.u8(t.Flags)
	w.u8(t.Reserved)
	return w.result()
}

// UnmarshalBinary implements ManagementData
func (t *UTCPropertiesTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.CurrentUTCOffset = int16(c.u16())
	t.Flags = c.u8()
	t.Reserved = c.u8()
	return c.err
}

// TimescalePropertiesTLV Table 77 TIMESCALE_PROPERTIES management TLV data field
type TimescalePropertiesTLV struct {
	Flags      uint8 // PTP timescale bit as in the header flag field
	TimeSource TimeSource
}

// ManagementID implements ManagementData
func (t *TimescalePropertiesTLV) ManagementID() ManagementID { return IDTimescaleProperties }

// Len implements ManagementData
func (t *TimescalePropertiesTLV) Len() int { return 2 }

// MarshalBinaryTo implements ManagementData
func (t *TimescalePropertiesTLV) MarshalBinaryTo(b []byte) (int, error) {
	w := &writer{b: b}
	w.u8(t.Flags)
	w.u8(uint8(t.TimeSource))
	return w.result()
}

// UnmarshalBinary implements ManagementData
func (t *TimescalePropertiesTLV) UnmarshalBinary(b []byte) error {
	c := &cursor{b: b}
	t.Flags = c.u8()
	t.TimeSource = TimeSource(c.u8())
	return c.err
}
