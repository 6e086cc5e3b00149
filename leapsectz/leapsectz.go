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

// Package leapsectz reads leap second records from TZif files such as the
// "right" UTC zone, to know the current TAI-UTC offset and upcoming leap events.
package leapsectz

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// DefaultFile is the zone with leap second records on most distributions
const DefaultFile = "/usr/share/zoneinfo/right/UTC"

// TAI-UTC before the first leap second, in 1972
const taiBase = 10

// leap flags are announced this long before the event
const announceWindow = 12 * time.Hour

// Errors returned by Parse
var (
	ErrBadData            = errors.New("malformed TZif data")
	ErrUnsupportedVersion = errors.New("unsupported TZif version")
	ErrNoLeapSeconds      = errors.New("no leap second records")
)

// LeapSecond is one TZif leap record: the time of the event and the total correction after it
type LeapSecond struct {
	Tleap uint64
	Nleap int32
}

// Time returns when the leap second event occurs
func (l LeapSecond) Time() time.Time {
	return time.Unix(int64(l.Tleap-uint64(l.Nleap)+1), 0)
}

// Table is the list of leap seconds, oldest first
type Table []LeapSecond

// UTCOffset returns TAI-UTC in seconds at t
func (tbl Table) UTCOffset(t time.Time) int16 {
	n := int32(0)
	for _, l := range tbl {
		if l.Time().After(t) {
			break
		}
		n = l.Nleap
	}
	return int16(taiBase + n)
}

// Pending reports a leap second within the next 12 hours, the way the leap61 and leap59 flags announce it
func (tbl Table) Pending(t time.Time) (leap61, leap59 bool) {
	prev := int32(0)
	for _, l := range tbl {
		at := l.Time()
		if at.After(t) {
			if at.Sub(t) > announceWindow {
				return false, false
			}
			return l.Nleap > prev, l.Nleap < prev
		}
		prev = l.Nleap
	}
	return false, false
}

// header counts, field names follow RFC 8536
type header struct {
	IsUtcCnt uint32
	IsStdCnt uint32
	LeapCnt  uint32
	TimeCnt  uint32
	TypeCnt  uint32
	CharCnt  uint32
}

// dataLen is the size of the data block following the header
func (h *header) dataLen(timeSize int64) int64 {
	return int64(h.TimeCnt)*(timeSize+1) +
		int64(h.TypeCnt)*6 +
		int64(h.CharCnt) +
		int64(h.LeapCnt)*(timeSize+4) +
		int64(h.IsStdCnt) +
		int64(h.IsUtcCnt)
}

func readHeader(r io.Reader) (byte, *header, error) {
	// magic, version, 15 reserved octets
	var head [20]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrBadData, err)
	}
	if string(head[:4]) != "TZif" {
		return 0, nil, fmt.Errorf("%w: bad magic %q", ErrBadData, head[:4])
	}
	version := head[4]
	if version != 0 && (version < '2' || version > '4') {
		return 0, nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}
	h := &header{}
	if err := binary.Read(r, binary.BigEndian, h); err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrBadData, err)
	}
	return version, h, nil
}

func skip(r io.Reader, n int64) error {
	if c, _ := io.CopyN(io.Discard, r, n); c != n {
		return fmt.Errorf("%w: truncated data block", ErrBadData)
	}
	return nil
}

func parse(r io.Reader) (Table, error) {
	version, h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	timeSize := int64(4)
	if version != 0 {
		// the version 1 block is followed by a second header and a block with 64 bit times
		if err := skip(r, h.dataLen(timeSize)); err != nil {
			return nil, err
		}
		if _, h, err = readHeader(r); err != nil {
			return nil, err
		}
		timeSize = 8
	}
	if err := skip(r, int64(h.TimeCnt)*(timeSize+1)+int64(h.TypeCnt)*6+int64(h.CharCnt)); err != nil {
		return nil, err
	}
	tbl := make(Table, 0, h.LeapCnt)
	for i := uint32(0); i < h.LeapCnt; i++ {
		var l LeapSecond
		if timeSize == 4 {
			var rec struct {
				Tleap uint32
				Nleap int32
			}
			err = binary.Read(r, binary.BigEndian, &rec)
			l = LeapSecond{Tleap: uint64(rec.Tleap), Nleap: rec.Nleap}
		} else {
			err = binary.Read(r, binary.BigEndian, &l)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: leap record %d: %w", ErrBadData, i, err)
		}
		tbl = append(tbl, l)
	}
	if len(tbl) == 0 {
		return nil, ErrNoLeapSeconds
	}
	return tbl, nil
}

// Parse reads the leap second table from path, "" means DefaultFile
func Parse(path string) (Table, error) {
	if path == "" {
		path = DefaultFile
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}
