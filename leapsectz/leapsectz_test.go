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

package leapsectz

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testLeaps = Table{
	{Tleap: 78796800, Nleap: 1}, // 1972-07-01
	{Tleap: 94694401, Nleap: 2}, // 1973-01-01
}

// tzif builds a UTC zone file with leap records and one local time type
func tzif(t *testing.T, version byte, leaps Table) []byte {
	var b bytes.Buffer
	block := func(wide bool) {
		b.WriteString("TZif")
		b.WriteByte(version)
		b.Write(make([]byte, 15))
		h := header{LeapCnt: uint32(len(leaps)), TypeCnt: 1, CharCnt: 4}
		require.NoError(t, binary.Write(&b, binary.BigEndian, h))
		b.Write([]byte{0, 0, 0, 0, 0, 0}) // ttinfo
		b.WriteString("UTC\x00")
		for _, l := range leaps {
			if wide {
				require.NoError(t, binary.Write(&b, binary.BigEndian, l))
			} else {
				require.NoError(t, binary.Write(&b, binary.BigEndian, []uint32{uint32(l.Tleap), uint32(l.Nleap)}))
			}
		}
	}
	block(false)
	if version != 0 {
		block(true)
		b.WriteString("\nUTC0\n")
	}
	return b.Bytes()
}

func TestParse(t *testing.T) {
	for _, version := range []byte{0, '2', '3'} {
		tbl, err := parse(bytes.NewReader(tzif(t, version, testLeaps)))
		require.NoError(t, err)
		require.Equal(t, testLeaps, tbl)
	}
}

func TestParseErrors(t *testing.T) {
	_, err := parse(bytes.NewReader([]byte("TZ")))
	require.ErrorIs(t, err, ErrBadData)

	_, err = parse(bytes.NewReader(append([]byte("TZxx"), make([]byte, 40)...)))
	require.ErrorIs(t, err, ErrBadData)

	data := tzif(t, 0, testLeaps)
	data[4] = '1'
	_, err = parse(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = parse(bytes.NewReader(tzif(t, '2', nil)))
	require.ErrorIs(t, err, ErrNoLeapSeconds)

	data = tzif(t, 0, testLeaps)
	_, err = parse(bytes.NewReader(data[:len(data)-3]))
	require.ErrorIs(t, err, ErrBadData)
}

func TestLeapSecondTime(t *testing.T) {
	require.Equal(t, time.Date(1972, 7, 1, 0, 0, 0, 0, time.UTC), testLeaps[0].Time().UTC())
	require.Equal(t, time.Date(1973, 1, 1, 0, 0, 0, 0, time.UTC), testLeaps[1].Time().UTC())
}

func TestUTCOffset(t *testing.T) {
	require.Equal(t, int16(10), testLeaps.UTCOffset(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, int16(11), testLeaps.UTCOffset(time.Date(1972, 7, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, int16(11), testLeaps.UTCOffset(time.Date(1972, 12, 31, 23, 59, 59, 0, time.UTC)))
	require.Equal(t, int16(12), testLeaps.UTCOffset(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestPending(t *testing.T) {
	leap61, leap59 := testLeaps.Pending(time.Date(1972, 12, 31, 20, 0, 0, 0, time.UTC))
	require.True(t, leap61)
	require.False(t, leap59)

	leap61, leap59 = testLeaps.Pending(time.Date(1972, 12, 30, 0, 0, 0, 0, time.UTC))
	require.False(t, leap61)
	require.False(t, leap59)

	negative := Table{{Tleap: 78796800, Nleap: 1}, {Tleap: 94694399, Nleap: 0}}
	leap61, leap59 = negative.Pending(time.Date(1972, 12, 31, 20, 0, 0, 0, time.UTC))
	require.False(t, leap61)
	require.True(t, leap59)

	leap61, leap59 = testLeaps.Pending(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	require.False(t, leap61)
	require.False(t, leap59)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "UTC")
	require.NoError(t, os.WriteFile(path, tzif(t, '2', testLeaps), 0o644))
	tbl, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, tbl, 2)

	_, err = Parse(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
