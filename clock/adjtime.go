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

package clock

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// PPBToTimexPPM converts PPB to the timex frequency unit.
// man clock_adjtime(2): freq is ppm with a 16-bit fractional part, so 65536 is 1 ppm.
const PPBToTimexPPM = 65.536

// DefaultMaxFreqPPB is used when the clock doesn't report its tolerance, same as linuxptp
const DefaultMaxFreqPPB = 500000.0

// clock_adjtime modes from usr/include/linux/timex.h
const (
	AdjOffset    uint32 = 0x0001
	AdjFrequency uint32 = 0x0002
	AdjMaxError  uint32 = 0x0004
	AdjEstError  uint32 = 0x0008
	AdjStatus    uint32 = 0x0010
	AdjTimeConst uint32 = 0x0020
	AdjTAI       uint32 = 0x0080
	AdjSetOffset uint32 = 0x0100
	AdjMicro     uint32 = 0x1000
	AdjNano      uint32 = 0x2000
	AdjTick      uint32 = 0x4000
)

// FrequencyPPB reads clock frequency in PPB
func FrequencyPPB(clockid int32) (freqPPB float64, state int, err error) {
	tx := &unix.Timex{}
	state, err = unix.ClockAdjtime(clockid, tx)
	freqPPB = float64(tx.Freq) / PPBToTimexPPM
	return freqPPB, state, err
}

// AdjFreqPPB adjusts clock frequency in PPB
func AdjFreqPPB(clockid int32, freqPPB float64) (state int, err error) {
	tx := &unix.Timex{Modes: AdjFrequency}
	tx.Freq = int64(freqPPB * PPBToTimexPPM)
	return unix.ClockAdjtime(clockid, tx)
}

// stepTimex builds the ADJ_SETOFFSET request. With ADJ_NANO the Usec field holds
// nanoseconds and must never be negative.
func stepTimex(step time.Duration) *unix.Timex {
	tx := &unix.Timex{Modes: AdjSetOffset | AdjNano}
	sec := int64(step / time.Second)
	nsec := int64(step % time.Second)
	if nsec < 0 {
		sec--
		nsec += int64(time.Second)
	}
	tx.Time.Sec = sec
	tx.Time.Usec = nsec
	return tx
}

// Step steps clock by given step
func Step(clockid int32, step time.Duration) (state int, err error) {
	return unix.ClockAdjtime(clockid, stepTimex(step))
}

// MaxFreqPPB returns maximum frequency adjustment supported by the clock
func MaxFreqPPB(clockid int32) (freqPPB float64, state int, err error) {
	tx := &unix.Timex{}
	state, err = unix.ClockAdjtime(clockid, tx)
	if err != nil {
		return 0, state, err
	}
	freqPPB = float64(tx.Tolerance) / PPBToTimexPPM
	if freqPPB == 0 {
		freqPPB = DefaultMaxFreqPPB
	}
	return freqPPB, state, nil
}

// SetSync sets clock status to TIME_OK
func SetSync(clockid int32) error {
	tx := &unix.Timex{Modes: AdjStatus | AdjMaxError}
	state, err := unix.ClockAdjtime(clockid, tx)
	if err == nil && state != unix.TIME_OK {
		return fmt.Errorf("clock state %d is not TIME_OK after setting sync state", state)
	}
	return err
}

// Now reads the clock
func Now(clockid int32) (time.Time, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(clockid, &ts); err != nil {
		return time.Time{}, err
	}
	return time.Unix(ts.Unix()), nil
}
