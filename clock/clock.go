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
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// FDToClockID turns an open PHC device into a dynamic posix clock id, see FD_TO_CLOCKID in the kernel
func FDToClockID(fd uintptr) int32 {
	return int32((int(^fd) << 3) | 3)
}

// IfaceToPHCDevice returns path to PHC device associated with given network card iface
func IfaceToPHCDevice(iface string) (string, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return "", fmt.Errorf("failed to create socket for ioctl: %w", err)
	}
	defer unix.Close(fd)
	info, err := unix.IoctlGetEthtoolTsInfo(fd, iface)
	if err != nil {
		return "", fmt.Errorf("getting interface %s info: %w", iface, err)
	}
	if info.Phc_index < 0 {
		return "", fmt.Errorf("%s: no PHC support", iface)
	}
	return fmt.Sprintf("/dev/ptp%d", info.Phc_index), nil
}

// warnState logs clock states other than TIME_OK, they don't fail the adjustment
func warnState(name, op string, state int, err error) {
	if err == nil && state != unix.TIME_OK {
		log.Warningf("%s: clock state %d is not TIME_OK after %s", name, state, op)
	}
}

// SysClock drives CLOCK_REALTIME
type SysClock struct{}

// Now returns the system time
func (c *SysClock) Now() (time.Time, error) {
	return time.Now(), nil
}

// AdjFreqPPB adjusts the system clock frequency
func (c *SysClock) AdjFreqPPB(freqPPB float64) error {
	state, err := AdjFreqPPB(unix.CLOCK_REALTIME, freqPPB)
	warnState("CLOCK_REALTIME", "adjusting frequency", state, err)
	return err
}

// Step jumps the system clock
func (c *SysClock) Step(step time.Duration) error {
	state, err := Step(unix.CLOCK_REALTIME, step)
	warnState("CLOCK_REALTIME", "stepping", state, err)
	return err
}

// FrequencyPPB returns current system clock frequency
func (c *SysClock) FrequencyPPB() (float64, error) {
	freqPPB, state, err := FrequencyPPB(unix.CLOCK_REALTIME)
	warnState("CLOCK_REALTIME", "getting current frequency", state, err)
	return freqPPB, err
}

// MaxFreqPPB returns maximum frequency adjustment supported by the system clock
func (c *SysClock) MaxFreqPPB() (float64, error) {
	freqPPB, state, err := MaxFreqPPB(unix.CLOCK_REALTIME)
	warnState("CLOCK_REALTIME", "getting max frequency adjustment", state, err)
	return freqPPB, err
}

// SetSync marks the system clock as synchronized
func (c *SysClock) SetSync() error {
	return SetSync(unix.CLOCK_REALTIME)
}

// PHC drives the hardware clock of a network card
type PHC struct {
	dev     *os.File
	clockID int32
}

// NewPHC opens the PHC device of the network interface
func NewPHC(iface string) (*PHC, error) {
	path, err := IfaceToPHCDevice(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to map iface to device: %w", err)
	}
	return OpenPHC(path)
}

// OpenPHC opens a PHC device such as /dev/ptp0
func OpenPHC(path string) (*PHC, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening PHC device: %w", err)
	}
	return &PHC{dev: f, clockID: FDToClockID(f.Fd())}, nil
}

// Close releases the device
func (p *PHC) Close() error {
	return p.dev.Close()
}

// Device returns the device path
func (p *PHC) Device() string {
	return p.dev.Name()
}

// Now reads the PHC
func (p *PHC) Now() (time.Time, error) {
	return Now(p.clockID)
}

// AdjFreqPPB adjusts PHC frequency
func (p *PHC) AdjFreqPPB(freqPPB float64) error {
	state, err := AdjFreqPPB(p.clockID, freqPPB)
	warnState(p.dev.Name(), "adjusting frequency", state, err)
	return err
}

// Step jumps time on PHC
func (p *PHC) Step(step time.Duration) error {
	state, err := Step(p.clockID, step)
	warnState(p.dev.Name(), "stepping", state, err)
	return err
}

// FrequencyPPB returns current PHC frequency
func (p *PHC) FrequencyPPB() (float64, error) {
	freqPPB, state, err := FrequencyPPB(p.clockID)
	warnState(p.dev.Name(), "getting current frequency", state, err)
	return freqPPB, err
}

// MaxFreqPPB returns maximum frequency adjustment supported by PHC
func (p *PHC) MaxFreqPPB() (float64, error) {
	caps, err := unix.IoctlPtpClockGetcaps(int(p.dev.Fd()))
	if err != nil {
		return 0, fmt.Errorf("%s: reading clock caps: %w", p.dev.Name(), err)
	}
	if caps.Max_adj == 0 {
		return DefaultMaxFreqPPB, nil
	}
	return float64(caps.Max_adj), nil
}

// SetSync is a no-op, PHCs have no kernel sync status
func (p *PHC) SetSync() error {
	return nil
}

// FreeRunning reads the system clock and never touches it
type FreeRunning struct{}

// Now returns the system time
func (c *FreeRunning) Now() (time.Time, error) { return time.Now(), nil }

// AdjFreqPPB does nothing
func (c *FreeRunning) AdjFreqPPB(float64) error { return nil }

// Step does nothing
func (c *FreeRunning) Step(time.Duration) error { return nil }

// FrequencyPPB is always 0
func (c *FreeRunning) FrequencyPPB() (float64, error) { return 0, nil }

// MaxFreqPPB returns the default limit so the servo still runs its maths
func (c *FreeRunning) MaxFreqPPB() (float64, error) { return DefaultMaxFreqPPB, nil }

// SetSync does nothing
func (c *FreeRunning) SetSync() error { return nil }
