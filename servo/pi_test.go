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

package servo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1674148530, 671467104)

func newTestPi(freq float64) *PiServo {
	cfg := DefaultPiServoCfg()
	cfg.PiKp = 0.7
	cfg.PiKi = 0.3
	s := DefaultServoConfig()
	s.FirstUpdate = false
	pi := NewPiServo(s, cfg, freq)
	pi.SyncInterval(1)
	return pi
}

func TestPiServoSample(t *testing.T) {
	pi := newTestPi(0)
	require.Equal(t, StateInit, pi.GetState())

	freq, state := pi.Sample(1000, t0)
	require.Equal(t, StateLocked, state)
	require.InDelta(t, 1000.0, freq, 0.0001)
	require.InDelta(t, 1.0, pi.Tau(), 0.0001)

	freq, state = pi.Sample(500, t0.Add(time.Second))
	require.Equal(t, StateLocked, state)
	require.InDelta(t, 800.0, freq, 0.0001)

	freq, state = pi.Sample(-200, t0.Add(2*time.Second))
	require.Equal(t, StateLocked, state)
	require.InDelta(t, 250.0, freq, 0.0001)
	require.InDelta(t, 250.0, pi.LastFreq(), 0.0001)
	require.Equal(t, StateLocked, pi.GetState())
}

func TestPiServoPrimedFreq(t *testing.T) {
	pi := newTestPi(10000)
	require.InDelta(t, 10000.0, pi.LastFreq(), 0.0001)

	freq, state := pi.Sample(1000, t0)
	require.Equal(t, StateLocked, state)
	require.InDelta(t, 11000.0, freq, 0.0001)

	pi.SetLastFreq(-111288.406372)
	require.InEpsilon(t, -111288.406372, pi.LastFreq(), 0.00001)
	require.InEpsilon(t, -111288.406372, pi.integral, 0.00001)
}

func TestPiServoMaxTau(t *testing.T) {
	pi := newTestPi(0)
	_, _ = pi.Sample(100, t0)
	freq, state := pi.Sample(100, t0.Add(100*time.Second))
	require.Equal(t, StateLocked, state)
	require.InDelta(t, 5.0, pi.Tau(), 0.0001)
	// 0.3*100*1 + 0.3*100*5 + 0.7*100
	require.InDelta(t, 250.0, freq, 0.0001)

	pi.SyncInterval(2)
	_, _ = pi.Sample(100, t0.Add(200*time.Second))
	require.InDelta(t, 10.0, pi.Tau(), 0.0001)
}

func TestPiServoNonPositiveTau(t *testing.T) {
	pi := newTestPi(0)
	_, _ = pi.Sample(100, t0)
	_, _ = pi.Sample(100, t0.Add(-time.Second))
	require.InDelta(t, 1.0, pi.Tau(), 0.0001)
}

func TestPiServoGainFloor(t *testing.T) {
	cfg := &PiServoCfg{}
	s := DefaultServoConfig()
	s.FirstUpdate = false
	pi := NewPiServo(s, cfg, 0)
	freq, state := pi.Sample(1000000, t0)
	require.Equal(t, StateLocked, state)
	require.InDelta(t, 2.0, freq, 0.0001)
}

func TestPiServoClamp(t *testing.T) {
	pi := newTestPi(0)
	pi.SetMaxFreq(500)
	freq, state := pi.Sample(1000000, t0)
	require.Equal(t, StateLocked, state)
	require.InDelta(t, 500.0, freq, 0.0001)
	require.True(t, pi.RunningMaxOutput())
	require.InDelta(t, 500.0, pi.integral, 0.0001)

	freq, _ = pi.Sample(-1000000, t0.Add(time.Second))
	require.InDelta(t, -500.0, freq, 0.0001)
	require.True(t, pi.RunningMaxOutput())

	freq, _ = pi.Sample(500, t0.Add(2*time.Second))
	require.InDelta(t, 0.0, freq, 0.0001)
	require.False(t, pi.RunningMaxOutput())
}

func TestPiServoFirstStep(t *testing.T) {
	pi := newTestPi(-111288.406372)
	pi.FirstUpdate = true
	pi.FirstStepThreshold = 20000

	freq, state := pi.Sample(235000, t0)
	require.Equal(t, StateJump, state)
	require.InEpsilon(t, -111288.406372, freq, 0.00001)

	pi.UnsetFirstUpdate()
	_, state = pi.Sample(235000, t0.Add(time.Second))
	require.Equal(t, StateLocked, state)
}

func TestPiServoStepBeforeLock(t *testing.T) {
	pi := newTestPi(0)
	pi.StepThreshold = 1000
	_, state := pi.Sample(5000, t0)
	require.Equal(t, StateJump, state)
	require.Equal(t, StateInit, pi.GetState())
}

func TestPiServoPanic(t *testing.T) {
	pi := newTestPi(0)
	pi.StepThreshold = 1000
	pi.PanicSamples = 2

	freq, state := pi.Sample(100, t0)
	require.Equal(t, StateLocked, state)

	held, state := pi.Sample(5000, t0.Add(time.Second))
	require.Equal(t, StateFilter, state)
	require.InDelta(t, freq, held, 0.0001)
	require.Equal(t, StateFilter, pi.GetState())

	_, state = pi.Sample(5000, t0.Add(2*time.Second))
	require.Equal(t, StateFilter, state)

	_, state = pi.Sample(5000, t0.Add(3*time.Second))
	require.Equal(t, StateJump, state)
}

func TestPiServoPanicExit(t *testing.T) {
	pi := newTestPi(0)
	pi.StepThreshold = 1000
	pi.StepExitThreshold = 500
	pi.PanicSamples = 5

	_, state := pi.Sample(100, t0)
	require.Equal(t, StateLocked, state)

	_, state = pi.Sample(5000, t0.Add(time.Second))
	require.Equal(t, StateFilter, state)

	// under the step threshold but not under the exit threshold, still in panic
	_, state = pi.Sample(800, t0.Add(2*time.Second))
	require.Equal(t, StateFilter, state)

	_, state = pi.Sample(300, t0.Add(3*time.Second))
	require.Equal(t, StateLocked, state)
	require.Equal(t, StateLocked, pi.GetState())
}

func TestPiServoMeanFreq(t *testing.T) {
	cfg := DefaultPiServoCfg()
	cfg.PiKp = 0.7
	cfg.PiKi = 0.3
	cfg.FreqWindow = 3
	s := DefaultServoConfig()
	s.FirstUpdate = false
	pi := NewPiServo(s, cfg, 0)
	require.InDelta(t, 0.0, pi.MeanFreq(), 0.0001)

	// outputs: 1000, 800, 250, 140
	_, _ = pi.Sample(1000, t0)
	_, _ = pi.Sample(500, t0.Add(time.Second))
	_, _ = pi.Sample(-200, t0.Add(2*time.Second))
	freq, _ := pi.Sample(-250, t0.Add(3*time.Second))
	require.InDelta(t, 140.0, freq, 0.0001)
	require.InDelta(t, (800.0+250.0+140.0)/3, pi.MeanFreq(), 0.0001)
}

func TestPiServoReset(t *testing.T) {
	pi := newTestPi(0)
	_, _ = pi.Sample(1000, t0)
	pi.Reset()
	require.Equal(t, StateInit, pi.GetState())
	require.InDelta(t, 1000.0, pi.LastFreq(), 0.0001)
	require.InDelta(t, 0.0, pi.integral, 0.0001)
	require.Equal(t, 0, pi.freqs.Len())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "LOCKED", StateLocked.String())
	require.Equal(t, "HOLDOVER", StateHoldover.String())
	require.Equal(t, "UNSUPPORTED", State(42).String())
}
