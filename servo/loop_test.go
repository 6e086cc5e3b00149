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
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// simClock drifts by drift ppb plus whatever frequency was set on it
type simClock struct {
	drift  float64
	freq   float64
	offset float64
	steps  []time.Duration
	adjs   []float64
	err    error
}

func (c *simClock) AdjFreqPPB(freq float64) error {
	if c.err != nil {
		return c.err
	}
	c.freq = freq
	c.adjs = append(c.adjs, freq)
	return nil
}

func (c *simClock) Step(step time.Duration) error {
	if c.err != nil {
		return c.err
	}
	c.offset += float64(step)
	c.steps = append(c.steps, step)
	return nil
}

// second lets a second pass on the simulated clock
func (c *simClock) second() {
	c.offset += c.drift + c.freq
}

const pathDelay = 5 * time.Microsecond

func syncSample(n int, offset float64) OffsetSample {
	origin := t0.Add(time.Duration(n) * time.Second)
	return OffsetSample{
		Origin:  origin,
		Receive: origin.Add(pathDelay + time.Duration(offset)),
	}
}

func delaySample(offset time.Duration) DelaySample {
	return DelaySample{
		T1: t0,
		T2: t0.Add(pathDelay + offset),
		T3: t0.Add(time.Millisecond),
		T4: t0.Add(time.Millisecond + pathDelay - offset),
	}
}

func testLoopConfig() *Config {
	cfg := DefaultConfig()
	cfg.PI.PiKp = 0.7
	cfg.PI.PiKi = 0.3
	return cfg
}

func TestControlLoopConverges(t *testing.T) {
	clk := &simClock{drift: 20000, offset: 3000}
	loop, err := NewControlLoop(testLoopConfig(), clk, 0, 500000)
	require.NoError(t, err)
	loop.SetSyncInterval(time.Second)

	d, ok := loop.Delay(delaySample(time.Duration(clk.offset)))
	require.True(t, ok)
	require.Equal(t, pathDelay, d)

	r := rand.New(rand.NewSource(42))
	for n := range 300 {
		noise := r.Float64()*100 - 50
		dec, err := loop.Offset(syncSample(n, clk.offset+noise))
		require.NoError(t, err)
		require.Equal(t, ActionSlew, dec.Action)
		require.Equal(t, pathDelay, dec.Delay)
		if n >= 250 {
			require.Less(t, math.Abs(float64(dec.Offset)), 250.0, "sample %d", n)
		}
		clk.second()
	}
	require.Equal(t, 0, loop.Steps())
	require.Empty(t, clk.steps)
	require.Equal(t, StatusLocked, loop.Status())
	require.Less(t, loop.Adev(), 200.0)
	// the servo frequency cancels the drift
	require.InDelta(t, -20000.0, clk.freq, 200)
	require.InDelta(t, 20000.0, loop.FreqPPB(), 200)
	require.LessOrEqual(t, loop.Accuracy(), ptp.ClockAccuracyNanosecond250)
}

func TestControlLoopFirstStep(t *testing.T) {
	clk := &simClock{offset: float64(time.Millisecond)}
	loop, err := NewControlLoop(testLoopConfig(), clk, 0, 500000)
	require.NoError(t, err)
	_, ok := loop.Delay(delaySample(time.Duration(clk.offset)))
	require.True(t, ok)

	dec, err := loop.Offset(syncSample(0, clk.offset))
	require.NoError(t, err)
	require.Equal(t, ActionStep, dec.Action)
	require.Equal(t, StateJump, dec.State)
	require.Equal(t, time.Millisecond, dec.Offset)
	require.Equal(t, []time.Duration{-time.Millisecond}, clk.steps)
	require.Equal(t, 1, loop.Steps())
	require.InDelta(t, 0.0, clk.offset, 0.0001)

	dec, err = loop.Offset(syncSample(1, 100))
	require.NoError(t, err)
	require.Equal(t, ActionSlew, dec.Action)
	require.Equal(t, StateLocked, dec.State)
	require.Equal(t, 1, loop.Steps())
}

func TestControlLoopSaturated(t *testing.T) {
	clk := &simClock{}
	loop, err := NewControlLoop(testLoopConfig(), clk, 0, 100)
	require.NoError(t, err)
	_, ok := loop.Delay(delaySample(0))
	require.True(t, ok)
	require.False(t, loop.Saturated())

	dec, err := loop.Offset(syncSample(0, 1000))
	require.NoError(t, err)
	require.Equal(t, ActionSlew, dec.Action)
	require.True(t, loop.Saturated())
	require.InDelta(t, -100.0, clk.freq, 0.0001)
}

func TestControlLoopPanic(t *testing.T) {
	cfg := testLoopConfig()
	cfg.StepThreshold = time.Millisecond
	cfg.PanicSamples = 2
	clk := &simClock{}
	loop, err := NewControlLoop(cfg, clk, 0, 500000)
	require.NoError(t, err)
	_, ok := loop.Delay(delaySample(0))
	require.True(t, ok)

	dec, err := loop.Offset(syncSample(0, 100))
	require.NoError(t, err)
	require.Equal(t, ActionSlew, dec.Action)
	adjs := len(clk.adjs)

	for n := 1; n <= 2; n++ {
		dec, err = loop.Offset(syncSample(n, float64(2*time.Millisecond)))
		require.NoError(t, err)
		require.Equal(t, ActionNone, dec.Action)
		require.Equal(t, StateFilter, dec.State)
	}
	// frequency is left alone while in panic
	require.Len(t, clk.adjs, adjs)

	dec, err = loop.Offset(syncSample(3, float64(2*time.Millisecond)))
	require.NoError(t, err)
	require.Equal(t, ActionStep, dec.Action)
	require.Equal(t, []time.Duration{-2 * time.Millisecond}, clk.steps)
}

func TestControlLoopDelay(t *testing.T) {
	loop, err := NewControlLoop(testLoopConfig(), &simClock{}, 0, 0)
	require.NoError(t, err)
	_, ok := loop.MeanPathDelay()
	require.False(t, ok)

	d, ok := loop.Delay(DelaySample{
		T1: t0,
		T2: t0.Add(1500 * time.Nanosecond),
		T3: t0.Add(10 * time.Microsecond),
		T4: t0.Add(10*time.Microsecond + 500*time.Nanosecond),
	})
	require.True(t, ok)
	require.Equal(t, time.Microsecond, d)

	// correction is taken off before halving
	d, ok = loop.Delay(DelaySample{
		T1:         t0,
		T2:         t0.Add(1500 * time.Nanosecond),
		T3:         t0.Add(10 * time.Microsecond),
		T4:         t0.Add(10*time.Microsecond + 500*time.Nanosecond),
		Correction: 400 * time.Nanosecond,
	})
	require.True(t, ok)
	require.Equal(t, 800*time.Nanosecond, d)

	d, ok = loop.Delay(DelaySample{
		T1: t0,
		T2: t0.Add(-3000 * time.Nanosecond),
		T3: t0.Add(10 * time.Microsecond),
		T4: t0.Add(10*time.Microsecond + 1000*time.Nanosecond),
	})
	require.False(t, ok)
	require.Equal(t, 800*time.Nanosecond, d)

	mpd, ok := loop.MeanPathDelay()
	require.True(t, ok)
	require.Equal(t, 800*time.Nanosecond, mpd)
}

func TestControlLoopOffsetCorrection(t *testing.T) {
	clk := &simClock{}
	loop, err := NewControlLoop(testLoopConfig(), clk, 0, 0)
	require.NoError(t, err)
	_, ok := loop.Delay(delaySample(0))
	require.True(t, ok)

	s := syncSample(0, 700)
	s.Correction = 200 * time.Nanosecond
	dec, err := loop.Offset(s)
	require.NoError(t, err)
	require.Equal(t, 500*time.Nanosecond, dec.Offset)
	require.Equal(t, 500*time.Nanosecond, loop.LastOffset())
}

func TestControlLoopHoldover(t *testing.T) {
	clk := &simClock{}
	loop, err := NewControlLoop(testLoopConfig(), clk, -1000, 0)
	require.NoError(t, err)
	_, ok := loop.Delay(delaySample(0))
	require.True(t, ok)

	var last time.Time
	for n := range 10 {
		s := syncSample(n, 0)
		last = s.Receive
		dec, err := loop.Offset(s)
		require.NoError(t, err)
		require.InDelta(t, 1000.0, dec.FreqPPB, 0.0001)
		if n == 9 {
			require.True(t, dec.StatusChanged)
			require.Equal(t, StatusLocked, dec.Status)
		}
	}
	adjs := len(clk.adjs)

	status, changed, err := loop.Tick(last.Add(30 * time.Second))
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, StatusLocked, status)

	status, changed, err = loop.Tick(last.Add(61 * time.Second))
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, StatusHoldover, status)
	require.Len(t, clk.adjs, adjs+1)
	require.InDelta(t, -1000.0, clk.freq, 0.0001)

	status, changed, err = loop.Tick(last.Add(601 * time.Second))
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, StatusFreerun, status)
	require.Len(t, clk.adjs, adjs+1)
}

func TestControlLoopReset(t *testing.T) {
	clk := &simClock{}
	loop, err := NewControlLoop(testLoopConfig(), clk, 0, 0)
	require.NoError(t, err)
	_, ok := loop.Delay(delaySample(0))
	require.True(t, ok)
	dec, err := loop.Offset(syncSample(0, 100))
	require.NoError(t, err)
	require.Equal(t, ActionSlew, dec.Action)
	require.InDelta(t, 100.0, loop.FreqPPB(), 0.0001)

	// after the first update big offsets no longer step
	dec, err = loop.Offset(syncSample(1, 50000))
	require.NoError(t, err)
	require.Equal(t, ActionSlew, dec.Action)

	loop.Reset()
	_, ok = loop.MeanPathDelay()
	require.False(t, ok)
	// frequency estimate survives
	require.InDelta(t, 50030.0, loop.FreqPPB(), 1)

	dec, err = loop.Offset(OffsetSample{Origin: t0, Receive: t0.Add(50 * time.Microsecond)})
	require.NoError(t, err)
	require.Equal(t, ActionStep, dec.Action)
	require.Equal(t, 1, loop.Steps())
}

func TestControlLoopClockError(t *testing.T) {
	clk := &simClock{err: errors.New("no permission")}
	loop, err := NewControlLoop(testLoopConfig(), clk, 0, 0)
	require.NoError(t, err)

	_, err = loop.Offset(syncSample(0, 100))
	require.ErrorContains(t, err, "no permission")

	loop, err = NewControlLoop(testLoopConfig(), clk, 0, 0)
	require.NoError(t, err)
	_, err = loop.Offset(syncSample(0, float64(time.Second)))
	require.ErrorContains(t, err, "stepping clock")
}

func TestControlLoopMaxFreq(t *testing.T) {
	cfg := testLoopConfig()
	cfg.MaxFreqPPB = 1000
	clk := &simClock{}
	loop, err := NewControlLoop(cfg, clk, 0, 500000)
	require.NoError(t, err)
	dec, err := loop.Offset(syncSample(0, 10000))
	require.NoError(t, err)
	require.InDelta(t, 1000.0, dec.FreqPPB, 0.0001)
	require.InDelta(t, -1000.0, clk.freq, 0.0001)
}

func TestNewControlLoopInvalid(t *testing.T) {
	cfg := testLoopConfig()
	cfg.AccuracyExpr = "bogus + 1"
	_, err := NewControlLoop(cfg, &simClock{}, 0, 0)
	require.Error(t, err)

	cfg = testLoopConfig()
	cfg.StepThreshold = -time.Second
	_, err = NewControlLoop(cfg, &simClock{}, 0, 0)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	testCases := []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "panic samples", modify: func(c *Config) { c.PanicSamples = -1 }},
		{name: "max freq", modify: func(c *Config) { c.MaxFreqPPB = -1 }},
		{name: "gains", modify: func(c *Config) { c.PI.PiKp = -1 }},
		{name: "filter capacity", modify: func(c *Config) {
			c.OffsetFilter.Enabled = true
			c.OffsetFilter.Capacity = 2
		}},
		{name: "filter weight", modify: func(c *Config) {
			c.DelayFilter.Enabled = true
			c.DelayFilter.Weight = 2
		}},
		{name: "smoothing", modify: func(c *Config) {
			c.Smoothing.Enabled = true
			c.Smoothing.Window = 0
		}},
		{name: "watermarks", modify: func(c *Config) { c.Classifier.StableAdev = 5000 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.modify(c)
			require.Error(t, c.Validate())
		})
	}
}
