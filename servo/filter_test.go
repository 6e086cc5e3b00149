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
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMedian(t *testing.T) {
	testCases := []struct {
		in   []float64
		want float64
	}{
		{in: []float64{3, 1, 2}, want: 2},
		{in: []float64{4, 1, 3, 2}, want: 2.5},
		{in: []float64{-5}, want: -5},
	}
	for _, tc := range testCases {
		require.InDelta(t, tc.want, median(tc.in), 0.0001)
	}
	require.True(t, math.IsNaN(median([]float64{})))
	require.InDelta(t, 3.0, median([]int64{5, 1, 3}), 0.0001)
}

func TestMAD(t *testing.T) {
	values := []float64{1, 2, 3, 4, 100}
	med := median(values)
	require.InDelta(t, 3.0, med, 0.0001)
	require.InDelta(t, 1.0, mad(values, med), 0.0001)
}

func TestSmoothingFilter(t *testing.T) {
	f := NewSmoothingFilter(3)
	require.Equal(t, 0, f.Len())
	require.InDelta(t, 0.0, f.Mean(), 0.0001)
	require.InDelta(t, 0.0, f.Stddev(), 0.0001)

	f.Add(1)
	require.InDelta(t, 1.0, f.Mean(), 0.0001)
	require.InDelta(t, 0.0, f.Variance(), 0.0001)
	f.Add(2)
	f.Add(3)
	require.True(t, f.Full())
	f.Add(4)
	require.Equal(t, 3, f.Len())
	require.Equal(t, []float64{2, 3, 4}, f.Values())
	require.InDelta(t, 3.0, f.Mean(), 0.0001)
	require.Greater(t, f.Stddev(), 0.0)

	f.Reset()
	require.Equal(t, 0, f.Len())
	require.Empty(t, f.Values())
}

func TestSmoothingFilterMinSize(t *testing.T) {
	f := NewSmoothingFilter(0)
	f.Add(1)
	f.Add(7)
	require.Equal(t, 1, f.Len())
	require.InDelta(t, 7.0, f.Mean(), 0.0001)
}

func testFilterConfig() OutlierFilterConfig {
	cfg := DefaultOutlierFilterConfig()
	cfg.Enabled = true
	cfg.AutoTune = false
	cfg.Capacity = 10
	return cfg
}

var baseline = []float64{100, 110, 90, 105, 95, 100, 108, 92, 103, 97}

func TestOutlierFilterDisabled(t *testing.T) {
	f := NewOutlierFilter("test", DefaultOutlierFilterConfig())
	for _, v := range []float64{1, 1000000, -5} {
		out, ok := f.Filter(v)
		require.True(t, ok)
		require.InDelta(t, v, out, 0.0001)
	}
}

func TestOutlierFilterDiscard(t *testing.T) {
	f := NewOutlierFilter("test", testFilterConfig())
	for _, v := range baseline {
		_, ok := f.Filter(v)
		require.True(t, ok)
	}
	_, ok := f.Filter(10000)
	require.False(t, ok)
	require.True(t, f.LastOutlier())

	out, ok := f.Filter(102)
	require.True(t, ok)
	require.InDelta(t, 102.0, out, 0.0001)
	require.False(t, f.LastOutlier())
	require.InDelta(t, 102.0, f.Output(), 0.0001)
}

func TestOutlierFilterReplace(t *testing.T) {
	cfg := testFilterConfig()
	cfg.Discard = false
	f := NewOutlierFilter("test", cfg)
	for _, v := range baseline {
		_, ok := f.Filter(v)
		require.True(t, ok)
	}
	out, ok := f.Filter(-10000)
	require.True(t, ok)
	require.True(t, f.LastOutlier())
	require.InDelta(t, 100.0, out, 0.0001)
}

func TestOutlierFilterNeedsSamples(t *testing.T) {
	f := NewOutlierFilter("test", testFilterConfig())
	for _, v := range []float64{100, 1000000, -1000000} {
		_, ok := f.Filter(v)
		require.True(t, ok)
	}
}

func TestOutlierFilterAutoTune(t *testing.T) {
	cfg := testFilterConfig()
	cfg.AutoTune = true
	f := NewOutlierFilter("test", cfg)
	require.InDelta(t, 3.0, f.Threshold(), 0.0001)
	for i := range 10 {
		_, ok := f.Filter(float64(i % 3))
		require.True(t, ok)
	}
	// no outliers at all: tightened twice
	require.InDelta(t, 2.8, f.Threshold(), 0.0001)

	f.Reset()
	require.InDelta(t, 3.0, f.Threshold(), 0.0001)
}

func TestOutlierFilterAutoTuneBounds(t *testing.T) {
	cfg := testFilterConfig()
	cfg.AutoTune = true
	cfg.MinThreshold = 2.95
	f := NewOutlierFilter("test", cfg)
	for i := range 20 {
		_, _ = f.Filter(float64(i % 3))
	}
	require.InDelta(t, 2.95, f.Threshold(), 0.0001)
}

func TestOutlierFilterStepEventuallyAccepted(t *testing.T) {
	cfg := DefaultOutlierFilterConfig()
	cfg.Enabled = true
	cfg.AutoTune = false
	cfg.StepDelay = true
	f := NewOutlierFilter("test", cfg)

	noise := func(i int) float64 { return float64(i%5)*10 - 20 }
	for i := range 40 {
		_, ok := f.Filter(noise(i))
		require.True(t, ok)
	}

	sawBlocking := false
	accepted := -1
	for i := range 1000 {
		v := 1000000 + noise(i)
		out, ok := f.Filter(v)
		if f.Blocking() {
			sawBlocking = true
		}
		if ok {
			accepted = i
			require.InDelta(t, v, out, 0.0001)
			break
		}
	}
	require.True(t, sawBlocking)
	require.Greater(t, accepted, 0)
	require.False(t, f.Blocking())
}

func TestOutlierFilterStepWithoutCredit(t *testing.T) {
	cfg := DefaultOutlierFilterConfig()
	cfg.Enabled = true
	cfg.AutoTune = false
	cfg.StepDelay = true
	cfg.DelayCredit = 0
	f := NewOutlierFilter("test", cfg)

	noise := func(i int) float64 { return float64(i%5)*10 - 20 }
	for i := range 40 {
		_, _ = f.Filter(noise(i))
	}
	accepted := -1
	for i := range 100 {
		if _, ok := f.Filter(1000000 + noise(i)); ok {
			accepted = i
			break
		}
		require.False(t, f.Blocking())
	}
	// the window median moves over after half a window of outliers
	require.Greater(t, accepted, 0)
	require.Less(t, accepted, cfg.Capacity)
}
