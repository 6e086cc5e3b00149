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
	"container/ring"
	"math"
	"sort"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/constraints"
)

// outlier detection needs a few samples to compute median and MAD from
const outlierMinSamples = 4

func median[T constraints.Integer | constraints.Float](values []T) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	c := make([]float64, len(values))
	for i, v := range values {
		c[i] = float64(v)
	}
	sort.Float64s(c)
	l := len(c)
	if l%2 == 0 {
		return (c[l/2-1] + c[l/2]) / 2
	}
	return c[l/2]
}

// mad is the median absolute deviation from med
func mad[T constraints.Integer | constraints.Float](values []T, med float64) float64 {
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(float64(v) - med)
	}
	return median(dev)
}

// SmoothingFilter is a bounded moving window with mean and variance over its contents
type SmoothingFilter struct {
	size    int
	count   int
	samples *ring.Ring
	stats   *welford.Stats
}

// NewSmoothingFilter returns a window of size samples
func NewSmoothingFilter(size int) *SmoothingFilter {
	if size < 1 {
		size = 1
	}
	f := &SmoothingFilter{size: size}
	f.Reset()
	return f
}

// Add pushes v into the window, dropping the oldest sample when full
func (f *SmoothingFilter) Add(v float64) {
	f.samples.Value = v
	f.samples = f.samples.Next()
	if f.count != f.size {
		f.count++
	}
	f.stats = welford.New()
	f.samples.Do(func(val any) {
		if val == nil {
			return
		}
		f.stats.Add(val.(float64))
	})
}

// Values returns window contents, oldest first
func (f *SmoothingFilter) Values() []float64 {
	out := make([]float64, 0, f.count)
	f.samples.Do(func(val any) {
		if val == nil {
			return
		}
		out = append(out, val.(float64))
	})
	return out
}

// Len is the number of samples in the window
func (f *SmoothingFilter) Len() int {
	return f.count
}

// Full reports whether the window holds size samples
func (f *SmoothingFilter) Full() bool {
	return f.count == f.size
}

// Mean of the window, 0 when empty
func (f *SmoothingFilter) Mean() float64 {
	if f.count == 0 {
		return 0
	}
	return f.stats.Mean()
}

// Variance of the window
func (f *SmoothingFilter) Variance() float64 {
	if f.count < 2 {
		return 0
	}
	return f.stats.Variance()
}

// Stddev of the window
func (f *SmoothingFilter) Stddev() float64 {
	if f.count < 2 {
		return 0
	}
	return f.stats.Stddev()
}

// Reset - cleanup and restart filter
func (f *SmoothingFilter) Reset() {
	f.samples = ring.New(f.size)
	f.count = 0
	f.stats = welford.New()
}

// OutlierFilterConfig configures OutlierFilter. Thresholds are multiples of MAD,
// StepThreshold and StepLevel are nanoseconds.
type OutlierFilterConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Discard   bool    `yaml:"discard"`
	AutoTune  bool    `yaml:"autotune"`
	StepDelay bool    `yaml:"step_delay"`
	Capacity  int     `yaml:"capacity"`
	Threshold float64 `yaml:"threshold"`
	// Weight is how much of an outlier's deviation from the median goes into the window
	Weight        float64 `yaml:"weight"`
	MinPercent    int     `yaml:"min_percent"`
	MaxPercent    int     `yaml:"max_percent"`
	ThresholdStep float64 `yaml:"threshold_step"`
	MinThreshold  float64 `yaml:"min_threshold"`
	MaxThreshold  float64 `yaml:"max_threshold"`
	// step detection is only active while accepted samples average under StepThreshold
	StepThreshold int64 `yaml:"step_threshold"`
	// StepLevel is the jump between outliers and accepted samples considered a step
	StepLevel int64 `yaml:"step_level"`
	// DelayCredit is the number of samples the filter may block for
	DelayCredit int `yaml:"delay_credit"`
	// CreditIncrement is added back to the credit once per window
	CreditIncrement int `yaml:"credit_increment"`
	// MaxDelay caps the length of a single blocking period
	MaxDelay int `yaml:"max_delay"`
}

// DefaultOutlierFilterConfig returns the filter defaults. The filter is off unless enabled.
func DefaultOutlierFilterConfig() OutlierFilterConfig {
	return OutlierFilterConfig{
		Enabled:         false,
		Discard:         true,
		AutoTune:        true,
		StepDelay:       false,
		Capacity:        20,
		Threshold:       3.0,
		Weight:          1.0,
		MinPercent:      20,
		MaxPercent:      95,
		ThresholdStep:   0.1,
		MinThreshold:    1.0,
		MaxThreshold:    6.0,
		StepThreshold:   1000000,
		StepLevel:       500000,
		DelayCredit:     200,
		CreditIncrement: 10,
		MaxDelay:        1500,
	}
}

// OutlierFilter rejects samples further than Threshold MADs from the window median
type OutlierFilter struct {
	name string
	cfg  OutlierFilterConfig

	raw      *SmoothingFilter
	filtered *SmoothingFilter
	accepted *SmoothingFilter
	outliers *welford.Stats

	fed         int
	threshold   float64
	output      float64
	lastOutlier bool

	autoTuneSamples  int
	autoTuneOutliers int
	autoTuneScore    int

	consecutiveOutliers int
	delay               int
	totalDelay          int
	delayCredit         int
	blocking            bool
}

// NewOutlierFilter creates a filter, name only shows up in logs
func NewOutlierFilter(name string, cfg OutlierFilterConfig) *OutlierFilter {
	if cfg.Capacity < outlierMinSamples {
		cfg.Capacity = outlierMinSamples
	}
	f := &OutlierFilter{
		name:     name,
		cfg:      cfg,
		raw:      NewSmoothingFilter(cfg.Capacity),
		filtered: NewSmoothingFilter(cfg.Capacity),
		accepted: NewSmoothingFilter(cfg.Capacity),
	}
	f.Reset()
	return f
}

// Reset - cleanup and restart filter
func (f *OutlierFilter) Reset() {
	f.raw.Reset()
	f.filtered.Reset()
	f.accepted.Reset()
	f.outliers = welford.New()
	f.fed = 0
	f.threshold = f.cfg.Threshold
	f.output = 0
	f.lastOutlier = false
	f.autoTuneSamples = 0
	f.autoTuneOutliers = 0
	f.consecutiveOutliers = 0
	f.delay = 0
	f.totalDelay = 0
	f.delayCredit = f.cfg.DelayCredit
	f.blocking = false
}

// Threshold is the current MAD multiple, moved by autotune
func (f *OutlierFilter) Threshold() float64 {
	return f.threshold
}

// Blocking reports whether the filter is holding samples back after a step
func (f *OutlierFilter) Blocking() bool {
	return f.blocking
}

// LastOutlier reports whether the last sample was an outlier
func (f *OutlierFilter) LastOutlier() bool {
	return f.lastOutlier
}

// Output is the last value the filter let through
func (f *OutlierFilter) Output() float64 {
	return f.output
}

func (f *OutlierFilter) isOutlier(sample float64) bool {
	if f.raw.Len() < outlierMinSamples {
		return false
	}
	values := f.raw.Values()
	med := median(values)
	m := mad(values, med)
	if m == 0 {
		return false
	}
	return math.Abs(sample-med) > f.threshold*m
}

func (f *OutlierFilter) tune() {
	if !f.cfg.AutoTune || f.autoTuneSamples < 1 {
		return
	}
	f.autoTuneScore = int(math.Round(float64(f.autoTuneOutliers) / float64(f.autoTuneSamples) * 100.0))
	if f.autoTuneScore < f.cfg.MinPercent {
		f.threshold = math.Max(f.threshold-f.cfg.ThresholdStep, f.cfg.MinThreshold)
	}
	if f.autoTuneScore > f.cfg.MaxPercent {
		f.threshold = math.Min(f.threshold+f.cfg.ThresholdStep, f.cfg.MaxThreshold)
	}
	log.Debugf("%s filter autotune: samples %d, outliers %d, percentage %d, new threshold %.02f",
		f.name, f.autoTuneSamples, f.autoTuneOutliers, f.autoTuneScore, f.threshold)
	f.autoTuneSamples = 0
	f.autoTuneOutliers = 0
}

// Filter runs sample through the filter. It returns the value to use and
// false when the sample should be thrown away.
func (f *OutlierFilter) Filter(sample float64) (float64, bool) {
	if !f.cfg.Enabled {
		f.output = sample
		return sample, true
	}
	accepted := true

	// step change: outlier mean vs accepted mean
	step := math.Abs(f.outliers.Mean() - f.accepted.Mean())

	if f.cfg.AutoTune {
		f.autoTuneSamples++
	}

	if !f.isOutlier(sample) && f.delay == 0 {
		f.lastOutlier = false
		f.output = sample

		// about to accept after a run of outliers
		if f.consecutiveOutliers > 0 {
			if f.cfg.StepDelay &&
				math.Abs(f.accepted.Mean()) < float64(f.cfg.StepThreshold) &&
				step > float64(f.cfg.StepLevel) {
				canBlock := (f.blocking && f.cfg.MaxDelay > f.totalDelay && f.delayCredit >= f.consecutiveOutliers) ||
					(!f.blocking && f.delayCredit >= 2*f.consecutiveOutliers)
				if canBlock {
					if !f.blocking {
						log.Infof("%s filter: %.03f us step detected, filter will now block", f.name, step/1000.0)
					}
					f.delay = f.consecutiveOutliers
					f.totalDelay += f.consecutiveOutliers
					f.delayCredit -= f.consecutiveOutliers
					f.blocking = true
					f.outliers = welford.New()
					f.lastOutlier = true
					log.Debugf("%s filter: credit left %d, blocked for %d of %d", f.name, f.delayCredit, f.totalDelay, f.cfg.MaxDelay)
					return f.output, false
				}
				if f.blocking {
					log.Infof("%s filter: blocking time exhausted, filter will stop blocking", f.name)
				} else {
					log.Infof("%s filter: %.03f us step detected but filter cannot block", f.name, step/1000.0)
				}
			} else if f.blocking {
				log.Infof("%s filter: step event over, filter will stop blocking", f.name)
			}
			f.blocking = false
			f.totalDelay = 0
		}
		f.consecutiveOutliers = 0
		f.outliers = welford.New()
		f.accepted.Add(sample)
	} else {
		f.lastOutlier = true
		f.outliers.Add(sample)

		if f.delay > 0 {
			f.delay--
			return f.output, false
		}

		f.autoTuneOutliers++
		f.consecutiveOutliers++

		if f.cfg.Discard {
			accepted = false
		} else {
			f.output = f.filtered.Mean()
		}
		log.Debugf("%s filter: outlier %.0f", f.name, sample)
		// let weight times the deviation influence the next checks
		med := median(f.raw.Values())
		sample = med + f.cfg.Weight*(sample-med)
	}

	f.raw.Add(sample)
	f.filtered.Add(f.output)
	f.fed++

	// re-tune twice per window
	if half := f.cfg.Capacity / 2; half > 0 && f.fed%half == 0 {
		f.tune()
	}
	// replenish credit once per window
	if f.cfg.StepDelay && f.fed%f.cfg.Capacity == 0 {
		f.delayCredit += f.cfg.CreditIncrement
		if f.delayCredit > f.cfg.DelayCredit {
			f.delayCredit = f.cfg.DelayCredit
		}
		log.Debugf("%s filter: credit added, now %d", f.name, f.delayCredit)
	}

	return f.output, accepted
}
