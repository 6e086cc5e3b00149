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
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	kpDefault     = 0.1
	kiDefault     = 0.001
	maxTauDefault = 5.0

	// gains are never allowed to reach zero
	minGain = 0.000001

	freqWindowDefault = 30
)

// PiServoCfg is a proportional-integral servo config
type PiServoCfg struct {
	PiKp float64 `yaml:"kp"`
	PiKi float64 `yaml:"ki"`
	// MaxTau bounds the measured integration step, in multiples of the sync interval
	MaxTau float64 `yaml:"max_tau"`
	// FreqWindow is how many past adjustments MeanFreq averages over
	FreqWindow int `yaml:"freq_window"`
}

// PiServo is a proportional-integral servo
type PiServo struct {
	Servo
	kp         float64
	ki         float64
	interval   float64
	tau        float64
	integral   float64
	lastFreq   float64
	count      int
	panicCount int
	lastUpdate time.Time
	maxOutput  bool
	freqs      *SmoothingFilter
	/* configuration: */
	cfg *PiServoCfg
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// SetLastFreq primes the integral with a known frequency, as after a step or a restart
func (s *PiServo) SetLastFreq(freq float64) {
	s.integral = clamp(freq, s.maxFreq)
	s.lastFreq = s.integral
}

// SetMaxFreq is to adjust frequency range supported by PHC
func (s *PiServo) SetMaxFreq(freq float64) {
	s.maxFreq = freq
}

// SyncInterval inform a clock servo about the master's sync interval in seconds
func (s *PiServo) SyncInterval(interval float64) {
	if interval <= 0 {
		interval = 1.0
	}
	s.interval = interval
}

// GetState returns current state of the servo
func (s *PiServo) GetState() State {
	switch {
	case s.count == 0:
		return StateInit
	case s.panicCount > 0:
		return StateFilter
	}
	return StateLocked
}

// Tau returns the integration step used for the last sample, in seconds
func (s *PiServo) Tau() float64 {
	return s.tau
}

// measureTau returns seconds since the previous sample, bounded by maxTau sync intervals
func (s *PiServo) measureTau(ts time.Time) float64 {
	tau := s.interval
	if !s.lastUpdate.IsZero() {
		tau = ts.Sub(s.lastUpdate).Seconds()
	}
	if maxTau := s.cfg.MaxTau * s.interval; s.cfg.MaxTau > 0 && tau > maxTau {
		tau = maxTau
	}
	if tau <= 0 {
		tau = s.interval
	}
	return tau
}

// panicLevel is the offset that keeps the servo in panic mode
func (s *PiServo) panicLevel() int64 {
	if s.panicCount > 0 && s.StepExitThreshold > 0 {
		return s.StepExitThreshold
	}
	return s.StepThreshold
}

// Sample function to calculate frequency based on the offset.
// Offset is local time minus master time in nanoseconds, ts is when it was measured.
// The returned frequency is to be applied with the opposite sign.
func (s *PiServo) Sample(offset int64, ts time.Time) (float64, State) {
	sOffset := abs(offset)

	if s.FirstUpdate && s.FirstStepThreshold > 0 && s.FirstStepThreshold < sOffset {
		return s.lastFreq, StateJump
	}

	if s.StepThreshold > 0 && s.panicLevel() < sOffset {
		// nothing to hold yet, step right away
		if s.count == 0 {
			return s.lastFreq, StateJump
		}
		s.panicCount++
		if s.panicCount > s.PanicSamples {
			log.Warningf("servo offset %d stayed above %d for %d samples", offset, s.panicLevel(), s.panicCount)
			s.panicCount = 0
			return s.lastFreq, StateJump
		}
		log.Warningf("servo in panic mode, offset %d, sample %d of %d", offset, s.panicCount, s.PanicSamples)
		return s.lastFreq, StateFilter
	}
	if s.panicCount > 0 {
		log.Infof("servo offset %d is back under %d, leaving panic mode", offset, s.panicLevel())
		s.panicCount = 0
	}

	s.tau = s.measureTau(ts)
	s.integral = clamp(s.integral+s.ki*float64(offset)*s.tau, s.maxFreq)
	ppb := clamp(s.kp*float64(offset)+s.integral, s.maxFreq)

	maxOutput := math.Abs(ppb) >= s.maxFreq
	if maxOutput && !s.maxOutput {
		log.Warningf("servo now running at maximum output %.0f ppb", ppb)
	}
	s.maxOutput = maxOutput

	s.lastUpdate = ts
	s.lastFreq = ppb
	s.count++
	s.freqs.Add(ppb)
	return ppb, StateLocked
}

// MeanFreq to return best calculated frequency
func (s *PiServo) MeanFreq() float64 {
	if s.freqs.Len() == 0 {
		return s.lastFreq
	}
	return s.freqs.Mean()
}

// LastFreq returns the last frequency the servo produced
func (s *PiServo) LastFreq() float64 {
	return s.lastFreq
}

// RunningMaxOutput reports whether the last output hit the frequency limit
func (s *PiServo) RunningMaxOutput() bool {
	return s.maxOutput
}

// Reset drops the accumulated state. The frequency estimate survives in lastFreq.
func (s *PiServo) Reset() {
	s.integral = 0
	s.count = 0
	s.panicCount = 0
	s.tau = 0
	s.lastUpdate = time.Time{}
	s.maxOutput = false
	s.freqs.Reset()
}

// NewPiServo to create servo structure
func NewPiServo(s Servo, cfg *PiServoCfg, freq float64) *PiServo {
	pi := &PiServo{
		Servo:    s,
		cfg:      cfg,
		kp:       math.Max(cfg.PiKp, minGain),
		ki:       math.Max(cfg.PiKi, minGain),
		interval: 1.0,
	}
	if pi.maxFreq <= 0 {
		pi.maxFreq = DefaultServoConfig().maxFreq
	}
	window := cfg.FreqWindow
	if window < 1 {
		window = freqWindowDefault
	}
	pi.freqs = NewSmoothingFilter(window)
	pi.SetLastFreq(freq)
	return pi
}

// DefaultPiServoCfg to create default pi servo config
func DefaultPiServoCfg() *PiServoCfg {
	return &PiServoCfg{
		PiKp:       kpDefault,
		PiKi:       kiDefault,
		MaxTau:     maxTauDefault,
		FreqWindow: freqWindowDefault,
	}
}
