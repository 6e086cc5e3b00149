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
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// Clock is what the control loop needs from the clock it disciplines
type Clock interface {
	AdjFreqPPB(freq float64) error
	Step(step time.Duration) error
}

// Action the control loop took on a sample
type Action uint8

// Actions
const (
	ActionNone Action = iota
	ActionSlew
	ActionStep
)

// ActionToString is a map from Action to string
var ActionToString = map[Action]string{
	ActionNone: "NONE",
	ActionSlew: "SLEW",
	ActionStep: "STEP",
}

func (a Action) String() string {
	return ActionToString[a]
}

// OffsetSample is one Sync, with its Follow_Up for two-step masters
type OffsetSample struct {
	// Origin is t1, the master's departure time
	Origin time.Time
	// Receive is t2, our arrival time
	Receive time.Time
	// Correction is the sum of Sync and Follow_Up correction fields
	Correction time.Duration
}

// DelaySample is one delay exchange, Delay_Req/Delay_Resp or Pdelay.
// For E2E t1/t2 come from the Sync, t3 is our Delay_Req departure and t4 its arrival at master.
// For P2P t1 and t4 are ours, t2 and t3 are the peer's.
type DelaySample struct {
	T1         time.Time
	T2         time.Time
	T3         time.Time
	T4         time.Time
	Correction time.Duration
}

// Decision is what the control loop did with an offset sample
type Decision struct {
	Action        Action
	Offset        time.Duration
	Delay         time.Duration
	FreqPPB       float64
	State         State
	Status        Status
	StatusChanged bool
}

// ControlLoop turns timestamp samples into clock adjustments
type ControlLoop struct {
	cfg        *Config
	clock      Clock
	pi         *PiServo
	offsetF    *OutlierFilter
	delayF     *OutlierFilter
	smoothing  *SmoothingFilter
	classifier *Classifier
	accuracy   *Accuracy

	meanPathDelay time.Duration
	delayValid    bool
	lastOffset    time.Duration
	steps         int
}

// NewControlLoop creates a loop disciplining clk. freq is the current frequency of clk and
// maxFreq its adjustment limit, both in ppb. The servo works on the negated clock frequency.
func NewControlLoop(cfg *Config, clk Clock, freq, maxFreq float64) (*ControlLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	accuracy, err := NewAccuracy(cfg.AccuracyExpr)
	if err != nil {
		return nil, err
	}
	s := DefaultServoConfig()
	s.StepThreshold = cfg.StepThreshold.Nanoseconds()
	s.FirstStepThreshold = cfg.FirstStepThreshold.Nanoseconds()
	s.StepExitThreshold = cfg.StepExitThreshold.Nanoseconds()
	s.PanicSamples = cfg.PanicSamples
	s.FirstUpdate = true
	pi := NewPiServo(s, &cfg.PI, -freq)
	if cfg.MaxFreqPPB > 0 && (maxFreq <= 0 || cfg.MaxFreqPPB < maxFreq) {
		maxFreq = cfg.MaxFreqPPB
	}
	if maxFreq > 0 {
		pi.SetMaxFreq(maxFreq)
	}
	window := cfg.Smoothing.Window
	if !cfg.Smoothing.Enabled {
		window = 1
	}
	return &ControlLoop{
		cfg:        cfg,
		clock:      clk,
		pi:         pi,
		offsetF:    NewOutlierFilter("offset", cfg.OffsetFilter),
		delayF:     NewOutlierFilter("delay", cfg.DelayFilter),
		smoothing:  NewSmoothingFilter(window),
		classifier: NewClassifier(cfg.Classifier),
		accuracy:   accuracy,
	}, nil
}

// SetSyncInterval tells the servo how often offsets are expected
func (c *ControlLoop) SetSyncInterval(interval time.Duration) {
	c.pi.SyncInterval(interval.Seconds())
}

// Delay feeds one delay exchange and returns the mean path delay in use.
// It returns false when the sample was thrown away.
func (c *ControlLoop) Delay(s DelaySample) (time.Duration, bool) {
	// ((t2 - t1) + (t4 - t3) - corrections) / 2
	d := (s.T2.Sub(s.T1) + s.T4.Sub(s.T3) - s.Correction) / 2
	if d < 0 {
		log.Warningf("negative path delay %v, discarded", d)
		return c.meanPathDelay, false
	}
	out, ok := c.delayF.Filter(float64(d))
	if !ok {
		log.Debugf("path delay %v filtered out", d)
		return c.meanPathDelay, false
	}
	c.meanPathDelay = time.Duration(out)
	c.delayValid = true
	return c.meanPathDelay, true
}

// Offset feeds one Sync measurement and applies the resulting adjustment to the clock
func (c *ControlLoop) Offset(s OffsetSample) (*Decision, error) {
	raw := s.Receive.Sub(s.Origin) - s.Correction - c.meanPathDelay
	d := &Decision{
		Action: ActionNone,
		Offset: raw,
		Delay:  c.meanPathDelay,
		State:  StateFilter,
		Status: c.classifier.Status(),
	}
	out, ok := c.offsetF.Filter(float64(raw))
	if !ok {
		log.Debugf("offset %v filtered out", raw)
		return d, nil
	}
	offset := out
	if c.cfg.Smoothing.Enabled {
		c.smoothing.Add(out)
		offset = c.smoothing.Mean()
	}
	d.Offset = time.Duration(offset)
	c.lastOffset = d.Offset

	freq, state := c.pi.Sample(int64(offset), s.Receive)
	d.State = state
	switch state {
	case StateJump:
		d.Action = ActionStep
		d.FreqPPB = c.pi.LastFreq()
		log.Infof("stepping clock by %v", -d.Offset)
		c.recalibrate()
		c.steps++
		if err := c.clock.Step(-d.Offset); err != nil {
			return d, fmt.Errorf("stepping clock by %v: %w", -d.Offset, err)
		}
	case StateLocked:
		d.Action = ActionSlew
		d.FreqPPB = freq
		c.pi.UnsetFirstUpdate()
		d.Status, d.StatusChanged = c.classifier.Update(freq, s.Receive)
		if err := c.clock.AdjFreqPPB(-freq); err != nil {
			return d, fmt.Errorf("adjusting freq to %v: %w", -freq, err)
		}
	default:
		d.FreqPPB = c.pi.LastFreq()
	}
	log.Debugf("offset %10d servo %s freq %+7.0f path delay %10d", d.Offset.Nanoseconds(), state, -d.FreqPPB, c.meanPathDelay.Nanoseconds())
	return d, nil
}

// recalibrate clears filters and the servo after a step, keeping the frequency estimate
func (c *ControlLoop) recalibrate() {
	freq := c.pi.LastFreq()
	c.offsetF.Reset()
	c.delayF.Reset()
	c.smoothing.Reset()
	c.classifier.Reset()
	c.pi.Reset()
	c.pi.SetLastFreq(freq)
	c.pi.UnsetFirstUpdate()
}

// Tick ages the clock status. Entering holdover parks the clock at the mean frequency.
func (c *ControlLoop) Tick(now time.Time) (Status, bool, error) {
	status, changed := c.classifier.Tick(now)
	if !changed || status != StatusHoldover {
		return status, changed, nil
	}
	return status, changed, c.Park()
}

// Park sets the clock to the mean frequency the servo has seen, for holdover and on exit
func (c *ControlLoop) Park() error {
	freq := c.pi.MeanFreq()
	c.pi.SetLastFreq(freq)
	log.Infof("holdover, freq %+7.0f", -freq)
	if err := c.clock.AdjFreqPPB(-freq); err != nil {
		return fmt.Errorf("adjusting freq to %v: %w", -freq, err)
	}
	return nil
}

// Reset starts over as after a change of master: the next large offset steps the clock again
func (c *ControlLoop) Reset() {
	c.recalibrate()
	c.pi.FirstUpdate = true
	c.meanPathDelay = 0
	c.delayValid = false
	c.lastOffset = 0
}

// MeanPathDelay returns the current mean path delay and whether one was measured
func (c *ControlLoop) MeanPathDelay() (time.Duration, bool) {
	return c.meanPathDelay, c.delayValid
}

// LastOffset returns the last offset fed to the servo
func (c *ControlLoop) LastOffset() time.Duration {
	return c.lastOffset
}

// FreqPPB returns the last frequency the servo produced
func (c *ControlLoop) FreqPPB() float64 {
	return c.pi.LastFreq()
}

// Steps returns how many times the clock was stepped
func (c *ControlLoop) Steps() int {
	return c.steps
}

// Status returns the clock classification
func (c *ControlLoop) Status() Status {
	return c.classifier.Status()
}

// Saturated reports whether the last frequency adjustment hit the limit
func (c *ControlLoop) Saturated() bool {
	return c.pi.RunningMaxOutput()
}

// Adev returns the last Allan deviation in ppb
func (c *ControlLoop) Adev() float64 {
	return c.classifier.Adev()
}

// Accuracy returns the ClockAccuracy this clock can advertise
func (c *ControlLoop) Accuracy() ptp.ClockAccuracy {
	mean := float64(c.lastOffset)
	if c.smoothing.Len() > 0 {
		mean = math.Abs(c.smoothing.Mean())
	}
	a, err := c.accuracy.Evaluate(float64(c.lastOffset), mean, c.classifier.Adev())
	if err != nil {
		log.Warningf("clock accuracy: %v", err)
		return ptp.ClockAccuracyUnknown
	}
	return a
}
