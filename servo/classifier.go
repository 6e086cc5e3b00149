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

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"
)

// Status classifies how well the clock follows its reference
type Status uint8

// Clock statuses
const (
	StatusFreerun Status = iota
	StatusUnstable
	StatusLocked
	StatusHoldover
)

// StatusToString is a map from Status to string
var StatusToString = map[Status]string{
	StatusFreerun:  "FREERUN",
	StatusUnstable: "UNSTABLE",
	StatusLocked:   "LOCKED",
	StatusHoldover: "HOLDOVER",
}

func (s Status) String() string {
	if v, ok := StatusToString[s]; ok {
		return v
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// ClassifierConfig sets the Allan deviation watermarks and ages
type ClassifierConfig struct {
	// AdevPeriod is the number of frequency samples per measurement
	AdevPeriod int `yaml:"adev_period"`
	// StableAdev in ppb, at or below it the clock is LOCKED
	StableAdev float64 `yaml:"stable_adev"`
	// UnstableAdev in ppb, above it the clock is UNSTABLE
	UnstableAdev float64 `yaml:"unstable_adev"`
	// HoldoverAge without updates moves a LOCKED clock to HOLDOVER
	HoldoverAge time.Duration `yaml:"holdover_age"`
	// FreerunAge without updates moves any clock to FREERUN
	FreerunAge time.Duration `yaml:"freerun_age"`
}

// DefaultClassifierConfig returns default watermarks
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		AdevPeriod:   10,
		StableAdev:   200,
		UnstableAdev: 2000,
		HoldoverAge:  60 * time.Second,
		FreerunAge:   600 * time.Second,
	}
}

// AllanDeviation of consecutive fractional frequency samples
func AllanDeviation(freqs []float64) float64 {
	if len(freqs) < 2 {
		return 0
	}
	s := welford.New()
	for i := 1; i < len(freqs); i++ {
		d := freqs[i] - freqs[i-1]
		s.Add(d * d / 2)
	}
	return math.Sqrt(s.Mean())
}

// Classifier turns frequency adjustments into a Status
type Classifier struct {
	cfg        ClassifierConfig
	status     Status
	freqs      []float64
	adev       float64
	lastUpdate time.Time
}

// NewClassifier returns a classifier in FREERUN
func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.AdevPeriod < 2 {
		cfg.AdevPeriod = 2
	}
	return &Classifier{
		cfg:   cfg,
		freqs: make([]float64, 0, cfg.AdevPeriod),
	}
}

// Status returns current classification
func (c *Classifier) Status() Status {
	return c.status
}

// Adev returns the last computed Allan deviation in ppb
func (c *Classifier) Adev() float64 {
	return c.adev
}

func (c *Classifier) set(s Status) bool {
	if c.status == s {
		return false
	}
	log.Infof("clock status %s -> %s (adev %.3f)", c.status, s, c.adev)
	c.status = s
	return true
}

// Update records a frequency adjustment made at now. It returns the status and whether it changed.
func (c *Classifier) Update(freq float64, now time.Time) (Status, bool) {
	c.lastUpdate = now
	changed := false
	if c.status == StatusFreerun || c.status == StatusHoldover {
		changed = c.set(StatusUnstable)
	}
	c.freqs = append(c.freqs, freq)
	if len(c.freqs) < c.cfg.AdevPeriod {
		return c.status, changed
	}
	c.adev = AllanDeviation(c.freqs)
	c.freqs = c.freqs[:0]
	switch {
	case c.adev <= c.cfg.StableAdev:
		changed = c.set(StatusLocked) || changed
	case c.adev > c.cfg.UnstableAdev:
		changed = c.set(StatusUnstable) || changed
	}
	return c.status, changed
}

// Tick ages the classification when no updates come in
func (c *Classifier) Tick(now time.Time) (Status, bool) {
	if c.lastUpdate.IsZero() {
		return c.status, false
	}
	age := now.Sub(c.lastUpdate)
	changed := false
	switch {
	case c.cfg.FreerunAge > 0 && age > c.cfg.FreerunAge:
		changed = c.set(StatusFreerun)
	case c.status == StatusLocked && c.cfg.HoldoverAge > 0 && age > c.cfg.HoldoverAge:
		changed = c.set(StatusHoldover)
	case c.status == StatusUnstable && c.cfg.HoldoverAge > 0 && age > c.cfg.HoldoverAge:
		changed = c.set(StatusFreerun)
	}
	return c.status, changed
}

// Reset drops the current measurement period, status is kept
func (c *Classifier) Reset() {
	c.freqs = c.freqs[:0]
}
