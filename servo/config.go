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
	"time"
)

// SmoothingConfig configures the moving mean applied to offsets before the servo
type SmoothingConfig struct {
	Enabled bool `yaml:"enabled"`
	Window  int  `yaml:"window"`
}

// Config is the control loop configuration
type Config struct {
	StepThreshold      time.Duration       `yaml:"step_threshold"`
	FirstStepThreshold time.Duration       `yaml:"first_step_threshold"`
	StepExitThreshold  time.Duration       `yaml:"step_exit_threshold"`
	PanicSamples       int                 `yaml:"panic_samples"`
	MaxFreqPPB         float64             `yaml:"max_freq_ppb"`
	PI                 PiServoCfg          `yaml:"pi"`
	OffsetFilter       OutlierFilterConfig `yaml:"offset_filter"`
	DelayFilter        OutlierFilterConfig `yaml:"delay_filter"`
	Smoothing          SmoothingConfig     `yaml:"smoothing"`
	Classifier         ClassifierConfig    `yaml:"classifier"`
	AccuracyExpr       string              `yaml:"accuracy_expr"`
}

// DefaultConfig returns control loop defaults
func DefaultConfig() *Config {
	s := DefaultServoConfig()
	return &Config{
		StepThreshold:      time.Duration(s.StepThreshold),
		FirstStepThreshold: time.Duration(s.FirstStepThreshold),
		StepExitThreshold:  time.Duration(s.StepExitThreshold),
		PanicSamples:       s.PanicSamples,
		MaxFreqPPB:         0,
		PI:                 *DefaultPiServoCfg(),
		OffsetFilter:       DefaultOutlierFilterConfig(),
		DelayFilter:        DefaultOutlierFilterConfig(),
		Smoothing:          SmoothingConfig{Enabled: false, Window: 4},
		Classifier:         DefaultClassifierConfig(),
		AccuracyExpr:       "",
	}
}

func validateFilter(name string, c *OutlierFilterConfig) error {
	if !c.Enabled {
		return nil
	}
	if c.Capacity < outlierMinSamples {
		return fmt.Errorf("%s capacity must be at least %d", name, outlierMinSamples)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("%s threshold must be greater than zero", name)
	}
	if c.MinThreshold > c.MaxThreshold {
		return fmt.Errorf("%s min_threshold must not exceed max_threshold", name)
	}
	if c.MinPercent > c.MaxPercent {
		return fmt.Errorf("%s min_percent must not exceed max_percent", name)
	}
	if c.Weight < 0 || c.Weight > 1 {
		return fmt.Errorf("%s weight must be within [0, 1]", name)
	}
	return nil
}

// Validate Config is sane
func (c *Config) Validate() error {
	if c.StepThreshold < 0 {
		return fmt.Errorf("step_threshold must be 0 or positive")
	}
	if c.FirstStepThreshold < 0 {
		return fmt.Errorf("first_step_threshold must be 0 or positive")
	}
	if c.StepExitThreshold < 0 {
		return fmt.Errorf("step_exit_threshold must be 0 or positive")
	}
	if c.PanicSamples < 0 {
		return fmt.Errorf("panic_samples must be 0 or positive")
	}
	if c.MaxFreqPPB < 0 {
		return fmt.Errorf("max_freq_ppb must be 0 or positive")
	}
	if c.PI.PiKp < 0 || c.PI.PiKi < 0 {
		return fmt.Errorf("pi gains must be 0 or positive")
	}
	if c.PI.MaxTau < 0 {
		return fmt.Errorf("max_tau must be 0 or positive")
	}
	if err := validateFilter("offset_filter", &c.OffsetFilter); err != nil {
		return err
	}
	if err := validateFilter("delay_filter", &c.DelayFilter); err != nil {
		return err
	}
	if c.Smoothing.Enabled && c.Smoothing.Window < 1 {
		return fmt.Errorf("smoothing window must be positive")
	}
	if c.Classifier.StableAdev > c.Classifier.UnstableAdev {
		return fmt.Errorf("stable_adev must not exceed unstable_adev")
	}
	if _, err := NewAccuracy(c.AccuracyExpr); err != nil {
		return err
	}
	return nil
}
