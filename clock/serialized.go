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
	"sync"
	"time"
)

// Adjuster is what ports need from a clock
type Adjuster interface {
	Now() (time.Time, error)
	AdjFreqPPB(freq float64) error
	Step(step time.Duration) error
	FrequencyPPB() (float64, error)
	MaxFreqPPB() (float64, error)
	SetSync() error
}

// Serialized lets several ports share one physical clock, only one of them adjusts it at a time
type Serialized struct {
	sync.Mutex
	c Adjuster
}

// NewSerialized wraps c
func NewSerialized(c Adjuster) *Serialized {
	return &Serialized{c: c}
}

// Now returns the clock time
func (s *Serialized) Now() (time.Time, error) {
	s.Lock()
	defer s.Unlock()
	return s.c.Now()
}

// AdjFreqPPB adjusts the clock frequency
func (s *Serialized) AdjFreqPPB(freq float64) error {
	s.Lock()
	defer s.Unlock()
	return s.c.AdjFreqPPB(freq)
}

// Step jumps the clock
func (s *Serialized) Step(step time.Duration) error {
	s.Lock()
	defer s.Unlock()
	return s.c.Step(step)
}

// FrequencyPPB returns the current frequency adjustment
func (s *Serialized) FrequencyPPB() (float64, error) {
	s.Lock()
	defer s.Unlock()
	return s.c.FrequencyPPB()
}

// MaxFreqPPB returns the maximum frequency adjustment
func (s *Serialized) MaxFreqPPB() (float64, error) {
	s.Lock()
	defer s.Unlock()
	return s.c.MaxFreqPPB()
}

// SetSync marks the clock as synchronized
func (s *Serialized) SetSync() error {
	s.Lock()
	defer s.Unlock()
	return s.c.SetSync()
}
