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

/*
Package servo implements the clock control loop: an outlier filter, an optional
smoothing filter, a PI servo deciding between stepping and slewing the clock,
and a classifier tracking how stable the resulting frequency is.
*/
package servo

// Servo structure has values common for any type of servo
type Servo struct {
	maxFreq            float64
	StepThreshold      int64
	FirstStepThreshold int64
	FirstUpdate        bool
	// StepExitThreshold ends panic mode early once offset is back under it. Zero means StepThreshold.
	StepExitThreshold int64
	// PanicSamples is how many samples above StepThreshold are held before the clock is stepped
	PanicSamples int
}

// UnsetFirstUpdate makes sure we don't do the first step ever again
func (s *Servo) UnsetFirstUpdate() {
	s.FirstUpdate = false
}

// State provides the result of servo calculation
type State uint8

// All the states of servo
const (
	StateInit     State = 0
	StateJump     State = 1
	StateLocked   State = 2
	StateFilter   State = 3
	StateHoldover State = 4
)

// StateToString is a map from State to string
var StateToString = map[State]string{
	StateInit:     "INIT",
	StateJump:     "JUMP",
	StateLocked:   "LOCKED",
	StateFilter:   "FILTER",
	StateHoldover: "HOLDOVER",
}

func (s State) String() string {
	if v, ok := StateToString[s]; ok {
		return v
	}
	return "UNSUPPORTED"
}

// DefaultServoConfig generates default servo struct
func DefaultServoConfig() Servo {
	return Servo{
		maxFreq:            900000000,
		StepThreshold:      0,
		FirstStepThreshold: 20000,
		FirstUpdate:        true,
		StepExitThreshold:  0,
		PanicSamples:       2,
	}
}
