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

	"github.com/Knetic/govaluate"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// AccuracyHelp explains what the accuracy expression can use
const AccuracyHelp = `accuracy expression is evaluated with govaluate and must return nanoseconds.
supported variables:
  offset (absolute value of the last offset from master, in ns)
  meanoffset (mean of the smoothing window, in ns)
  adev (last Allan deviation of frequency adjustments, in ppb)
supported functions:
  abs(value), max(a, b)`

var accuracyVariables = []string{
	"offset",
	"meanoffset",
	"adev",
}

func isAccuracyVar(name string) bool {
	for _, v := range accuracyVariables {
		if v == name {
			return true
		}
	}
	return false
}

var accuracyFunctions = map[string]govaluate.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs: wrong number of arguments: want 1, got %d", len(args))
		}
		val, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("abs: want a number, got %T", args[0])
		}
		return math.Abs(val), nil
	},
	"max": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("max: wrong number of arguments: want 2, got %d", len(args))
		}
		val1, ok1 := args[0].(float64)
		val2, ok2 := args[1].(float64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("max: want numbers, got %T and %T", args[0], args[1])
		}
		return math.Max(val1, val2), nil
	},
}

// Accuracy maps measurements to the ClockAccuracy we advertise
type Accuracy struct {
	Expr string
	expr *govaluate.EvaluableExpression
}

// NewAccuracy parses expr. An empty expression uses the absolute offset.
func NewAccuracy(expr string) (*Accuracy, error) {
	a := &Accuracy{Expr: expr}
	if expr == "" {
		return a, nil
	}
	e, err := govaluate.NewEvaluableExpressionWithFunctions(expr, accuracyFunctions)
	if err != nil {
		return nil, fmt.Errorf("parsing accuracy expression: %w", err)
	}
	for _, v := range e.Vars() {
		if !isAccuracyVar(v) {
			return nil, fmt.Errorf("unsupported variable %q", v)
		}
	}
	a.expr = e
	return a, nil
}

// Evaluate returns the ClockAccuracy for the given measurements
func (a *Accuracy) Evaluate(offset, meanOffset, adev float64) (ptp.ClockAccuracy, error) {
	if a.expr == nil {
		return ptp.ClockAccuracyFromOffset(time.Duration(math.Abs(offset))), nil
	}
	res, err := a.expr.Evaluate(map[string]interface{}{
		"offset":     math.Abs(offset),
		"meanoffset": meanOffset,
		"adev":       adev,
	})
	if err != nil {
		return ptp.ClockAccuracyUnknown, fmt.Errorf("evaluating accuracy: %w", err)
	}
	ns, ok := res.(float64)
	if !ok {
		return ptp.ClockAccuracyUnknown, fmt.Errorf("accuracy expression returned %T, want a number", res)
	}
	return ptp.ClockAccuracyFromOffset(time.Duration(ns)), nil
}
