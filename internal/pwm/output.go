// Package pwm holds the PWM output state and the controller that keeps it in
// sync with the GPIO hardware.
package pwm

import (
	"fmt"
	"math"
)

// Output is one configured PWM channel and its current duty cycle.
//
// Outputs are values: updating one produces a new Output, so copies handed to
// callers never change underneath them.
type Output struct {
	ID    string  `json:"id"`
	Pin   int     `json:"pin"`
	Value float64 `json:"value"`
}

// NewOutput returns an Output, or a *ValidationError if value is outside [0, 1].
func NewOutput(id string, pin int, value float64) (Output, error) {
	if !validValue(value) {
		return Output{}, &ValidationError{Value: value}
	}
	return Output{ID: id, Pin: pin, Value: value}, nil
}

// WithValue returns a copy of o with the new value.
func (o Output) WithValue(value float64) (Output, error) {
	return NewOutput(o.ID, o.Pin, value)
}

// DutyPercent is the value expressed as 0..100.
func (o Output) DutyPercent() float64 {
	return o.Value * 100.0
}

func validValue(v float64) bool {
	return !math.IsNaN(v) && v >= 0.0 && v <= 1.0
}

// ValidationError reports a PWM value outside [0.0, 1.0].
type ValidationError struct {
	Value float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("PWM value must be between 0.0 and 1.0, got: %v", e.Value)
}

// UnknownIDError reports an output id that is not part of the configured set.
type UnknownIDError struct {
	ID string
}

func (e *UnknownIDError) Error() string {
	return "Unknown output ID: " + e.ID
}
