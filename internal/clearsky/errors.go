package clearsky

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is returned when a granularity, window or order
	// violates its constraints. Parameters are never clamped.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrMalformedSample marks a record whose timestamp or value could not be
	// parsed. Such records are dropped and counted, never fatal to a run.
	ErrMalformedSample = errors.New("malformed sample")
)

// ParameterError describes a rejected pipeline parameter.
type ParameterError struct {
	Name   string
	Value  int
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%d: %s", e.Name, e.Value, e.Reason)
}

func (e *ParameterError) Unwrap() error {
	return ErrInvalidParameter
}

// SampleError describes a record that could not be turned into a sample.
type SampleError struct {
	// Line is the 1-based source line, 0 when unknown.
	Line  int
	Field string
	Input string
	Err   error
}

func (e *SampleError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: parsing %s %q: %v", e.Line, e.Field, e.Input, e.Err)
	}
	return fmt.Sprintf("parsing %s %q: %v", e.Field, e.Input, e.Err)
}

func (e *SampleError) Unwrap() []error {
	return []error{ErrMalformedSample, e.Err}
}
