package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid input. Configuration errors are fatal
	// and reported before any trial runs.
	ErrConfiguration = errors.New("configuration error")

	// ErrNumerical marks a non-finite intermediate value.
	ErrNumerical = errors.New("numerical error")

	// ErrPartialResult accompanies a valid result that is based on fewer
	// trials than requested because the run was cancelled.
	ErrPartialResult = errors.New("partial result")
)

// ConfigError names the input field that violated its contract. Err, when
// set, is the more specific sentinel from the package that detected it.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

// Invalid returns a ConfigError for field.
func Invalid(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InvalidErr attributes err to field.
func InvalidErr(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Reason: err.Error(), Err: err}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

// NumericalError reports where a non-finite value appeared.
type NumericalError struct {
	Op    string
	Value float64
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("%s: %s produced %v", ErrNumerical, e.Op, e.Value)
}

func (e *NumericalError) Unwrap() error { return ErrNumerical }

// PartialError wraps the cancellation cause of a partial run.
type PartialError struct {
	Completed int
	Requested int
	Cause     error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s: %d of %d trials completed: %v", ErrPartialResult, e.Completed, e.Requested, e.Cause)
}

// Unwrap exposes both the partial marker and the cancellation cause, so
// errors.Is matches ErrPartialResult as well as context.Canceled.
func (e *PartialError) Unwrap() []error { return []error{ErrPartialResult, e.Cause} }
