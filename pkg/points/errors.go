package points

import (
	"errors"
	"fmt"
)

// Generator errors.
var (
	ErrInvalidModel = errors.New("invalid path model")
	ErrNoModel      = errors.New("no path model set")
	ErrGenerator    = errors.New("point generation failed")
)

// ValidationError reports a structurally invalid path model.
// It matches ErrInvalidModel with errors.Is.
type ValidationError struct {
	Model  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s model: %s", e.Model, e.Reason)
	}
	return fmt.Sprintf("invalid %s model: %s %s", e.Model, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidModel
}

func invalid(model, field, reason string) error {
	return &ValidationError{Model: model, Field: field, Reason: reason}
}

// GeneratorError reports a failure while iterating a valid model.
// It matches ErrGenerator and the underlying cause with errors.Is.
type GeneratorError struct {
	Model string
	Step  int
	Err   error
}

func (e *GeneratorError) Error() string {
	return fmt.Sprintf("%s generator failed at step %d: %v", e.Model, e.Step, e.Err)
}

func (e *GeneratorError) Unwrap() []error {
	return []error{ErrGenerator, e.Err}
}
