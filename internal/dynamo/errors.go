package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for engine operations.
var (
	// ErrInvalidInput indicates a cost that is not a positive finite number.
	ErrInvalidInput = errors.New("dynamo: invalid input")

	// ErrInvalidConfiguration indicates a rejected parameter update.
	ErrInvalidConfiguration = errors.New("dynamo: invalid configuration")
)

// ParamError names the parameter that failed validation.
type ParamError struct {
	Name  string
	Value float64
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: %s must be a positive finite number, got %g", ErrInvalidConfiguration, e.Name, e.Value)
}

func (e *ParamError) Unwrap() error {
	return ErrInvalidConfiguration
}
