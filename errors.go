package simpleredis

import (
	"errors"
	"fmt"
)

// Error types for specific failure scenarios
var (
	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAlreadyStarted indicates Start was called on a running server
	ErrAlreadyStarted = errors.New("server already started")

	// ErrClosed indicates the server has been closed
	ErrClosed = errors.New("server is closed")
)

// ConfigError reports which option rejected its value
type ConfigError struct {
	Option string
	Value  interface{}
	Err    error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("option %s: %v (got %v)", e.Option, e.Err, e.Value)
}

// Unwrap returns the wrapped error
func (e *ConfigError) Unwrap() error {
	return e.Err
}

func invalidOption(option string, value interface{}) error {
	return &ConfigError{Option: option, Value: value, Err: ErrInvalidConfig}
}
