package config

import (
	"errors"
	"fmt"
)

// Errors returned by configuration operations.
var (
	// ErrValidationFailed indicates a configuration value is invalid.
	ErrValidationFailed = errors.New("validation failed")

	// ErrLaunchNotFound indicates no launch configuration has the name.
	ErrLaunchNotFound = errors.New("launch configuration not found")

	// ErrFileNotFound indicates an explicitly named file does not exist.
	ErrFileNotFound = errors.New("config file not found")
)

// ValidationError describes one invalid setting.
type ValidationError struct {
	// Path is the dotted setting path, e.g. client.request_timeout.
	Path    string
	Message string
	Value   any
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s (value: %v)", e.Path, e.Message, e.Value)
}

// Is matches ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}
