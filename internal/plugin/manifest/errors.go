package manifest

import (
	"errors"
	"strings"
)

// Validation errors.
var (
	ErrInvalidMain      = errors.New("manifest: main must be a path inside the plugin directory")
	ErrIncompatibleHost = errors.New("manifest: incompatible host version")
)

// ParseError is returned when the manifest is not valid JSON.
type ParseError struct {
	// Message is the raw parser message.
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return "manifest: parse error: " + e.Message
}

// Unwrap returns the underlying parser error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError lists every problem found in a syntactically valid manifest.
type ValidationError struct {
	// MissingFields names required fields that are absent or blank,
	// in the order id, name, version, main.
	MissingFields []string

	// Problems holds structural violations (wrong types, bad constraints).
	Problems []string
}

// HasProblems reports whether any problem was recorded.
func (e *ValidationError) HasProblems() bool {
	return len(e.MissingFields) > 0 || len(e.Problems) > 0
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.MissingFields, ", "))
	}
	parts = append(parts, e.Problems...)
	return "manifest: invalid: " + strings.Join(parts, "; ")
}
