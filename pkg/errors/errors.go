// Package errors provides custom error types for the lifecycle system.
// These errors enable programmatic error checking across the reconciliation
// core, the adapters, and the CLI.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is reports whether any error in err's chain matches target.
// It's an alias for the standard library errors.Is for convenience.
var Is = errors.Is

// As is an alias for the standard library errors.As for convenience.
var As = errors.As

// Common sentinel errors for the lifecycle system
var (
	// ErrSourceUnavailable indicates the source backend cannot be reached
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceData indicates the source returned malformed records
	ErrSourceData = errors.New("source data invalid")

	// ErrTargetUnavailable indicates a target backend cannot be reached
	ErrTargetUnavailable = errors.New("target unavailable")

	// ErrOperationFailed indicates a single target operation failed
	ErrOperationFailed = errors.New("operation failed")

	// ErrConfiguration indicates an invalid or inconsistent configuration
	ErrConfiguration = errors.New("configuration invalid")

	// ErrUnsupported indicates an operation variant the target did not declare
	ErrUnsupported = errors.New("capability not supported")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")
)

// SourceError represents a failure to obtain a usable snapshot from a source.
type SourceError struct {
	Source  string
	Message string
	Err     error
}

// Error implements the error interface
func (e *SourceError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("source %s: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("source error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *SourceError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// NewSourceError creates a new SourceError
func NewSourceError(source, message string, err error) *SourceError {
	return &SourceError{Source: source, Message: message, Err: err}
}

// DataError represents malformed source records: a missing or duplicate
// identity key, or an entity that cannot be mapped to the canonical model.
type DataError struct {
	Entity  string // "user" or "group"
	Key     string
	Message string
}

// Error implements the error interface
func (e *DataError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Entity, e.Key, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, e.Message)
}

// Is implements errors.Is support
func (e *DataError) Is(target error) bool {
	return target == ErrSourceData
}

// NewDataError creates a new DataError
func NewDataError(entity, key, message string) *DataError {
	return &DataError{Entity: entity, Key: key, Message: message}
}

// TargetError represents a failure to read a target's current state.
type TargetError struct {
	Target  string
	Message string
	Err     error
}

// Error implements the error interface
func (e *TargetError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("target %s: %s", e.Target, e.Message)
	}
	return fmt.Sprintf("target error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *TargetError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *TargetError) Is(target error) bool {
	return target == ErrTargetUnavailable
}

// NewTargetError creates a new TargetError
func NewTargetError(target, message string, err error) *TargetError {
	return &TargetError{Target: target, Message: message, Err: err}
}

// OperationError represents a single failed operation against a target.
// It is always scoped to one operation; it never aborts the run.
type OperationError struct {
	Target    string
	Operation string // operation description, e.g. "create_user alice"
	Message   string
	Err       error
}

// Error implements the error interface
func (e *OperationError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("target %s: %s: %s", e.Target, e.Operation, e.Message)
	}
	return fmt.Sprintf("target %s: operation failed: %s", e.Target, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *OperationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *OperationError) Is(target error) bool {
	return target == ErrOperationFailed
}

// NewOperationError creates a new OperationError
func NewOperationError(target, operation string, err error) *OperationError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &OperationError{Target: target, Operation: operation, Message: message, Err: err}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ParseError represents an error when parsing data formats
type ParseError struct {
	Format  string // "yaml", "json", etc.
	File    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("parse error in %s file %s: %s", e.Format, e.File, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ParseError) Unwrap() error {
	return e.Err
}

// APIError represents an error from a target's API
type APIError struct {
	Target     string
	StatusCode int
	Endpoint   string
	Message    string
	Err        error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error from %s (status %d): %s", e.Target, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error from %s: %s", e.Target, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *APIError) Is(target error) bool {
	if e.StatusCode >= 500 || e.StatusCode == 0 {
		return target == ErrTargetUnavailable
	}
	return false
}

// Helper functions for error checking

// IsSourceUnavailable checks if an error indicates an unreachable source
func IsSourceUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}

// IsSourceData checks if an error indicates malformed source records
func IsSourceData(err error) bool {
	return errors.Is(err, ErrSourceData)
}

// IsTargetUnavailable checks if an error indicates an unreachable target
func IsTargetUnavailable(err error) bool {
	return errors.Is(err, ErrTargetUnavailable)
}

// IsOperationFailed checks if an error is a per-operation failure
func IsOperationFailed(err error) bool {
	return errors.Is(err, ErrOperationFailed)
}

// IsConfiguration checks if an error is a configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// Helper wrapping functions for common patterns

// WrapSource wraps an error as a SourceError
func WrapSource(source string, err error) error {
	if err == nil {
		return nil
	}
	return &SourceError{Source: source, Message: err.Error(), Err: err}
}

// WrapTarget wraps an error as a TargetError
func WrapTarget(target string, err error) error {
	if err == nil {
		return nil
	}
	return &TargetError{Target: target, Message: err.Error(), Err: err}
}

// WrapParse wraps an error as a ParseError
func WrapParse(format, file string, err error) error {
	if err == nil {
		return nil
	}
	return &ParseError{Format: format, File: file, Message: err.Error(), Err: err}
}

// WrapValidation wraps an error as a ValidationError
func WrapValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Message: err.Error()}
}
