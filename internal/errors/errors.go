package errors

import (
	"fmt"
	"time"
)

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrConflict is returned when a unique key is already taken.
type ErrConflict struct {
	Resource string
	Key      string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.Key)
}

// Validation errors

type ErrTestimonialValidation struct {
	Field string
	Err   error
}

func (e *ErrTestimonialValidation) Error() string {
	return fmt.Sprintf("testimonial validation error on %s: %v", e.Field, e.Err)
}

func (e *ErrTestimonialValidation) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

// Review sync errors.
//
// Each of them carries a UserMessage that is safe to show an operator;
// Error() may include more detail for logs but never the client secret.

// AuthenticationError means no usable access token could be obtained.
type AuthenticationError struct {
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "authentication failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

func (e *AuthenticationError) UserMessage() string {
	return "Session expired. Reconnect your Google account."
}

// Configuration error reasons.
const (
	ReasonLocationNotConfigured = "location_not_configured"
	ReasonNoLocations           = "no_locations"
	ReasonSelectionRequired     = "selection_required"
)

// ConfigurationError means the target location could not be resolved.
type ConfigurationError struct {
	Reason  string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) UserMessage() string {
	switch e.Reason {
	case ReasonSelectionRequired:
		return "Select a location before syncing."
	case ReasonNoLocations:
		return "No business locations found for this account."
	default:
		return "Location ID is not configured."
	}
}

// RateLimitError is returned when the upstream API answered 429.
type RateLimitError struct {
	RetryAfter time.Duration
	Until      time.Time
	Message    string
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return "rate limit"
	}
	if e.Message != "" {
		return e.Message
	}
	return "rate limit exceeded"
}

func (e *RateLimitError) UserMessage() string {
	return "Too many requests to Google. Try again later."
}

// TransportError covers network failures, timeouts and exhausted retries.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) UserMessage() string {
	return "Could not reach Google. Check connectivity and retry."
}

// ErrSyncInProgress is returned when a run is already executing.
type ErrSyncInProgress struct{}

func (e *ErrSyncInProgress) Error() string {
	return "review sync already in progress"
}

func (e *ErrSyncInProgress) UserMessage() string {
	return "A sync is already running."
}

// UserMessager is implemented by errors that carry an operator-safe text.
type UserMessager interface {
	UserMessage() string
}
