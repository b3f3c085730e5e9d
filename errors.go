package teamsync

import (
	"errors"
	"fmt"
)

// Common errors returned by the sync engine.
var (
	// ErrNotFound is returned when a local document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrOffline is returned when a network operation is requested while offline.
	ErrOffline = errors.New("operation unavailable while offline")

	// ErrNotConfigured is returned when no remote document store is configured.
	ErrNotConfigured = errors.New("remote document store not configured")

	// ErrInvalidFilter is returned for filters outside the supported allow-list.
	ErrInvalidFilter = errors.New("invalid query filter")

	// ErrTop3Limit is returned when a fourth daily priority is added.
	ErrTop3Limit = errors.New("maximum 3 items per day")

	// ErrClientClosed is returned when operating on a closed client.
	ErrClientClosed = errors.New("client is closed")
)

// ValidationError is returned when configuration or input validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// RemoteError is returned by remote adapters when a document store call fails.
// Extractable via errors.As(). Supports Unwrap().
type RemoteError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote: %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("remote: %s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
