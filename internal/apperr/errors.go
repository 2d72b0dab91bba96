// Package apperr holds the error taxonomy shared by the store, the sync
// coordinator, the remote client and the HTTP surface.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned when a record with the same key already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound is returned by single-record lookups that match nothing.
	ErrNotFound = errors.New("not found")
	// ErrNoConnection means no network connectivity is reported.
	ErrNoConnection = errors.New("no internet connection")
)

// StorageError is a persistence engine failure (quota, corruption, unavailable).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NetworkError is a failed remote call. Status is zero for transport
// failures and carries the HTTP status for non-2xx responses.
type NetworkError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: status=%d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: status=%d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": network error"
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Offline reports whether the call never reached the server.
func (e *NetworkError) Offline() bool { return e.Status == 0 }

// AuthRequiredError means the action needs a logged-in session.
type AuthRequiredError struct {
	Action string
}

func (e *AuthRequiredError) Error() string {
	if e.Action == "" {
		return "authentication required"
	}
	return "authentication required: " + e.Action
}

// AlreadyInProgressError is the single-flight guard rejection.
type AlreadyInProgressError struct {
	Operation string
}

func (e *AlreadyInProgressError) Error() string {
	return e.Operation + " already in progress"
}

// ValidationError is caller input rejected before any network or storage call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// IsOffline reports whether err is a transport-level NetworkError or ErrNoConnection.
func IsOffline(err error) bool {
	if errors.Is(err, ErrNoConnection) {
		return true
	}
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Offline()
}
