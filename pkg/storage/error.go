package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict matches every VersionConflictError.
	ErrVersionConflict = errors.New("version conflict")

	// ErrPayloadTooLarge matches every PayloadTooLargeError.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrAccessDenied matches every AccessDeniedError.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidInput wraps request validation failures that are not tied to
	// a delta or a record, such as a negative version.
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError is returned when a document, version or record doesn't exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return e.Kind + " not found: " + e.ID
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// VersionConflictError is returned when an optimistic write loses the race:
// the stream advanced past the version the caller based its write on.
type VersionConflictError struct {
	Stream   string
	Expected int64
	Current  int64
}

func (e VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected parent %d, current is %d", e.Stream, e.Expected, e.Current)
}

func (e VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// PayloadTooLargeError is returned when content exceeds the bound of its
// storage mode.
type PayloadTooLargeError struct {
	Mode  string
	Size  int
	Limit int
}

func (e PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds %s limit of %d bytes", e.Size, e.Mode, e.Limit)
}

func (e PayloadTooLargeError) Is(target error) bool { return target == ErrPayloadTooLarge }

// AccessDeniedError is returned when none of the caller's roles appear in a
// record's governance list for the action.
type AccessDeniedError struct {
	Caller   string
	Action   string
	Resource string
}

func (e AccessDeniedError) Error() string {
	caller := e.Caller
	if caller == "" {
		caller = "anonymous caller"
	}
	return fmt.Sprintf("%s may not %s %s", caller, e.Action, e.Resource)
}

func (e AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }
