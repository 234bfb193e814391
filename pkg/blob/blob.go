// Package blob defines the external store that holds cold payloads.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a reference has no object behind it.
var ErrNotFound = errors.New("blob not found")

// Store puts and gets opaque payloads by reference.
type Store interface {
	// Put stores data under key and returns the reference to keep.
	Put(ctx context.Context, key string, data []byte) (ref string, err error)

	// Get returns the bytes behind ref.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete removes ref. Deleting a missing ref is not an error.
	Delete(ctx context.Context, ref string) error
}
