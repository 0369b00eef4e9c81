package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a named document has never been saved.
var ErrNotFound = errors.New("store: document not found")

// Store persists whole named documents. Each document is written and read
// as a single unit; there are no partial updates. Implementations must
// treat Save as a full replacement of any prior content.
type Store interface {
	// Load returns the last saved bytes for name, or ErrNotFound.
	Load(ctx context.Context, name string) ([]byte, error)
	// Save replaces the document stored under name.
	Save(ctx context.Context, name string, data []byte) error
	// Delete removes the document. Deleting an absent document is a no-op.
	Delete(ctx context.Context, name string) error
	// Close releases any backing resources.
	Close() error
}
