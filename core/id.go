package core

import "github.com/google/uuid"

// NewID returns a unique identifier for messages, sessions and bookmarks.
// Version 7 UUIDs carry a millisecond timestamp prefix, so lexicographic
// order matches creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
