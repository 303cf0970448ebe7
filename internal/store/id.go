package store

import "github.com/google/uuid"

// NewID returns a random identifier for users, projects, and segments.
func NewID() string {
	return uuid.NewString()
}
