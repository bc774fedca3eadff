package metadata

import "github.com/google/uuid"

// NewID generates a random row identifier.
func NewID() string {
	return uuid.NewString()
}
