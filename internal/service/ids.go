package service

import "github.com/google/uuid"

// newID mints identifiers for documents and fragments.
func newID() string {
	return uuid.NewString()
}
