package storage

import (
	"context"
	"errors"
	"strings"
)

// Provider returns the raw image data stored under an id.
// The data is what was stored, it may still be compressed or encrypted.
type Provider interface {
	Get(ctx context.Context, id string) ([]byte, error)
}

// Errors
var (
	ErrNotFound = errors.New("Image does not exist")
)

// maxIDLength bounds ids taken from request paths before they reach a backend
const maxIDLength = 255

// ValidID reports whether id can name stored image data.
// Ids are single path segments, so they can not escape a directory or key prefix.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." || len(id) > maxIDLength {
		return false
	}

	return !strings.ContainsAny(id, "/\\\x00")
}
