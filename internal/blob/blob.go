// Package blob stores attachment payloads. Backends are addressed through
// opaque locators so callers never depend on bucket or path layout.
package blob

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("blob not found")

// Store is the blob storage contract. Put returns the locator later passed
// to Get and Delete.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
}
