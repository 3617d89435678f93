// Package docstore defines the keyed document store the service persists
// entities in: durable documents grouped into collections, with equality
// filters, a single sort key, chunked batch reads, and patch-style updates.
package docstore

import (
	"context"
	"errors"
	"time"
)

// BatchCeiling is the maximum number of ids a backend resolves per batch
// request. Larger id sets are split into sequential batches.
const BatchCeiling = 10

var ErrNotFound = errors.New("document not found")

// Record is a stored document. CreatedAt and UpdatedAt are assigned by the
// store, never by callers.
type Record struct {
	ID        string
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter is an exact-match condition on a top-level document field.
type Filter struct {
	Field string
	Value any
}

// Order is an ascending or descending sort on a top-level document field.
// The reserved field names "createdAt" and "updatedAt" sort on the
// store-assigned timestamps.
type Order struct {
	Field string
	Desc  bool
}

// Patch is an explicit partial update. Set replaces listed fields;
// ArrayUnion appends elements to array fields with set semantics, so adding
// an element that is already present is a no-op; ArrayRemove drops elements
// and ignores ones that are absent.
type Patch struct {
	Set         map[string]any
	ArrayUnion  map[string][]string
	ArrayRemove map[string][]string
}

// Store is the document store contract consumed by the typed store layer.
type Store interface {
	Get(ctx context.Context, collection, id string) (Record, error)
	Query(ctx context.Context, collection string, filters []Filter, order *Order) ([]Record, error)
	// BatchGet resolves ids in sequential chunks of at most BatchCeiling.
	// Missing ids are skipped; no cross-chunk ordering is guaranteed.
	BatchGet(ctx context.Context, collection string, ids []string) ([]Record, error)
	Create(ctx context.Context, collection string, data map[string]any) (string, error)
	Update(ctx context.Context, collection, id string, patch Patch) error
	Delete(ctx context.Context, collection, id string) error
	Ping(ctx context.Context) error
}

func chunkIDs(ids []string) [][]string {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(ids)+BatchCeiling-1)/BatchCeiling)
	for start := 0; start < len(ids); start += BatchCeiling {
		end := start + BatchCeiling
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
