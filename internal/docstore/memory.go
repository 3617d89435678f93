package docstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Documents are normalized through JSON so reads observe the same shapes a
// durable backend would return.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memoryRecord
}

type memoryRecord struct {
	data      map[string]any
	createdAt time.Time
	updatedAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]*memoryRecord)}
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.collections[collection][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return s.export(id, rec), nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, filters []Filter, order *Order) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0)
	for id, rec := range s.collections[collection] {
		if matchesFilters(rec.data, filters) {
			records = append(records, s.export(id, rec))
		}
	}
	if order != nil {
		sortRecords(records, *order)
	}
	return records, nil
}

func (s *MemoryStore) BatchGet(ctx context.Context, collection string, ids []string) ([]Record, error) {
	records := make([]Record, 0, len(ids))
	for _, chunk := range chunkIDs(ids) {
		s.mu.RLock()
		for _, id := range chunk {
			if rec, ok := s.collections[collection][id]; ok {
				records = append(records, s.export(id, rec))
			}
		}
		s.mu.RUnlock()
	}
	return records, nil
}

func (s *MemoryStore) Create(_ context.Context, collection string, data map[string]any) (string, error) {
	normalized, err := normalize(data)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]*memoryRecord)
	}
	id := newDocumentID()
	now := time.Now().UTC()
	s.collections[collection][id] = &memoryRecord{data: normalized, createdAt: now, updatedAt: now}
	return id, nil
}

func (s *MemoryStore) Update(_ context.Context, collection, id string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	merged, err := applyPatch(rec.data, patch)
	if err != nil {
		return err
	}
	rec.data = merged
	rec.updatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) export(id string, rec *memoryRecord) Record {
	copied, _ := normalize(rec.data)
	return Record{ID: id, Data: copied, CreatedAt: rec.createdAt, UpdatedAt: rec.updatedAt}
}

// applyPatch merges a patch into a document. Shared by the memory backend
// and the postgres backend's read-modify-write update.
func applyPatch(data map[string]any, patch Patch) (map[string]any, error) {
	merged, err := normalize(data)
	if err != nil {
		return nil, err
	}
	for field, value := range patch.Set {
		normalizedValue, err := normalizeValue(value)
		if err != nil {
			return nil, err
		}
		merged[field] = normalizedValue
	}
	for field, elements := range patch.ArrayUnion {
		existing := toStringSlice(merged[field])
		seen := make(map[string]struct{}, len(existing))
		for _, element := range existing {
			seen[element] = struct{}{}
		}
		for _, element := range elements {
			if _, ok := seen[element]; ok {
				continue
			}
			existing = append(existing, element)
			seen[element] = struct{}{}
		}
		asAny := make([]any, len(existing))
		for i, element := range existing {
			asAny[i] = element
		}
		merged[field] = asAny
	}
	for field, elements := range patch.ArrayRemove {
		drop := make(map[string]struct{}, len(elements))
		for _, element := range elements {
			drop[element] = struct{}{}
		}
		kept := make([]any, 0)
		for _, element := range toStringSlice(merged[field]) {
			if _, ok := drop[element]; ok {
				continue
			}
			kept = append(kept, element)
		}
		merged[field] = kept
	}
	return merged, nil
}

func matchesFilters(data map[string]any, filters []Filter) bool {
	for _, filter := range filters {
		want, err := normalizeValue(filter.Value)
		if err != nil {
			return false
		}
		if fmt.Sprint(data[filter.Field]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func sortRecords(records []Record, order Order) {
	sort.SliceStable(records, func(i, j int) bool {
		less := recordLess(records[i], records[j], order.Field)
		if order.Desc {
			return !less
		}
		return less
	})
}

func recordLess(a, b Record, field string) bool {
	switch field {
	case "createdAt":
		return a.CreatedAt.Before(b.CreatedAt)
	case "updatedAt":
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	av, bv := a.Data[field], b.Data[field]
	if af, ok := av.(float64); ok {
		if bf, ok := bv.(float64); ok {
			return af < bf
		}
	}
	return fmt.Sprint(av) < fmt.Sprint(bv)
}

func toStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, element := range raw {
		if s, ok := element.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func normalize(data map[string]any) (map[string]any, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	var normalized map[string]any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	if normalized == nil {
		normalized = make(map[string]any)
	}
	return normalized, nil
}

func normalizeValue(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return normalized, nil
}

func newDocumentID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
