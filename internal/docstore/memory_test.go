package docstore

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	id, err := ms.Create(ctx, "pirs", map[string]any{"title": "Widget specs", "status": "DRAFT"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := ms.Get(ctx, "pirs", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Data["title"] != "Widget specs" || rec.Data["status"] != "DRAFT" {
		t.Fatalf("unexpected data: %v", rec.Data)
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Fatal("timestamps should be assigned by the store")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	ms := NewMemoryStore()
	if _, err := ms.Get(context.Background(), "pirs", "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreQueryFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	for i := 0; i < 3; i++ {
		_, err := ms.Create(ctx, "questions", map[string]any{
			"pirId": "pir-1",
			"text":  fmt.Sprintf("q%d", i),
			"seq":   i,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := ms.Create(ctx, "questions", map[string]any{"pirId": "pir-2", "text": "other"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	records, err := ms.Query(ctx, "questions", []Filter{{Field: "pirId", Value: "pir-1"}}, &Order{Field: "seq"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.Data["text"] != fmt.Sprintf("q%d", i) {
			t.Fatalf("record %d out of order: %v", i, rec.Data["text"])
		}
	}
}

func TestMemoryStoreUpdatePatch(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	id, err := ms.Create(ctx, "pirs", map[string]any{"status": "DRAFT", "questionIds": []string{"q1"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = ms.Update(ctx, "pirs", id, Patch{
		Set:        map[string]any{"status": "REQUESTED"},
		ArrayUnion: map[string][]string{"questionIds": {"q2", "q1"}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, err := ms.Get(ctx, "pirs", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Data["status"] != "REQUESTED" {
		t.Fatalf("status not patched: %v", rec.Data["status"])
	}
	ids := toStringSlice(rec.Data["questionIds"])
	if len(ids) != 2 || ids[0] != "q1" || ids[1] != "q2" {
		t.Fatalf("union should dedupe while keeping order: %v", ids)
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	ms := NewMemoryStore()
	err := ms.Update(context.Background(), "pirs", "nope", Patch{Set: map[string]any{"status": "DRAFT"}})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreBatchGetChunks(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	ids := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		id, err := ms.Create(ctx, "questions", map[string]any{"n": i})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, id)
	}
	ids = append(ids, "missing-id")

	records, err := ms.BatchGet(ctx, "questions", ids)
	if err != nil {
		t.Fatalf("batch get: %v", err)
	}
	if len(records) != 25 {
		t.Fatalf("expected 25 resolved records, got %d", len(records))
	}
	resolved := make(map[string]struct{}, len(records))
	for _, rec := range records {
		resolved[rec.ID] = struct{}{}
	}
	for _, id := range ids[:25] {
		if _, ok := resolved[id]; !ok {
			t.Fatalf("id %s not resolved", id)
		}
	}
}

func TestChunkIDs(t *testing.T) {
	tests := []struct {
		count  int
		chunks int
	}{
		{0, 0},
		{1, 1},
		{10, 1},
		{11, 2},
		{25, 3},
	}
	for _, tc := range tests {
		ids := make([]string, tc.count)
		for i := range ids {
			ids[i] = fmt.Sprintf("id-%d", i)
		}
		chunks := chunkIDs(ids)
		if len(chunks) != tc.chunks {
			t.Fatalf("count=%d: expected %d chunks, got %d", tc.count, tc.chunks, len(chunks))
		}
		total := 0
		for _, chunk := range chunks {
			if len(chunk) > BatchCeiling {
				t.Fatalf("chunk exceeds ceiling: %d", len(chunk))
			}
			total += len(chunk)
		}
		if total != tc.count {
			t.Fatalf("count=%d: chunks cover %d ids", tc.count, total)
		}
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	id, err := ms.Create(ctx, "attachments", map[string]any{"fileName": "spec.pdf"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ms.Delete(ctx, "attachments", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := ms.Get(ctx, "attachments", id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := ms.Delete(ctx, "attachments", id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
