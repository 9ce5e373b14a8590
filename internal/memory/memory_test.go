package memory

import (
	"context"
	"math"
	"testing"
)

// hashEmbedder is a deterministic stand-in for a real embedding model.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 16)
	for i, b := range []byte(text) {
		vec[i%16] += float32(b)
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), hashEmbedder{})
}

func TestQueryEmptyStore(t *testing.T) {
	s := newTestStore(t)

	records, err := s.Query(context.Background(), "anything", 5, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestAddAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, "analyzed a sales dataset", map[string]any{"agent": "analyzer"}, "wf1_analyzer"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, "generated a fastapi project", map[string]any{"agent": "code_generator"}, "wf1_code_generator"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	records, err := s.Query(ctx, "analyzed a sales dataset", 1, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ID != "wf1_analyzer" {
		t.Fatalf("expected nearest record wf1_analyzer, got %s", records[0].ID)
	}
	if records[0].Similarity <= 0 {
		t.Fatalf("expected positive similarity, got %f", records[0].Similarity)
	}
	if records[0].Metadata["agent"] != "analyzer" {
		t.Fatalf("metadata not preserved: %v", records[0].Metadata)
	}
}

func TestQueryWithMetadataFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, "reviewed generated code", map[string]any{"workflow_id": "wf1"}, "wf1_code_reviewer"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, "reviewed generated code", map[string]any{"workflow_id": "wf2"}, "wf2_code_reviewer"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	records, err := s.Query(ctx, "reviewed generated code", 5, map[string]any{"workflow_id": "wf2"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 || records[0].ID != "wf2_code_reviewer" {
		t.Fatalf("filter not applied, got %+v", records)
	}
}

func TestListOrdersByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"wf1_devops", "wf1_analyzer", "wf1_validator"} {
		if err := s.Add(ctx, "result for "+id, map[string]any{"agent": id}, id); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}

	records, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	want := []string{"wf1_analyzer", "wf1_devops", "wf1_validator"}
	for i, id := range want {
		if records[i].ID != id {
			t.Fatalf("record %d: expected %s, got %s", i, id, records[i].ID)
		}
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, "short lived", nil, "wf1_analyzer"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Delete(ctx, "wf1_analyzer"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty store after delete, got %d", count)
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, "first", nil, "a"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty store after clear, got %d", count)
	}

	// The store stays usable after a clear.
	if err := s.Add(ctx, "second", nil, "b"); err != nil {
		t.Fatalf("Add after clear: %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := NewStore(dir, hashEmbedder{})
	if err := s.Add(ctx, "durable memory", map[string]any{"agent": "analyzer"}, "wf1_analyzer"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened := NewStore(dir, hashEmbedder{})
	records, err := reopened.Query(ctx, "durable memory", 1, nil)
	if err != nil {
		t.Fatalf("Query after reopen: %v", err)
	}
	if len(records) != 1 || records[0].ID != "wf1_analyzer" {
		t.Fatalf("expected persisted record, got %+v", records)
	}
}
