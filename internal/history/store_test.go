package history

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"research-analyzer/internal/research"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(streamID string, finished time.Time) research.RunRecord {
	return research.RunRecord{
		StreamID:   streamID,
		RunID:      "run-" + streamID,
		Topic:      "quantum error correction",
		Engine:     "tim-gpt",
		Tools:      []string{"web_search", "arxiv_search"},
		Status:     research.EventDone,
		Answer:     "Surface codes lead.",
		Reasoning:  []research.ReasoningNode{{Title: "Survey", Conclusion: "Surface codes lead."}},
		Attempts:   2,
		StartedAt:  finished.Add(-90 * time.Second),
		FinishedAt: finished,
	}
}

func TestRecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Record(ctx, sampleRecord("s-1", finished)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := s.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RunID != "run-s-1" || got.Status != "done" || got.Attempts != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Answer != "Surface codes lead." {
		t.Fatalf("unexpected answer: %q", got.Answer)
	}
	if len(got.Tools) != 2 || got.Tools[1] != "arxiv_search" {
		t.Fatalf("unexpected tools: %v", got.Tools)
	}
	if got.DurationSeconds != 90 {
		t.Fatalf("unexpected duration: %v", got.DurationSeconds)
	}
	var reasoning []research.ReasoningNode
	if err := json.Unmarshal(got.Reasoning, &reasoning); err != nil {
		t.Fatalf("reasoning is not JSON: %v", err)
	}
	if len(reasoning) != 1 || reasoning[0].Title != "Survey" {
		t.Fatalf("unexpected reasoning: %+v", reasoning)
	}

	byID, err := s.Get(ctx, got.ID)
	if err != nil || byID.StreamID != "s-1" {
		t.Fatalf("lookup by record id failed: %v %+v", err, byID)
	}
}

func TestRecordErrorRunWithoutReasoning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := research.RunRecord{StreamID: "s-err", Topic: "t", Engine: "tim-gpt", Status: research.EventError, Error: "Research canceled"}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	got, err := s.Get(ctx, "s-err")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Error != "Research canceled" || string(got.Reasoning) != "[]" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Tools == nil || len(got.Tools) != 0 {
		t.Fatalf("unexpected tools: %v", got.Tools)
	}
}

func TestListNewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := s.Record(ctx, sampleRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	list, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].StreamID != "c" || list[1].StreamID != "b" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[0].Answer != "" || list[0].Reasoning != nil {
		t.Fatalf("list should not include answers: %+v", list[0])
	}

	all, err := s.List(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("unexpected default list: %v %d", err, len(all))
	}
}

func TestDeleteHidesRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, sampleRecord("gone", time.Now())); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	list, err := s.List(ctx, 10)
	if err != nil || len(list) != 0 {
		t.Fatalf("unexpected list after delete: %v %+v", err, list)
	}
}

func TestNewStoreRequiresPath(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreSatisfiesRecorder(t *testing.T) {
	var _ research.Recorder = newTestStore(t)
}
