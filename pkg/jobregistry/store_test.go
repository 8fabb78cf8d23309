package jobregistry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/3leaps/batchlens/pkg/batchmeta"
)

func TestStore_WriteGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	rec := &JobRecord{
		JobID:          "job-1",
		Origin:         OriginCLI,
		InputURI:       "s3://in/",
		OutputURI:      "s3://out/",
		ContainerImage: "img:1",
		WorkerLabel:    "edge",
		Range:          batchmeta.Range{Start: 0, End: 9},
		Chunks: []ChunkRecord{
			{ChunkID: 0, Name: "job-1_chunk_0", Range: batchmeta.Range{Start: 0, End: 4}},
			{ChunkID: 1, Name: "job-1_chunk_1", Range: batchmeta.Range{Start: 5, End: 9}},
		},
		CreatedAt: now,
	}

	if err := s.Write(rec); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.JobID != rec.JobID {
		t.Fatalf("job_id mismatch: got=%q want=%q", got.JobID, rec.JobID)
	}
	if got.ContainerImage != "img:1" || got.Origin != OriginCLI {
		t.Fatalf("fields not persisted: %+v", got)
	}
	if len(got.Chunks) != 2 || got.Chunks[1].Range.End != 9 {
		t.Fatalf("chunks not persisted: %+v", got.Chunks)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created_at mismatch: %v", got.CreatedAt)
	}
}

func TestStore_ListSortsNewestFirst(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)

	if err := s.Write(&JobRecord{JobID: "job-1", ContainerImage: "a", CreatedAt: t1}); err != nil {
		t.Fatalf("Write job-1: %v", err)
	}
	if err := s.Write(&JobRecord{JobID: "job-2", ContainerImage: "b", CreatedAt: t2}); err != nil {
		t.Fatalf("Write job-2: %v", err)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected job count: %d", len(got))
	}
	if got[0].JobID != "job-2" {
		t.Fatalf("expected newest first, got[0]=%q", got[0].JobID)
	}
}

func TestStore_ListSkipsCorruptRecords(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	if err := s.Write(&JobRecord{JobID: "good", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "broken"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "broken", "job.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 1 || got[0].JobID != "good" {
		t.Fatalf("expected only the good record, got %+v", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_RejectsPathLikeIDs(t *testing.T) {
	s := NewStore(t.TempDir())
	for _, id := range []string{"", "  ", ".", "..", "a/b", `a\b`, "../escape"} {
		if err := s.Write(&JobRecord{JobID: id}); err == nil {
			t.Fatalf("Write(%q) should fail", id)
		}
	}
}

func TestStore_EmptyRoot(t *testing.T) {
	s := NewStore("  ")
	if err := s.Write(&JobRecord{JobID: "x"}); err == nil {
		t.Fatal("expected error for empty root")
	}
}
