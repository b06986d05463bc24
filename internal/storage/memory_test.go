package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	meta := map[string]string{MetadataMapping: `{"full_review_text":"body"}`}
	if err := store.Upload(ctx, "uploads/ref/data.csv", bytes.NewReader([]byte("body\nhello\n")), "text/csv", meta); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	data, gotMeta, err := store.Download(ctx, "uploads/ref/data.csv")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(data) != "body\nhello\n" {
		t.Errorf("unexpected content: %q", data)
	}
	if gotMeta[MetadataMapping] != meta[MetadataMapping] {
		t.Errorf("metadata not preserved: %v", gotMeta)
	}
}

func TestMemoryStore_DownloadMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, _, err := store.Download(context.Background(), "nope"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestMemoryStore_ListSortedByPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, key := range []string{
		BatchKey("job-1", 2),
		BatchKey("job-1", 0),
		BatchKey("job-1", 1),
		BatchKey("job-2", 0),
	} {
		if err := store.Upload(ctx, key, bytes.NewReader([]byte("{}")), "application/json", nil); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
	}

	keys, err := store.List(ctx, BatchPrefix("job-1"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %v", keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Errorf("keys not sorted: %v", keys)
		}
	}
}

func TestMemoryStore_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.Upload(ctx, BatchKey("job-1", 0), bytes.NewReader([]byte("{}")), "application/json", nil)
	store.Upload(ctx, ResultKey("job-1"), bytes.NewReader([]byte("{}")), "application/json", nil)

	if err := store.DeletePrefix(ctx, BatchPrefix("job-1")); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}

	if keys, _ := store.List(ctx, BatchPrefix("job-1")); len(keys) != 0 {
		t.Errorf("batch artifacts survived DeletePrefix: %v", keys)
	}
	if _, _, err := store.Download(ctx, ResultKey("job-1")); err != nil {
		t.Errorf("result artifact was deleted: %v", err)
	}
}
