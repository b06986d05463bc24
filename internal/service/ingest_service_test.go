package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/reviewlens/api/internal/model"
	"github.com/reviewlens/api/internal/registry"
	"github.com/reviewlens/api/internal/splitter"
	"github.com/reviewlens/api/internal/storage"
)

type fakeEnqueuer struct {
	tasks  []*asynq.Task
	failOn int // fail the nth Enqueue call (1-based), 0 means never
	calls  int
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.calls++
	if f.failOn != 0 && f.calls == f.failOn {
		return nil, errors.New("broker unavailable")
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

const testMapping = `{"full_review_text": "body"}`

func csvRows(n int) []byte {
	var b strings.Builder
	b.WriteString("body\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "review %d\n", i)
	}
	return []byte(b.String())
}

func TestDispatch_RegistersAndEnqueues(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	enq := &fakeEnqueuer{}
	svc := NewIngestService(reg, storage.NewMemoryStore(), enq, 100)

	content := csvRows(250)
	resp, err := svc.Dispatch(ctx, "uploads/ref/", testMapping, content)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if resp.Duplicate {
		t.Error("first dispatch reported as duplicate")
	}
	if resp.TotalBatches != 3 {
		t.Errorf("expected 3 batches, got %d", resp.TotalBatches)
	}
	if resp.JobID != splitter.HashContent(content) {
		t.Errorf("job id is not the content hash: %s", resp.JobID)
	}
	if len(enq.tasks) != 3 {
		t.Fatalf("expected 3 enqueued tasks, got %d", len(enq.tasks))
	}

	// Payloads carry ordered indices and the shared total.
	for i, task := range enq.tasks {
		if task.Type() != TaskTypeBatch {
			t.Errorf("task %d has type %s", i, task.Type())
		}
		var payload model.BatchPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			t.Fatalf("task %d payload unreadable: %v", i, err)
		}
		if payload.BatchIndex != i || payload.TotalBatches != 3 {
			t.Errorf("task %d: index %d total %d", i, payload.BatchIndex, payload.TotalBatches)
		}
		if payload.JobID != resp.JobID {
			t.Errorf("task %d carries wrong job id", i)
		}
	}

	rec, err := reg.Get(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != model.JobStatusInProgress || rec.TotalBatches != 3 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.SourceRef != "uploads/ref/" {
		t.Errorf("source ref not recorded: %q", rec.SourceRef)
	}
}

func TestDispatch_DuplicateContent(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	enq := &fakeEnqueuer{}
	svc := NewIngestService(reg, storage.NewMemoryStore(), enq, 100)

	content := csvRows(10)
	first, err := svc.Dispatch(ctx, "uploads/a/", testMapping, content)
	if err != nil {
		t.Fatalf("first Dispatch failed: %v", err)
	}

	second, err := svc.Dispatch(ctx, "uploads/b/", testMapping, content)
	if err != nil {
		t.Fatalf("second Dispatch failed: %v", err)
	}
	if !second.Duplicate {
		t.Error("expected Duplicate on re-submission")
	}
	if second.JobID != first.JobID {
		t.Error("duplicate got a different job id")
	}
	if len(enq.tasks) != 1 {
		t.Errorf("duplicate dispatched %d extra tasks", len(enq.tasks)-1)
	}
}

func TestDispatch_InvalidMappingRecorded(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	svc := NewIngestService(reg, storage.NewMemoryStore(), &fakeEnqueuer{}, 100)

	content := csvRows(5)
	_, err := svc.Dispatch(ctx, "uploads/ref/", `{"title": "t"}`, content)
	var verr *splitter.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	rec, err := reg.Get(ctx, splitter.HashContent(content))
	if err != nil {
		t.Fatalf("failure was not recorded: %v", err)
	}
	if rec.Status != model.JobStatusSplitterFailed {
		t.Errorf("expected SPLITTER_FAILED, got %s", rec.Status)
	}
	if rec.ErrorMessage == "" {
		t.Error("expected an error message on the record")
	}
}

func TestDispatch_EnqueueFailureMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	enq := &fakeEnqueuer{failOn: 2}
	svc := NewIngestService(reg, storage.NewMemoryStore(), enq, 100)

	content := csvRows(250)
	_, err := svc.Dispatch(ctx, "uploads/ref/", testMapping, content)
	if err == nil {
		t.Fatal("expected error when enqueue fails")
	}

	rec, err := reg.Get(ctx, splitter.HashContent(content))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != model.JobStatusFailed {
		t.Errorf("expected FAILED, got %s", rec.Status)
	}
}

func TestIngestObject_UsesStoredMapping(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	store := storage.NewMemoryStore()
	svc := NewIngestService(reg, store, &fakeEnqueuer{}, 100)

	content := csvRows(3)
	key := storage.UploadKey("ref-1", "data.csv")
	meta := map[string]string{storage.MetadataMapping: testMapping}
	if err := store.Upload(ctx, key, bytes.NewReader(content), "text/csv", meta); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	resp, err := svc.IngestObject(ctx, key)
	if err != nil {
		t.Fatalf("IngestObject failed: %v", err)
	}

	// The job resolves through the object's directory prefix.
	rec, err := reg.Resolve(ctx, storage.UploadPrefix("ref-1"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rec.JobID != resp.JobID {
		t.Errorf("resolved wrong job: %s vs %s", rec.JobID, resp.JobID)
	}
}

func TestIngestObject_MissingObject(t *testing.T) {
	svc := NewIngestService(registry.NewMemoryRegistry(), storage.NewMemoryStore(), &fakeEnqueuer{}, 100)
	_, err := svc.IngestObject(context.Background(), "uploads/nope/data.csv")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}
