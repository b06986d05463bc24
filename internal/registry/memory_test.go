package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reviewlens/api/internal/model"
)

func newRecord(jobID string, total int) *model.JobRecord {
	return &model.JobRecord{
		JobID:        jobID,
		Status:       model.JobStatusInProgress,
		TotalBatches: total,
		SourceRef:    "uploads/" + jobID + "/",
		CreatedAt:    time.Now().UTC(),
	}
}

func TestRegister_Duplicate(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	if err := reg.Register(ctx, newRecord("job-1", 3)); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := reg.Register(ctx, newRecord("job-1", 99))
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}

	// The original record is untouched by the duplicate attempt.
	rec, err := reg.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.TotalBatches != 3 {
		t.Errorf("expected TotalBatches 3, got %d", rec.TotalBatches)
	}
}

func TestGet_NotFound(t *testing.T) {
	reg := NewMemoryRegistry()
	if _, err := reg.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	if _, err := reg.Resolve(ctx, "uploads/ref/"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before registration, got %v", err)
	}

	rec := newRecord("job-1", 2)
	rec.SourceRef = "uploads/ref/"
	if err := reg.Register(ctx, rec); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := reg.Resolve(ctx, "uploads/ref/")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.JobID != "job-1" {
		t.Errorf("expected job-1, got %s", got.JobID)
	}
}

func TestCompleteBatch_CountsEachIndexOnce(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	if err := reg.Register(ctx, newRecord("job-1", 2)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	first, err := reg.CompleteBatch(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}
	if !first.Counted || first.Processed != 1 || first.Done {
		t.Errorf("unexpected first completion: %+v", first)
	}

	// Redelivery of the same index must not move the counter.
	again, err := reg.CompleteBatch(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}
	if again.Counted || again.Processed != 1 {
		t.Errorf("redelivered batch was counted: %+v", again)
	}

	last, err := reg.CompleteBatch(ctx, "job-1", 1)
	if err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}
	if !last.Counted || !last.Done || last.Processed != 2 {
		t.Errorf("unexpected final completion: %+v", last)
	}
}

func TestCompleteBatch_Concurrent(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	const total = 50
	if err := reg.Register(ctx, newRecord("job-1", total)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	doneCount := 0

	// Two deliveries per index, all racing.
	for i := 0; i < total; i++ {
		for d := 0; d < 2; d++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				c, err := reg.CompleteBatch(ctx, "job-1", idx)
				if err != nil {
					t.Errorf("CompleteBatch(%d) failed: %v", idx, err)
					return
				}
				if c.Done {
					mu.Lock()
					doneCount++
					mu.Unlock()
				}
			}(i)
		}
	}
	wg.Wait()

	rec, err := reg.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.ProcessedBatches != total {
		t.Errorf("expected %d processed, got %d", total, rec.ProcessedBatches)
	}
	if doneCount != 1 {
		t.Errorf("Done fired %d times, expected exactly once", doneCount)
	}
	if !rec.ReadyToFinalize() {
		t.Error("expected record to be ready to finalize")
	}
}

func TestCompleteBatch_UnknownJob(t *testing.T) {
	reg := NewMemoryRegistry()
	if _, err := reg.CompleteBatch(context.Background(), "nope", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkTransitions(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	if err := reg.Register(ctx, newRecord("job-1", 1)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := reg.MarkFailed(ctx, "job-1", "enqueue blew up"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	rec, _ := reg.Get(ctx, "job-1")
	if rec.Status != model.JobStatusFailed || rec.ErrorMessage != "enqueue blew up" {
		t.Errorf("unexpected record after MarkFailed: %+v", rec)
	}

	if err := reg.MarkCompleted(ctx, "job-1"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	rec, _ = reg.Get(ctx, "job-1")
	if rec.Status != model.JobStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", rec.Status)
	}
}

func TestRecordSplitterFailure(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	if err := reg.RecordSplitterFailure(ctx, "job-1", "uploads/ref/", "bad mapping"); err != nil {
		t.Fatalf("RecordSplitterFailure failed: %v", err)
	}

	rec, err := reg.Resolve(ctx, "uploads/ref/")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rec.Status != model.JobStatusSplitterFailed {
		t.Errorf("expected SPLITTER_FAILED, got %s", rec.Status)
	}
	if rec.ErrorMessage != "bad mapping" {
		t.Errorf("unexpected error message: %q", rec.ErrorMessage)
	}
}
