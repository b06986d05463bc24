package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/reviewlens/api/internal/model"
	"github.com/reviewlens/api/internal/pipeline"
	"github.com/reviewlens/api/internal/registry"
	"github.com/reviewlens/api/internal/storage"
	ws "github.com/reviewlens/api/internal/websocket"
)

// downEnricher fails every stage call.
type downEnricher struct{}

func (downEnricher) Sentiment(context.Context, []string) ([]string, error) {
	return nil, errors.New("service down")
}

func (downEnricher) Topics(context.Context, []string, []string) ([]string, error) {
	return nil, errors.New("service down")
}

func (downEnricher) Aspects(context.Context, []string, []string, float64) ([]string, error) {
	return nil, errors.New("service down")
}

func (downEnricher) Themes(context.Context, []string) ([]int, []model.Theme, error) {
	return nil, nil, errors.New("service down")
}

func testMachine(e pipeline.Enricher, maxAttempts int) *pipeline.Machine {
	policy := pipeline.RetryPolicy{MaxAttempts: maxAttempts, InitialDelay: time.Millisecond, Multiplier: 1.5}
	return pipeline.NewMachine(pipeline.Stages(e), policy, 0)
}

func batchTask(t *testing.T, payload *model.BatchPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return asynq.NewTask("batch:process", data)
}

func registerJob(t *testing.T, reg registry.JobRegistry, jobID string, total int) {
	t.Helper()
	rec := &model.JobRecord{
		JobID:        jobID,
		Status:       model.JobStatusInProgress,
		TotalBatches: total,
		CreatedAt:    time.Now().UTC(),
	}
	if err := reg.Register(context.Background(), rec); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func TestProcessTask_Success(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	store := storage.NewMemoryStore()
	registerJob(t, reg, "job-1", 2)

	w := NewBatchWorker(reg, store, testMachine(pipeline.NewMockEnricher(), 3), ws.NewHub())

	payload := &model.BatchPayload{
		JobID:        "job-1",
		BatchIndex:   0,
		TotalBatches: 2,
		Reviews:      []model.Review{{Text: "great quality"}, {Text: "arrived late"}},
	}
	if err := w.ProcessTask(ctx, batchTask(t, payload)); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	// Artifact written with enrichment fields attached.
	data, _, err := store.Download(ctx, storage.BatchKey("job-1", 0))
	if err != nil {
		t.Fatalf("batch artifact missing: %v", err)
	}
	var enriched model.BatchPayload
	if err := json.Unmarshal(data, &enriched); err != nil {
		t.Fatalf("batch artifact unreadable: %v", err)
	}
	for i, row := range enriched.Reviews {
		if row.Sentiment == "" || row.Topic == "" || row.Aspects == "" {
			t.Errorf("row %d not enriched: %+v", i, row)
		}
	}

	rec, _ := reg.Get(ctx, "job-1")
	if rec.ProcessedBatches != 1 {
		t.Errorf("expected 1 processed batch, got %d", rec.ProcessedBatches)
	}
}

func TestProcessTask_RedeliveryCountsOnce(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	store := storage.NewMemoryStore()
	registerJob(t, reg, "job-1", 2)

	w := NewBatchWorker(reg, store, testMachine(pipeline.NewMockEnricher(), 3), ws.NewHub())

	payload := &model.BatchPayload{
		JobID:        "job-1",
		BatchIndex:   0,
		TotalBatches: 2,
		Reviews:      []model.Review{{Text: "fine"}},
	}
	for i := 0; i < 3; i++ {
		if err := w.ProcessTask(ctx, batchTask(t, payload)); err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}

	rec, _ := reg.Get(ctx, "job-1")
	if rec.ProcessedBatches != 1 {
		t.Errorf("redelivery moved the counter: %d", rec.ProcessedBatches)
	}
}

func TestProcessTask_ExhaustedStageDeadLetters(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	store := storage.NewMemoryStore()
	registerJob(t, reg, "job-1", 1)

	w := NewBatchWorker(reg, store, testMachine(downEnricher{}, 2), ws.NewHub())

	payload := &model.BatchPayload{
		JobID:        "job-1",
		BatchIndex:   0,
		TotalBatches: 1,
		Reviews:      []model.Review{{Text: "whatever"}},
	}
	err := w.ProcessTask(ctx, batchTask(t, payload))
	if err == nil {
		t.Fatal("expected error for exhausted stage")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("exhausted batch should not be redelivered: %v", err)
	}

	// No artifact, no count; the job stays open for its other batches.
	if _, _, err := store.Download(ctx, storage.BatchKey("job-1", 0)); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("failed batch left an artifact: %v", err)
	}
	rec, _ := reg.Get(ctx, "job-1")
	if rec.ProcessedBatches != 0 {
		t.Errorf("failed batch was counted: %d", rec.ProcessedBatches)
	}
	if rec.Status != model.JobStatusInProgress {
		t.Errorf("single batch failure changed job status: %s", rec.Status)
	}
}

func TestProcessTask_MalformedPayload(t *testing.T) {
	w := NewBatchWorker(registry.NewMemoryRegistry(), storage.NewMemoryStore(),
		testMachine(pipeline.NewMockEnricher(), 2), ws.NewHub())

	err := w.ProcessTask(context.Background(), asynq.NewTask("batch:process", []byte("not json")))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload should not be redelivered: %v", err)
	}
}

func TestProcessTask_FullJobCompletion(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	store := storage.NewMemoryStore()
	registerJob(t, reg, "job-1", 3)

	w := NewBatchWorker(reg, store, testMachine(pipeline.NewMockEnricher(), 3), ws.NewHub())

	for i := 0; i < 3; i++ {
		payload := &model.BatchPayload{
			JobID:        "job-1",
			BatchIndex:   i,
			TotalBatches: 3,
			Reviews:      []model.Review{{Text: "row"}},
		}
		if err := w.ProcessTask(ctx, batchTask(t, payload)); err != nil {
			t.Fatalf("batch %d failed: %v", i, err)
		}
	}

	rec, _ := reg.Get(ctx, "job-1")
	if !rec.ReadyToFinalize() {
		t.Errorf("job not ready to finalize: %+v", rec)
	}
	// Completion of the last batch does not finalize by itself.
	if rec.Status != model.JobStatusInProgress {
		t.Errorf("worker changed job status to %s", rec.Status)
	}

	keys, _ := store.List(ctx, storage.BatchPrefix("job-1"))
	if len(keys) != 3 {
		t.Errorf("expected 3 batch artifacts, got %v", keys)
	}
}
