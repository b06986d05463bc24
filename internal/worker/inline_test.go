package worker

import (
	"context"
	"testing"
	"time"

	"github.com/reviewlens/api/internal/model"
	"github.com/reviewlens/api/internal/pipeline"
	"github.com/reviewlens/api/internal/registry"
	"github.com/reviewlens/api/internal/storage"
	ws "github.com/reviewlens/api/internal/websocket"
)

func TestInlineEnqueuer_ProcessesBatches(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	store := storage.NewMemoryStore()
	registerJob(t, reg, "job-1", 3)

	w := NewBatchWorker(reg, store, testMachine(pipeline.NewMockEnricher(), 3), ws.NewHub())
	enq := NewInlineEnqueuer(w, 2)

	for i := 0; i < 3; i++ {
		payload := &model.BatchPayload{
			JobID:        "job-1",
			BatchIndex:   i,
			TotalBatches: 3,
			Reviews:      []model.Review{{Text: "row"}},
		}
		if _, err := enq.Enqueue(batchTask(t, payload)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := reg.Get(ctx, "job-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if rec.ProcessedBatches == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batches not processed in time: %d/3", rec.ProcessedBatches)
		}
		time.Sleep(10 * time.Millisecond)
	}

	keys, err := store.List(ctx, storage.BatchPrefix("job-1"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("expected 3 batch artifacts, got %v", keys)
	}
}
