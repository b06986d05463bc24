package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/reviewlens/api/internal/model"
	"github.com/reviewlens/api/internal/pipeline"
	"github.com/reviewlens/api/internal/registry"
	"github.com/reviewlens/api/internal/storage"
	"github.com/reviewlens/api/internal/websocket"
)

// BatchWorker processes one batch task: it drives the payload through the
// pipeline state machine, writes the enriched batch artifact, and counts the
// batch toward job progress exactly once.
type BatchWorker struct {
	registry registry.JobRegistry
	store    storage.ObjectStore
	machine  *pipeline.Machine
	hub      *websocket.Hub
}

func NewBatchWorker(reg registry.JobRegistry, store storage.ObjectStore, machine *pipeline.Machine, hub *websocket.Hub) *BatchWorker {
	return &BatchWorker{
		registry: reg,
		store:    store,
		machine:  machine,
		hub:      hub,
	}
}

// ProcessTask handles one batch pipeline execution. Delivery is at least
// once: a transient error is returned plainly so asynq redelivers, and the
// registry's per-index dedup keeps a redelivered batch from double-counting.
// A batch that exhausts its stage retries is archived (dead letter) and never
// blocks its siblings.
func (w *BatchWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.BatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal batch payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing batch %d/%d of job %s", payload.BatchIndex+1, payload.TotalBatches, payload.JobID)

	state, err := w.machine.Run(ctx, &payload)
	if err != nil {
		var exhausted *pipeline.StageExhaustedError
		if errors.As(err, &exhausted) {
			// Terminal for this batch only: no artifact, no count.
			log.Printf("Batch %d of job %s dead-lettered: %v", payload.BatchIndex, payload.JobID, err)
			w.hub.BroadcastError(payload.JobID, "BATCH_FAILED", exhausted.Error())
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if state != pipeline.StateEnd {
		return fmt.Errorf("pipeline stopped in state %s", state)
	}

	// The artifact write is a create-or-overwrite on the batch-scoped key,
	// and the increment below only counts each index once, so this tail is
	// safe to re-run on redelivery.
	data, err := json.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("failed to marshal enriched batch: %v: %w", err, asynq.SkipRetry)
	}
	key := storage.BatchKey(payload.JobID, payload.BatchIndex)
	if err := w.store.Upload(ctx, key, bytes.NewReader(data), "application/json", nil); err != nil {
		return err
	}

	completion, err := w.registry.CompleteBatch(ctx, payload.JobID, payload.BatchIndex)
	if err != nil {
		return err
	}
	if completion.Counted {
		w.hub.BroadcastProgress(payload.JobID, completion.Processed, completion.Total)
		if completion.Done {
			log.Printf("Job %s: all %d batches processed", payload.JobID, completion.Total)
			w.hub.BroadcastComplete(payload.JobID, completion.Total)
		}
	}

	return nil
}
