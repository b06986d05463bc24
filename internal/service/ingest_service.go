package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/reviewlens/api/internal/model"
	"github.com/reviewlens/api/internal/registry"
	"github.com/reviewlens/api/internal/splitter"
	"github.com/reviewlens/api/internal/storage"
)

const (
	// TaskTypeBatch is the asynq task type for one batch pipeline execution.
	TaskTypeBatch = "batch:process"

	// QueueBatches is the asynq queue batch tasks are enqueued on.
	QueueBatches = "batches"
)

// TaskEnqueuer is the slice of asynq.Client the dispatcher needs.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// IngestService admits jobs: it hashes the content, validates and splits the
// input, registers the job once, and fans out one pipeline task per batch.
type IngestService struct {
	registry  registry.JobRegistry
	store     storage.ObjectStore
	tasks     TaskEnqueuer
	batchSize int
}

func NewIngestService(reg registry.JobRegistry, store storage.ObjectStore, tasks TaskEnqueuer, batchSize int) *IngestService {
	return &IngestService{
		registry:  reg,
		store:     store,
		tasks:     tasks,
		batchSize: batchSize,
	}
}

// IngestObject handles an object-created event: it loads the object and its
// mapping metadata from storage and dispatches it. The source ref is the
// object's directory prefix, which is what upload resolution queries by.
func (s *IngestService) IngestObject(ctx context.Context, key string) (*model.IngestResponse, error) {
	content, metadata, err := s.store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load object %s: %w", key, err)
	}
	return s.Dispatch(ctx, prefixOf(key), metadata[storage.MetadataMapping], content)
}

// Dispatch runs the full admission path for one object. Submitting identical
// content twice registers exactly one job and dispatches exactly one set of
// batch tasks; the second call reports success with Duplicate set.
func (s *IngestService) Dispatch(ctx context.Context, sourceRef, mappingRaw string, content []byte) (*model.IngestResponse, error) {
	jobID := splitter.HashContent(content)
	log.Printf("Dispatching job %s (source %s)", jobID, sourceRef)

	mapping, err := splitter.ParseMapping(mappingRaw)
	if err != nil {
		s.recordSplitterFailure(jobID, sourceRef, err)
		return nil, err
	}

	batches, err := splitter.Split(content, mapping, s.batchSize)
	if err != nil {
		s.recordSplitterFailure(jobID, sourceRef, err)
		return nil, err
	}

	rec := &model.JobRecord{
		JobID:        jobID,
		Status:       model.JobStatusInProgress,
		TotalBatches: len(batches),
		SourceRef:    sourceRef,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.registry.Register(ctx, rec); err != nil {
		if err == registry.ErrDuplicateJob {
			log.Printf("Job %s is a duplicate, skipping dispatch", jobID)
			return &model.IngestResponse{JobID: jobID, Duplicate: true}, nil
		}
		return nil, err
	}

	cfg := model.EnrichConfig{
		TopicLabels:  mapping.TopicLabels,
		AspectLabels: mapping.AspectLabels,
	}
	for i, batch := range batches {
		payload := &model.BatchPayload{
			JobID:        jobID,
			BatchIndex:   i,
			TotalBatches: len(batches),
			Config:       cfg,
			Reviews:      batch,
		}
		task, err := newBatchTask(payload)
		if err == nil {
			_, err = s.tasks.Enqueue(task,
				asynq.Queue(QueueBatches),
				asynq.MaxRetry(5),
				asynq.Retention(24*time.Hour),
			)
		}
		if err != nil {
			// The record must not dangle in IN_PROGRESS with tasks missing.
			msg := fmt.Sprintf("failed to enqueue batch %d: %v", i, err)
			if markErr := s.registry.MarkFailed(ctx, jobID, msg); markErr != nil {
				log.Printf("Failed to mark job %s failed: %v", jobID, markErr)
			}
			return nil, fmt.Errorf("failed to enqueue batch %d of job %s: %w", i, jobID, err)
		}
	}

	log.Printf("Job %s registered with %d batches", jobID, len(batches))
	return &model.IngestResponse{JobID: jobID, TotalBatches: len(batches)}, nil
}

// recordSplitterFailure keeps a failed admission visible to status queries.
// Best effort: the original validation error wins over any registry error.
func (s *IngestService) recordSplitterFailure(jobID, sourceRef string, cause error) {
	err := s.registry.RecordSplitterFailure(context.Background(), jobID, sourceRef, cause.Error())
	if err != nil {
		log.Printf("Failed to record splitter failure for job %s: %v", jobID, err)
	}
}

func newBatchTask(payload *model.BatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBatch, data), nil
}

func prefixOf(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i+1]
		}
	}
	return key
}
