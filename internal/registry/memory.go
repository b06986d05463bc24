package registry

import (
	"context"
	"sync"

	"github.com/reviewlens/api/internal/model"
)

// MemoryRegistry is an in-process JobRegistry used when Redis is not
// configured and by the tests. A single mutex stands in for the store's
// atomic primitives.
type MemoryRegistry struct {
	mu        sync.Mutex
	jobs      map[string]*model.JobRecord
	bySource  map[string]string
	completed map[string]map[int]bool
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		jobs:      make(map[string]*model.JobRecord),
		bySource:  make(map[string]string),
		completed: make(map[string]map[int]bool),
	}
}

func (m *MemoryRegistry) Register(_ context.Context, rec *model.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[rec.JobID]; ok {
		return ErrDuplicateJob
	}
	cp := *rec
	cp.ProcessedBatches = 0
	m.jobs[rec.JobID] = &cp
	if rec.SourceRef != "" {
		m.bySource[rec.SourceRef] = rec.JobID
	}
	m.completed[rec.JobID] = make(map[int]bool)
	return nil
}

func (m *MemoryRegistry) Get(_ context.Context, jobID string) (*model.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRegistry) Resolve(_ context.Context, sourceRef string) (*model.JobRecord, error) {
	m.mu.Lock()
	jobID, ok := m.bySource[sourceRef]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Get(context.Background(), jobID)
}

func (m *MemoryRegistry) CompleteBatch(_ context.Context, jobID string, batchIndex int) (*BatchCompletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}

	done := m.completed[jobID]
	if done == nil {
		done = make(map[int]bool)
		m.completed[jobID] = done
	}
	if done[batchIndex] {
		return &BatchCompletion{Counted: false, Processed: rec.ProcessedBatches, Total: rec.TotalBatches}, nil
	}
	done[batchIndex] = true
	rec.ProcessedBatches++

	return &BatchCompletion{
		Counted:   true,
		Processed: rec.ProcessedBatches,
		Total:     rec.TotalBatches,
		Done:      rec.ProcessedBatches == rec.TotalBatches,
	}, nil
}

func (m *MemoryRegistry) MarkCompleted(_ context.Context, jobID string) error {
	return m.setStatus(jobID, model.JobStatusCompleted, "")
}

func (m *MemoryRegistry) MarkFailed(_ context.Context, jobID, message string) error {
	return m.setStatus(jobID, model.JobStatusFailed, message)
}

func (m *MemoryRegistry) RecordSplitterFailure(_ context.Context, jobID, sourceRef, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[jobID] = &model.JobRecord{
		JobID:        jobID,
		Status:       model.JobStatusSplitterFailed,
		SourceRef:    sourceRef,
		ErrorMessage: message,
	}
	if sourceRef != "" {
		m.bySource[sourceRef] = jobID
	}
	return nil
}

func (m *MemoryRegistry) setStatus(jobID string, status model.JobStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	if message != "" {
		rec.ErrorMessage = message
	}
	return nil
}
