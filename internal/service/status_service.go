package service

import (
	"context"

	"github.com/reviewlens/api/internal/model"
	"github.com/reviewlens/api/internal/registry"
	"github.com/reviewlens/api/internal/storage"
)

// StatusService is the read path: it resolves upload refs to job records and
// reports progress. Status always reflects last-known registry state.
type StatusService struct {
	registry registry.JobRegistry
}

func NewStatusService(reg registry.JobRegistry) *StatusService {
	return &StatusService{registry: reg}
}

// GetStatus looks a job up by id.
func (s *StatusService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	rec, err := s.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return statusResponse(rec), nil
}

// ResolveUpload finds the job registered for an upload ref. registry.ErrNotFound
// before the dispatcher has run is expected; callers poll.
func (s *StatusService) ResolveUpload(ctx context.Context, uploadRef string) (*model.JobStatusResponse, error) {
	rec, err := s.registry.Resolve(ctx, storage.UploadPrefix(uploadRef))
	if err != nil {
		return nil, err
	}
	return statusResponse(rec), nil
}

func statusResponse(rec *model.JobRecord) *model.JobStatusResponse {
	return &model.JobStatusResponse{
		JobID:            rec.JobID,
		Status:           rec.Status,
		TotalBatches:     rec.TotalBatches,
		ProcessedBatches: rec.ProcessedBatches,
		Progress:         rec.Progress(),
		ReadyToFinalize:  rec.ReadyToFinalize(),
		ErrorMessage:     rec.ErrorMessage,
		CreatedAt:        rec.CreatedAt,
	}
}
