package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/reviewlens/api/internal/model"
	"github.com/reviewlens/api/internal/pipeline"
	"github.com/reviewlens/api/internal/registry"
	"github.com/reviewlens/api/internal/storage"
)

// IncompleteJobError means finalize was called before every batch artifact
// existed. Recoverable: the caller retries once the remaining batches land.
type IncompleteJobError struct {
	JobID string
	Have  int
	Want  int
}

func (e *IncompleteJobError) Error() string {
	return fmt.Sprintf("job %s incomplete: %d of %d batch artifacts present", e.JobID, e.Have, e.Want)
}

// FinalizeService merges every batch artifact of a job into one consolidated
// dataset, runs the corpus-level theme analysis, writes the final artifact,
// and transitions the job to COMPLETED. It is only ever triggered by an
// explicit external call; nothing fires it automatically when the last batch
// lands.
type FinalizeService struct {
	registry registry.JobRegistry
	store    storage.ObjectStore
	enricher pipeline.Enricher

	// The merge holds the whole dataset in memory, which is the one
	// scalability ceiling of this design; the budget bounds it.
	budget time.Duration
}

func NewFinalizeService(reg registry.JobRegistry, store storage.ObjectStore, enricher pipeline.Enricher, budget time.Duration) *FinalizeService {
	return &FinalizeService{
		registry: reg,
		store:    store,
		enricher: enricher,
		budget:   budget,
	}
}

// Finalize runs the merge for one job. If any step fails the job keeps its
// prior state and the error propagates for an external retry. Finalizing an
// already completed job returns the existing artifact.
func (s *FinalizeService) Finalize(ctx context.Context, jobID string) (*model.FinalizeResponse, error) {
	rec, err := s.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if rec.Status == model.JobStatusCompleted {
		// Intermediates are gone after a successful finalize; a literal
		// re-run would misreport the retry of a finished job.
		return &model.FinalizeResponse{
			JobID:     jobID,
			Status:    rec.Status,
			ResultKey: storage.ResultKey(jobID),
			ThemesKey: storage.ThemesKey(jobID),
		}, nil
	}

	if rec.Status != model.JobStatusInProgress {
		return nil, fmt.Errorf("job %s cannot be finalized in status %s", jobID, rec.Status)
	}

	if s.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}

	keys, err := s.store.List(ctx, storage.BatchPrefix(jobID))
	if err != nil {
		return nil, err
	}
	if len(keys) < rec.TotalBatches {
		return nil, &IncompleteJobError{JobID: jobID, Have: len(keys), Want: rec.TotalBatches}
	}

	// Merge. Row identity is preserved; batch order is not significant.
	var rows []model.Review
	for _, key := range keys {
		data, _, err := s.store.Download(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load batch artifact %s: %w", key, err)
		}
		var batch model.BatchPayload
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("corrupt batch artifact %s: %w", key, err)
		}
		rows = append(rows, batch.Reviews...)
	}

	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row.Text
	}
	themeIDs, themes, err := s.enricher.Themes(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("theme analysis failed: %w", err)
	}
	if len(themeIDs) != len(rows) {
		return nil, fmt.Errorf("theme analysis returned %d ids for %d rows", len(themeIDs), len(rows))
	}
	for i := range rows {
		id := themeIDs[i]
		rows[i].ThemeID = &id
	}

	artifact := &model.FinalArtifact{
		JobID:    jobID,
		Rows:     rows,
		Themes:   themes,
		RowCount: len(rows),
	}
	if err := s.uploadJSON(ctx, storage.ResultKey(jobID), artifact); err != nil {
		return nil, err
	}
	if err := s.uploadJSON(ctx, storage.ThemesKey(jobID), themes); err != nil {
		return nil, err
	}

	if err := s.store.DeletePrefix(ctx, storage.BatchPrefix(jobID)); err != nil {
		return nil, fmt.Errorf("failed to clean up batch artifacts: %w", err)
	}

	if err := s.registry.MarkCompleted(ctx, jobID); err != nil {
		return nil, err
	}
	log.Printf("Job %s finalized: %d rows, %d themes", jobID, len(rows), len(themes))

	return &model.FinalizeResponse{
		JobID:      jobID,
		Status:     model.JobStatusCompleted,
		ResultKey:  storage.ResultKey(jobID),
		ThemesKey:  storage.ThemesKey(jobID),
		RowCount:   len(rows),
		ThemeCount: len(themes),
	}, nil
}

func (s *FinalizeService) uploadJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.store.Upload(ctx, key, bytes.NewReader(data), "application/json", nil); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
