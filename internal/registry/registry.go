// Package registry is the durable store of job records and their progress
// counters. Isolation between parallel batch workers relies entirely on the
// backing store's atomic counter and conditional-create primitives; there are
// no locks above this interface.
package registry

import (
	"context"
	"errors"

	"github.com/reviewlens/api/internal/model"
)

var (
	// ErrDuplicateJob is returned by Register when the job id already
	// exists. Callers treat it as a successful no-op.
	ErrDuplicateJob = errors.New("job already registered")

	// ErrNotFound is returned by Get and Resolve for unknown jobs. For
	// Resolve this is the expected transient state right after an upload,
	// before the dispatcher has run; callers poll.
	ErrNotFound = errors.New("job not found")
)

// BatchCompletion is the outcome of counting one finished batch.
type BatchCompletion struct {
	// Counted is false when this batch index was already counted (a
	// redelivered task); the counter was not touched.
	Counted bool

	Processed int
	Total     int

	// Done reports that every batch has now been counted. It fires at most
	// once per job, on the call that performs the final increment.
	Done bool
}

// JobRegistry is the store of job records. Implementations must make
// Register a conditional create and CompleteBatch safe under any number of
// concurrent callers (no lost or double counts).
type JobRegistry interface {
	// Register conditionally creates the record. ErrDuplicateJob if the id
	// exists; TotalBatches is immutable afterwards.
	Register(ctx context.Context, rec *model.JobRecord) error

	// Get looks a record up by primary key.
	Get(ctx context.Context, jobID string) (*model.JobRecord, error)

	// Resolve looks a record up through the source-ref secondary index.
	Resolve(ctx context.Context, sourceRef string) (*model.JobRecord, error)

	// CompleteBatch atomically increments processed_batches for the given
	// batch index, at most once per index regardless of redelivery.
	CompleteBatch(ctx context.Context, jobID string, batchIndex int) (*BatchCompletion, error)

	// MarkCompleted transitions the job to COMPLETED. The precondition
	// (all batches processed) is enforced by the finalizer, not here.
	MarkCompleted(ctx context.Context, jobID string) error

	// MarkFailed transitions the job to FAILED with an error message.
	MarkFailed(ctx context.Context, jobID, message string) error

	// RecordSplitterFailure writes (or overwrites) a SPLITTER_FAILED record
	// so a failed admission stays visible to status queries.
	RecordSplitterFailure(ctx context.Context, jobID, sourceRef, message string) error
}
