package model

import "time"

// JobStatus is the lifecycle state of a job record.
type JobStatus string

const (
	JobStatusInProgress     JobStatus = "IN_PROGRESS"
	JobStatusSplitterFailed JobStatus = "SPLITTER_FAILED"
	JobStatusFailed         JobStatus = "FAILED"
	JobStatusCompleted      JobStatus = "COMPLETED"
)

// JobRecord is one end-to-end processing of a submitted object. The ID is a
// hash of the object content, so re-submitting identical bytes maps to the
// same record. TotalBatches is set once at registration; ProcessedBatches is
// only ever moved by atomic increments from completing batch workers.
type JobRecord struct {
	JobID            string    `json:"jobId"`
	Status           JobStatus `json:"status"`
	TotalBatches     int       `json:"totalBatches"`
	ProcessedBatches int       `json:"processedBatches"`
	SourceRef        string    `json:"sourceRef"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Progress returns the processed fraction as a percentage, rounded down.
func (r *JobRecord) Progress() float64 {
	if r.TotalBatches == 0 {
		return 0
	}
	return float64(r.ProcessedBatches) / float64(r.TotalBatches) * 100
}

// ReadyToFinalize reports whether every batch has been counted but the job has
// not yet been through a successful finalize call.
func (r *JobRecord) ReadyToFinalize() bool {
	return r.Status == JobStatusInProgress &&
		r.TotalBatches > 0 &&
		r.ProcessedBatches >= r.TotalBatches
}
