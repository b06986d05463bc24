package model

import "time"

// ObjectCreatedEvent mirrors the object-store notification that triggers
// ingestion. The object's metadata must carry the mapping descriptor.
type ObjectCreatedEvent struct {
	Bucket string `json:"bucket" validate:"required"`
	Key    string `json:"key" validate:"required"`
	ETag   string `json:"etag,omitempty"`
}

// IngestResponse is returned by both ingestion entry points. A duplicate
// submission is indistinguishable from a successful one apart from the flag.
type IngestResponse struct {
	UploadRef    string `json:"uploadRef,omitempty"`
	JobID        string `json:"jobId"`
	TotalBatches int    `json:"totalBatches,omitempty"`
	Duplicate    bool   `json:"duplicate"`
}

// JobStatusResponse is the read-side view of a job record.
type JobStatusResponse struct {
	JobID            string    `json:"jobId"`
	Status           JobStatus `json:"status"`
	TotalBatches     int       `json:"totalBatches"`
	ProcessedBatches int       `json:"processedBatches"`
	Progress         float64   `json:"progressPercentage"`
	ReadyToFinalize  bool      `json:"readyToFinalize"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// FinalizeResponse reports where the consolidated artifact landed.
type FinalizeResponse struct {
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	ResultKey  string    `json:"resultKey"`
	ThemesKey  string    `json:"themesKey,omitempty"`
	RowCount   int       `json:"rowCount"`
	ThemeCount int       `json:"themeCount"`
}
