package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage is the base message envelope
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage is sent whenever another batch of a job is counted.
type WSProgressMessage struct {
	Type             string    `json:"type"`
	JobID            string    `json:"jobId"`
	Status           JobStatus `json:"status"`
	ProcessedBatches int       `json:"processedBatches"`
	TotalBatches     int       `json:"totalBatches"`
}

// WSCompleteMessage is sent once when the last batch of a job is counted.
// It signals that the job is ready for an explicit finalize call.
type WSCompleteMessage struct {
	Type         string `json:"type"`
	JobID        string `json:"jobId"`
	TotalBatches int    `json:"totalBatches"`
}

// WSErrorMessage is sent when a batch terminally fails.
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
