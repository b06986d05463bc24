package model

// Canonical field names the splitter maps user columns onto. Only the review
// text is mandatory; title is folded into the text, rating is carried along.
const (
	FieldReviewText = "full_review_text"
	FieldTitle      = "title"
	FieldRating     = "rating"
)

// Default label sets used when the upload's mapping descriptor provides none.
var (
	DefaultTopicLabels = []string{
		"price", "quality", "shipping", "customer service", "fit", "fabric",
	}
	DefaultAspectLabels = []string{
		"slow delivery", "fast delivery", "damaged box", "good quality",
		"poor quality", "good fit", "tight fit", "good price", "expensive",
	}
)

// Review is a single input row plus the enrichment fields accumulated as the
// batch moves through the pipeline stages.
type Review struct {
	Text      string   `json:"text"`
	Rating    *float64 `json:"rating,omitempty"`
	Sentiment string   `json:"sentiment,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	Aspects   string   `json:"aspects,omitempty"`
	ThemeID   *int     `json:"themeId,omitempty"`
}

// EnrichConfig carries the per-job label configuration into every stage call.
type EnrichConfig struct {
	TopicLabels     []string `json:"topicLabels"`
	AspectLabels    []string `json:"aspectLabels"`
	AspectThreshold float64  `json:"aspectThreshold"`
}

// BatchPayload is the unit of work for one pipeline execution. The same
// payload threads through every stage, each stage attaching its fields to the
// rows, so later stages never re-read earlier outputs from storage.
type BatchPayload struct {
	JobID        string       `json:"jobId"`
	BatchIndex   int          `json:"batchIndex"`
	TotalBatches int          `json:"totalBatches"`
	Config       EnrichConfig `json:"config"`
	Reviews      []Review     `json:"reviews"`
}

// Theme is one discovered corpus-level theme from the finalize analysis step.
type Theme struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// FinalArtifact is the consolidated output written once all batches are merged
// and theme labeling has run over the whole dataset.
type FinalArtifact struct {
	JobID    string   `json:"jobId"`
	Rows     []Review `json:"rows"`
	Themes   []Theme  `json:"themes"`
	RowCount int      `json:"rowCount"`
}
