// Package splitter turns a raw uploaded object into the ordered batches that
// feed the enrichment pipeline: it derives the content-hash job id, validates
// the column mapping descriptor, normalizes the rows down to the review text
// (plus optional rating), and chunks them into fixed-size batches.
package splitter

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/reviewlens/api/internal/model"
)

// ValidationError covers every way an upload can be malformed: absent or
// unparsable mapping descriptor, missing mandatory field, mapped columns not
// present in the data, or data that is not tabular.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Reason
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Mapping is the parsed descriptor attached to an upload: canonical field
// names mapped to source column names, plus optional label configuration for
// the enrichment stages.
type Mapping struct {
	Columns      map[string]string
	TopicLabels  []string
	AspectLabels []string
}

// ParseMapping parses and validates the JSON mapping descriptor. The review
// text field is mandatory; unknown canonical names are ignored.
func ParseMapping(raw string) (*Mapping, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, validationErrorf("mapping descriptor is missing")
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, validationErrorf("mapping descriptor is not a JSON object: %v", err)
	}

	m := &Mapping{Columns: make(map[string]string)}
	for _, canonical := range []string{model.FieldReviewText, model.FieldTitle, model.FieldRating} {
		if col, ok := fields[canonical]; ok && col != "" {
			m.Columns[canonical] = col
		}
	}
	if _, ok := m.Columns[model.FieldReviewText]; !ok {
		return nil, validationErrorf("mapping for %q is missing", model.FieldReviewText)
	}

	m.TopicLabels = splitLabels(fields["topic_labels"], model.DefaultTopicLabels)
	m.AspectLabels = splitLabels(fields["aspect_labels"], model.DefaultAspectLabels)
	return m, nil
}

func splitLabels(raw string, defaults []string) []string {
	if strings.TrimSpace(raw) == "" {
		return defaults
	}
	var labels []string
	for _, label := range strings.Split(raw, ",") {
		if label = strings.TrimSpace(label); label != "" {
			labels = append(labels, label)
		}
	}
	if len(labels) == 0 {
		return defaults
	}
	return labels
}

// HashContent derives the deterministic job id from the object content.
// Identical bytes always produce the identical id; this is the sole
// idempotency mechanism for job admission.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Control characters that are known to break downstream tokenizers.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)

func sanitizeText(text string) string {
	text = strings.ReplaceAll(text, "&", "and")
	return controlChars.ReplaceAllString(text, "")
}

// Split parses the CSV content, applies the mapping, and returns the
// normalized rows in ordered fixed-size batches. The final batch may be
// shorter. An upload with no data rows is rejected.
func Split(data []byte, mapping *Mapping, batchSize int) ([][]model.Review, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, validationErrorf("cannot parse CSV header: %v", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[strings.TrimSpace(name)] = i
	}

	// Every mapped source column must exist in the data.
	fieldCol := make(map[string]int)
	for canonical, source := range mapping.Columns {
		idx, ok := colIndex[source]
		if !ok {
			return nil, validationErrorf("mapped column %q not found in CSV", source)
		}
		fieldCol[canonical] = idx
	}

	textIdx := fieldCol[model.FieldReviewText]
	titleIdx, hasTitle := fieldCol[model.FieldTitle]
	ratingIdx, hasRating := fieldCol[model.FieldRating]

	var rows []model.Review
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, validationErrorf("cannot parse CSV row: %v", err)
		}

		text := cell(record, textIdx)
		if hasTitle {
			// Missing titles join as the empty string, matching the
			// space-joined title+text contract.
			text = cell(record, titleIdx) + " " + text
		}

		row := model.Review{Text: sanitizeText(text)}
		if hasRating {
			if v, err := strconv.ParseFloat(strings.TrimSpace(cell(record, ratingIdx)), 64); err == nil {
				row.Rating = &v
			}
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, validationErrorf("no data rows found")
	}

	return chunk(rows, batchSize), nil
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

func chunk(rows []model.Review, size int) [][]model.Review {
	var batches [][]model.Review
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
	}
	return batches
}
