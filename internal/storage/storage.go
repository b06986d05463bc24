// Package storage abstracts the object store holding source uploads,
// intermediate batch artifacts, and final results.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrObjectNotFound is returned by Download for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// MetadataMapping is the object metadata key carrying the JSON mapping
// descriptor attached by the uploader.
const MetadataMapping = "mapping"

// ObjectStore is the interface over the backing object store. Upload is a
// create-or-overwrite, which is what makes batch artifact writes safe to
// redeliver.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) error
	Download(ctx context.Context, key string) ([]byte, map[string]string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Key layout. One intermediate artifact per (job, batch index), one final
// artifact per completed job.

func UploadKey(uploadRef, filename string) string {
	return fmt.Sprintf("uploads/%s/%s", uploadRef, filename)
}

func UploadPrefix(uploadRef string) string {
	return fmt.Sprintf("uploads/%s/", uploadRef)
}

func BatchKey(jobID string, batchIndex int) string {
	return fmt.Sprintf("batches/%s/%05d.json", jobID, batchIndex)
}

func BatchPrefix(jobID string) string {
	return fmt.Sprintf("batches/%s/", jobID)
}

func ResultKey(jobID string) string {
	return fmt.Sprintf("results/%s.json", jobID)
}

func ThemesKey(jobID string) string {
	return fmt.Sprintf("results/%s_themes.json", jobID)
}
