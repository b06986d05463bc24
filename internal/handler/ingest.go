package handler

import (
	"bytes"
	"errors"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/reviewlens/api/internal/model"
	"github.com/reviewlens/api/internal/service"
	"github.com/reviewlens/api/internal/splitter"
	"github.com/reviewlens/api/internal/storage"
	"github.com/reviewlens/api/pkg/response"
)

const maxUploadSize = 50 * 1024 * 1024 // 50MB

type IngestHandler struct {
	service   *service.IngestService
	store     storage.ObjectStore
	validator *validator.Validate
}

func NewIngestHandler(svc *service.IngestService, store storage.ObjectStore, v *validator.Validate) *IngestHandler {
	return &IngestHandler{
		service:   svc,
		store:     store,
		validator: v,
	}
}

// Upload handles POST /api/uploads: a multipart CSV plus its mapping
// descriptor. The object is stored, then dispatched synchronously; batch
// processing itself happens in the background workers.
func (h *IngestHandler) Upload(c *fiber.Ctx) error {
	mapping := c.FormValue("mapping")
	if mapping == "" {
		return response.ValidationError(c, "mapping is required", nil)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}
	if file.Size > maxUploadSize {
		return response.ValidationError(c, "File size exceeds 50MB limit", map[string]interface{}{
			"maxSize":  maxUploadSize,
			"fileSize": file.Size,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return response.ServiceError(c, "Failed to read file")
	}

	uploadRef := uuid.New().String()
	key := storage.UploadKey(uploadRef, file.Filename)
	metadata := map[string]string{storage.MetadataMapping: mapping}
	if err := h.store.Upload(c.Context(), key, bytes.NewReader(content), "text/csv", metadata); err != nil {
		return response.ServiceError(c, "Failed to store upload")
	}

	result, err := h.service.Dispatch(c.Context(), storage.UploadPrefix(uploadRef), mapping, content)
	if err != nil {
		return ingestError(c, err)
	}

	result.UploadRef = uploadRef
	return response.Accepted(c, result)
}

// ObjectCreated handles POST /api/events/object-created, the object-store
// notification path. The mapping descriptor must already be attached as
// object metadata.
func (h *IngestHandler) ObjectCreated(c *fiber.Ctx) error {
	var event model.ObjectCreatedEvent
	if err := c.BodyParser(&event); err != nil {
		return response.ValidationError(c, "Invalid event payload", nil)
	}
	if err := h.validator.Struct(&event); err != nil {
		return response.ValidationError(c, "Invalid event payload", err.Error())
	}

	result, err := h.service.IngestObject(c.Context(), event.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return response.NotFound(c, "Object not found")
		}
		return ingestError(c, err)
	}

	return response.Accepted(c, result)
}

func ingestError(c *fiber.Ctx, err error) error {
	var invalid *splitter.ValidationError
	if errors.As(err, &invalid) {
		return response.ValidationError(c, invalid.Reason, nil)
	}
	return response.ServiceError(c, err.Error())
}
