package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/reviewlens/api/internal/registry"
	"github.com/reviewlens/api/internal/service"
	"github.com/reviewlens/api/pkg/response"
)

type StatusHandler struct {
	service *service.StatusService
}

func NewStatusHandler(svc *service.StatusService) *StatusHandler {
	return &StatusHandler{service: svc}
}

// Job handles GET /api/jobs/:jobId
func (h *StatusHandler) Job(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	status, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, status)
}

// ResolveUpload handles GET /api/uploads/:uploadRef/job. A 404 right after
// upload just means the dispatcher has not run yet; clients poll.
func (h *StatusHandler) ResolveUpload(c *fiber.Ctx) error {
	uploadRef := c.Params("uploadRef")
	if uploadRef == "" {
		return response.ValidationError(c, "Upload ref is required", nil)
	}

	status, err := h.service.ResolveUpload(c.Context(), uploadRef)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return response.NotFound(c, "Job not yet registered")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, status)
}
