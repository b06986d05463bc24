package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/reviewlens/api/internal/registry"
	"github.com/reviewlens/api/internal/service"
	"github.com/reviewlens/api/pkg/response"
)

type FinalizeHandler struct {
	service *service.FinalizeService
}

func NewFinalizeHandler(svc *service.FinalizeService) *FinalizeHandler {
	return &FinalizeHandler{service: svc}
}

// Finalize handles POST /api/jobs/:jobId/finalize. 200 on success, 409 when
// batch artifacts are still missing, 500 on internal failure (the job keeps
// its prior state and the call can be retried).
func (h *FinalizeHandler) Finalize(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Finalize(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		var incomplete *service.IncompleteJobError
		if errors.As(err, &incomplete) {
			return response.Conflict(c, "Job is not ready to finalize", map[string]interface{}{
				"artifactsPresent":  incomplete.Have,
				"artifactsExpected": incomplete.Want,
			})
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}
