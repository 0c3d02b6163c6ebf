package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/service"
	"github.com/narrately/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/jobs
// @Summary      Submit render job
// @Description  Queue a narrated video render for a scene plan
// @Tags         Jobs
// @Accept       json
// @Produce      json
// @Param        request body model.SubmitRequest true "Render plan"
// @Success      202 {object} model.SubmitResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/jobs [post]
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.UserContext(), &req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId
// @Summary      Get job status
// @Description  Get the current state, progress and artifacts of a render job
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.StatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId} [get]
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Get(c.UserContext(), jobID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/jobs/:jobId/cancel
// @Summary      Cancel job
// @Description  Request cancellation; finished jobs are left untouched
// @Tags         Jobs
// @Param        jobId path string true "Job ID"
// @Success      204
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId}/cancel [post]
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	if err := h.service.Cancel(c.UserContext(), jobID); err != nil {
		return response.FromError(c, err)
	}

	return response.NoContent(c)
}

// Activity handles GET /api/jobs/:jobId/activity
// @Summary      Job activity
// @Description  Most recent activity events of a job, oldest first
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Param        limit query int false "Max events (default 100, max 1000)"
// @Success      200 {object} model.ActivityResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId}/activity [get]
func (h *JobHandler) Activity(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return response.ValidationError(c, "limit must not be negative", nil)
	}

	result, err := h.service.Activity(c.UserContext(), jobID, limit)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}
