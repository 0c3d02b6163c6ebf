package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/service"
	"github.com/narrately/api/pkg/response"
)

type PreviewHandler struct {
	service   *service.PreviewService
	validator *validator.Validate
}

func NewPreviewHandler(svc *service.PreviewService, v *validator.Validate) *PreviewHandler {
	return &PreviewHandler{
		service:   svc,
		validator: v,
	}
}

// Preview handles POST /api/tts/preview
// @Summary      Preview narration
// @Description  Synthesize a short narration sample with the job voice stack
// @Tags         TTS
// @Accept       json
// @Produce      json
// @Param        request body model.PreviewRequest true "Preview request"
// @Success      200 {object} model.PreviewResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /api/tts/preview [post]
func (h *PreviewHandler) Preview(c *fiber.Ctx) error {
	var req model.PreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Preview(c.UserContext(), &req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}
