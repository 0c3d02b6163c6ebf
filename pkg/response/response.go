package response

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/narrately/api/internal/apperr"
)

// Error codes
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeServiceError        = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

// QuotaExceeded answers 429 with a Retry-After header in whole seconds
func QuotaExceeded(c *fiber.Ctx, retryAfter time.Duration) error {
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
	return Error(c, fiber.StatusTooManyRequests, CodeQuotaExceeded, "Rate limit exceeded", fiber.Map{"retry_after_sec": secs})
}

func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, CodeConflict, message, nil)
}

// FromError maps a domain error onto the envelope using its apperr code
func FromError(c *fiber.Ctx, err error) error {
	code := apperr.GetCode(err)
	status := apperr.GetHTTPStatus(err)
	message := err.Error()
	var e *apperr.Error
	if apperr.As(err, &e) && e.Message != "" {
		message = e.Message
	}
	if code == apperr.CodeInternal {
		return ServiceError(c, message)
	}
	return Error(c, status, string(code), message, nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
