package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse provides a consistent error structure for API responses.
// @Description Standard error response returned when a request aborts
type ErrorResponse struct {
	// HTTP status code
	Code string `json:"code"                  example:"500"`
	// Error type identifier
	Title string `json:"title"                 example:"contract_violation"`
	// Human-readable error message
	Message string `json:"message"               example:"non-nil invariant violated"`
	// Violation ID correlating the response with logs, metrics, and span
	// events. Empty for errors that are not contract violations.
	ViolationID string `json:"violationId,omitempty" example:"7a1f3c5e-9d2b-4c8a-b6f0-1e2d3c4b5a69"`
}

// Error allows ErrorResponse to satisfy the error interface.
func (e ErrorResponse) Error() string {
	return e.Message
}

// WriteError writes a structured error response using the ErrorResponse schema.
// This is the canonical way to write error responses and ensures consistency
// across all handlers.
func WriteError(c *fiber.Ctx, status int, title, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Code:    strconv.Itoa(status),
		Title:   title,
		Message: message,
	})
}

// InternalServerError writes a 500 Internal Server Error response.
// It always returns a generic message to avoid leaking internal details.
func InternalServerError(c *fiber.Ctx) error {
	return WriteError(c, fiber.StatusInternalServerError, "internal_error", "internal server error")
}
