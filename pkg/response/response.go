package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quindar/refdata-api/internal/types"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeUnknownField       = "UNKNOWN_FIELD"
	ErrCodeUnknownType        = "UNKNOWN_INSTRUMENT_TYPE"
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
)

// Handle maps a service error onto the appropriate response: validation
// problems are the caller's fault, storage failures are retryable, anything
// unrecognized is an internal error.
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	var verr *types.ValidationError
	var uerr *types.UnknownFieldError
	var serr *types.SchemaNotFoundError
	var berr *types.BackendUnavailableError

	switch {
	case errors.Is(err, types.ErrNotFound):
		NotFound(c, "Instrument not found")
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, verr.Error())
	case errors.As(err, &uerr):
		fail(c, http.StatusBadRequest, ErrCodeUnknownField, uerr.Error())
	case errors.As(err, &serr):
		fail(c, http.StatusBadRequest, ErrCodeUnknownType, serr.Error())
	case errors.As(err, &berr):
		fail(c, http.StatusServiceUnavailable, ErrCodeBackendUnavailable, berr.Error())
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	fail(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	fail(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	fail(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// ServiceUnavailable sends a 503 response
func ServiceUnavailable(c *gin.Context, message string) {
	fail(c, http.StatusServiceUnavailable, ErrCodeBackendUnavailable, message)
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
