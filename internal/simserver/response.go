package simserver

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-session/internal/remote"
)

// Response is the standardized API response envelope, matching what the
// engine's client decodes.
type Response struct {
	Data     interface{} `json:"data"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// ErrorBody is a structured error with an optional machine-readable reason
// (session-death classification on 403s).
type ErrorBody struct {
	Code    remote.ErrCode    `json:"code"`
	Message string            `json:"message"`
	Reason  string            `json:"reason,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Metadata includes request tracing and timing.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// Success sends a successful JSON response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Data: data, Metadata: buildMetadata(c)})
}

// Fail sends an error response with a code and no reason.
func Fail(c *gin.Context, statusCode int, code remote.ErrCode) {
	c.JSON(statusCode, Response{
		Error:    &ErrorBody{Code: code, Message: errMessage(code)},
		Metadata: buildMetadata(c),
	})
}

// FailWithReason sends an error response carrying a machine-readable reason.
func FailWithReason(c *gin.Context, statusCode int, code remote.ErrCode, reason string) {
	c.JSON(statusCode, Response{
		Error:    &ErrorBody{Code: code, Message: errMessage(code), Reason: reason},
		Metadata: buildMetadata(c),
	})
}

// FailWithFields sends an error response with field-level validation details.
func FailWithFields(c *gin.Context, statusCode int, code remote.ErrCode, fields map[string]string) {
	c.JSON(statusCode, Response{
		Error:    &ErrorBody{Code: code, Message: errMessage(code), Fields: fields},
		Metadata: buildMetadata(c),
	})
}

func buildMetadata(c *gin.Context) Metadata {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.New().String()
	}
	return Metadata{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// errMessage returns the human-readable message for a code.
func errMessage(code remote.ErrCode) string {
	switch code {
	case remote.ErrTokenRequired:
		return "An authentication token is required."
	case remote.ErrTokenInvalid:
		return "The authentication token is not valid."
	case remote.ErrTokenExpired:
		return "The authentication token has expired."
	case remote.ErrSessionInvalidated:
		return "Your session has ended. Please start again."
	case remote.ErrNotFound:
		return "The requested attempt does not exist."
	case remote.ErrExamNotPublished:
		return "This exam has been withdrawn by its author."
	case remote.ErrValidation:
		return "Validation failed. Please check your input."
	default:
		return "An unexpected error occurred."
	}
}
