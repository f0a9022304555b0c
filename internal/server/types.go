// Package server provides the HTTP surface of the audio API.
// It includes handlers, middleware, routes, upload parsing and artifact
// streaming, and the DTOs returned on error.
package server

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// Error codes returned in ErrorResponse.Code.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeInvalidUpload   = "INVALID_MULTIPART"
	CodeUnexpectedField = "UNEXPECTED_FIELD"
	CodeTooManyFiles    = "TOO_MANY_FILES"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeProcessing      = "PROCESSING_FAILED"
	CodeTimeout         = "PROCESSING_TIMEOUT"
	CodeDelivery        = "DELIVERY_FAILED"
	CodeInternal        = "INTERNAL_ERROR"
)

// LivenessMessage is the plain-text body served at the root path.
const LivenessMessage = "Audio Processing API is running!"
