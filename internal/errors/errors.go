package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`

	// HWID is the machine fingerprint, attached to license failures that
	// leave the customer needing it for re-activation.
	HWID string `json:"hwid,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// ValidationError represents a single field validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Error codes shared by the API and the license gate.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeNotFound             = "NOT_FOUND"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeInternal             = "INTERNAL_SERVER_ERROR"
	CodeLicenseRequired      = "LICENSE_REQUIRED"
	CodeInvalidLicenseKey    = "INVALID_LICENSE_KEY"
	CodeLicenseStorage       = "LICENSE_STORAGE_ERROR"
	CodeLicenseCheckFailed   = "LICENSE_CHECK_FAILED"
	CodeInsufficientHardware = "INSUFFICIENT_HARDWARE_INFO"
)

// Predefined error types for common scenarios
var (
	ErrInvalidRequest    = New(http.StatusBadRequest, CodeInvalidRequest, "Invalid request format")
	ErrValidationFailed  = New(http.StatusBadRequest, CodeValidationFailed, "Request validation failed")
	ErrNotFound          = New(http.StatusNotFound, CodeNotFound, "Resource not found")
	ErrRateLimitExceeded = New(http.StatusTooManyRequests, CodeRateLimitExceeded, "Rate limit exceeded")
	ErrInternalServer    = New(http.StatusInternalServerError, CodeInternal, "Internal server error")
)

// InvalidRequestWithError creates an invalid request error with details
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeInvalidRequest, "Invalid request format", err.Error())
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// NewValidationErrors creates validation errors from multiple fields
func NewValidationErrors(errors []ValidationError) *APIError {
	return NewWithDetails(
		http.StatusBadRequest,
		CodeValidationFailed,
		"Request validation failed",
		ValidationErrors{Errors: errors},
	)
}

// LicenseStorageError reports a failure to read or write the license record.
func LicenseStorageError(err error) *APIError {
	return NewWithDetails(http.StatusInternalServerError, CodeLicenseStorage, "License storage failure", err.Error())
}

// WithHWID attaches the machine fingerprint to the error.
func (e *APIError) WithHWID(hwid string) *APIError {
	e.HWID = hwid
	return e
}

// InsufficientHardwareError reports that no machine fingerprint could be built.
func InsufficientHardwareError(err error) *APIError {
	return NewWithDetails(http.StatusInternalServerError, CodeInsufficientHardware,
		"Unable to collect enough hardware information to identify this machine", err.Error())
}

// InvalidLicenseKeyError reports a license key rejected by the verifier.
func InvalidLicenseKeyError(reason string) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeInvalidLicenseKey, fmt.Sprintf("Invalid license key: %s", reason), reason)
}
