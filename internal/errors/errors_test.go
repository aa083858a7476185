package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Error(t *testing.T) {
	err := New(http.StatusBadRequest, CodeInvalidRequest, "Invalid request format")
	assert.Equal(t, "Invalid request format", err.Error())

	var target *APIError
	wrapped := fmt.Errorf("decode: %w", err)
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, CodeInvalidRequest, target.ErrorCode)
}

func TestAPIError_Render(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	require.NoError(t, render.Render(w, r, ErrRateLimitExceeded))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodeRateLimitExceeded, body["error_code"])
}

func TestLicenseConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *APIError
		wantStatus int
		wantCode   string
	}{
		{"invalid key", InvalidLicenseKeyError("malformed key"), http.StatusBadRequest, CodeInvalidLicenseKey},
		{"storage", LicenseStorageError(fmt.Errorf("disk full")), http.StatusInternalServerError, CodeLicenseStorage},
		{"hardware", InsufficientHardwareError(fmt.Errorf("no probes")), http.StatusInternalServerError, CodeInsufficientHardware},
		{"bad json", InvalidRequestWithError(fmt.Errorf("EOF")), http.StatusBadRequest, CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, tt.err.StatusCode)
			assert.Equal(t, tt.wantCode, tt.err.ErrorCode)
			assert.NotEmpty(t, tt.err.Message)
			assert.NotNil(t, tt.err.Details)
		})
	}
}

func TestNewValidationErrors(t *testing.T) {
	err := NewValidationErrors([]ValidationError{{Field: "license_key", Message: "required"}})

	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	details, ok := err.Details.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, details.Errors, 1)
	assert.Equal(t, "license_key", details.Errors[0].Field)
}

func TestProblemDetails_MarshalJSON(t *testing.T) {
	pd := NewProblemDetails(http.StatusForbidden, TypeLicenseRequired, "License Required", "detail", "/api/files").
		WithExtension("hwid", "CPU|MB|DISK|MAC|HOST").
		WithExtension("status", 999) // standard members win

	data, err := json.Marshal(pd)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, TypeLicenseRequired, body["type"])
	assert.Equal(t, float64(http.StatusForbidden), body["status"])
	assert.Equal(t, "detail", body["detail"])
	assert.Equal(t, "/api/files", body["instance"])
	assert.Equal(t, "CPU|MB|DISK|MAC|HOST", body["hwid"])
}

func TestProblemDetails_OmitsEmptyMembers(t *testing.T) {
	data, err := json.Marshal(NewProblemDetails(http.StatusNotFound, TypeNotFound, "Not Found", "", ""))
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.NotContains(t, body, "detail")
	assert.NotContains(t, body, "instance")
}

func TestWithExtensionOnZeroValue(t *testing.T) {
	pd := &ProblemDetails{Status: http.StatusTeapot}
	assert.NotPanics(t, func() { pd.WithExtension("k", "v") })
	assert.Equal(t, "v", pd.Extensions["k"])
}

func TestWriteProblem(t *testing.T) {
	w := httptest.NewRecorder()
	WriteProblem(w, NewLicenseRequiredProblem("/api/upload", "CPU123|MB456|DISK789|aa:bb:cc:dd:ee:ff|host1", "req-1"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, ContentTypeProblem, w.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodeLicenseRequired, body["error_code"])
	assert.Equal(t, "License Required", body["error"])
	assert.Equal(t, "CPU123|MB456|DISK789|aa:bb:cc:dd:ee:ff|host1", body["hwid"])
	assert.Equal(t, "req-1", body["trace_id"])
	assert.NotEmpty(t, body["message"])
}

func TestNewLicenseCheckFailedProblem(t *testing.T) {
	pd := NewLicenseCheckFailedProblem("/api/files", "", "req-2")

	assert.Equal(t, http.StatusForbidden, pd.Status)
	assert.Equal(t, CodeLicenseCheckFailed, pd.Extensions["error_code"])
	assert.Equal(t, "", pd.Extensions["hwid"])
}
