package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/sistem64-software/SAKA-QMS/internal/errors"
)

type keyRequest struct {
	LicenseKey string `json:"license_key" validate:"max=16"`
	Note       string `json:"note" validate:"required"`
}

func newTestValidation() *ValidationMiddleware {
	return NewValidationMiddleware(quietLogger(), apierrors.NewErrorHandler(quietLogger(), false))
}

func TestValidateStruct(t *testing.T) {
	v := newTestValidation()

	assert.NoError(t, v.ValidateStruct(&keyRequest{LicenseKey: "abc", Note: "x"}))

	err := v.ValidateStruct(&keyRequest{LicenseKey: strings.Repeat("a", 17)})
	require.Error(t, err)

	var apiErr *apierrors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, apierrors.CodeValidationFailed, apiErr.ErrorCode)

	details, ok := apiErr.Details.(apierrors.ValidationErrors)
	require.True(t, ok)
	require.Len(t, details.Errors, 2)
	assert.Equal(t, "license_key", details.Errors[0].Field)
	assert.Equal(t, "license_key must be at most 16 characters", details.Errors[0].Message)
	assert.Equal(t, "note is required", details.Errors[1].Message)
}

func TestValidateRequest(t *testing.T) {
	v := newTestValidation()
	var body string
	handler := v.ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		want        int
	}{
		{"get passes", http.MethodGet, "", "", http.StatusOK},
		{"json post", http.MethodPost, "application/json; charset=utf-8", `{"license_key":"abc"}`, http.StatusOK},
		{"no content type", http.MethodPost, "", `{"license_key":"abc"}`, http.StatusOK},
		{"form post", http.MethodPost, "application/x-www-form-urlencoded", "license_key=abc", http.StatusUnsupportedMediaType},
		{"too large", http.MethodPost, "application/json", strings.Repeat("a", DefaultMaxBodySize+1), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/license/activate", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK && tt.method == http.MethodPost {
				assert.Equal(t, tt.body, body)
			}
		})
	}
}
