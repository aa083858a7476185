package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"
)

// ContentTypeProblem is the RFC 7807 media type.
const ContentTypeProblem = "application/problem+json"

// Problem types
const (
	TypeValidation      = "/errors/validation"
	TypeNotFound        = "/errors/not-found"
	TypeRateLimit       = "/errors/rate-limit"
	TypeInternal        = "/errors/internal"
	TypeTimeout         = "/errors/timeout"
	TypeLicenseRequired = "/errors/license/required"
	TypeLicenseInvalid  = "/errors/license/invalid-key"
	TypeLicenseStorage  = "/errors/license/storage"
	TypeHardwareInfo    = "/errors/license/insufficient-hardware-info"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions next to the standard members.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))
	for k, v := range pd.Extensions {
		data[k] = v
	}

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}

// WriteProblem writes pd with the problem+json media type. render.Render
// would label the body application/json.
func WriteProblem(w http.ResponseWriter, pd *ProblemDetails) {
	w.Header().Set("Content-Type", ContentTypeProblem)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(pd.Status)
	_ = json.NewEncoder(w).Encode(pd)
}

// NewLicenseRequiredProblem is the denial returned by the license gate.
// hwid is the current machine fingerprint, empty if it could not be read.
func NewLicenseRequiredProblem(instance, hwid, traceID string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusForbidden,
		TypeLicenseRequired,
		"License Required",
		"This installation is not licensed. Send the hardware id to your vendor to obtain a license key.",
		instance,
	).WithExtension("error_code", CodeLicenseRequired).
		WithExtension("error", "License Required").
		WithExtension("message", "A valid license is required to use this feature").
		WithExtension("hwid", hwid).
		WithExtension("trace_id", traceID)
}

// NewLicenseCheckFailedProblem is returned when the gate could not decide.
// The request is denied.
func NewLicenseCheckFailedProblem(instance, hwid, traceID string) *ProblemDetails {
	return NewLicenseRequiredProblem(instance, hwid, traceID).
		WithExtension("error_code", CodeLicenseCheckFailed).
		WithExtension("message", "The license could not be checked")
}
