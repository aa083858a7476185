package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "github.com/sistem64-software/SAKA-QMS/internal/errors"
	"github.com/sistem64-software/SAKA-QMS/internal/license"
	apimiddleware "github.com/sistem64-software/SAKA-QMS/internal/middleware"
	"github.com/sistem64-software/SAKA-QMS/internal/security"
)

// LicenseHandler serves /api/license.
type LicenseHandler struct {
	service    LicenseService
	logger     *slog.Logger
	errHandler *apierrors.ErrorHandler
	validation *apimiddleware.ValidationMiddleware
	limiter    *apimiddleware.RateLimiter
	tracer     trace.Tracer
}

// NewLicenseHandler creates the handler. limiter may be nil to disable rate
// limiting of activate and verify.
func NewLicenseHandler(service LicenseService, logger *slog.Logger, errHandler *apierrors.ErrorHandler, limiter *apimiddleware.RateLimiter) *LicenseHandler {
	return &LicenseHandler{
		service:    service,
		logger:     logger.With(slog.String("handler", "license")),
		errHandler: errHandler,
		validation: apimiddleware.NewValidationMiddleware(logger, errHandler),
		limiter:    limiter,
		tracer:     otel.Tracer("saka-qms/license-handler"),
	}
}

// LicenseKeyRequest is the body of activate and verify.
type LicenseKeyRequest struct {
	// Emptiness is reported by the verifier with its own reason.
	LicenseKey string `json:"license_key" validate:"max=4096"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	IsLicensed  bool       `json:"is_licensed"`
	HWID        string     `json:"hwid,omitempty"`
	Message     string     `json:"message"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// HWIDResponse is returned by GET /hwid.
type HWIDResponse struct {
	HWID     string   `json:"hwid"`
	Digest   string   `json:"digest"`
	Degraded []string `json:"degraded,omitempty"`
}

// ActivateResponse is returned by a successful activation.
type ActivateResponse struct {
	IsLicensed bool   `json:"is_licensed"`
	Message    string `json:"message"`
}

// VerifyResponse is returned by a successful verification.
type VerifyResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// Routes returns a chi router for license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Get("/hwid", h.GetHWID)
	r.Get("/diagnostics", h.GetDiagnostics)

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Handler)
		}
		r.Use(h.validation.ValidateRequest)
		r.Post("/activate", h.Activate)
		r.Post("/verify", h.Verify)
	})

	return r
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.get_status")
	defer span.End()

	status, err := h.service.Status(ctx)
	if err != nil {
		apiErr := toAPIError(err)
		if ae, ok := apiErr.(*apierrors.APIError); ok && status.HWID() != "" {
			ae.WithHWID(status.HWID())
		}
		h.fail(w, r, span, apiErr)
		return
	}

	span.SetAttributes(attribute.Bool("license.licensed", status.Licensed))
	resp := StatusResponse{
		IsLicensed:  status.Licensed,
		Message:     status.Message,
		Reason:      status.Reason,
		ActivatedAt: status.ActivatedAt,
	}
	// The hwid is only needed by a machine that still has to be activated.
	if !status.Licensed {
		resp.HWID = status.HWID()
	}
	render.JSON(w, r, resp)
}

// GetHWID handles GET /api/license/hwid
func (h *LicenseHandler) GetHWID(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.get_hwid")
	defer span.End()

	fp, err := h.service.Fingerprint(ctx)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	resp := HWIDResponse{HWID: fp.String(), Digest: fp.DigestHex()}
	for _, s := range fp.Degraded() {
		resp.Degraded = append(resp.Degraded, s.String())
	}
	render.JSON(w, r, resp)
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.activate")
	defer span.End()

	req, ok := h.decodeKeyRequest(w, r, span)
	if !ok {
		return
	}

	if _, err := h.service.Activate(ctx, req.LicenseKey); err != nil {
		h.fail(w, r, span, err)
		return
	}

	h.logger.InfoContext(ctx, "license activated via api",
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("license_key", license.MaskKey(req.LicenseKey)))

	render.JSON(w, r, ActivateResponse{IsLicensed: true, Message: license.MessageActivated})
}

// Verify handles POST /api/license/verify
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.verify")
	defer span.End()

	req, ok := h.decodeKeyRequest(w, r, span)
	if !ok {
		return
	}

	res, _, err := h.service.Verify(ctx, req.LicenseKey)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	if !res.Valid {
		h.fail(w, r, span, &license.InvalidLicenseError{Reason: res.Reason})
		return
	}

	render.JSON(w, r, VerifyResponse{Valid: true, Message: license.MessageKeyValid})
}

// GetDiagnostics handles GET /api/license/diagnostics
func (h *LicenseHandler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.get_diagnostics")
	defer span.End()

	diag, err := h.service.Diagnostics(ctx)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, diag)
}

func (h *LicenseHandler) startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	return h.tracer.Start(r.Context(), name,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		))
}

func (h *LicenseHandler) decodeKeyRequest(w http.ResponseWriter, r *http.Request, span trace.Span) (*LicenseKeyRequest, bool) {
	req := &LicenseKeyRequest{}
	if err := render.DecodeJSON(r.Body, req); err != nil {
		h.fail(w, r, span, apierrors.InvalidRequestWithError(err))
		return nil, false
	}
	if err := h.validation.ValidateStruct(req); err != nil {
		h.fail(w, r, span, err)
		return nil, false
	}
	return req, true
}

// fail maps license errors onto API errors and writes the problem.
func (h *LicenseHandler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	h.errHandler.HandleError(w, r, toAPIError(err))
}

func toAPIError(err error) error {
	var invalid *license.InvalidLicenseError
	switch {
	case errors.As(err, &invalid):
		return apierrors.InvalidLicenseKeyError(invalid.Reason)
	case errors.Is(err, license.ErrStorage):
		return apierrors.LicenseStorageError(err)
	case errors.Is(err, security.ErrInsufficientHardwareInfo):
		return apierrors.InsufficientHardwareError(err)
	default:
		return err
	}
}
