package license

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sistem64-software/SAKA-QMS/internal/security"
)

const tracerName = "saka-qms/license"

// Status messages.
const (
	MessageLicensed         = "License is valid"
	MessageNotLicensed      = "No license activated"
	MessageRecordUnreadable = "License record could not be read"
	MessageActivated        = "License activated successfully"
	MessageKeyValid         = "License key is valid for this machine"
)

// FingerprintCollector produces the fingerprint of the running machine.
type FingerprintCollector interface {
	Collect(ctx context.Context) (*security.HardwareFingerprint, error)
	Platform() string
}

// Options configure a Manager. Collector, Store and PublicKey are required.
type Options struct {
	Collector FingerprintCollector
	Store     Store
	PublicKey *rsa.PublicKey
	Logger    *slog.Logger
	Metrics   *Metrics

	// Now stamps activations; defaults to time.Now.
	Now func() time.Time
}

// Manager answers every license question of the running server. It holds
// no mutable state and is safe for concurrent use.
type Manager struct {
	collector FingerprintCollector
	store     Store
	verifier  *Verifier
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// Status is the licensing state of the machine at the time of the call.
type Status struct {
	Licensed    bool                          `json:"is_licensed"`
	Message     string                        `json:"message"`
	Reason      string                        `json:"reason,omitempty"`
	Fingerprint *security.HardwareFingerprint `json:"-"`
	ActivatedAt *time.Time                    `json:"activated_at,omitempty"`
}

// HWID returns the fingerprint string, or "" when it is unknown.
func (s *Status) HWID() string {
	if s == nil || s.Fingerprint == nil {
		return ""
	}
	return s.Fingerprint.String()
}

// Diagnostics explains how the fingerprint was built and how it relates to
// the stored activation.
type Diagnostics struct {
	Platform            string                  `json:"platform"`
	Fingerprint         string                  `json:"fingerprint,omitempty"`
	Digest              string                  `json:"digest,omitempty"`
	Sources             []security.SourceReport `json:"sources,omitempty"`
	CollectError        string                  `json:"collect_error,omitempty"`
	RecordPath          string                  `json:"record_path"`
	RecordExists        bool                    `json:"record_exists"`
	ActivatedAt         *time.Time              `json:"activated_at,omitempty"`
	SnapshotFingerprint string                  `json:"snapshot_fingerprint,omitempty"`
	ChangedComponents   []string                `json:"changed_components,omitempty"`
	Licensed            bool                    `json:"is_licensed"`
	Reason              string                  `json:"reason,omitempty"`
}

// NewManager validates opts and returns a ready Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Collector == nil {
		return nil, errors.New("license manager: collector is required")
	}
	if opts.Store == nil {
		return nil, errors.New("license manager: store is required")
	}
	if opts.PublicKey == nil {
		return nil, errors.New("license manager: public key is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		collector: opts.Collector,
		store:     opts.Store,
		verifier:  NewVerifier(opts.PublicKey),
		logger:    logger.With(slog.String("component", "license")),
		metrics:   opts.Metrics,
		tracer:    otel.Tracer(tracerName),
		now:       now,
	}, nil
}

// Fingerprint collects the fingerprint of the running machine.
func (m *Manager) Fingerprint(ctx context.Context) (*security.HardwareFingerprint, error) {
	ctx, span := m.tracer.Start(ctx, "license.fingerprint")
	defer span.End()

	fp, err := m.collector.Collect(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	for _, s := range fp.Degraded() {
		m.metrics.recordDegraded(ctx, s.String())
	}
	span.SetAttributes(
		attribute.String("license.platform", m.collector.Platform()),
		attribute.Int("license.degraded_sources", len(fp.Degraded())),
	)
	return fp, nil
}

// Verify checks licenseKey against the current fingerprint without storing
// anything. The error is non-nil only when the fingerprint could not be
// collected.
func (m *Manager) Verify(ctx context.Context, licenseKey string) (Result, *security.HardwareFingerprint, error) {
	ctx, span := m.tracer.Start(ctx, "license.verify")
	defer span.End()

	fp, err := m.Fingerprint(ctx)
	if err != nil {
		recordSpanError(span, err)
		return Result{}, nil, err
	}

	res := m.verifier.Verify(licenseKey, fp.String())
	span.SetAttributes(attribute.Bool("license.valid", res.Valid))
	return res, fp, nil
}

// Activate verifies licenseKey and stores it. A rejected key returns an
// *InvalidLicenseError and leaves the stored record untouched.
func (m *Manager) Activate(ctx context.Context, licenseKey string) (Result, error) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "license.activate")
	defer span.End()

	logger := m.logger.With(slog.String("license_key", MaskKey(licenseKey)))
	logger.InfoContext(ctx, "license activation requested")

	res, fp, err := m.Verify(ctx, licenseKey)
	if err != nil {
		m.metrics.recordActivation(ctx, false, "fingerprint", time.Since(start))
		recordSpanError(span, err)
		logger.ErrorContext(ctx, "license activation failed", slog.String("error", err.Error()))
		return Result{}, err
	}

	if !res.Valid {
		m.metrics.recordActivation(ctx, false, res.Reason, time.Since(start))
		span.SetStatus(codes.Error, res.Reason)
		logger.WarnContext(ctx, "license activation rejected",
			slog.String("reason", res.Reason),
			slog.String("fingerprint_digest", fp.DigestHex()))
		return res, &InvalidLicenseError{Reason: res.Reason}
	}

	rec := Record{
		Key:         strings.TrimSpace(licenseKey),
		Fingerprint: fp.String(),
		ActivatedAt: m.now().UTC(),
		Format:      RecordFormat,
	}
	if err := m.store.Save(rec); err != nil {
		m.metrics.recordActivation(ctx, false, "storage", time.Since(start))
		recordSpanError(span, err)
		logger.ErrorContext(ctx, "failed to store license",
			slog.String("path", m.store.Path()),
			slog.String("error", err.Error()))
		return res, err
	}

	m.metrics.recordActivation(ctx, true, "", time.Since(start))
	logger.InfoContext(ctx, "license activated",
		slog.String("path", m.store.Path()),
		slog.String("fingerprint_digest", fp.DigestHex()))
	return res, nil
}

// Status loads the stored key and verifies it against a freshly collected
// fingerprint. A missing record is not an error. Storage and collection
// failures are returned; callers must treat them as unlicensed. When only
// the record is unreadable, the returned Status still carries the
// fingerprint so the machine can be re-activated.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "license.status")
	defer span.End()

	rec, err := m.store.Load()
	if err != nil && !errors.Is(err, ErrLicenseNotFound) {
		m.metrics.recordValidation(ctx, false, "storage", time.Since(start))
		recordSpanError(span, err)
		fp, ferr := m.Fingerprint(ctx)
		if ferr != nil {
			return nil, err
		}
		return &Status{Fingerprint: fp, Message: MessageRecordUnreadable}, err
	}

	fp, ferr := m.Fingerprint(ctx)
	if ferr != nil {
		m.metrics.recordValidation(ctx, false, "fingerprint", time.Since(start))
		recordSpanError(span, ferr)
		return nil, ferr
	}

	status := &Status{Fingerprint: fp}
	if rec == nil {
		status.Message = MessageNotLicensed
		m.metrics.recordValidation(ctx, false, "not_found", time.Since(start))
		span.SetAttributes(attribute.Bool("license.licensed", false))
		return status, nil
	}

	activated := rec.ActivatedAt
	if !activated.IsZero() {
		status.ActivatedAt = &activated
	}

	res := m.verifier.Verify(rec.Key, fp.String())
	status.Licensed = res.Valid
	if res.Valid {
		status.Message = MessageLicensed
	} else {
		status.Reason = res.Reason
		status.Message = "Stored license is not valid: " + res.Reason
		m.logger.WarnContext(ctx, "stored license failed verification",
			slog.String("reason", res.Reason),
			slog.String("fingerprint_digest", fp.DigestHex()))
	}

	m.metrics.recordValidation(ctx, res.Valid, res.Reason, time.Since(start))
	span.SetAttributes(attribute.Bool("license.licensed", res.Valid))
	return status, nil
}

// IsLicensed reports whether a valid license is stored for this machine.
// Any failure counts as not licensed.
func (m *Manager) IsLicensed(ctx context.Context) bool {
	status, err := m.Status(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "license check failed", slog.String("error", err.Error()))
		return false
	}
	return status.Licensed
}

// Diagnostics reports the probe chains and compares the current fingerprint
// with the one stored at activation. Collection failures are reported in
// the result; only storage failures and cancellation are errors.
func (m *Manager) Diagnostics(ctx context.Context) (*Diagnostics, error) {
	ctx, span := m.tracer.Start(ctx, "license.diagnostics")
	defer span.End()

	diag := &Diagnostics{
		Platform:   m.collector.Platform(),
		RecordPath: m.store.Path(),
	}

	rec, err := m.store.Load()
	switch {
	case err == nil:
		diag.RecordExists = true
		diag.SnapshotFingerprint = rec.Fingerprint
		if !rec.ActivatedAt.IsZero() {
			activated := rec.ActivatedAt
			diag.ActivatedAt = &activated
		}
	case errors.Is(err, ErrLicenseNotFound):
	default:
		recordSpanError(span, err)
		return nil, err
	}

	fp, err := m.collector.Collect(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("diagnostics aborted: %w", ctxErr)
		}
		diag.CollectError = err.Error()
		diag.Reason = err.Error()
		return diag, nil
	}

	diag.Fingerprint = fp.String()
	diag.Digest = fp.DigestHex()
	diag.Sources = fp.Sources

	if rec == nil {
		diag.Reason = MessageNotLicensed
		return diag, nil
	}

	if snapshot, err := security.ParseFingerprint(rec.Fingerprint); err == nil {
		for _, s := range snapshot.Diff(fp) {
			diag.ChangedComponents = append(diag.ChangedComponents, s.String())
		}
	}

	res := m.verifier.Verify(rec.Key, diag.Fingerprint)
	diag.Licensed = res.Valid
	diag.Reason = res.Reason
	return diag, nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
