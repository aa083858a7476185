package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "github.com/sistem64-software/SAKA-QMS/internal/errors"
	"github.com/sistem64-software/SAKA-QMS/internal/infrastructure"
	"github.com/sistem64-software/SAKA-QMS/internal/license"
	"github.com/sistem64-software/SAKA-QMS/internal/security"
)

// Gate decisions, used as the metric label and span attribute.
const (
	DecisionExempt      = "exempt"
	DecisionUnprotected = "unprotected"
	DecisionAllowed     = "allowed"
	DecisionDenied      = "denied"
	DecisionError       = "error"
)

// LicenseGate rejects requests to protected routes while the machine has no
// valid license. Every check is made afresh; nothing is cached.
type LicenseGate struct {
	checker   LicenseChecker
	protected []string
	exempt    []string
	logger    *slog.Logger
	tracer    trace.Tracer

	decisions *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewLicenseGate creates the gate. Exempt prefixes win over protected ones;
// paths matching neither pass through unchecked. Metrics are registered on
// reg when it is not nil.
func NewLicenseGate(checker LicenseChecker, protected, exempt []string, logger *slog.Logger, reg prometheus.Registerer) *LicenseGate {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	factory := promauto.With(reg)

	return &LicenseGate{
		checker:   checker,
		protected: append([]string(nil), protected...),
		exempt:    append([]string(nil), exempt...),
		logger:    logger.With(slog.String("component", "license_gate")),
		tracer:    otel.Tracer("saka-qms/license-gate"),
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "saka",
				Subsystem: "license_gate",
				Name:      "decisions_total",
				Help:      "License gate decisions by outcome",
			},
			[]string{"decision"},
		),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "saka",
			Subsystem: "license_gate",
			Name:      "check_duration_seconds",
			Help:      "Time spent checking the license for a protected request",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

// Classify returns the decision made for path without checking the license:
// DecisionExempt, DecisionUnprotected, or "" when a check is required.
func (g *LicenseGate) Classify(path string) string {
	if hasAnyPrefix(path, g.exempt) {
		return DecisionExempt
	}
	if hasAnyPrefix(path, g.protected) {
		return ""
	}
	return DecisionUnprotected
}

// Handler is the chi middleware.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if decision := g.Classify(r.URL.Path); decision != "" {
			g.decisions.WithLabelValues(decision).Inc()
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := g.tracer.Start(r.Context(), "license_gate.check",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			))
		defer span.End()

		reqID := middleware.GetReqID(ctx)
		start := time.Now()
		status, err := g.checker.Status(ctx)
		g.duration.Observe(time.Since(start).Seconds())

		if err != nil {
			g.decisions.WithLabelValues(DecisionError).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("license.decision", DecisionError))

			g.logger.ErrorContext(ctx, "license check failed, denying request",
				slog.String("path", r.URL.Path),
				slog.String("request_id", reqID),
				slog.String("error", err.Error()),
				slog.Bool("hardware", errors.Is(err, security.ErrInsufficientHardwareInfo)),
				slog.Bool("storage", errors.Is(err, license.ErrStorage)))

			apierrors.WriteProblem(w, apierrors.NewLicenseCheckFailedProblem(r.URL.Path, status.HWID(), reqID))
			return
		}

		if !status.Licensed {
			g.decisions.WithLabelValues(DecisionDenied).Inc()
			span.SetAttributes(attribute.String("license.decision", DecisionDenied))

			g.logger.WarnContext(ctx, "request blocked: no valid license",
				slog.String("path", r.URL.Path),
				slog.String("request_id", reqID),
				slog.String("reason", status.Reason))

			apierrors.WriteProblem(w, apierrors.NewLicenseRequiredProblem(r.URL.Path, status.HWID(), reqID))
			return
		}

		g.decisions.WithLabelValues(DecisionAllowed).Inc()
		span.SetAttributes(attribute.String("license.decision", DecisionAllowed))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		prefix = strings.TrimSuffix(prefix, "/")
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
