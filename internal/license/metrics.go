package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are the license instruments. A nil *Metrics records nothing.
type Metrics struct {
	activationAttempts metric.Int64Counter
	activationSuccess  metric.Int64Counter
	validationChecks   metric.Int64Counter
	validationFailures metric.Int64Counter
	activationDuration metric.Float64Histogram
	validationDuration metric.Float64Histogram
	degradedSources    metric.Int64Counter
}

// NewMetrics creates the license instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	activationAttempts, err := meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create license_activation_attempts_total: %w", err)
	}

	activationSuccess, err := meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create license_activation_success_total: %w", err)
	}

	validationChecks, err := meter.Int64Counter(
		"license_validation_checks_total",
		metric.WithDescription("Total number of license validation checks"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create license_validation_checks_total: %w", err)
	}

	validationFailures, err := meter.Int64Counter(
		"license_validation_failures_total",
		metric.WithDescription("Total number of license validation failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create license_validation_failures_total: %w", err)
	}

	activationDuration, err := meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("License activation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create license_activation_duration_seconds: %w", err)
	}

	validationDuration, err := meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create license_validation_duration_seconds: %w", err)
	}

	degradedSources, err := meter.Int64Counter(
		"license_fingerprint_degraded_total",
		metric.WithDescription("Fingerprint sources that fell back to a sentinel"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create license_fingerprint_degraded_total: %w", err)
	}

	return &Metrics{
		activationAttempts: activationAttempts,
		activationSuccess:  activationSuccess,
		validationChecks:   validationChecks,
		validationFailures: validationFailures,
		activationDuration: activationDuration,
		validationDuration: validationDuration,
		degradedSources:    degradedSources,
	}, nil
}

func (m *Metrics) recordActivation(ctx context.Context, ok bool, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activationAttempts.Add(ctx, 1)
	if ok {
		m.activationSuccess.Add(ctx, 1)
	}
	m.activationDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.Bool("success", ok), attribute.String("reason", reason)))
}

func (m *Metrics) recordValidation(ctx context.Context, ok bool, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.validationChecks.Add(ctx, 1)
	if !ok {
		m.validationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	m.validationDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.Bool("success", ok)))
}

func (m *Metrics) recordDegraded(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.degradedSources.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
