package license

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sistem64-software/SAKA-QMS/internal/security"
	"github.com/sistem64-software/SAKA-QMS/internal/shared/testutil"
)

type brokenStore struct{}

func (brokenStore) Save(Record) error {
	return &StorageError{Op: "write", Path: "/broken/license.dat", Err: errors.New("disk full")}
}

func (brokenStore) Load() (*Record, error) {
	return nil, &StorageError{Op: "read", Path: "/broken/license.dat", Err: errors.New("permission denied")}
}

func (brokenStore) Path() string { return "/broken/license.dat" }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, collector FingerprintCollector, store Store, opts ...func(*Options)) *Manager {
	t.Helper()
	o := Options{
		Collector: collector,
		Store:     store,
		PublicKey: testutil.KeyPair(t).Public,
		Logger:    quietLogger(),
		Now:       func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	for _, fn := range opts {
		fn(&o)
	}
	m, err := NewManager(o)
	require.NoError(t, err)
	return m
}

func issue(t *testing.T, fp string) string {
	t.Helper()
	key, err := newTestIssuer(t).Issue(fp)
	require.NoError(t, err)
	return key
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "license.dat"))
	collector := testutil.NewCollector(testFingerprint)

	_, err := NewManager(Options{Store: store, PublicKey: testutil.KeyPair(t).Public})
	assert.Error(t, err)
	_, err = NewManager(Options{Collector: collector, PublicKey: testutil.KeyPair(t).Public})
	assert.Error(t, err)
	_, err = NewManager(Options{Collector: collector, Store: store})
	assert.Error(t, err)
}

func TestManagerEndToEnd(t *testing.T) {
	ctx := context.Background()
	collector := testutil.NewCollector(testFingerprint)
	store := NewFileStore(filepath.Join(t.TempDir(), ".saka_qms", "license.dat"))
	m := newTestManager(t, collector, store)

	fp, err := m.Fingerprint(ctx)
	require.NoError(t, err)
	require.Equal(t, testFingerprint, fp.String())

	key := issue(t, fp.String())

	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Licensed)
	assert.Equal(t, MessageNotLicensed, status.Message)
	assert.Equal(t, testFingerprint, status.HWID())

	res, err := m.Activate(ctx, key)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, m.IsLicensed(ctx))

	status, err = m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Licensed)
	assert.Equal(t, MessageLicensed, status.Message)
	require.NotNil(t, status.ActivatedAt)
	assert.Equal(t, 2026, status.ActivatedAt.Year())

	// The disk is replaced.
	collector.Set(testutil.ChangedDiskFingerprint)

	assert.False(t, m.IsLicensed(ctx))
	status, err = m.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Licensed)
	assert.Equal(t, ReasonMismatch, status.Reason)
	assert.Equal(t, testutil.ChangedDiskFingerprint, status.HWID())

	diag, err := m.Diagnostics(ctx)
	require.NoError(t, err)
	assert.True(t, diag.RecordExists)
	assert.Equal(t, testFingerprint, diag.SnapshotFingerprint)
	assert.Equal(t, []string{"disk"}, diag.ChangedComponents)
	assert.False(t, diag.Licensed)

	// Re-activating the old key on the new hardware fails and leaves the
	// record alone.
	res, err = m.Activate(ctx, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidLicense)
	assert.False(t, res.Valid)

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, key, rec.Key)
	assert.Equal(t, testFingerprint, rec.Fingerprint)
}

func TestManagerActivateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "license.dat")
	collector := testutil.NewCollector(testFingerprint)
	key := issue(t, testFingerprint)

	m := newTestManager(t, collector, NewFileStore(path))
	_, err := m.Activate(ctx, key)
	require.NoError(t, err)
	first, err := NewFileStore(path).Load()
	require.NoError(t, err)

	_, err = m.Activate(ctx, "\n"+key+"  ")
	require.NoError(t, err)
	second, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A fresh process sees the same activation.
	restarted := newTestManager(t, collector, NewFileStore(path))
	assert.True(t, restarted.IsLicensed(ctx))
}

func TestManagerActivateRejectsInvalidKeys(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "license.dat"))
	m := newTestManager(t, testutil.NewCollector(testFingerprint), store)

	tests := []struct {
		name   string
		key    string
		reason string
	}{
		{"empty", "", ReasonEmpty},
		{"malformed", "%%%", ReasonMalformed},
		{"other machine", issue(t, "CPU000|MB456|DISK789|aa:bb:cc:dd:ee:ff|host1"), ReasonMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Activate(ctx, tt.key)
			require.Error(t, err)
			var invalid *InvalidLicenseError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.reason, invalid.Reason)
			assert.Equal(t, tt.reason, res.Reason)
			assert.False(t, errors.Is(err, ErrStorage))
		})
	}

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestManagerVerifyDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "license.dat"))
	m := newTestManager(t, testutil.NewCollector(testFingerprint), store)

	res, fp, err := m.Verify(ctx, issue(t, testFingerprint))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, testFingerprint, fp.String())

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestManagerStorageFailures(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, testutil.NewCollector(testFingerprint), brokenStore{})

	res, err := m.Activate(ctx, issue(t, testFingerprint))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.False(t, errors.Is(err, ErrInvalidLicense))
	assert.True(t, res.Valid)

	status, err := m.Status(ctx)
	assert.ErrorIs(t, err, ErrStorage)
	assert.False(t, errors.Is(err, ErrInvalidLicense))
	require.NotNil(t, status)
	assert.False(t, status.Licensed)
	assert.Equal(t, testFingerprint, status.HWID())
	assert.Equal(t, MessageRecordUnreadable, status.Message)
	assert.False(t, m.IsLicensed(ctx))

	_, err = m.Diagnostics(ctx)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestManagerCollectionFailure(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "license.dat")
	collector := testutil.NewCollector(testFingerprint)
	m := newTestManager(t, collector, NewFileStore(path))

	_, err := m.Activate(ctx, issue(t, testFingerprint))
	require.NoError(t, err)

	collector.Fail(security.ErrInsufficientHardwareInfo)

	assert.False(t, m.IsLicensed(ctx))
	_, err = m.Status(ctx)
	assert.ErrorIs(t, err, security.ErrInsufficientHardwareInfo)

	_, err = m.Activate(ctx, issue(t, testFingerprint))
	assert.ErrorIs(t, err, security.ErrInsufficientHardwareInfo)

	diag, err := m.Diagnostics(ctx)
	require.NoError(t, err)
	assert.True(t, diag.RecordExists)
	assert.Contains(t, diag.CollectError, "insufficient hardware information")
	assert.Empty(t, diag.Fingerprint)
}

func TestManagerRecomputesFingerprintOnEveryCheck(t *testing.T) {
	ctx := context.Background()
	collector := testutil.NewCollector(testFingerprint)
	m := newTestManager(t, collector, NewFileStore(filepath.Join(t.TempDir(), "license.dat")))

	for range 3 {
		m.IsLicensed(ctx)
	}
	assert.Equal(t, 3, collector.Calls())
}

func TestManagerDiagnosticsWithoutRecord(t *testing.T) {
	m := newTestManager(t, testutil.NewCollector(testFingerprint), NewFileStore(filepath.Join(t.TempDir(), "license.dat")))

	diag, err := m.Diagnostics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static", diag.Platform)
	assert.False(t, diag.RecordExists)
	assert.Equal(t, testFingerprint, diag.Fingerprint)
	assert.Len(t, diag.Digest, 64)
	assert.Equal(t, MessageNotLicensed, diag.Reason)
	assert.Empty(t, diag.ChangedComponents)
}

func TestManagerMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	const degraded = "CPU123|MB456|UNKNOWN_DISK|aa:bb:cc:dd:ee:ff|host1"
	collector := testutil.NewCollector(degraded)
	m := newTestManager(t, collector, NewFileStore(filepath.Join(t.TempDir(), "license.dat")),
		func(o *Options) { o.Metrics = metrics })

	_, err = m.Activate(ctx, "%%%")
	require.Error(t, err)
	_, err = m.Activate(ctx, issue(t, degraded))
	require.NoError(t, err)
	m.IsLicensed(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if data, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}

	assert.Equal(t, int64(2), sums["license_activation_attempts_total"])
	assert.Equal(t, int64(1), sums["license_activation_success_total"])
	assert.Equal(t, int64(1), sums["license_validation_checks_total"])
	assert.Equal(t, int64(0), sums["license_validation_failures_total"])
	assert.Equal(t, int64(3), sums["license_fingerprint_degraded_total"])
}

func TestManagerKeepsKeysOutOfLogs(t *testing.T) {
	ctx := context.Background()
	logger, logs := testutil.NewTestLogger(t)
	collector := testutil.NewCollector(testFingerprint)
	m := newTestManager(t, collector, NewFileStore(filepath.Join(t.TempDir(), "license.dat")),
		func(o *Options) { o.Logger = logger })

	key := issue(t, testFingerprint)
	_, err := m.Activate(ctx, key)
	require.NoError(t, err)

	collector.Set(testutil.ChangedDiskFingerprint)
	_, err = m.Activate(ctx, key)
	require.Error(t, err)

	testutil.AssertLogContains(t, logs, slog.LevelInfo, "license activated")
	testutil.AssertLogContains(t, logs, slog.LevelWarn, "license activation rejected")
	assert.True(t, logs.ContainsAttr("component", "license"))
	assert.True(t, logs.ContainsAttr("license_key", MaskKey(key)))
	testutil.AssertNotLogged(t, logs, key)
	testutil.AssertNoErrors(t, logs)
}
