package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sistem64-software/SAKA-QMS/internal/config"
	"github.com/sistem64-software/SAKA-QMS/internal/license"
	"github.com/sistem64-software/SAKA-QMS/internal/shared/testutil"
)

const testHWID = testutil.Fingerprint

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.License.File = filepath.Join(t.TempDir(), ".saka_qms", "license.dat")
	cfg.Server.ShutdownTimeout = 2 * time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApplication(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	a, err := NewApplication(context.Background(), cfg, quietLogger(),
		WithCollector(testutil.NewCollector(testHWID)),
		WithPublicKey(testutil.KeyPair(t).Public),
		WithAPIRoutes(func(r chi.Router) {
			r.Get("/files", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"files":[]}`))
			})
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Telemetry.Shutdown(context.Background()) })
	return a
}

func request(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.Contains(rec.Header().Get("Content-Type"), "json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestNewApplicationRequiresConfig(t *testing.T) {
	_, err := NewApplication(context.Background(), nil, quietLogger())
	assert.Error(t, err)
}

func TestApplicationLicenseFlow(t *testing.T) {
	a := newTestApplication(t, testConfig(t))
	router := a.Router

	// Unlicensed: protected routes are blocked and carry the hwid.
	rec, body := request(t, router, http.MethodGet, "/api/files", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "LICENSE_REQUIRED", body["error_code"])
	assert.Equal(t, testHWID, body["hwid"])

	// The status route stays reachable.
	rec, body = request(t, router, http.MethodGet, "/api/license/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["is_licensed"])
	assert.Equal(t, testHWID, body["hwid"])

	rec, body = request(t, router, http.MethodGet, "/api/license/hwid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, testHWID, body["hwid"])

	issuer, err := license.NewIssuer(testutil.KeyPair(t).Private)
	require.NoError(t, err)
	key, err := issuer.Issue(testHWID)
	require.NoError(t, err)

	wrong, err := issuer.Issue("CPU123|MB456|DISK999|aa:bb:cc:dd:ee:ff|host1")
	require.NoError(t, err)
	rec, body = request(t, router, http.MethodPost, "/api/license/activate", `{"license_key":"`+wrong+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, license.ReasonMismatch, body["reason"])

	rec, body = request(t, router, http.MethodPost, "/api/license/activate", `{"license_key":"`+key+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["is_licensed"])

	rec, _ = request(t, router, http.MethodGet, "/api/files", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = request(t, router, http.MethodGet, "/api/license/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["is_licensed"])
	assert.NotContains(t, body, "hwid")
	assert.True(t, config.FileExists(a.Config.License.File))
}

func TestApplicationHealthAndMetrics(t *testing.T) {
	a := newTestApplication(t, testConfig(t))

	for _, target := range []string{"/health", "/api/health"} {
		rec, body := request(t, a.Router, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, "healthy", body["status"])
	}

	request(t, a.Router, http.MethodGet, "/api/files", "")

	rec, _ := request(t, a.Router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := rec.Body.String()
	assert.Contains(t, metrics, `saka_license_gate_decisions_total{decision="denied"} 1`)
	assert.Contains(t, metrics, "http_requests_total")
	assert.Contains(t, metrics, "license_validation_checks_total")
	assert.Contains(t, metrics, "go_goroutines")
}

func TestApplicationMetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	a := newTestApplication(t, cfg)

	rec, body := request(t, a.Router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, float64(http.StatusNotFound), body["status"])
}

func TestApplicationCORSPreflightBypassesGate(t *testing.T) {
	a := newTestApplication(t, testConfig(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/files", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	// The actual request is still gated, but the browser can read the denial.
	req = httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec = httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestApplicationCORSDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.CORS.Enabled = false
	a := newTestApplication(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/files", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestApplicationNotFound(t *testing.T) {
	a := newTestApplication(t, testConfig(t))

	rec, body := request(t, a.Router, http.MethodGet, "/api/license/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, body["trace_id"])
}

func TestApplicationServeShutsDownOnCancel(t *testing.T) {
	a := newTestApplication(t, testConfig(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
