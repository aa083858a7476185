package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sistem64-software/SAKA-QMS/internal/config"
	apierrors "github.com/sistem64-software/SAKA-QMS/internal/errors"
	"github.com/sistem64-software/SAKA-QMS/internal/infrastructure"
)

func TestRequestID(t *testing.T) {
	var seen, traceID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetReqID(r.Context())
		traceID = infrastructure.GetTraceID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, traceID)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-supplied")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "client-supplied", seen)
	assert.Equal(t, "client-supplied", rec.Header().Get(RequestIDHeader))
}

func TestStructuredLoggerRecordsRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	reg := prometheus.NewRegistry()
	telemetry, err := infrastructure.InitializeTelemetry(context.Background(),
		config.TracingConfig{Exporter: "none", SampleRatio: 1}, reg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = telemetry.Shutdown(context.Background()) })

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(StructuredLogger(logger, telemetry.HTTP))
	r.Get("/api/license/{op}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/status", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	assert.Contains(t, buf.String(), `"msg":"request completed"`)
	assert.Contains(t, buf.String(), `"status":418`)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "http_requests_total") {
			found = true
			labels := map[string]string{}
			for _, l := range mf.GetMetric()[0].GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			assert.Equal(t, "/api/license/{op}", labels["http_route"])
			assert.Equal(t, "418", labels["http_status_code"])
		}
	}
	assert.True(t, found, "http_requests_total not exported")
}

func TestStructuredLoggerWithoutMetrics(t *testing.T) {
	handler := StructuredLogger(quietLogger(), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverer(t *testing.T) {
	handler := RequestID(Recoverer(apierrors.NewErrorHandler(quietLogger(), false))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		})))

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set(RequestIDHeader, "req-9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apierrors.ContentTypeProblem, rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-9", body["trace_id"])
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2, quietLogger(), apierrors.NewErrorHandler(quietLogger(), false))
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/license/activate", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/license/activate", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, apierrors.ContentTypeProblem, rec.Header().Get("Content-Type"))
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestCORS(t *testing.T) {
	var reached bool
	handler := CORS(CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			reached = true
			w.WriteHeader(http.StatusOK)
		}))

	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantCode    int
		wantOrigin  string
		wantReached bool
	}{
		{"allowed preflight", http.MethodOptions, "http://localhost:5173", true, http.StatusNoContent, "http://localhost:5173", false},
		{"denied preflight", http.MethodOptions, "http://evil.example", true, http.StatusNoContent, "", false},
		{"allowed request", http.MethodPost, "http://LOCALHOST:5173", false, http.StatusOK, "http://LOCALHOST:5173", true},
		{"denied request", http.MethodGet, "http://evil.example", false, http.StatusOK, "", true},
		{"same origin", http.MethodGet, "", false, http.StatusOK, "", true},
		{"plain options", http.MethodOptions, "http://localhost:5173", false, http.StatusOK, "http://localhost:5173", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest(tt.method, "/api/license/activate", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantReached, reached)
			if tt.preflight && tt.wantOrigin != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
				assert.Equal(t, "300", rec.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}

func TestCORSWildcardAndEmpty(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://anything.example")

	rec := httptest.NewRecorder()
	CORS(CORSConfig{AllowedOrigins: []string{"*"}})(ok).ServeHTTP(rec, req)
	assert.Equal(t, "http://anything.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))

	rec = httptest.NewRecorder()
	CORS(CORSConfig{})(ok).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}
