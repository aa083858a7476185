package app

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sistem64-software/SAKA-QMS/internal/config"
	apierrors "github.com/sistem64-software/SAKA-QMS/internal/errors"
	"github.com/sistem64-software/SAKA-QMS/internal/infrastructure"
	"github.com/sistem64-software/SAKA-QMS/internal/license"
	customMiddleware "github.com/sistem64-software/SAKA-QMS/internal/middleware"
	"github.com/sistem64-software/SAKA-QMS/internal/security"
	handlers "github.com/sistem64-software/SAKA-QMS/internal/transport/http"
)

// Application represents the main application container
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	LicenseManager *license.Manager
	Registry       *prometheus.Registry
	Telemetry      *infrastructure.Telemetry
	Logger         *slog.Logger

	errHandler *apierrors.ErrorHandler
	gate       *customMiddleware.LicenseGate
	routes     []func(chi.Router)
}

// Option customizes NewApplication.
type Option func(*options)

type options struct {
	collector license.FingerprintCollector
	publicKey *rsa.PublicKey
	routes    []func(chi.Router)
}

// WithCollector replaces the hardware probes.
func WithCollector(c license.FingerprintCollector) Option {
	return func(o *options) { o.collector = c }
}

// WithPublicKey replaces the embedded verification key.
func WithPublicKey(pub *rsa.PublicKey) Option {
	return func(o *options) { o.publicKey = pub }
}

// WithAPIRoutes registers document-management routes under /api. They sit
// behind the license gate like every other /api route.
func WithAPIRoutes(fn func(r chi.Router)) Option {
	return func(o *options) { o.routes = append(o.routes, fn) }
}

// NewApplication wires configuration, telemetry, the license manager and
// the HTTP router. Nothing listens until Serve or Run is called.
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("license_file", cfg.License.File))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	telemetry, err := infrastructure.InitializeTelemetry(ctx, cfg.Tracing, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	manager, err := newLicenseManager(cfg, logger, telemetry, o)
	if err != nil {
		_ = telemetry.Shutdown(ctx)
		return nil, err
	}

	a := &Application{
		Config:         cfg,
		LicenseManager: manager,
		Registry:       registry,
		Telemetry:      telemetry,
		Logger:         logger,
		errHandler:     apierrors.NewErrorHandler(logger, false),
		routes:         o.routes,
	}
	a.gate = customMiddleware.NewLicenseGate(manager,
		cfg.License.ProtectedPrefixes, cfg.License.ExemptPrefixes, logger, registry)

	a.setupRouter()
	a.createServer()
	return a, nil
}

func newLicenseManager(cfg *config.Config, logger *slog.Logger, telemetry *infrastructure.Telemetry, o *options) (*license.Manager, error) {
	collector := o.collector
	if collector == nil {
		collector = security.NewCollector(
			security.WithProbeTimeout(cfg.License.ProbeTimeout),
			security.WithCollectorLogger(logger),
		)
	}

	pub := o.publicKey
	if pub == nil {
		var err error
		if pub, err = license.DefaultPublicKey(); err != nil {
			return nil, fmt.Errorf("failed to load embedded public key: %w", err)
		}
	}

	metrics, err := license.NewMetrics(telemetry.MeterProvider.Meter(infrastructure.MeterName))
	if err != nil {
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	return license.NewManager(license.Options{
		Collector: collector,
		Store:     license.NewFileStore(cfg.License.File),
		PublicKey: pub,
		Logger:    logger,
		Metrics:   metrics,
	})
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Order: RequestID → RealIP → Logger → Recoverer → headers → CORS → license gate
	r.Use(customMiddleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger, a.Telemetry.HTTP))
	r.Use(customMiddleware.Recoverer(a.errHandler))
	r.Use(customMiddleware.SecurityHeaders)
	if a.Config.Security.CORS.Enabled {
		r.Use(customMiddleware.CORS(a.getCORSConfig()))
	}
	r.Use(a.gate.Handler)

	r.NotFound(a.errHandler.NotFound)
	r.MethodNotAllowed(a.errHandler.MethodNotAllowed)

	health := handlers.NewHealthHandler(a.Logger)
	r.Get("/health", health.HealthCheck)

	var limiter *customMiddleware.RateLimiter
	if rl := a.Config.Security.RateLimit; rl.Enabled {
		limiter = customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger, a.errHandler)
	}
	licenseHandler := handlers.NewLicenseHandler(a.LicenseManager, a.Logger, a.errHandler, limiter)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/health", health.HealthCheck)
		r.Mount("/license", licenseHandler.Routes())
		for _, fn := range a.routes {
			fn(r)
		}
	})

	if a.Config.Metrics.Enabled {
		r.Handle(a.Config.Metrics.Path, handlers.NewMetricsHandler(a.Registry))
	}

	a.Router = r
}

// getCORSConfig allows the configured frontend origins to call the API.
func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	origins := append([]string{}, a.Config.Security.CORS.AllowedOrigins...)
	a.Logger.Info("CORS configured", slog.Any("allowed_origins", origins))
	return customMiddleware.CORSConfig{
		AllowedOrigins: origins,
		Logger:         a.Logger,
	}
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// logLicenseStatus reports the licensing state once at startup so that an
// operator can read the hardware id from the log.
func (a *Application) logLicenseStatus(ctx context.Context) {
	status, err := a.LicenseManager.Status(ctx)
	if err != nil {
		a.Logger.ErrorContext(ctx, "License check failed at startup; protected routes are blocked",
			slog.String("error", err.Error()),
			slog.String("hwid", status.HWID()))
		return
	}
	if status.Licensed {
		a.Logger.InfoContext(ctx, "License is valid")
		return
	}
	a.Logger.WarnContext(ctx, "No valid license; protected routes are blocked until activation",
		slog.String("hwid", status.HWID()),
		slog.String("reason", status.Reason))
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within Server.ShutdownTimeout.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	a.logLicenseStatus(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.InfoContext(ctx, "HTTP server listening", slog.String("address", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			_ = a.shutdownTelemetry()
			return fmt.Errorf("server error: %w", err)
		}
		return a.shutdownTelemetry()
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "Shutting down application")
	}

	return a.Stop()
}

// Run listens on the configured port until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Stop gracefully stops the server and flushes telemetry.
func (a *Application) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}
	if err := a.Telemetry.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(shutdownCtx, "Application shutdown complete")
	return errors.Join(errs...)
}

func (a *Application) shutdownTelemetry() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.Telemetry.Shutdown(ctx)
}
