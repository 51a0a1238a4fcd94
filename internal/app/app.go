// Package app wires configuration, observability, the license reconciler,
// and the host-facing HTTP API into a runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"keygate/internal/config"
	"keygate/internal/infrastructure"
	"keygate/internal/license"
	"keygate/internal/middleware"
	"keygate/internal/services"
	transporthttp "keygate/internal/transport/http"
)

// Application bundles the running pieces of the process.
type Application struct {
	cfg        *config.Config
	logger     *slog.Logger
	providers  *infrastructure.OTelProviders
	registry   *license.Registry
	reconciler *license.Reconciler
	server     *http.Server
}

// staticClaimsSource is the default claims enumerator for a standalone
// deployment: billing requirement comes from configuration and no
// per-tenant enterprise claims exist. Hosts embedding the reconciler
// supply their own ClaimsSource instead.
type staticClaimsSource struct {
	billingRequired bool
}

func (s *staticClaimsSource) EnterpriseClaims(ctx context.Context) ([]license.Claim, error) {
	return nil, nil
}

func (s *staticClaimsSource) BillingRequired() bool {
	return s.billingRequired
}

// NewApplication loads configuration and constructs every component. The
// first reconciliation cycle runs inside Run, not here.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	return &Application{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		registry:  license.NewRegistry(),
	}, nil
}

// Registry exposes the shared registration point so co-hosted subsystems
// observe the same reconciler instance.
func (a *Application) Registry() *license.Registry {
	return a.registry
}

// Run starts the reconciler, the periodic refresh, and the HTTP server, and
// blocks until shutdown.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, err := license.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	store := license.NewStore(a.cfg.License.CacheFile, a.logger)
	client := license.NewClient(a.cfg.License.AuthorityURL, a.cfg.License.Key, a.cfg.License.VerifyTimeout, a.logger)
	checker := license.NewChecker(&staticClaimsSource{billingRequired: a.cfg.License.BillingRequired}, a.logger)

	a.reconciler = a.registry.Start(ctx, license.Options{
		Store:   store,
		Client:  client,
		Checker: checker,
		Metrics: metrics,
		Logger:  a.logger,
	})

	a.logger.Info("license reconciler started",
		slog.String("cache_file", a.cfg.License.CacheFile),
		slog.Bool("license_key_configured", a.cfg.License.Key != ""),
		slog.Duration("refresh_interval", a.cfg.License.RefreshInterval),
	)

	go a.refreshLoop(ctx)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      a.router(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	if err := a.providers.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("observability shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}

// refreshLoop drives the periodic re-verification cadence. Failed cycles
// keep the prior state; the next tick retries.
func (a *Application) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.License.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.reconciler.Resync(ctx); err != nil {
				a.logger.Warn("scheduled license refresh degraded to cached state",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (a *Application) router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(traceIDMiddleware)

	svc := services.NewLicenseService(a.registry, a.logger)
	handler := transporthttp.NewLicenseHandler(svc, a.logger)
	resyncLimiter := middleware.NewResyncLimiter(1, 3, a.logger)

	r.Mount("/api/license", handler.Routes(resyncLimiter.Handler))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]interface{}{
			"status":    "ok",
			"service":   infrastructure.ServiceName,
			"version":   infrastructure.ServiceVersion,
			"timestamp": time.Now().UTC(),
		})
	})

	if a.providers.PrometheusHTTP != nil {
		r.Method(http.MethodGet, "/metrics", a.providers.PrometheusHTTP)
	}

	return r
}

// traceIDMiddleware assigns each request a trace ID carried through the
// logging context.
func traceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := infrastructure.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
