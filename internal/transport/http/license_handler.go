// Package http exposes the host-facing license API over chi.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	"keygate/internal/services"
)

// LicenseHandler handles license-related HTTP requests.
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints, the single wiring
// point for this surface. Middleware specific to the resync endpoint (its
// rate limiter) is passed in so the handler stays free of policy knobs.
func (h *LicenseHandler) Routes(resyncMiddleware ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.GetStatus)
	r.With(resyncMiddleware...).Post("/resync", h.Resync)

	return r
}

// GetStatus handles GET /api/license/status. It serves from the cached
// state and never contacts the authority.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")
	start := time.Now()

	ctx, span := tracer.Start(ctx, "license_handler.get_status",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/status"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	response, err := h.service.GetStatus(ctx)
	if err != nil {
		span.RecordError(err)
		h.handleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("license.derived_status", string(response.DerivedStatus)),
		attribute.Bool("license.unauthorized_usage", response.UnauthorizedFlagUsage),
		attribute.Int64("request.latency_ms", time.Since(start).Milliseconds()),
	)
	h.logger.DebugContext(ctx, "license status served",
		slog.String("request_id", reqID),
		slog.String("derived_status", string(response.DerivedStatus)),
		slog.Duration("latency", time.Since(start)),
	)

	render.JSON(w, r, response)
}

// Resync handles POST /api/license/resync: a forced full reconciliation
// cycle for manual or administrative re-verification.
func (h *LicenseHandler) Resync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.resync",
		trace.WithAttributes(
			attribute.String("http.route", "/api/license/resync"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	h.logger.InfoContext(ctx, "manual license resync requested",
		slog.String("request_id", reqID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	if err := h.service.Resync(ctx); err != nil {
		// The cycle already fell back to the cached state; report the
		// degraded outcome to the administrative caller.
		span.RecordError(err)
		h.handleError(w, r, err)
		return
	}

	status, err := h.service.GetStatus(ctx)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	response := struct {
		Success bool                            `json:"success"`
		Status  *services.LicenseStatusResponse `json:"status"`
		TraceID string                          `json:"trace_id"`
	}{
		Success: true,
		Status:  status,
		TraceID: reqID,
	}
	render.JSON(w, r, response)
}

// handleError maps service errors to RFC 7807 problem responses.
func (h *LicenseHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	h.logger.WarnContext(ctx, "license request failed",
		slog.String("error", err.Error()),
		slog.String("request_id", reqID),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
	)

	problem := licenseErrors.MapLicenseError(err, r.URL.Path+"#"+reqID)
	problem.WithExtension("request_id", reqID).
		WithExtension("timestamp", time.Now().UTC())
	render.Render(w, r, problem)
}
