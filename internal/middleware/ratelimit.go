// Package middleware provides HTTP middleware for the host-facing license
// API.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
)

// ResyncLimiter throttles forced reconciliation requests so an aggressive
// admin or a misbehaving script cannot hammer the remote authority through
// the resync endpoint.
type ResyncLimiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewResyncLimiter creates a limiter allowing rps requests per second with
// the given burst.
func NewResyncLimiter(rps float64, burst int, logger *slog.Logger) *ResyncLimiter {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &ResyncLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With(slog.String("component", "resync_limiter")),
	}
}

// Handler rejects requests above the configured rate with a 429 problem
// response.
func (l *ResyncLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter.Allow() {
			reqID := middleware.GetReqID(r.Context())
			l.logger.WarnContext(r.Context(), "resync request rate limited",
				slog.String("request_id", reqID),
				slog.String("remote_addr", r.RemoteAddr),
			)
			problem := licenseErrors.NewProblemDetails(
				http.StatusTooManyRequests,
				"/errors/rate-limited",
				"Too Many Requests",
				"Too many resync requests. Please wait before trying again.",
				r.URL.Path+"#"+reqID,
			).WithExtension("request_id", reqID)
			render.Render(w, r, problem)
			return
		}
		next.ServeHTTP(w, r)
	})
}
