// Package services contains the host-facing service layer between the
// transport handlers and the license reconciliation core.
package services

import (
	"context"
	"log/slog"
	"time"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	"keygate/internal/license"
)

// LicenseService is the surface the host application and the HTTP layer use
// to gate features. Reads never trigger network I/O; Resync forces one full
// reconciliation cycle.
type LicenseService interface {
	GetStatus(ctx context.Context) (*LicenseStatusResponse, error)
	Resync(ctx context.Context) error
}

// LicenseStatusResponse represents the standardized license status response.
type LicenseStatusResponse struct {
	DerivedStatus         license.Status  `json:"derived_status"`
	UnauthorizedFlagUsage bool            `json:"unauthorized_flag_usage"`
	LastChecked           *time.Time      `json:"last_checked,omitempty"`
	License               *license.Record `json:"license,omitempty"`
	Message               string          `json:"message"`
	Timestamp             time.Time       `json:"timestamp"`
}

// licenseService implements LicenseService over the shared registry.
type licenseService struct {
	registry *license.Registry
	logger   *slog.Logger
}

// NewLicenseService creates the service façade over the process-wide
// reconciler registry.
func NewLicenseService(registry *license.Registry, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &licenseService{
		registry: registry,
		logger:   logger.With(slog.String("service", "license")),
	}
}

// GetStatus returns the current cached license state. An unstarted
// reconciler or an absent cache both degrade to "not found" rather than an
// error: the host must always have some state to read.
func (s *licenseService) GetStatus(ctx context.Context) (*LicenseStatusResponse, error) {
	now := time.Now().UTC()

	rec, ok := s.registry.Instance()
	if !ok {
		s.logger.WarnContext(ctx, "license status requested before reconciler start")
		return &LicenseStatusResponse{
			DerivedStatus: license.StatusNotFound,
			Message:       "License verification has not started for this process.",
			Timestamp:     now,
		}, nil
	}

	state := rec.CachedLicense(ctx)
	if state == nil {
		return &LicenseStatusResponse{
			DerivedStatus: license.StatusNotFound,
			Message:       "No license state available. The process runs unlicensed.",
			Timestamp:     now,
		}, nil
	}

	lastChecked := state.LastChecked
	return &LicenseStatusResponse{
		DerivedStatus:         state.DerivedStatus,
		UnauthorizedFlagUsage: state.UnauthorizedFlagUsage,
		LastChecked:           &lastChecked,
		License:               state.License,
		Message:               statusMessage(state),
		Timestamp:             now,
	}, nil
}

// Resync forces a full reconciliation cycle on the shared reconciler.
func (s *licenseService) Resync(ctx context.Context) error {
	rec, ok := s.registry.Instance()
	if !ok {
		return licenseErrors.ErrNotStarted
	}
	return rec.Resync(ctx)
}

func statusMessage(state *license.CachedState) string {
	switch state.DerivedStatus {
	case license.StatusActive:
		return "License is active."
	case license.StatusTrialing:
		return "License is in trial."
	case license.StatusExpired:
		return "License has expired. Please renew to continue."
	case license.StatusCanceled:
		return "License has been canceled."
	case license.StatusUnauthorized:
		return "Unauthorized enterprise feature usage detected."
	default:
		return "No valid license found."
	}
}
