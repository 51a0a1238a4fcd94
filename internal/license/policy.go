package license

import (
	"context"
	"log/slog"

	"keygate/internal/infrastructure"
)

// BillingFlag is the distinguished capability the host may require
// independently of per-tenant enterprise claims.
const BillingFlag = "billing"

// Claim is one live host-side use of an enterprise-gated feature.
type Claim struct {
	Feature string
	Tenant  string
}

// ClaimsSource enumerates the host's live enterprise-flag claims. The host
// application owns this data; the policy checker only evaluates it against
// the flags the license grants.
type ClaimsSource interface {
	// EnterpriseClaims lists all active claims on enterprise-gated features.
	EnterpriseClaims(ctx context.Context) ([]Claim, error)

	// BillingRequired reports whether the host configuration requires the
	// billing capability.
	BillingRequired() bool
}

// Checker evaluates the host's claims against the flags granted by the
// current license.
type Checker struct {
	claims ClaimsSource
	logger *slog.Logger
}

// NewChecker creates a policy checker backed by the host's claims source.
func NewChecker(claims ClaimsSource, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Checker{
		claims: claims,
		logger: logger.With(slog.String("component", "policy_checker")),
	}
}

// FindUnauthorizedUsage reports whether any live claim exceeds the granted
// authorization. Nil or empty grantedFlags grant nothing, so every
// enterprise-gated claim is then unauthorized. Errors from the claims
// enumerator are treated conservatively as no violation: policy cannot
// convict on evidence it could not read.
func (c *Checker) FindUnauthorizedUsage(ctx context.Context, grantedFlags map[string]bool) bool {
	if c.claims == nil {
		return false
	}

	if c.claims.BillingRequired() && !grantedFlags[BillingFlag] {
		c.logger.WarnContext(ctx, "billing capability required but not granted by license")
		return true
	}

	claims, err := c.claims.EnterpriseClaims(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to enumerate enterprise claims, skipping policy check",
			slog.String("error", err.Error()),
		)
		return false
	}

	for _, claim := range claims {
		if !grantedFlags[claim.Feature] {
			c.logger.WarnContext(ctx, "unauthorized enterprise flag usage detected",
				slog.String("feature", claim.Feature),
				slog.String("tenant", claim.Tenant),
			)
			return true
		}
	}
	return false
}
