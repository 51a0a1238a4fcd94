package license

import (
	"time"
)

// Status is the authorization verdict attached to a license, either as
// reported by the remote authority or derived locally.
type Status string

const (
	StatusActive       Status = "active"
	StatusTrialing     Status = "trialing"
	StatusExpired      Status = "expired"
	StatusCanceled     Status = "canceled"
	StatusNotFound     Status = "not_found"
	StatusUnauthorized Status = "unauthorized"
)

// Record holds the license data reported by the remote authority. It is
// produced exclusively by the authority client and never mutated after
// construction.
type Record struct {
	Status            Status          `json:"status" validate:"required"`
	CreatedAt         time.Time       `json:"created_at"`
	Name              string          `json:"name"`
	PeriodEnd         time.Time       `json:"period_end"`
	CancelAtPeriodEnd bool            `json:"cancel_at_period_end"`
	LicenseKey        string          `json:"license_key"`
	Flags             map[string]bool `json:"flags"`
}

// FlagGranted reports whether the given feature flag is granted by the
// record. A nil record grants nothing.
func (r *Record) FlagGranted(name string) bool {
	if r == nil {
		return false
	}
	return r.Flags[name]
}

// CachedState is the single long-lived record the reconciler maintains:
// the most recent reconciliation result, mirrored between the in-memory
// slot and the durable cache file. It is replaced wholesale on every
// successful cycle, never partially mutated.
type CachedState struct {
	LastChecked           time.Time `json:"last_checked" validate:"required"`
	License               *Record   `json:"license,omitempty"`
	RequestedLicenseKey   string    `json:"requested_license_key,omitempty"`
	UnauthorizedFlagUsage bool      `json:"unauthorized_flag_usage"`
	DerivedStatus         Status    `json:"derived_status" validate:"required"`
}

// DeriveStatus computes the final authorization verdict from the authority
// response and the local policy evaluation. Precedence: unauthorized flag
// usage overrides whatever the authority reported; absent authority data
// means no license.
func DeriveStatus(record *Record, unauthorizedUsage bool) Status {
	if unauthorizedUsage {
		return StatusUnauthorized
	}
	if record == nil {
		return StatusNotFound
	}
	return record.Status
}

// NewCachedState builds the replacement state for a successful
// reconciliation cycle.
func NewCachedState(record *Record, requestedKey string, unauthorizedUsage bool, checkedAt time.Time) *CachedState {
	return &CachedState{
		LastChecked:           checkedAt,
		License:               record,
		RequestedLicenseKey:   requestedKey,
		UnauthorizedFlagUsage: unauthorizedUsage,
		DerivedStatus:         DeriveStatus(record, unauthorizedUsage),
	}
}
