package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
)

const verifyUserAgent = "keygate-license-client/1.0"

// verifyRequest is the payload sent to the remote authority.
type verifyRequest struct {
	LicenseKey string `json:"license_key"`
}

// verifyResponse is the authority's envelope: success plus the license data.
type verifyResponse struct {
	Success bool    `json:"success"`
	Error   string  `json:"error,omitempty"`
	Data    *Record `json:"data,omitempty"`
}

// Client issues verification requests to the remote license authority.
// Each Verify call makes exactly one request; retry cadence belongs to the
// reconciler's periodic invocation, not here.
type Client struct {
	authorityURL string
	licenseKey   string
	httpClient   *http.Client
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewClient creates an authority client for the configured key. The timeout
// bounds the whole request; a zero timeout falls back to 10 seconds.
func NewClient(authorityURL, licenseKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Client{
		authorityURL: authorityURL,
		licenseKey:   licenseKey,
		httpClient:   &http.Client{Timeout: timeout},
		validate:     validator.New(),
		logger:       logger.With(slog.String("component", "authority_client")),
	}
}

// LicenseKey returns the key this client was configured with.
func (c *Client) LicenseKey() string {
	return c.licenseKey
}

// Verify checks the configured license key against the remote authority.
// With no key configured it returns (nil, nil) immediately without any
// network call: a valid "no license" outcome, distinct from unreachability.
// Transport failures, timeouts, non-2xx statuses, and malformed payloads all
// surface as ErrAuthorityUnreachable.
func (c *Client) Verify(ctx context.Context) (*Record, error) {
	if c.licenseKey == "" {
		c.logger.DebugContext(ctx, "no license key configured, skipping authority check")
		return nil, nil
	}

	body, err := json.Marshal(verifyRequest{LicenseKey: c.licenseKey})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authorityURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", verifyUserAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "authority request failed",
			slog.String("endpoint", c.authorityURL),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, fmt.Errorf("%w: %v", licenseErrors.ErrAuthorityUnreachable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", licenseErrors.ErrAuthorityUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WarnContext(ctx, "authority returned error status",
			slog.Int("status_code", resp.StatusCode),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, fmt.Errorf("%w: status %d", licenseErrors.ErrAuthorityUnreachable, resp.StatusCode)
	}

	var envelope verifyResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		c.logger.WarnContext(ctx, "authority response is not valid JSON",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: malformed response: %v", licenseErrors.ErrAuthorityUnreachable, err)
	}

	if !envelope.Success {
		reason := envelope.Error
		if reason == "" {
			reason = "unknown error"
		}
		c.logger.WarnContext(ctx, "authority rejected verification",
			slog.String("reason", reason),
			slog.String("license_key_masked", maskLicenseKey(c.licenseKey)),
		)
		return nil, fmt.Errorf("%w: %s", licenseErrors.ErrAuthorityUnreachable, reason)
	}

	// Do not accept malformed authority data: a success envelope must carry
	// a record that passes schema validation.
	if envelope.Data == nil {
		return nil, fmt.Errorf("%w: success response missing data", licenseErrors.ErrAuthorityUnreachable)
	}
	if err := c.validate.Struct(envelope.Data); err != nil {
		c.logger.WarnContext(ctx, "authority payload failed schema validation",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: invalid payload: %v", licenseErrors.ErrAuthorityUnreachable, err)
	}

	record := envelope.Data
	if record.LicenseKey == "" {
		record.LicenseKey = c.licenseKey
	}

	c.logger.InfoContext(ctx, "license verified with authority",
		slog.String("license_key_masked", maskLicenseKey(c.licenseKey)),
		slog.String("status", string(record.Status)),
		slog.Int("flag_count", len(record.Flags)),
		slog.Duration("duration", time.Since(start)),
	)
	return record, nil
}

// maskLicenseKey masks the license key for logging.
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
