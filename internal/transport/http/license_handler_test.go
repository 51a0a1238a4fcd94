package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/license"
	"keygate/internal/services"
)

// fakeLicenseService implements services.LicenseService for handler tests.
type fakeLicenseService struct {
	status    *services.LicenseStatusResponse
	statusErr error
	resyncErr error
	resyncs   int
}

func (f *fakeLicenseService) GetStatus(ctx context.Context) (*services.LicenseStatusResponse, error) {
	return f.status, f.statusErr
}

func (f *fakeLicenseService) Resync(ctx context.Context) error {
	f.resyncs++
	return f.resyncErr
}

func activeStatus() *services.LicenseStatusResponse {
	now := time.Now().UTC()
	return &services.LicenseStatusResponse{
		DerivedStatus: license.StatusActive,
		LastChecked:   &now,
		License:       &license.Record{Status: license.StatusActive, Name: "Acme Corp"},
		Message:       "License is active.",
		Timestamp:     now,
	}
}

func TestGetStatusEndpoint(t *testing.T) {
	svc := &fakeLicenseService{status: activeStatus()}
	handler := NewLicenseHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body services.LicenseStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, license.StatusActive, body.DerivedStatus)
	assert.Equal(t, "Acme Corp", body.License.Name)
}

func TestResyncEndpoint(t *testing.T) {
	svc := &fakeLicenseService{status: activeStatus()}
	handler := NewLicenseHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/resync", nil)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, svc.resyncs)

	var body struct {
		Success bool                            `json:"success"`
		Status  *services.LicenseStatusResponse `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.NotNil(t, body.Status)
	assert.Equal(t, license.StatusActive, body.Status.DerivedStatus)
}

func TestResyncEndpointAuthorityUnreachable(t *testing.T) {
	svc := &fakeLicenseService{
		status:    activeStatus(),
		resyncErr: licenseErrors.ErrAuthorityUnreachable,
	}
	handler := NewLicenseHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/resync", nil)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "/errors/authority-unreachable", problem["type"])
	assert.Equal(t, "License Authority Unreachable", problem["title"])
}

func TestResyncEndpointNotStarted(t *testing.T) {
	svc := &fakeLicenseService{
		status:    activeStatus(),
		resyncErr: licenseErrors.ErrNotStarted,
	}
	handler := NewLicenseHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/resync", nil)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "/errors/not-started", problem["type"])
}

func TestRoutesAppliesResyncMiddleware(t *testing.T) {
	// Middleware handed to Routes guards only the resync endpoint; status
	// reads stay cheap and unthrottled.
	svc := &fakeLicenseService{status: activeStatus()}
	var guarded int
	block := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guarded++
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	router := NewLicenseHandler(svc, nil).Routes(block)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/resync", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, 1, guarded)
	assert.Equal(t, 0, svc.resyncs)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, guarded)
}
