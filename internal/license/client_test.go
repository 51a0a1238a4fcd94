package license

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
)

func TestClientNoKeySkipsNetwork(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second, nil)
	record, err := client.Verify(context.Background())

	require.NoError(t, err)
	assert.Nil(t, record)
	assert.False(t, called, "verify must not contact the authority without a key")
}

func TestClientVerifySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "KEY-LIVE-1234", req["license_key"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"status":               "active",
				"created_at":           "2025-01-15T00:00:00Z",
				"name":                 "Acme Corp",
				"period_end":           "2026-01-15T00:00:00Z",
				"cancel_at_period_end": false,
				"license_key":          "KEY-LIVE-1234",
				"flags":                map[string]bool{"billing": true, "sso": true},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "KEY-LIVE-1234", time.Second, nil)
	record, err := client.Verify(context.Background())

	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusActive, record.Status)
	assert.Equal(t, "Acme Corp", record.Name)
	assert.True(t, record.Flags["billing"])
	assert.True(t, record.Flags["sso"])
	assert.Equal(t, "KEY-LIVE-1234", record.LicenseKey)
}

func TestClientVerifyUnreachable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			"non-2xx status",
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			"malformed JSON",
			func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>not json</html>"))
			},
		},
		{
			"rejected verification",
			func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"success": false,
					"error":   "license not found",
				})
			},
		},
		{
			"success without data",
			func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
			},
		},
		{
			"schema invalid data",
			func(w http.ResponseWriter, r *http.Request) {
				// Missing the required status field.
				json.NewEncoder(w).Encode(map[string]interface{}{
					"success": true,
					"data":    map[string]interface{}{"name": "Acme Corp"},
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewClient(server.URL, "KEY-LIVE-1234", time.Second, nil)
			record, err := client.Verify(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, licenseErrors.ErrAuthorityUnreachable)
			assert.Nil(t, record)
		})
	}
}

func TestClientVerifyTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused

	client := NewClient(server.URL, "KEY-LIVE-1234", time.Second, nil)
	_, err := client.Verify(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, licenseErrors.ErrAuthorityUnreachable)
}

func TestClientVerifyTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	client := NewClient(server.URL, "KEY-LIVE-1234", 50*time.Millisecond, nil)
	_, err := client.Verify(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, licenseErrors.ErrAuthorityUnreachable)
}

func TestClientVerifySingleRequest(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "KEY-LIVE-1234", time.Second, nil)
	_, err := client.Verify(context.Background())

	require.Error(t, err)
	assert.Equal(t, 1, requests, "verify must not retry internally")
}
