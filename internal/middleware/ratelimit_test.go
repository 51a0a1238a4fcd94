package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResyncLimiterAllowsWithinBurst(t *testing.T) {
	limiter := NewResyncLimiter(1, 3, nil)
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/resync", nil))
		assert.Equal(t, http.StatusOK, rr.Code, "request %d within burst should pass", i+1)
	}
}

func TestResyncLimiterRejectsAboveBurst(t *testing.T) {
	limiter := NewResyncLimiter(0.001, 1, nil)
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/resync", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/resync", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "/errors/rate-limited", problem["type"])
	assert.Equal(t, "Too Many Requests", problem["title"])
}
