// Package errors defines the error taxonomy for the license client and the
// RFC 7807 problem responses used by the HTTP surface.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// Sentinel errors for license reconciliation.
var (
	// ErrAuthorityUnreachable covers transport failures, timeouts, non-2xx
	// responses, and malformed payloads from the remote authority. The
	// reconciler recovers locally by falling back to the cached state.
	ErrAuthorityUnreachable = errors.New("license authority unreachable")

	// ErrCachePersist marks a failed durable write. The in-memory state
	// remains authoritative for the running process.
	ErrCachePersist = errors.New("license cache persist failed")

	// ErrNotStarted is returned when the host asks for the shared reconciler
	// before any entry point has started it.
	ErrNotStarted = errors.New("license reconciler not started")
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface.
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON includes extension members alongside the standard fields.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error response.
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension member to the problem details.
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapLicenseError converts internal errors to problem responses for the
// host-facing API.
func MapLicenseError(err error, instance string) *ProblemDetails {
	switch {
	case errors.Is(err, ErrAuthorityUnreachable):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			"/errors/authority-unreachable",
			"License Authority Unreachable",
			"Unable to reach the license authority. The last cached license state remains in effect.",
			instance,
		)
	case errors.Is(err, ErrNotStarted):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			"/errors/not-started",
			"License Client Not Started",
			"The license reconciler has not been started for this process.",
			instance,
		)
	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/internal",
			"Internal Error",
			err.Error(),
			instance,
		)
	}
}
