package license

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"keygate/internal/infrastructure"
)

// Store persists the single cached license state record to a JSON file at a
// well-known path relative to the working directory. The file is
// human-readable to support manual inspection.
type Store struct {
	path     string
	validate *validator.Validate
	logger   *slog.Logger
}

// NewStore creates a file-backed store for the cached license state.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Store{
		path:     path,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "license_store")),
	}
}

// Path returns the location of the durable cache file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the durable record and validates it against the cached state
// schema. A missing, unreadable, or schema-invalid file yields (nil, false)
// and never an error: an absent cache is the expected first-run condition.
func (s *Store) Load(ctx context.Context) (*CachedState, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WarnContext(ctx, "license cache unreadable, treating as absent",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	var state CachedState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.WarnContext(ctx, "license cache corrupt, treating as absent",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	if err := s.validate.Struct(&state); err != nil {
		s.logger.WarnContext(ctx, "license cache failed schema validation, treating as absent",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	return &state, true
}

// Save serializes the record and durably overwrites any prior content. The
// write goes through a temp file and rename so readers never observe a
// partial record. Failures are returned for the caller to log; the caller's
// in-memory state remains authoritative.
func (s *Store) Save(ctx context.Context, state *CachedState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal license state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".license-state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write license state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set cache file permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	s.logger.DebugContext(ctx, "license state persisted",
		slog.String("path", s.path),
		slog.String("derived_status", string(state.DerivedStatus)),
		slog.Int("size_bytes", len(data)),
	)
	return nil
}
