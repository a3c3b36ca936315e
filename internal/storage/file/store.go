package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/interfaces"
)

// Store persists the active set to a JSON file of the form
// {"enabled": [...]}.
type Store struct {
	path   string
	logger *common.Logger
	mu     sync.RWMutex
}

// NewStore creates a store that persists to path. The directory is created
// on first write.
func NewStore(logger *common.Logger, path string) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Load reads the saved names. A missing or corrupt file yields an empty set.
func (s *Store) Load(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Str("path", s.path).Err(err).Msg("Active set file unreadable, starting empty")
		}
		return []string{}, nil
	}

	var set interfaces.ActiveSet
	if err := json.Unmarshal(data, &set); err != nil {
		s.logger.Warn().Str("path", s.path).Err(err).Msg("Active set file corrupt, starting empty")
		return []string{}, nil
	}
	if set.Enabled == nil {
		return []string{}, nil
	}
	return set.Enabled, nil
}

// Save writes names through a temp file and rename so readers never see a
// partial document.
func (s *Store) Save(_ context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if names == nil {
		names = []string{}
	}
	data, err := json.MarshalIndent(interfaces.ActiveSet{Enabled: names}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode active set: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".enabled-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write active set: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write active set: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
