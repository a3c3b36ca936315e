package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/config"
	"github.com/timshannon/badgerhold/v4"
)

// activeSetKey is the single record the active set lives under.
const activeSetKey = "enabled_resources"

// ActiveSetEntry is the stored record.
type ActiveSetEntry struct {
	Key     string `badgerhold:"key"`
	Enabled []string
}

// Store implements interfaces.ActiveSetStore using BadgerDB.
type Store struct {
	db     *BadgerDB
	logger *common.Logger
}

// NewStore opens the database at cfg.Path and returns a store over it.
func NewStore(logger *common.Logger, cfg *config.BadgerConfig) (*Store, error) {
	db, err := NewBadgerDB(logger, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// Load returns the saved names, or an empty set when none were saved.
func (s *Store) Load(_ context.Context) ([]string, error) {
	var entry ActiveSetEntry
	err := s.db.Store().Get(activeSetKey, &entry)
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return []string{}, nil
		}
		s.logger.Warn().Err(err).Msg("Active set record unreadable, starting empty")
		return []string{}, nil
	}
	if entry.Enabled == nil {
		return []string{}, nil
	}
	return entry.Enabled, nil
}

// Save replaces the saved names.
func (s *Store) Save(_ context.Context, names []string) error {
	entry := ActiveSetEntry{
		Key:     activeSetKey,
		Enabled: append([]string{}, names...),
	}
	if err := s.db.Store().Upsert(activeSetKey, &entry); err != nil {
		return fmt.Errorf("failed to save active set: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
