package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/config"
	"github.com/bobmcallan/vire-openapi-mcp/internal/interfaces"
	"github.com/bobmcallan/vire-openapi-mcp/internal/storage/badger"
	"github.com/bobmcallan/vire-openapi-mcp/internal/storage/file"
	"github.com/bobmcallan/vire-openapi-mcp/internal/storage/redis"
)

// ErrUnknownBackend is returned for a storage backend name that is not
// file, badger or redis.
var ErrUnknownBackend = errors.New("unknown storage backend")

// NewActiveSetStore creates the active set store selected by
// cfg.Storage.Backend.
func NewActiveSetStore(logger *common.Logger, cfg *config.Config) (interfaces.ActiveSetStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "", "file":
		return file.NewStore(logger, fileStorePath(cfg)), nil
	case "badger":
		return badger.NewStore(logger, &cfg.Storage.Badger)
	case "redis":
		return redis.NewStore(logger, &cfg.Storage.Redis)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, cfg.Storage.Backend)
	}
}

// OpenActiveSetStore is NewActiveSetStore, except that a backend which cannot
// be opened is replaced by the JSON file store. Only an unknown backend name
// is an error.
func OpenActiveSetStore(logger *common.Logger, cfg *config.Config) (interfaces.ActiveSetStore, error) {
	store, err := NewActiveSetStore(logger, cfg)
	if err == nil || errors.Is(err, ErrUnknownBackend) {
		return store, err
	}

	path := fileStorePath(cfg)
	logger.Warn().
		Str("backend", cfg.Storage.Backend).
		Str("fallback_path", path).
		Err(err).
		Msg("Storage backend unavailable, falling back to the file store")
	return file.NewStore(logger, path), nil
}

func fileStorePath(cfg *config.Config) string {
	if cfg.Storage.File.Path != "" {
		return cfg.Storage.File.Path
	}
	return config.NewDefaultConfig().Storage.File.Path
}
