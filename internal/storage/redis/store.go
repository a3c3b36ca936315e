package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/config"
	"github.com/bobmcallan/vire-openapi-mcp/internal/interfaces"
)

// defaultKey is used when the config names no key.
const defaultKey = "vire-openapi-mcp:enabled_resources"

// Store keeps the active set as one JSON string value, so several replicas
// pointing at the same Redis share it.
type Store struct {
	client *goredis.Client
	key    string
	logger *common.Logger
}

// NewStore connects to Redis and verifies the connection.
func NewStore(logger *common.Logger, cfg *config.RedisConfig) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewStoreWithClient(logger, client, cfg.Key), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(logger *common.Logger, client *goredis.Client, key string) *Store {
	if key == "" {
		key = defaultKey
	}
	return &Store{client: client, key: key, logger: logger}
}

// Load returns the saved names. A missing or undecodable value yields an
// empty set; connection failures are returned.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.key, err)
	}

	var set interfaces.ActiveSet
	if err := json.Unmarshal(data, &set); err != nil {
		s.logger.Warn().Str("key", s.key).Err(err).Msg("Active set value corrupt, starting empty")
		return []string{}, nil
	}
	if set.Enabled == nil {
		return []string{}, nil
	}
	return set.Enabled, nil
}

// Save replaces the saved names.
func (s *Store) Save(ctx context.Context, names []string) error {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(interfaces.ActiveSet{Enabled: names})
	if err != nil {
		return fmt.Errorf("failed to encode active set: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.key, err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
