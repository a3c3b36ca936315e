package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig         `toml:"server"`
	Spec    SpecConfig           `toml:"spec"`
	API     APIConfig            `toml:"api"`
	MCP     MCPConfig            `toml:"mcp"`
	Storage StorageConfig        `toml:"storage"`
	Logging common.LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port      int    `toml:"port"`
	Host      string `toml:"host"`
	Transport string `toml:"transport"` // "http" (default) or "stdio"
	// AllowedOrigins lists browser origins, besides the server's own host,
	// that may change state under /api/.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// SpecConfig describes where the OpenAPI document comes from.
// Either URL is set, or IndexURL together with Service.
type SpecConfig struct {
	URL       string   `toml:"url"`       // http(s) URL or local file path
	IndexURL  string   `toml:"index_url"` // paged listing of available documents
	Service   string   `toml:"service"`   // entry to pick from the index
	MaxPages  int      `toml:"max_pages"` // bound on "next" links followed
	Timeout   string   `toml:"timeout"`
	Resources []string `toml:"resources"` // allow-list of resource groups (empty = all)
}

// GetTimeout parses and returns the document fetch timeout.
func (c *SpecConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// APIConfig contains settings for the upstream API the tools call.
type APIConfig struct {
	URL         string            `toml:"url"` // empty = derived from the document's servers
	Headers     map[string]string `toml:"headers"`
	BearerToken string            `toml:"bearer_token"`
	Timeout     string            `toml:"timeout"`
	RateLimit   float64           `toml:"rate_limit"` // requests per second, 0 = unlimited
	Burst       int               `toml:"burst"`
}

// GetTimeout parses and returns the per-request timeout.
func (c *APIConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 300*time.Second)
}

// MCPConfig contains MCP server settings.
type MCPConfig struct {
	Name              string `toml:"name"`
	Stateless         bool   `toml:"stateless"`
	ValidateArguments bool   `toml:"validate_arguments"`
	ManageToolName    string `toml:"manage_tool_name"`
}

// StorageConfig selects where the active resource set is persisted.
// Backend can be "file" (default), "badger", or "redis".
type StorageConfig struct {
	Backend string       `toml:"backend"`
	File    FileConfig   `toml:"file"`
	Badger  BadgerConfig `toml:"badger"`
	Redis   RedisConfig  `toml:"redis"`
}

// FileConfig contains JSON file store settings.
type FileConfig struct {
	Path string `toml:"path"`
}

// BadgerConfig contains BadgerDB-specific settings.
type BadgerConfig struct {
	Path string `toml:"path"`
}

// RedisConfig contains Redis store settings.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Key      string `toml:"key"`
}

// IsStdio reports whether the server should speak MCP over stdin/stdout.
func (c *Config) IsStdio() bool {
	return strings.EqualFold(strings.TrimSpace(c.Server.Transport), "stdio")
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies VIRE_* environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("VIRE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("VIRE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if transport := os.Getenv("VIRE_TRANSPORT"); transport != "" {
		config.Server.Transport = transport
	}
	if origins := os.Getenv("VIRE_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = splitList(origins)
	}
	if specURL := os.Getenv("VIRE_SPEC_URL"); specURL != "" {
		config.Spec.URL = specURL
	}
	if indexURL := os.Getenv("VIRE_SPEC_INDEX_URL"); indexURL != "" {
		config.Spec.IndexURL = indexURL
	}
	if service := os.Getenv("VIRE_SPEC_SERVICE"); service != "" {
		config.Spec.Service = service
	}
	if resources := os.Getenv("VIRE_RESOURCES"); resources != "" {
		config.Spec.Resources = splitList(resources)
	}
	if apiURL := os.Getenv("VIRE_API_URL"); apiURL != "" {
		config.API.URL = apiURL
	}
	if token := os.Getenv("VIRE_API_TOKEN"); token != "" {
		config.API.BearerToken = token
	}
	if backend := os.Getenv("VIRE_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = backend
	}
	if statePath := os.Getenv("VIRE_STATE_FILE"); statePath != "" {
		config.Storage.File.Path = statePath
	}
	if badgerPath := os.Getenv("VIRE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if redisAddr := os.Getenv("VIRE_REDIS_ADDR"); redisAddr != "" {
		config.Storage.Redis.Addr = redisAddr
	}
	if level := os.Getenv("VIRE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("VIRE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, host, transport, specURL string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if transport != "" {
		config.Server.Transport = transport
	}
	if specURL != "" {
		config.Spec.URL = specURL
	}
}

// Validate returns a list of configuration problems that prevent startup.
// A missing specification source is not one of them: the server then runs
// with the management tool only.
func (c *Config) Validate() []string {
	var issues []string

	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "", "http", "stdio":
	default:
		issues = append(issues, fmt.Sprintf("server.transport must be \"http\" or \"stdio\", got %q", c.Server.Transport))
	}
	if !c.IsStdio() && (c.Server.Port < 1 || c.Server.Port > 65535) {
		issues = append(issues, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Spec.URL == "" && c.Spec.IndexURL != "" && c.Spec.Service == "" {
		issues = append(issues, "spec.service is required when spec.index_url is set")
	}
	if c.API.RateLimit < 0 {
		issues = append(issues, "api.rate_limit must not be negative")
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "", "file":
		if c.Storage.File.Path == "" {
			issues = append(issues, "storage.file.path is required for the file backend")
		}
	case "badger":
		if c.Storage.Badger.Path == "" {
			issues = append(issues, "storage.badger.path is required for the badger backend")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			issues = append(issues, "storage.redis.addr is required for the redis backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("storage.backend must be file, badger or redis, got %q", c.Storage.Backend))
	}

	return issues
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
