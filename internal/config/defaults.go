package config

import "github.com/bobmcallan/vire-openapi-mcp/internal/common"

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      4245,
			Host:      "localhost",
			Transport: "http",
		},
		Spec: SpecConfig{
			MaxPages: 10,
			Timeout:  "30s",
		},
		API: APIConfig{
			Headers: map[string]string{},
			Timeout: "300s",
		},
		MCP: MCPConfig{
			Name:              "vire-openapi-mcp",
			ValidateArguments: true,
			ManageToolName:    "manage_resources",
		},
		Storage: StorageConfig{
			Backend: "file",
			File: FileConfig{
				Path: "./data/enabled_resources.json",
			},
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  "vire-openapi-mcp:enabled_resources",
			},
		},
		Logging: common.LoggingConfig{
			Level:   "info",
			Format:  "text",
			Outputs: []string{"console"},
		},
	}
}
