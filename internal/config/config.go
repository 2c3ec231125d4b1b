package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"graphmem/internal/logging"
	"graphmem/internal/validation"
)

// DefaultPath is where the CLI looks for configuration when --config is unset.
const DefaultPath = "graphmem.yaml"

// Config holds all graphmem configuration.
type Config struct {
	// Upstream memory-graph MCP server
	Server ServerConfig `yaml:"server"`

	// Tool names on the upstream server
	Tools ToolNames `yaml:"tools"`

	// Defaults applied to requests that leave fields unset
	Defaults DefaultsConfig `yaml:"defaults"`

	// Custom type set file loaded by add and serve (JSON or YAML)
	TypesFile string `yaml:"types_file"`

	// Local journal
	Database DatabaseConfig `yaml:"database"`

	// Search result cache
	Cache CacheConfig `yaml:"cache"`

	// Circuit breaker around upstream tool calls
	Breaker BreakerConfig `yaml:"breaker"`

	// MCP proxy served to agents
	Proxy ProxyConfig `yaml:"proxy"`

	// Logging
	Logging logging.Config `yaml:"logging"`
}

// ServerConfig describes how to reach the upstream MCP server.
type ServerConfig struct {
	ID       string            `yaml:"id" validate:"required"`
	Protocol string            `yaml:"protocol" validate:"oneof=http stdio sse"`
	BaseURL  string            `yaml:"base_url" validate:"required_unless=Protocol stdio,omitempty,url"`
	Command  string            `yaml:"command" validate:"required_if=Protocol stdio"` // stdio only
	Timeout  string            `yaml:"timeout"`                                       // e.g. "30s", "2m"
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// ToolNames maps graphmem operations to upstream tool names.
type ToolNames struct {
	AddMemory        string `yaml:"add_memory" validate:"required"`
	SearchNodes      string `yaml:"search_nodes" validate:"required"`
	SearchFacts      string `yaml:"search_facts" validate:"required"`
	GetEpisodes      string `yaml:"get_episodes" validate:"required"`
	DeleteEpisode    string `yaml:"delete_episode" validate:"required"`
	GetEntityEdge    string `yaml:"get_entity_edge" validate:"required"`
	DeleteEntityEdge string `yaml:"delete_entity_edge" validate:"required"`
	ClearGraph       string `yaml:"clear_graph" validate:"required"`
}

// DefaultsConfig holds request defaults.
type DefaultsConfig struct {
	GroupID  string `yaml:"group_id" validate:"groupid"`
	Source   string `yaml:"source" validate:"omitempty,oneof=text json message"`
	MaxNodes int    `yaml:"max_nodes" validate:"gte=1,lte=100"`
	MaxFacts int    `yaml:"max_facts" validate:"gte=1,lte=100"`
}

// DatabaseConfig configures the journal database.
type DatabaseConfig struct {
	Path   string `yaml:"path" validate:"required"`
	Driver string `yaml:"driver" validate:"omitempty,oneof=sqlite sqlite3"` // sqlite = modernc, sqlite3 = mattn
}

// CacheConfig configures the search cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TTL        string `yaml:"ttl"`
	MaxEntries int64  `yaml:"max_entries" validate:"gte=0"`
}

// BreakerConfig configures the upstream circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32 `yaml:"max_requests"`      // allowed through while half-open
	Interval         string `yaml:"interval"`          // closed-state counter reset period
	Timeout          string `yaml:"timeout"`           // open-state duration
	FailureThreshold uint32 `yaml:"failure_threshold"` // consecutive failures that trip it
}

// ProxyConfig configures `graphmem serve`.
type ProxyConfig struct {
	Transport  string `yaml:"transport" validate:"oneof=stdio sse"`
	Listen     string `yaml:"listen" validate:"required_if=Transport sse,omitempty,hostname_port"`
	BaseURL    string `yaml:"base_url"` // public URL advertised to SSE clients
	WatchTypes bool   `yaml:"watch_types"`
}

// DefaultToolNames returns the tool names of the reference memory-graph server.
func DefaultToolNames() ToolNames {
	return ToolNames{
		AddMemory:        "add_memory",
		SearchNodes:      "search_memory_nodes",
		SearchFacts:      "search_memory_facts",
		GetEpisodes:      "get_episodes",
		DeleteEpisode:    "delete_episode",
		GetEntityEdge:    "get_entity_edge",
		DeleteEntityEdge: "delete_entity_edge",
		ClearGraph:       "clear_graph",
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ID:       "graph",
			Protocol: "sse",
			BaseURL:  "http://localhost:8000/sse",
			Timeout:  "30s",
		},
		Tools: DefaultToolNames(),
		Defaults: DefaultsConfig{
			Source:   "text",
			MaxNodes: 10,
			MaxFacts: 10,
		},
		Database: DatabaseConfig{
			Path:   ".graphmem/journal.db",
			Driver: "sqlite",
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        "30s",
			MaxEntries: 1000,
		},
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         "60s",
			Timeout:          "30s",
			FailureThreshold: 5,
		},
		Proxy: ProxyConfig{
			Transport:  "stdio",
			Listen:     "127.0.0.1:8765",
			WatchTypes: true,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		logging.Get(logging.CategoryBoot).Debug("No config at %s, using defaults", path)
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies GRAPHMEM_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("GRAPHMEM_SERVER_URL"); url != "" {
		c.Server.BaseURL = url
	}
	if p := os.Getenv("GRAPHMEM_PROTOCOL"); p != "" {
		c.Server.Protocol = p
	}
	if cmd := os.Getenv("GRAPHMEM_SERVER_COMMAND"); cmd != "" {
		c.Server.Command = cmd
	}
	if token := os.Getenv("GRAPHMEM_AUTH_TOKEN"); token != "" {
		if c.Server.Headers == nil {
			c.Server.Headers = make(map[string]string)
		}
		c.Server.Headers["Authorization"] = "Bearer " + token
	}
	if g := os.Getenv("GRAPHMEM_GROUP_ID"); g != "" {
		c.Defaults.GroupID = g
	}
	if f := os.Getenv("GRAPHMEM_TYPES_FILE"); f != "" {
		c.TypesFile = f
	}
	if path := os.Getenv("GRAPHMEM_DB"); path != "" {
		c.Database.Path = path
	}
	if d := os.Getenv("GRAPHMEM_DB_DRIVER"); d != "" {
		c.Database.Driver = d
	}
	if v := os.Getenv("GRAPHMEM_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = b
		}
	}
	if l := os.Getenv("GRAPHMEM_LOG_LEVEL"); l != "" {
		c.Logging.Level = l
	}
	if addr := os.Getenv("GRAPHMEM_PROXY_LISTEN"); addr != "" {
		c.Proxy.Listen = addr
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validation.Get().Struct(c); err != nil {
		return err
	}
	for name, d := range map[string]string{
		"server.timeout":   c.Server.Timeout,
		"cache.ttl":        c.Cache.TTL,
		"breaker.interval": c.Breaker.Interval,
		"breaker.timeout":  c.Breaker.Timeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, d, err)
		}
	}
	return nil
}

// GetServerTimeout returns the upstream timeout as a duration.
func (c *Config) GetServerTimeout() time.Duration {
	return parseDuration(c.Server.Timeout, 30*time.Second)
}

// GetCacheTTL returns the search cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Cache.TTL, 30*time.Second)
}

// GetBreakerInterval returns the breaker's closed-state reset interval.
func (c *Config) GetBreakerInterval() time.Duration {
	return parseDuration(c.Breaker.Interval, 60*time.Second)
}

// GetBreakerTimeout returns how long the breaker stays open.
func (c *Config) GetBreakerTimeout() time.Duration {
	return parseDuration(c.Breaker.Timeout, 30*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
