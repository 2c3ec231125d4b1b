package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphmem/internal/mcp"
	"graphmem/internal/validation"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "search_memory_nodes", cfg.Tools.SearchNodes)
	assert.Equal(t, 30*time.Second, cfg.GetServerTimeout())
	assert.Equal(t, 30*time.Second, cfg.GetCacheTTL())
	assert.Equal(t, 60*time.Second, cfg.GetBreakerInterval())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphmem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  protocol: http
  base_url: http://graph.internal:9000/mcp
tools:
  search_nodes: find_nodes
defaults:
  group_id: team-a
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Server.Protocol)
	assert.Equal(t, "http://graph.internal:9000/mcp", cfg.Server.BaseURL)
	assert.Equal(t, "graph", cfg.Server.ID, "unset keys keep defaults")
	assert.Equal(t, "find_nodes", cfg.Tools.SearchNodes)
	assert.Equal(t, "add_memory", cfg.Tools.AddMemory)
	assert.Equal(t, "team-a", cfg.Defaults.GroupID)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "graphmem.yaml")
	cfg := DefaultConfig()
	cfg.Defaults.GroupID = "saved"
	cfg.Server.Headers = map[string]string{"X-Team": "core"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.Defaults.GroupID)
	assert.Equal(t, "core", loaded.Server.Headers["X-Team"])
}

func TestEnvOverrides(t *testing.T) {
	t.Run("server settings", func(t *testing.T) {
		t.Setenv("GRAPHMEM_SERVER_URL", "http://env:8000/sse")
		t.Setenv("GRAPHMEM_PROTOCOL", "http")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "http://env:8000/sse", cfg.Server.BaseURL)
		assert.Equal(t, "http", cfg.Server.Protocol)
	})

	t.Run("auth token becomes bearer header", func(t *testing.T) {
		t.Setenv("GRAPHMEM_AUTH_TOKEN", "secret")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "Bearer secret", cfg.Server.Headers["Authorization"])
	})

	t.Run("defaults and storage", func(t *testing.T) {
		t.Setenv("GRAPHMEM_GROUP_ID", "env-group")
		t.Setenv("GRAPHMEM_DB", "/tmp/env.db")
		t.Setenv("GRAPHMEM_DB_DRIVER", "sqlite3")
		t.Setenv("GRAPHMEM_TYPES_FILE", "types.yaml")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "env-group", cfg.Defaults.GroupID)
		assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
		assert.Equal(t, "sqlite3", cfg.Database.Driver)
		assert.Equal(t, "types.yaml", cfg.TypesFile)
	})

	t.Run("invalid cache flag is ignored", func(t *testing.T) {
		t.Setenv("GRAPHMEM_CACHE", "maybe")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Cache.Enabled)
	})

	t.Run("cache can be disabled", func(t *testing.T) {
		t.Setenv("GRAPHMEM_CACHE", "false")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.False(t, cfg.Cache.Enabled)
	})

	t.Run("applied when file is missing", func(t *testing.T) {
		t.Setenv("GRAPHMEM_LOG_LEVEL", "debug")

		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown protocol", func(c *Config) { c.Server.Protocol = "grpc" }, "Config.server.protocol"},
		{"http without url", func(c *Config) { c.Server.Protocol = "http"; c.Server.BaseURL = "" }, "Config.server.base_url"},
		{"stdio without command", func(c *Config) { c.Server.Protocol = "stdio"; c.Server.BaseURL = "" }, "Config.server.command"},
		{"bad group id", func(c *Config) { c.Defaults.GroupID = "has space" }, "Config.defaults.group_id"},
		{"empty tool name", func(c *Config) { c.Tools.SearchFacts = "" }, "Config.tools.search_facts"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, "Config.database.driver"},
		{"max nodes too large", func(c *Config) { c.Defaults.MaxNodes = 1000 }, "Config.defaults.max_nodes"},
		{"sse proxy without listen", func(c *Config) { c.Proxy.Transport = "sse"; c.Proxy.Listen = "" }, "Config.proxy.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verrs validation.Errors
			require.ErrorAs(t, err, &verrs)
			var fields []string
			for _, fe := range verrs {
				fields = append(fields, fe.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	t.Run("stdio with command", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Protocol = "stdio"
		cfg.Server.BaseURL = ""
		cfg.Server.Command = "graph-server --stdio"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("bad duration", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.TTL = "soon"
		assert.ErrorContains(t, cfg.Validate(), "cache.ttl")
	})
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 30*time.Second, cfg.GetServerTimeout())
	cfg.Server.Timeout = "-5s"
	assert.Equal(t, 30*time.Second, cfg.GetServerTimeout())
	cfg.Server.Timeout = "2m"
	assert.Equal(t, 2*time.Minute, cfg.GetServerTimeout())
}

func TestToMCPServerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Headers = map[string]string{"Authorization": "Bearer x"}

	sc := cfg.ToMCPServerConfig()
	assert.Equal(t, "graph", sc.ID)
	assert.Equal(t, string(mcp.ProtocolSSE), sc.Protocol)
	assert.Equal(t, "http://localhost:8000/sse", sc.BaseURL)
	assert.Equal(t, "Bearer x", sc.Headers["Authorization"])
	assert.True(t, sc.Enabled)

	cfg.Server.Protocol = ""
	cfg.Server.Timeout = ""
	sc = cfg.ToMCPServerConfig()
	assert.Equal(t, string(mcp.ProtocolHTTP), sc.Protocol)
	assert.Equal(t, "30s", sc.Timeout)

	bc := cfg.ToBreakerConfig()
	assert.Equal(t, uint32(5), bc.FailureThreshold)
	assert.Equal(t, 30*time.Second, bc.Timeout)
}
