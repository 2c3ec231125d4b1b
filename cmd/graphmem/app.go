package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"graphmem/internal/config"
	"graphmem/internal/customtypes"
	"graphmem/internal/episode"
	"graphmem/internal/logging"
	"graphmem/internal/mcp"
	"graphmem/internal/memgraph"
	"graphmem/internal/store"
)

// app holds the wired components a command needs.
type app struct {
	cfg      *config.Config
	journal  *store.Store
	tools    *mcp.MCPToolStore
	manager  *mcp.MCPClientManager
	upstream *mcp.ServerAdapter
	graph    *memgraph.Client
}

// openJournal opens the local SQLite journal.
func openJournal(c *config.Config) (*store.Store, error) {
	if dir := filepath.Dir(c.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	return store.Open(c.Database.Driver, c.Database.Path)
}

// openApp wires config, journal, MCP client and graph client, and
// connects to the memory server.
func openApp(ctx context.Context, c *config.Config) (*app, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "connect")
	defer timer.Stop()

	journal, err := openJournal(c)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: c, journal: journal}

	a.tools, err = mcp.NewMCPToolStore(journal.DB())
	if err != nil {
		a.close()
		return nil, err
	}

	serverCfg := c.ToMCPServerConfig()
	a.manager = mcp.NewMCPClientManager(a.tools, map[string]mcp.MCPServerConfig{serverCfg.ID: serverCfg})
	a.manager.SetBreakerConfig(c.ToBreakerConfig())
	if err := a.manager.Connect(ctx, serverCfg.ID); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect to memory server %s: %w", serverCfg.ID, err)
	}
	a.upstream = mcp.NewServerAdapter(a.manager, serverCfg.ID)

	opts := memgraph.Options{
		Tools: memgraph.ToolNames(c.Tools),
		Defaults: episode.Defaults{
			GroupID: c.Defaults.GroupID,
			Source:  episode.Source(c.Defaults.Source),
		},
		MaxNodes:        c.Defaults.MaxNodes,
		MaxFacts:        c.Defaults.MaxFacts,
		CacheMaxEntries: c.Cache.MaxEntries,
		Journal:         journal,
	}
	if c.Cache.Enabled {
		opts.CacheTTL = c.GetCacheTTL()
	}
	a.graph, err = memgraph.New(a.upstream, opts)
	if err != nil {
		a.close()
		return nil, err
	}

	for _, name := range []string{c.Tools.AddMemory, c.Tools.SearchNodes, c.Tools.SearchFacts} {
		if !a.upstream.HasTool(name) {
			logging.Get(logging.CategoryBoot).Warn("Memory server %s does not advertise tool %q", serverCfg.ID, name)
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.graph != nil {
		a.graph.Close()
	}
	if a.manager != nil {
		a.manager.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to close journal: %v", err)
		}
	}
}

// commandContext returns a context cancelled by the timeout flag or by
// SIGINT/SIGTERM.
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

// loadTypes resolves the type set for a command: a registered set by name,
// a file, or the config's types_file, in that order. It returns the set
// and the name to journal it under.
func loadTypes(ctx context.Context, journal *store.Store, setName, file string) (*customtypes.TypeSet, string, error) {
	switch {
	case setName != "":
		if journal == nil {
			return nil, "", fmt.Errorf("type set %q: journal not available", setName)
		}
		set, err := journal.GetTypeSet(ctx, setName)
		if err != nil {
			return nil, "", fmt.Errorf("type set %q: %w", setName, err)
		}
		return set, setName, nil
	case file != "":
		set, err := loadTypesFile(file)
		return set, filepath.Base(file), err
	case cfg != nil && cfg.TypesFile != "":
		set, err := loadTypesFile(cfg.TypesFile)
		return set, filepath.Base(cfg.TypesFile), err
	}
	return nil, "", nil
}

func loadTypesFile(path string) (*customtypes.TypeSet, error) {
	set, err := customtypes.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, w := range set.Lint() {
		logging.Get(logging.CategoryTypes).Warn("%s: %s", filepath.Base(path), w)
	}
	return set, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
