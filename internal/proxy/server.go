// Package proxy serves the memory graph to agents as an MCP server.
//
// Agents talk to the proxy instead of the graph server directly. The proxy
// validates episodes and custom types locally, applies the default type
// set, journals submissions and forwards everything else upstream.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"graphmem/internal/customtypes"
	"graphmem/internal/guidance"
	"graphmem/internal/logging"
	"graphmem/internal/memgraph"
)

// Version is reported to MCP clients.
var Version = "dev"

// Upstream reports on the graph server connection. mcp.ServerAdapter
// satisfies it.
type Upstream interface {
	Ping(ctx context.Context) error
	BreakerState() string
}

// Options configures a Server.
type Options struct {
	Graph    *memgraph.Client
	Upstream Upstream
	GroupID  string

	// Types is the default type set for add_memory calls that carry none.
	Types *customtypes.TypeSet
	// TypesName labels the default set in the journal.
	TypesName string
}

// Server is the agent-facing MCP server.
type Server struct {
	graph     *memgraph.Client
	upstream  Upstream
	groupID   string
	typesName string
	types     atomic.Pointer[customtypes.TypeSet]
	mcp       *server.MCPServer
}

// New builds the MCP server and registers its tools.
func New(opts Options) (*Server, error) {
	if opts.Graph == nil {
		return nil, errors.New("proxy: graph client is required")
	}
	s := &Server{
		graph:     opts.Graph,
		upstream:  opts.Upstream,
		groupID:   opts.GroupID,
		typesName: opts.TypesName,
	}
	s.types.Store(opts.Types)

	instructions, err := guidance.Render(guidance.Options{GroupID: opts.GroupID, TypesTool: "memory_guidance"})
	if err != nil {
		return nil, err
	}

	s.mcp = server.NewMCPServer(
		"graphmem",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Types returns the current default type set, possibly nil.
func (s *Server) Types() *customtypes.TypeSet {
	return s.types.Load()
}

// SetTypes replaces the default type set.
func (s *Server) SetTypes(set *customtypes.TypeSet) {
	s.types.Store(set)
	if set.IsEmpty() {
		logging.Proxy("Default custom types cleared")
		return
	}
	logging.Proxy("Default custom types updated: %d entity, %d edge", len(set.Entities), len(set.Edges))
}

// ServeStdio serves MCP over stdin/stdout until ctx is done or input ends.
func (s *Server) ServeStdio(ctx context.Context) error {
	logging.Proxy("Serving MCP over stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// ServeSSE serves MCP over SSE on addr, together with /healthz and
// /metrics, until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sse := s.sseServer(baseURL)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(sse),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Proxy("Serving MCP over SSE on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("proxy server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sse.Shutdown(shutdownCtx); err != nil {
		logging.Get(logging.CategoryProxy).Warn("SSE shutdown: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("proxy shutdown: %w", err)
	}
	logging.Proxy("Proxy stopped")
	return nil
}

func (s *Server) sseServer(baseURL string) *server.SSEServer {
	var opts []server.SSEOption
	if baseURL != "" {
		opts = append(opts, server.WithBaseURL(baseURL))
	}
	return server.NewSSEServer(s.mcp, opts...)
}
