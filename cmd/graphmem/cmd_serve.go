package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"graphmem/internal/logging"
	"graphmem/internal/proxy"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the memory graph to agents as an MCP server",
	Long: `Runs an MCP server that fronts the memory server. add_memory calls are
checked against the custom type rules before they are forwarded, and the
default type set is applied when a call carries none.

With --transport sse the server also exposes /healthz and /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveTransport string
	serveListen    string
	serveTypesFile string
	serveTypeSet   string
)

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "stdio or sse (default from config)")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address for sse")
	serveCmd.Flags().StringVar(&serveTypesFile, "types", "", "Default custom type set file")
	serveCmd.Flags().StringVar(&serveTypeSet, "type-set", "", "Default registered type set")
	serveCmd.MarkFlagsMutuallyExclusive("types", "type-set")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveTransport != "" {
		cfg.Proxy.Transport = serveTransport
	}
	if serveListen != "" {
		cfg.Proxy.Listen = serveListen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	types, typesName, err := loadTypes(ctx, a.journal, serveTypeSet, serveTypesFile)
	if err != nil {
		return err
	}

	srv, err := proxy.New(proxy.Options{
		Graph:     a.graph,
		Upstream:  a.upstream,
		GroupID:   cfg.Defaults.GroupID,
		Types:     types,
		TypesName: typesName,
	})
	if err != nil {
		return err
	}

	typesPath := serveTypesFile
	if typesPath == "" && serveTypeSet == "" {
		typesPath = cfg.TypesFile
	}
	if cfg.Proxy.WatchTypes && typesPath != "" {
		watcher, err := proxy.NewTypesWatcher(typesPath, srv.SetTypes)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	switch cfg.Proxy.Transport {
	case "sse":
		return srv.ServeSSE(ctx, cfg.Proxy.Listen, cfg.Proxy.BaseURL)
	case "stdio", "":
		logging.Boot("graphmem %s serving over stdio", proxy.Version)
		return srv.ServeStdio(ctx)
	default:
		return fmt.Errorf("unknown transport %q", cfg.Proxy.Transport)
	}
}
