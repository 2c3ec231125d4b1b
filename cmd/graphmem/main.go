package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"graphmem/internal/config"
	"graphmem/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration
	groupID    string
	jsonOutput bool

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "graphmem",
	Short: "graphmem - typed client and MCP proxy for a knowledge-graph memory server",
	Long: `graphmem talks to a temporal knowledge-graph memory server over MCP.

It validates custom entity and edge types locally, submits episodes,
searches nodes and facts, keeps a local journal of what was sent, and can
serve the graph to agents as an MCP server of its own.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if groupID != "" {
			cfg.Defaults.GroupID = groupID
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().StringVarP(&groupID, "group", "g", "", "Graph group id (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(episodesCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(guideCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
