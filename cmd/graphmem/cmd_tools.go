package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"graphmem/internal/mcp"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the memory server advertises",
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

var (
	toolsCompact bool
	toolsSchemas bool
)

func init() {
	toolsCmd.Flags().BoolVar(&toolsCompact, "compact", false, "One line per tool")
	toolsCmd.Flags().BoolVar(&toolsSchemas, "schemas", false, "Include input schemas")
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	tools := a.upstream.Tools()
	renderer := mcp.NewToolRenderer()
	renderer.SetIncludeSchemas(toolsSchemas)

	out := cmd.OutOrStdout()
	switch {
	case jsonOutput:
		s, err := renderer.RenderJSON(tools)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
	case toolsCompact:
		fmt.Fprint(out, renderer.RenderCompact(tools))
	default:
		fmt.Fprint(out, renderer.Render(tools))
	}
	fmt.Fprintf(out, "breaker: %s\n", a.upstream.BreakerState())
	return nil
}
