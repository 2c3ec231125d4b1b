package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"graphmem/internal/memgraph"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the memory graph",
}

var searchNodesCmd = &cobra.Command{
	Use:   "nodes <query>",
	Short: "Search entity nodes",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearchNodes,
}

var searchFactsCmd = &cobra.Command{
	Use:   "facts <query>",
	Short: "Search facts (relationships between entities)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearchFacts,
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search nodes and facts together",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecall,
}

var (
	searchMax    int
	searchCenter string
	searchEntity string
	searchGroups []string
)

func init() {
	for _, c := range []*cobra.Command{searchNodesCmd, searchFactsCmd} {
		c.Flags().IntVar(&searchMax, "max", 0, "Maximum results (default from config)")
		c.Flags().StringVar(&searchCenter, "center", "", "Rank by distance from this node UUID")
		c.Flags().StringSliceVar(&searchGroups, "groups", nil, "Groups to search (default: configured group)")
	}
	searchNodesCmd.Flags().StringVar(&searchEntity, "entity", "", "Only return nodes of this entity type")
	recallCmd.Flags().StringSliceVar(&searchGroups, "groups", nil, "Groups to search (default: configured group)")

	searchCmd.AddCommand(searchNodesCmd)
	searchCmd.AddCommand(searchFactsCmd)
}

func runSearchNodes(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	nodes, err := a.graph.SearchNodes(ctx, memgraph.NodeQuery{
		Query:          strings.Join(args, " "),
		GroupIDs:       searchGroups,
		MaxNodes:       searchMax,
		CenterNodeUUID: searchCenter,
		EntityType:     searchEntity,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, nodes)
	}
	printNodes(out, nodes)
	return nil
}

func runSearchFacts(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	facts, err := a.graph.SearchFacts(ctx, memgraph.FactQuery{
		Query:          strings.Join(args, " "),
		GroupIDs:       searchGroups,
		MaxFacts:       searchMax,
		CenterNodeUUID: searchCenter,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, facts)
	}
	printFacts(out, facts)
	return nil
}

func runRecall(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := a.graph.Recall(ctx, strings.Join(args, " "), searchGroups...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, rec)
	}
	fmt.Fprintln(out, "## Nodes")
	printNodes(out, rec.Nodes)
	fmt.Fprintln(out, "\n## Facts")
	printFacts(out, rec.Facts)
	return nil
}

func printNodes(w io.Writer, nodes []memgraph.Node) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, "No relevant nodes found.")
		return
	}
	for _, n := range nodes {
		fmt.Fprintf(w, "- %s [%s] %s\n", n.Name, strings.Join(n.Labels, ","), n.UUID)
		if n.Summary != "" {
			fmt.Fprintf(w, "  %s\n", n.Summary)
		}
	}
}

func printFacts(w io.Writer, facts []memgraph.Fact) {
	if len(facts) == 0 {
		fmt.Fprintln(w, "No relevant facts found.")
		return
	}
	now := time.Now()
	for _, f := range facts {
		state := ""
		if !f.Current(now) {
			state = " (no longer valid)"
		}
		fmt.Fprintf(w, "- %s%s\n  %s %s\n", f.Fact, state, f.Name, f.UUID)
	}
}
