package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Inspect or delete a single fact by UUID",
}

var edgeGetCmd = &cobra.Command{
	Use:   "get <uuid>",
	Short: "Show one entity edge",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdgeGet,
}

var edgeDeleteCmd = &cobra.Command{
	Use:   "delete <uuid>",
	Short: "Delete one entity edge",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdgeDelete,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all data in the memory graph",
	Long: `Deletes every node, edge and episode on the memory server.
This cannot be undone; pass --yes to confirm.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

var clearConfirmed bool

func init() {
	clearCmd.Flags().BoolVar(&clearConfirmed, "yes", false, "Confirm clearing the graph")

	edgeCmd.AddCommand(edgeGetCmd)
	edgeCmd.AddCommand(edgeDeleteCmd)
	rootCmd.AddCommand(edgeCmd)
	rootCmd.AddCommand(clearCmd)
}

func runEdgeGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	fact, err := a.graph.GetEntityEdge(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), fact)
}

func runEdgeDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	msg, err := a.graph.DeleteEntityEdge(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearConfirmed {
		return fmt.Errorf("refusing to clear the graph without --yes")
	}

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	msg, err := a.graph.ClearGraph(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}
