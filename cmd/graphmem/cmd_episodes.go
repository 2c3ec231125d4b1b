package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"graphmem/internal/store"
)

var episodesCmd = &cobra.Command{
	Use:   "episodes",
	Short: "List, inspect and delete episodes",
}

var episodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent episodes stored by the memory server",
	Args:  cobra.NoArgs,
	RunE:  runEpisodesList,
}

var episodesLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the local journal of submitted episodes",
	Args:  cobra.NoArgs,
	RunE:  runEpisodesLog,
}

var episodesDeleteCmd = &cobra.Command{
	Use:   "delete <uuid>",
	Short: "Delete an episode from the memory server",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpisodesDelete,
}

var episodesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop journal entries older than --older-than",
	Args:  cobra.NoArgs,
	RunE:  runEpisodesPrune,
}

var (
	episodesLast      int
	episodesStatus    string
	episodesOlderThan time.Duration
)

func init() {
	episodesListCmd.Flags().IntVar(&episodesLast, "last", 10, "Number of episodes")
	episodesLogCmd.Flags().IntVar(&episodesLast, "last", 20, "Number of journal entries")
	episodesLogCmd.Flags().StringVar(&episodesStatus, "status", "", "Only show pending, sent or failed entries")
	episodesPruneCmd.Flags().DurationVar(&episodesOlderThan, "older-than", 30*24*time.Hour, "Age of entries to drop")

	episodesCmd.AddCommand(episodesListCmd)
	episodesCmd.AddCommand(episodesLogCmd)
	episodesCmd.AddCommand(episodesDeleteCmd)
	episodesCmd.AddCommand(episodesPruneCmd)
}

func runEpisodesList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	episodes, err := a.graph.GetEpisodes(ctx, cfg.Defaults.GroupID, episodesLast)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, episodes)
	}
	if len(episodes) == 0 {
		fmt.Fprintln(out, "No episodes found.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UUID\tNAME\tSOURCE\tCREATED")
	for _, e := range episodes {
		created := ""
		if !e.CreatedAt.IsZero() {
			created = e.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.UUID, e.Name, e.Source, created)
	}
	return tw.Flush()
}

func runEpisodesLog(cmd *cobra.Command, args []string) error {
	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	records, err := journal.ListEpisodes(ctx, store.EpisodeFilter{
		GroupID: groupID,
		Status:  store.Status(episodesStatus),
		Limit:   episodesLast,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "Journal is empty.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSTATUS\tGROUP\tNAME\tDETAIL")
	for _, r := range records {
		detail := r.Response
		if r.Status == store.StatusFailed {
			detail = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.GroupID, r.Name, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	stats, err := journal.EpisodeStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d sent, %d pending, %d failed\n",
		stats[store.StatusSent], stats[store.StatusPending], stats[store.StatusFailed])
	return nil
}

func runEpisodesDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	msg, err := a.graph.DeleteEpisode(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func runEpisodesPrune(cmd *cobra.Command, args []string) error {
	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	n, err := journal.PruneEpisodes(ctx, time.Now().Add(-episodesOlderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d journal entries\n", n)
	return nil
}
