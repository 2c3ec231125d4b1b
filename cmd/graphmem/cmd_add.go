package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"graphmem/internal/episode"
	"graphmem/internal/memgraph"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an episode to the memory graph",
	Long: `Submits an episode for ingestion. The body comes from --body, --body-file,
or stdin when --body-file is "-". Custom types come from --types (a file),
--type-set (a registered set), or the config's types_file.

Example:
  graphmem add --name standup --body "Alice finished the billing migration."
  graphmem add --name order --source json --body-file order.json --types types.yaml
  graphmem add --name runbook --html --body-file runbook.html`,
	Args: cobra.NoArgs,
	RunE: runAdd,
}

var (
	addName              string
	addBody              string
	addBodyFile          string
	addSource            string
	addSourceDescription string
	addUUID              string
	addTypesFile         string
	addTypeSet           string
	addHTML              bool
)

func init() {
	addCmd.Flags().StringVar(&addName, "name", "", "Episode name (required)")
	addCmd.Flags().StringVar(&addBody, "body", "", "Episode body")
	addCmd.Flags().StringVar(&addBodyFile, "body-file", "", "Read the body from a file (- for stdin)")
	addCmd.Flags().StringVar(&addSource, "source", "", "Body kind: text, json or message (default from config)")
	addCmd.Flags().StringVar(&addSourceDescription, "source-description", "", "Where the content came from")
	addCmd.Flags().StringVar(&addUUID, "uuid", "", "Episode UUID")
	addCmd.Flags().StringVar(&addTypesFile, "types", "", "Custom type set file")
	addCmd.Flags().StringVar(&addTypeSet, "type-set", "", "Registered type set name")
	addCmd.Flags().BoolVar(&addHTML, "html", false, "Body is HTML; submit its readable text")
	addCmd.MarkFlagRequired("name")
	addCmd.MarkFlagsMutuallyExclusive("body", "body-file")
	addCmd.MarkFlagsMutuallyExclusive("types", "type-set")
}

func runAdd(cmd *cobra.Command, args []string) error {
	body, err := readBody(cmd.InOrStdin())
	if err != nil {
		return err
	}
	if addHTML {
		if addSource != "" && addSource != string(episode.SourceText) {
			return fmt.Errorf("--html bodies are submitted as text, not %s", addSource)
		}
		if body, err = episode.TextFromHTML(strings.NewReader(body)); err != nil {
			return err
		}
	}

	req := &episode.Request{
		Name:              addName,
		Body:              body,
		SourceDescription: addSourceDescription,
		UUID:              addUUID,
	}
	if addSource != "" {
		if req.Source, err = episode.ParseSource(addSource); err != nil {
			return err
		}
	}

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	types, typesName, err := loadTypes(ctx, a.journal, addTypeSet, addTypesFile)
	if err != nil {
		return err
	}
	req.Types = types

	msg, err := a.graph.AddMemory(ctx, req, memgraph.WithTypeSetName(typesName))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]string{"message": msg, "group_id": req.GroupID})
	}
	fmt.Fprintln(out, msg)
	return nil
}

func readBody(stdin io.Reader) (string, error) {
	switch addBodyFile {
	case "":
		if addBody == "" {
			return "", fmt.Errorf("one of --body or --body-file is required")
		}
		return addBody, nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read body from stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(addBodyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read body: %w", err)
		}
		return string(data), nil
	}
}
