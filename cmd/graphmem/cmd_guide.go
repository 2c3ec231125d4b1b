package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"graphmem/internal/guidance"
	"graphmem/internal/store"
)

var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Print usage guidance for agents, including the loaded custom types",
	Args:  cobra.NoArgs,
	RunE:  runGuide,
}

var (
	guideTypesFile string
	guideTypeSet   string
	guideSchemas   bool
)

func init() {
	guideCmd.Flags().StringVar(&guideTypesFile, "types", "", "Custom type set file")
	guideCmd.Flags().StringVar(&guideTypeSet, "type-set", "", "Registered type set name")
	guideCmd.Flags().BoolVar(&guideSchemas, "schemas", false, "Include JSON schemas for each type")
	guideCmd.MarkFlagsMutuallyExclusive("types", "type-set")
}

func runGuide(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	var journal *store.Store
	if guideTypeSet != "" {
		var err error
		if journal, err = openJournal(cfg); err != nil {
			return err
		}
		defer journal.Close()
	}

	types, _, err := loadTypes(ctx, journal, guideTypeSet, guideTypesFile)
	if err != nil {
		return err
	}

	text, err := guidance.Render(guidance.Options{
		GroupID:        cfg.Defaults.GroupID,
		Types:          types,
		IncludeSchemas: guideSchemas,
	})
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}
