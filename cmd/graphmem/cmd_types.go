package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "Validate, inspect and register custom entity/edge types",
}

var typesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a custom type set file (JSON or YAML)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTypesValidate,
}

var typesSchemaCmd = &cobra.Command{
	Use:   "schema <file>",
	Short: "Print the JSON schema of every type in a type set file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTypesSchema,
}

var typesRegisterCmd = &cobra.Command{
	Use:   "register <name> <file>",
	Short: "Store a validated type set in the journal under a name",
	Args:  cobra.ExactArgs(2),
	RunE:  runTypesRegister,
}

var typesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered type sets",
	Args:  cobra.NoArgs,
	RunE:  runTypesList,
}

var typesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a registered type set",
	Args:  cobra.ExactArgs(1),
	RunE:  runTypesDelete,
}

var typesDescription string

func init() {
	typesRegisterCmd.Flags().StringVar(&typesDescription, "description", "", "Description of the type set")

	typesCmd.AddCommand(typesValidateCmd)
	typesCmd.AddCommand(typesSchemaCmd)
	typesCmd.AddCommand(typesRegisterCmd)
	typesCmd.AddCommand(typesListCmd)
	typesCmd.AddCommand(typesDeleteCmd)
}

func runTypesValidate(cmd *cobra.Command, args []string) error {
	set, err := loadTypesFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	warnings := set.Lint()

	if jsonOutput {
		return printJSON(out, map[string]interface{}{
			"valid":        true,
			"entity_types": set.EntityNames(),
			"edge_types":   set.EdgeNames(),
			"warnings":     warnings,
		})
	}

	fmt.Fprintf(out, "%s: valid (%d entity types, %d edge types, %d edge map entries)\n",
		args[0], len(set.Entities), len(set.Edges), len(set.EdgeMap))
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}

func runTypesSchema(cmd *cobra.Command, args []string) error {
	set, err := loadTypesFile(args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), set.JSONSchema())
}

func runTypesRegister(cmd *cobra.Command, args []string) error {
	name, file := args[0], args[1]
	set, err := loadTypesFile(file)
	if err != nil {
		return err
	}

	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()
	if err := journal.SaveTypeSet(ctx, name, typesDescription, set); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered type set %s (%d entity types, %d edge types)\n", name, len(set.Entities), len(set.Edges))
	return nil
}

func runTypesList(cmd *cobra.Command, args []string) error {
	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()
	sets, err := journal.ListTypeSets(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, sets)
	}
	if len(sets) == 0 {
		fmt.Fprintln(out, "No type sets registered.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENTITIES\tEDGES\tUPDATED\tDESCRIPTION")
	for _, s := range sets {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", s.Name, s.EntityCount, s.EdgeCount, s.UpdatedAt.Format("2006-01-02 15:04"), s.Description)
	}
	return tw.Flush()
}

func runTypesDelete(cmd *cobra.Command, args []string) error {
	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()
	if err := journal.DeleteTypeSet(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted type set %s\n", args[0])
	return nil
}
