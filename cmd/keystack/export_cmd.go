package main

import (
	"keystack/internal/app"

	"github.com/spf13/cobra"
)

func newExportCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Read published exports",
	}

	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Resolve an export by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config()
			deps, err := app.Build(commandContext(cmd), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			out, err := deps.Lookup.Get(commandContext(cmd), targetOf(cfg), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the exports of the stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config()
			deps, err := app.Build(commandContext(cmd), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			out, err := deps.Lookup.ListByStack(commandContext(cmd), targetOf(cfg))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.AddCommand(get, list)
	return cmd
}
