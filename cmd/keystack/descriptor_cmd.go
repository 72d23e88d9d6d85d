package main

import (
	"encoding/json"
	"fmt"

	"keystack/internal/app"
	"keystack/internal/usecase"

	"github.com/spf13/cobra"
)

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Build and guard the key descriptor, reporting every violation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, target, key, err := opts.load()
			if err != nil {
				return err
			}
			deps, err := app.Build(commandContext(cmd), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			plan, err := deps.Provision.Validate(commandContext(cmd), target, key)
			if err != nil {
				return err
			}
			printWarnings(cmd, plan)
			return printJSON(cmd.OutOrStdout(), map[string]any{"descriptor": plan.Descriptor, "output": plan.Output})
		},
	}
}

func newSynthCmd(opts *options) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write the CloudFormation template of the key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, target, key, err := opts.load()
			if err != nil {
				return err
			}
			deps, err := app.Build(commandContext(cmd), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			plan, err := deps.Provision.Plan(commandContext(cmd), target, key)
			if err != nil {
				return err
			}
			printWarnings(cmd, plan)
			fmt.Fprintf(cmd.ErrOrStderr(), "fingerprint %s\n", plan.Fingerprint)
			return writeOutput(cmd.OutOrStdout(), outPath, plan.Template)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "template file (default stdout)")
	return cmd
}

func printWarnings(cmd *cobra.Command, plan usecase.Plan) {
	for _, w := range plan.Warnings() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning %s: %s\n", w.Code, w.Message)
	}
}

type planOutput struct {
	usecase.Plan
	Template json.RawMessage `json:"template"`
}

func newPlanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Build, guard and synthesize the key without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, target, key, err := opts.load()
			if err != nil {
				return err
			}
			deps, err := app.Build(commandContext(cmd), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			plan, err := deps.Provision.Plan(commandContext(cmd), target, key)
			if err != nil {
				return err
			}
			printWarnings(cmd, plan)
			return printJSON(cmd.OutOrStdout(), planOutput{Plan: plan, Template: json.RawMessage(plan.Template)})
		},
	}
}

func newApplyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Provision the key and publish its export",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, target, key, err := opts.load()
			if err != nil {
				return err
			}
			deps, err := app.Build(commandContext(cmd), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			receipt, err := deps.Provision.Provision(commandContext(cmd), target, key)
			if err != nil {
				return err
			}
			printWarnings(cmd, receipt.Plan)
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}
}
