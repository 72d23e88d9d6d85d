package main

import (
	"context"
	"io"
	"os"

	"keystack/internal/config"
	"keystack/internal/domain"
	"keystack/internal/observability/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type options struct {
	keyConfig   string
	stack       string
	account     string
	region      string
	partition   string
	engine      string
	guardBundle string
	noGuard     bool
	logLevel    string
}

func main() {
	_ = godotenv.Load(".env")

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "keystack",
		Short:         "Build, check and provision KMS signing keys and their exports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(logger.Config{Env: "dev", Level: opts.logLevel, ServiceName: "keystack"})
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.keyConfig, "key-config", "", "YAML key configuration (env KEYSTACK_KEY_CONFIG, default the license key)")
	flags.StringVar(&opts.stack, "stack", "", "stack name (env KEYSTACK_STACK)")
	flags.StringVar(&opts.account, "account", "", "target account id (env AWS_ACCOUNT_ID)")
	flags.StringVar(&opts.region, "region", "", "target region (env AWS_REGION)")
	flags.StringVar(&opts.partition, "partition", "", "target partition (env AWS_PARTITION)")
	flags.StringVar(&opts.engine, "engine", "", "provisioning engine: memory|kms|cloudformation (env KEYSTACK_ENGINE)")
	flags.StringVar(&opts.guardBundle, "guard-bundle", "", "rego bundle directory replacing the embedded guard")
	flags.BoolVar(&opts.noGuard, "no-guard", false, "skip the policy guard")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "debug|info|warn|error")

	root.AddCommand(
		newValidateCmd(opts),
		newSynthCmd(opts),
		newPlanCmd(opts),
		newApplyCmd(opts),
		newExportCmd(opts),
		newKeyCmd(opts),
	)
	return root
}

// config merges flags over the environment.
func (o *options) config() config.Config {
	cfg := config.FromEnv()
	if o.keyConfig != "" {
		cfg.KeyConfigPath = o.keyConfig
	}
	if o.stack != "" {
		cfg.StackName = o.stack
	}
	if o.account != "" {
		cfg.AWSAccountID = o.account
	}
	if o.region != "" {
		cfg.AWSRegion = o.region
	}
	if o.partition != "" {
		cfg.AWSPartition = o.partition
	}
	if o.engine != "" {
		cfg.Engine = o.engine
	}
	if o.guardBundle != "" {
		cfg.GuardBundlePath = o.guardBundle
	}
	if o.noGuard {
		cfg.GuardDisabled = true
	}
	return cfg
}

func (o *options) load() (config.Config, domain.Target, config.KeyConfig, error) {
	cfg := o.config()
	key, err := config.LoadKeyConfig(cfg.KeyConfigPath)
	if err != nil {
		return config.Config{}, domain.Target{}, config.KeyConfig{}, err
	}
	return cfg, targetOf(cfg), key, nil
}

func targetOf(cfg config.Config) domain.Target {
	return domain.Target{
		StackName: cfg.StackName,
		Account:   cfg.AWSAccountID,
		Region:    cfg.AWSRegion,
		Partition: cfg.AWSPartition,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
