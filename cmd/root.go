// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
)

type contextKey string

// flagConfigKeys maps command flags onto configuration keys. Only the flags
// of the executing command are bound.
var flagConfigKeys = map[string]string{
	"source-root":          "features.source_root",
	"confidence-threshold": "correlation.partition.confidence_threshold",
	"fp-threshold":         "correlation.partition.fp_threshold",
	"min-tools":            "correlation.fusion.min_tools_for_validation",
	"concurrency":          "engine.worker_concurrency",
	"format":               "report.format",
	"output":               "report.output",
}

const configKey contextKey = "config"

// NewRootCommand builds a fresh command tree. Each call gets its own viper
// instance so flags from one execution never leak into the next.
func NewRootCommand() *cobra.Command {
	return newRootCmd(NewStoreProvider())
}

func newRootCmd(provider storeProvider) *cobra.Command {
	var cfgFile string
	v := viper.New()
	config.SetDefaults(v)

	rootCmd := &cobra.Command{
		Use:   "scalpel-audit",
		Short: "Correlates smart contract analyzer findings into deduplicated, calibrated clusters.",
		Long:  `scalpel-audit merges the output of several static analyzers run against the same
contracts. Findings describing the same vulnerability are clustered, their confidences
are fused, code context around each cluster adjusts its false positive probability and
the result is split into actionable findings and likely false positives.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This function runs before any command, setting up config and logging.
			bindFlags(v, cmd.Flags(), flagConfigKeys)
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				// Initialize a fallback logger if the config is unusable.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scalpel-audit"})
				return err
			}
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting scalpel-audit", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newCorrelateCmd(provider),
		newEvaluateCmd(),
		newReportCmd(provider),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with ctx and logs a failure before returning it.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SCALPEL_AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}

// getConfigFromContext returns the configuration PersistentPreRunE stored.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not found in command context")
	}
	return cfg, nil
}

// bindFlags maps command flags onto configuration keys so a flag set on the
// command line overrides the config file and environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}
