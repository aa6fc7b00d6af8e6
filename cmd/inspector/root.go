package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"label-inspector/internal/domain"
	"label-inspector/internal/infra/config"
)

// Version is the station build version, overridden with -ldflags.
var Version = "0.1.0-dev"

var (
	// cfgPath is the --config flag; empty falls back to INSPECTOR_CONFIG.
	cfgPath string
	// logLevel overrides logger.level when set.
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "inspector",
	Short:         "Label inspection station control shell",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStation(cmd.Context(), runOpts)
	},
}

// Execute runs the root command under a context cancelled by Ctrl+C or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		printFatal(os.Stderr, err, "")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: $INSPECTOR_CONFIG or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")
	addRunFlags(rootCmd)
}

// configPath resolves the --config flag against the environment.
func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.PathFromEnv()
}

// loadConfig loads the config and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w: %w", configPath(), domain.ErrConfigLoad, err)
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	return cfg, nil
}
