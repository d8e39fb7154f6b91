package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/skua-dev/skua/internal/config"
)

var (
	cfgFile string
	verbose bool
	logger  *zap.Logger
	cfg     *config.Config
)

func setupLogger(verbose bool, logCfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	if logCfg != nil && logCfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	return zapConfig.Build()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "skua",
		Short: "Tail live timelines from a Mastodon/Pleroma-compatible server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// The fake server and help need no account config.
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "fake-server" {
				var err error
				logger, err = setupLogger(verbose, nil)
				return err
			}

			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}

			logger, err = setupLogger(verbose, &cfg.Logging)
			return err
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("SKUA_CONFIG"), "config file path (or set SKUA_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(tailCmd())
	rootCmd.AddCommand(fakeServerCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
