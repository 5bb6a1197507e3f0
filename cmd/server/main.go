package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomwire/internal/app"
	"github.com/vovakirdan/roomwire/internal/config"
	"github.com/vovakirdan/roomwire/internal/log"
)

type rootFlags struct {
	configPath string
	overrides  config.Config
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "roomwire",
		Short:         "Real-time chat server with rooms, delivery receipts and read receipts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to config file (default $ROOMWIRE_CONFIG_DEFAULT_PATH or ./config.yaml)")
	pf.StringVar(&flags.overrides.Addr, "addr", "", "HTTP listen address")
	pf.StringVar(&flags.overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.overrides.Store.Driver, "store", "", "store driver: sqlite or postgres")
	pf.DurationVar(&flags.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP and websocket server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), flags)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the database schema and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context(), flags)
			},
		},
	)
	return root
}

func loadConfig(flags *rootFlags) (config.Config, *zerolog.Logger, error) {
	bootstrap := log.New("info", "console")

	cfg, path, err := config.Load(bootstrap, flags.configPath)
	if err != nil {
		return cfg, bootstrap, err
	}
	cfg.UpdateFrom(flags.overrides)

	logger := log.New(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("config_path", path).Msg("configuration loaded")
	return cfg, logger, nil
}

func runServe(ctx context.Context, flags *rootFlags) error {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, &cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting roomwire server")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runMigrate(ctx context.Context, flags *rootFlags) error {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return err
	}

	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	logger.Info().Str("driver", cfg.Store.Driver).Msg("schema applied")
	return nil
}
