package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"repo-rag/internal/config"
	"repo-rag/internal/models"
	"repo-rag/internal/observability"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, models.ErrConfiguration) {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		} else {
			log.Error().Err(err).Msg("Command failed")
		}
		stop()
		os.Exit(1)
	}
}

type app struct {
	configPath string
	cfg        *config.Config
	closeLog   func() error
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "repo-rag",
		Short:         "Answer questions about GitHub repositories from their indexed code and docs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			closer, err := observability.SetupLogger(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.closeLog = closer.Close
			log.Debug().Str("config", a.configPath).Msg("Loaded config")
			return cfg.Validate()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "path to the YAML config file")

	root.AddCommand(
		newIndexCmd(a),
		newQueryCmd(a),
		newStatsCmd(a),
		newPurgeCmd(a),
	)
	return root
}
