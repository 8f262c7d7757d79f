package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/app"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/signal"
	"github.com/BitcoinUnlimited/ElectrsCash/pkg/config"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "electrscashd",
		Short: "address-indexed UTXO query server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogging(cfg.Logging.Level, cfg.Logging.File)

	log.WithField("network", cfg.Network).Info("starting electrscashd")

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}

	ctx, compactRequests, stop := signal.Context()
	defer stop()

	if err := a.Run(ctx, compactRequests); err != nil {
		log.WithError(err).Error("electrscashd exited with error")
		return err
	}
	return nil
}

func setupLogging(level, file string) {
	if lvl, err := log.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.WithError(err).Warn("could not open log file, logging to stderr")
			return
		}
		log.SetOutput(f)
	}
}
