package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jpalmer/watersmart/internal/poller"
	"github.com/jpalmer/watersmart/internal/publisher"
	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the fetch-and-publish loop as a daemon",
	Long: `Polls the WaterSmart portal on a cron schedule (default: every six hours),
stores new readings, and publishes them to Home Assistant. The first poll runs
immediately, which backfills roughly one year of history on a fresh database.
Prometheus metrics are served on the configured listen address.`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := requireCredentials(cfg); err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	p, err := poller.New(cfg, db, pub)
	if err != nil {
		return fmt.Errorf("creating poller: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
