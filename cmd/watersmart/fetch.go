package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jpalmer/watersmart/internal/client"
	"github.com/jpalmer/watersmart/internal/database"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [period]",
	Short: "Fetch usage data from the portal",
	Long: `Logs in to the WaterSmart portal and fetches usage history. The portal
returns roughly one year of data per fetch; the first run against an empty
database backfills that history. Data is stored in the local SQLite database
and duplicates are skipped.

Available periods: hourly, daily, all (default: all)`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Fetch started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	period := "all"
	if len(args) == 1 {
		period = args[0]
	}
	if period != "hourly" && period != "daily" && period != "all" {
		return fmt.Errorf("unknown period: %s (available: hourly, daily, all)", period)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := requireCredentials(cfg); err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	api, err := client.New(cfg.Provider, loc)
	if err != nil {
		return err
	}

	ctx := context.Background()
	fmt.Printf("Logging in to %s.watersmart.com...\n", cfg.Provider)
	if err := api.Login(ctx, cfg.Username, cfg.Password); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -cfg.GetDaysToBackfill()).Unix()

	if period == "hourly" || period == "all" {
		if err := fetchHourly(ctx, api, db, cutoff); err != nil {
			return err
		}
	}
	if period == "daily" || period == "all" {
		if err := fetchDaily(ctx, api, db, cutoff); err != nil {
			return err
		}
	}

	return nil
}

func fetchHourly(ctx context.Context, api *client.Client, db *database.DB, cutoff int64) error {
	fmt.Println("Fetching hourly data...")
	readings, err := api.Hourly(ctx)
	if err != nil {
		return fmt.Errorf("fetching hourly data: %w", err)
	}

	stored := 0
	for i := range readings {
		if readings[i].TS < cutoff {
			continue
		}
		inserted, err := db.InsertHourly(&readings[i])
		if err != nil {
			return err
		}
		if inserted {
			stored++
		}
	}

	fmt.Printf("✓ Processed %d hourly readings (%d new, duplicates skipped)\n", len(readings), stored)
	return nil
}

func fetchDaily(ctx context.Context, api *client.Client, db *database.DB, cutoff int64) error {
	fmt.Println("Fetching daily data...")
	readings, err := api.Daily(ctx)
	if err != nil {
		return fmt.Errorf("fetching daily data: %w", err)
	}

	stored := 0
	for i := range readings {
		if readings[i].TS < cutoff {
			continue
		}
		inserted, err := db.InsertDaily(&readings[i])
		if err != nil {
			return err
		}
		if inserted {
			stored++
		}
	}

	fmt.Printf("✓ Processed %d daily readings (%d new, duplicates skipped)\n", len(readings), stored)
	return nil
}
