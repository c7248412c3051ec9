package main

import (
	"fmt"
	"time"

	"github.com/jpalmer/watersmart/internal/publisher"
	"github.com/jpalmer/watersmart/internal/sensor"
	"github.com/jpalmer/watersmart/internal/stats"
	"github.com/spf13/cobra"
)

var (
	statsGranularity string
	statsSince       string
	statsDryRun      bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Build statistics and push them to Home Assistant",
	Long: `Aggregates stored readings into statistic blocks (mean, sum, running total)
and imports them into Home Assistant so they show up on the Energy dashboard.
Blocks are aligned to the configured timezone.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsGranularity, "granularity", "hourly", "Block size (hourly, daily, weekly, monthly, yearly)")
	statsCmd.Flags().StringVar(&statsSince, "since", "", "Only include blocks after this date (YYYY-MM-DD or relative like 30d)")
	statsCmd.Flags().BoolVar(&statsDryRun, "dry-run", false, "Print blocks instead of pushing them")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Statistics started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	granularity, err := stats.ParseGranularity(statsGranularity)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Provider == "" {
		return fmt.Errorf("no provider configured")
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var lastStart time.Time
	if statsSince != "" {
		lastStart, err = parseDate(statsSince)
		if err != nil {
			return fmt.Errorf("parsing --since date: %w", err)
		}
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	var pub *publisher.Publisher
	if !statsDryRun {
		if !cfg.HomeAssistant.Enabled {
			return fmt.Errorf("Home Assistant is not enabled in config (use --dry-run to preview blocks)")
		}
		pub, err = publisher.New(cfg.MQTT, cfg.HomeAssistant)
		if err != nil {
			return fmt.Errorf("creating publisher: %w", err)
		}
		defer pub.Close()
	}

	hourly, err := db.ListHourly(cfg.Provider)
	if err != nil {
		return fmt.Errorf("listing hourly data: %w", err)
	}
	daily, err := db.ListDaily(cfg.Provider)
	if err != nil {
		return fmt.Errorf("listing daily data: %w", err)
	}

	gallons := make([]float64, len(hourly))
	for i, r := range hourly {
		gallons[i] = r.Gallons
	}
	leak := stats.ComputedLeak(gallons)

	for _, d := range sensor.Catalog {
		var points []stats.Point

		switch d.Period {
		case sensor.PeriodHourly:
			points = make([]stats.Point, 0, len(hourly))
			for i, r := range hourly {
				value, ok := d.HourlyValue(r)
				if d.Computed {
					value, ok = leak[i], true
				}
				points = append(points, stats.Point{TS: r.TS, Value: value, OK: ok})
			}
		case sensor.PeriodDaily:
			points = make([]stats.Point, 0, len(daily))
			for _, r := range daily {
				value, ok := d.DailyValue(r)
				points = append(points, stats.Point{TS: r.TS, Value: value, OK: ok})
			}
		}

		blocks := stats.Build(points, granularity, loc, lastStart)
		if len(blocks) == 0 {
			fmt.Printf("%s: no blocks\n", d.Key)
			continue
		}

		if statsDryRun {
			fmt.Printf("\n%s (%d blocks):\n", d.Key, len(blocks))
			for _, b := range blocks {
				fmt.Printf("  %s  state=%.2f mean=%.2f sum=%.2f\n",
					b.Start.Format("2006-01-02 15:04"), b.State, b.Mean, b.Sum)
			}
			continue
		}

		if err := pub.ImportStatistics(d, blocks); err != nil {
			return fmt.Errorf("importing statistics for %s: %w", d.Key, err)
		}
		fmt.Printf("✓ Imported %d %s blocks for %s\n", len(blocks), granularity, d.Key)
	}

	return nil
}
