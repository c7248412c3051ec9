package main

import (
	"fmt"
	"time"

	"github.com/jpalmer/watersmart/internal/database"
	"github.com/jpalmer/watersmart/internal/publisher"
	"github.com/jpalmer/watersmart/internal/sensor"
	"github.com/jpalmer/watersmart/internal/stats"
	"github.com/jpalmer/watersmart/pkg/models"
	"github.com/spf13/cobra"
)

var (
	publishPeriod string
	publishSince  string
	publishUntil  string
	publishAll    bool
	publishLimit  int
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish usage data to Home Assistant",
	Long:  `Reads stored water usage data from the database and publishes it to Home Assistant via MQTT and/or the HTTP backfill API.`,
	RunE:  runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishPeriod, "period", "", "Series to publish (hourly or daily, default: both)")
	publishCmd.Flags().StringVar(&publishSince, "since", "", "Only publish data since this date (YYYY-MM-DD or relative like 7d)")
	publishCmd.Flags().StringVar(&publishUntil, "until", "", "Only publish data until this date (YYYY-MM-DD)")
	publishCmd.Flags().BoolVar(&publishAll, "all", false, "Force republish all records (ignore published flag)")
	publishCmd.Flags().IntVar(&publishLimit, "limit", 0, "Limit number of records to publish (0 = no limit)")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Provider == "" {
		return fmt.Errorf("no provider configured")
	}
	if !cfg.HomeAssistant.Enabled && !cfg.MQTT.Enabled {
		return fmt.Errorf("neither Home Assistant HTTP nor MQTT is enabled in config")
	}

	pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	if pub.MQTTEnabled() {
		if err := pub.PublishDiscovery(cfg.Provider); err != nil {
			return fmt.Errorf("publishing discovery: %w", err)
		}
		fmt.Println("✓ Published MQTT discovery config")
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// Parse date filters if provided
	var sinceDate, untilDate *time.Time
	if publishSince != "" {
		since, err := parseDate(publishSince)
		if err != nil {
			return fmt.Errorf("parsing --since date: %w", err)
		}
		sinceDate = &since
	}
	if publishUntil != "" {
		until, err := parseDate(publishUntil)
		if err != nil {
			return fmt.Errorf("parsing --until date: %w", err)
		}
		untilDate = &until
	}

	totalPublished := 0

	if publishPeriod == "" || publishPeriod == "hourly" {
		n, err := publishHourlyData(cfg.Provider, db, pub, sinceDate, untilDate)
		if err != nil {
			return err
		}
		totalPublished += n
	}
	if publishPeriod == "" || publishPeriod == "daily" {
		n, err := publishDailyData(cfg.Provider, db, pub, sinceDate, untilDate)
		if err != nil {
			return err
		}
		totalPublished += n
	}

	fmt.Printf("\nTotal records published: %d\n", totalPublished)
	return nil
}

func publishHourlyData(provider string, db *database.DB, pub *publisher.Publisher, since, until *time.Time) (int, error) {
	all, err := db.ListHourly(provider)
	if err != nil {
		return 0, fmt.Errorf("listing hourly data: %w", err)
	}

	var data []models.HourlyReading
	if publishAll {
		data = all
	} else {
		data, err = db.ListUnpublishedHourly(provider)
		if err != nil {
			return 0, fmt.Errorf("listing unpublished hourly data: %w", err)
		}
	}

	// Computed leak is a trailing minimum over the whole series, so derive it
	// from every stored reading, not just the batch being published.
	gallons := make([]float64, len(all))
	indexByID := make(map[int]int, len(all))
	for i, r := range all {
		gallons[i] = r.Gallons
		indexByID[r.ID] = i
	}
	leak := stats.ComputedLeak(gallons)

	data = filterReadings(data, since, until, func(r models.HourlyReading) time.Time { return r.Timestamp })
	if len(data) == 0 {
		fmt.Println("No hourly data to publish")
		return 0, nil
	}
	if publishLimit > 0 && len(data) > publishLimit {
		data = data[:publishLimit]
		fmt.Printf("Limiting to %d hourly records (--limit flag)\n", publishLimit)
	}

	sensors := sensor.ForPeriod(sensor.PeriodHourly)
	fmt.Printf("Publishing %d hourly records...\n", len(data))
	published := 0
	for i, r := range data {
		fmt.Printf("[%d/%d] Publishing %s (%.2f gal)... ", i+1, len(data), r.Timestamp.Format("2006-01-02 15:04"), r.Gallons)

		failed := false
		for _, d := range sensors {
			value, ok := d.HourlyValue(r)
			if !ok {
				continue
			}
			if d.Computed {
				value = leak[indexByID[r.ID]]
			}
			if err := publishOne(pub, d, value, r.Timestamp); err != nil {
				fmt.Printf("FAILED: %v\n", err)
				failed = true
				break
			}
		}
		if failed {
			continue
		}

		if err := db.MarkHourlyPublished(r.ID); err != nil {
			fmt.Printf("✓ (warning: failed to mark as published: %v)\n", err)
		} else {
			fmt.Printf("✓\n")
		}
		published++
	}

	fmt.Printf("Successfully published %d/%d hourly records\n", published, len(data))
	return published, nil
}

func publishDailyData(provider string, db *database.DB, pub *publisher.Publisher, since, until *time.Time) (int, error) {
	var data []models.DailyReading
	var err error
	if publishAll {
		data, err = db.ListDaily(provider)
	} else {
		data, err = db.ListUnpublishedDaily(provider)
	}
	if err != nil {
		return 0, fmt.Errorf("listing daily data: %w", err)
	}

	data = filterReadings(data, since, until, func(r models.DailyReading) time.Time { return r.Timestamp })
	if len(data) == 0 {
		fmt.Println("No daily data to publish")
		return 0, nil
	}
	if publishLimit > 0 && len(data) > publishLimit {
		data = data[:publishLimit]
		fmt.Printf("Limiting to %d daily records (--limit flag)\n", publishLimit)
	}

	sensors := sensor.ForPeriod(sensor.PeriodDaily)
	fmt.Printf("Publishing %d daily records...\n", len(data))
	published := 0
	for i, r := range data {
		fmt.Printf("[%d/%d] Publishing %s (%.2f gal)... ", i+1, len(data), r.Timestamp.Format("2006-01-02"), r.Consumption)

		failed := false
		for _, d := range sensors {
			value, ok := d.DailyValue(r)
			if !ok {
				continue
			}
			if err := publishOne(pub, d, value, r.Timestamp); err != nil {
				fmt.Printf("FAILED: %v\n", err)
				failed = true
				break
			}
		}
		if failed {
			continue
		}

		if err := db.MarkDailyPublished(r.ID); err != nil {
			fmt.Printf("✓ (warning: failed to mark as published: %v)\n", err)
		} else {
			fmt.Printf("✓\n")
		}
		published++
	}

	fmt.Printf("Successfully published %d/%d daily records\n", published, len(data))
	return published, nil
}

func publishOne(pub *publisher.Publisher, d sensor.Description, value float64, ts time.Time) error {
	if pub.HTTPEnabled() {
		if err := pub.Backfill(d, value, ts); err != nil {
			return err
		}
	}
	if pub.MQTTEnabled() {
		if err := pub.PublishState(d, value); err != nil {
			return err
		}
	}
	return nil
}

func filterReadings[T any](data []T, since, until *time.Time, at func(T) time.Time) []T {
	if since == nil && until == nil {
		return data
	}
	filtered := make([]T, 0, len(data))
	for _, r := range data {
		ts := at(r)
		if since != nil && ts.Before(*since) {
			continue
		}
		if until != nil && ts.After(*until) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// parseDate parses a date string in either YYYY-MM-DD format or relative format (e.g., "7d")
func parseDate(dateStr string) (time.Time, error) {
	// Try absolute date format first
	t, err := time.Parse("2006-01-02", dateStr)
	if err == nil {
		return t, nil
	}

	// Try relative format (e.g., "7d" for 7 days ago)
	if len(dateStr) > 1 && dateStr[len(dateStr)-1] == 'd' {
		daysStr := dateStr[:len(dateStr)-1]
		var days int
		if _, err := fmt.Sscanf(daysStr, "%d", &days); err == nil {
			return time.Now().AddDate(0, 0, -days), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date format: %s (use YYYY-MM-DD or Nd for N days ago)", dateStr)
}
