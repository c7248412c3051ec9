package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jpalmer/watersmart/internal/database"
)

var listPeriod string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored usage data",
	Long:  `Displays stored water usage data from the database.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listPeriod, "period", "daily", "Which series to show (hourly or daily)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if listPeriod != "hourly" && listPeriod != "daily" {
		return fmt.Errorf("unknown period: %s (available: hourly, daily)", listPeriod)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Provider == "" {
		return fmt.Errorf("no provider configured")
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if listPeriod == "hourly" {
		return listHourly(cfg.Provider, db)
	}
	return listDaily(cfg.Provider, db, cfg.GetRate())
}

func listHourly(provider string, db *database.DB) error {
	data, err := db.ListHourly(provider)
	if err != nil {
		return fmt.Errorf("listing hourly data: %w", err)
	}

	if len(data) == 0 {
		fmt.Printf("No hourly data found for %s\n", provider)
		return nil
	}

	fmt.Printf("\n%s Hourly Usage:\n", provider)
	fmt.Println("--------------------------------------------------")
	fmt.Printf("%-20s  %10s  %10s\n", "Time", "Gallons", "Leak")
	fmt.Println("--------------------------------------------------")

	var total float64
	for _, r := range data {
		leak := "-"
		if r.LeakGallons != nil {
			leak = fmt.Sprintf("%.2f", *r.LeakGallons)
		}
		fmt.Printf("%-20s  %10.2f  %10s\n", r.Timestamp.Format("2006-01-02 15:04"), r.Gallons, leak)
		total += r.Gallons
	}

	fmt.Println("--------------------------------------------------")
	latest := data[len(data)-1]
	fmt.Printf("Total: %.2f gal (%s readings, latest %s)\n",
		total, humanize.Comma(int64(len(data))), humanize.Time(latest.Timestamp))
	return nil
}

func listDaily(provider string, db *database.DB, rate float64) error {
	data, err := db.ListDaily(provider)
	if err != nil {
		return fmt.Errorf("listing daily data: %w", err)
	}

	if len(data) == 0 {
		fmt.Printf("No daily data found for %s\n", provider)
		return nil
	}

	fmt.Printf("\n%s Daily Usage:\n", provider)
	fmt.Println("------------------------------------------------------------")
	fmt.Printf("%-12s  %10s  %8s  %8s\n", "Date", "Gallons", "Temp °F", "Precip")
	fmt.Println("------------------------------------------------------------")

	var total float64
	for _, r := range data {
		temp, precip := "-", "-"
		if r.Temperature != nil {
			temp = fmt.Sprintf("%.1f", *r.Temperature)
		}
		if r.Precipitation != nil {
			precip = fmt.Sprintf("%.2f", *r.Precipitation)
		}
		fmt.Printf("%-12s  %10.2f  %8s  %8s\n", r.Timestamp.Format("2006-01-02"), r.Consumption, temp, precip)
		total += r.Consumption
	}

	fmt.Println("------------------------------------------------------------")
	latest := data[len(data)-1]
	fmt.Printf("Total: %.2f gal (%s readings, latest %s)\n",
		total, humanize.Comma(int64(len(data))), humanize.Time(latest.Timestamp))
	if rate > 0 {
		fmt.Printf("Estimated cost: $%.2f at $%.4f/gal\n", total*rate, rate)
	}
	return nil
}
