package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jpalmer/watersmart/internal/config"
	"github.com/jpalmer/watersmart/internal/database"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "watersmart",
	Short: "Collect water usage data from a VertexOne WaterSmart portal",
	Long: `Watersmart is a CLI tool to collect water usage data from a utility's
VertexOne WaterSmart portal. It logs in with your portal credentials, stores
hourly and daily readings in a local SQLite database, and publishes them to
Home Assistant.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default is ./data.db)")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the database file path (local directory)
func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return "data.db"
}

// loadConfig loads the configuration file with environment overrides
func loadConfig() (*config.Config, error) {
	return config.LoadWithEnv(getConfigPath())
}

// openDB opens the database connection using the configured timezone
func openDB(cfg *config.Config) (*database.DB, error) {
	path := getDBPath()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return database.New(path, loc)
}

// requireCredentials validates that the config names a provider and login
func requireCredentials(cfg *config.Config) error {
	if cfg.Provider == "" {
		return fmt.Errorf("no provider configured. Add 'provider' to config.yaml or set WATERSMART_PROVIDER")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return fmt.Errorf("no credentials configured for %s. Add username/password to config.yaml or set WATERSMART_USERNAME/WATERSMART_PASSWORD", cfg.Provider)
	}
	return nil
}
