package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpalmer/watersmart/internal/client"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Validate portal credentials",
	Long: `Logs in to the configured WaterSmart portal to verify that the provider,
username, and password are correct. No data is fetched or stored.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
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

	api, err := client.New(cfg.Provider, loc)
	if err != nil {
		return err
	}

	fmt.Printf("Logging in to %s.watersmart.com as %s...\n", cfg.Provider, cfg.Username)

	var authErr *client.AuthError
	err = api.Login(context.Background(), cfg.Username, cfg.Password)
	switch {
	case errors.As(err, &authErr):
		return fmt.Errorf("invalid credentials: %s", authErr.Message)
	case err != nil:
		return fmt.Errorf("cannot connect to portal: %w", err)
	}

	fmt.Println("✓ Login successful")
	return nil
}
