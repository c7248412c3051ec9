package main

import (
	"fmt"

	"github.com/jpalmer/watersmart/internal/client"
	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List known utility providers",
	Long:  `Displays the provider codes this tool knows about. Use the code as the 'provider' value in config.yaml.`,
	RunE:  runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	fmt.Printf("%-16s  %s\n", "Code", "District")
	fmt.Println("----------------------------------------")
	for _, code := range client.ProviderCodes() {
		fmt.Printf("%-16s  %s\n", code, client.ProviderList[code])
	}
	return nil
}
