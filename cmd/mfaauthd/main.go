// Command mfaauthd serves the NutriCoach login and MFA API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "mfaauthd",
		Short:         "NutriCoach login and MFA service",
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./configs/config.yaml)")

	rootCmd.AddCommand(
		newServeCommand(&configPath),
		newMigrateCommand(&configPath),
		newSeedAdminCommand(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
