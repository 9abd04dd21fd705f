package main

import (
	"github.com/spf13/cobra"

	"github.com/nutricoach/mfaauth/store/gormstore"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
	}
	for _, c := range []struct{ use, short string }{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the most recent migration"},
		{"status", "Show migration status"},
	} {
		command := c.use
		cmd.AddCommand(&cobra.Command{
			Use:   c.use,
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd, *configPath, command)
			},
		})
	}
	return cmd
}

func runMigrate(cmd *cobra.Command, configPath, command string) error {
	s, logger, err := loadSettings(configPath)
	if err != nil {
		return err
	}
	if s.Database.Driver == "sqlite" {
		// OpenSQLite applies the schema itself.
		logger.Info("sqlite schema is managed on open; nothing to migrate")
		return nil
	}

	db, err := openDatabase(s)
	if err != nil {
		return err
	}
	defer closeDatabase(db, logger)

	if err := gormstore.Migrate(cmd.Context(), db, "postgres", command); err != nil {
		return err
	}
	logger.Info("migrate finished", "command", command)
	return nil
}
