package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/drill/internal/config"
	"github.com/pitabwire/drill/internal/statuslog"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres status log schema",
	}
	cmd.PersistentFlags().String("db", "", "postgres connection string (defaults to the status_log.dsn_env variable)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := migrateDSN(cmd)
			if err != nil {
				return err
			}
			if err := statuslog.MigratePostgres(dsn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := migrateDSN(cmd)
			if err != nil {
				return err
			}
			if err := statuslog.RollbackPostgres(dsn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration reverted")
			return nil
		},
	})
	return cmd
}

// migrateDSN prefers the --db flag and falls back to the environment
// variable named by the config file. SQLite stores migrate on open.
func migrateDSN(cmd *cobra.Command) (string, error) {
	if dsn, _ := cmd.Flags().GetString("db"); dsn != "" {
		return dsn, nil
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return "", err
	}
	if cfg.StatusLog.Driver != "postgres" {
		return "", fmt.Errorf("status_log.driver is %q; only postgres needs explicit migrations", cfg.StatusLog.Driver)
	}
	dsn := os.Getenv(cfg.StatusLog.DSNEnv)
	if dsn == "" {
		return "", fmt.Errorf("%s environment variable not set", cfg.StatusLog.DSNEnv)
	}
	return dsn, nil
}
