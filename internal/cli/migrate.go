package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/meanishn/platform/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

func init() {
	migrateCmd.AddCommand(
		newMigrateSubcommand("up", "Apply all pending migrations", db.Migrate),
		newMigrateSubcommand("down", "Roll back the latest migration", db.Rollback),
		newMigrateSubcommand("status", "Print the status of every migration", db.MigrationStatus),
	)
}

func newMigrateSubcommand(use, short string, run func(context.Context, *pgxpool.Pool) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			pool, err := openPostgres(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			return run(ctx, pool)
		},
	}
}
