// File: cmd/initdb.go
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/knowledgepa3/warden/internal/observability"
	"github.com/knowledgepa3/warden/internal/store"
)

// newInitDBCmd creates the `init-db` command, which provisions the audit
// schema so operators do not need migrations for a first install.
func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Creates the audit tables in the configured PostgreSQL database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			observability.InitializeLogger(cfg.Logger())
			logger := observability.GetLogger()

			if cfg.Database().URL == "" {
				return fmt.Errorf("database URL is not configured (WARDEN_DATABASE_URL)")
			}

			dbPool, err := pgxpool.New(ctx, cfg.Database().URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer dbPool.Close()

			auditStore, err := store.New(ctx, dbPool, logger)
			if err != nil {
				return err
			}
			if err := auditStore.InitSchema(ctx); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Audit schema initialized.")
			return nil
		},
	}
}
