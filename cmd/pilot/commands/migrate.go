package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the project database",
		Long: `Create or upgrade the project database at store.path.

Migrations also run on every start, so this is only needed to prepare a
database ahead of time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}

			log.Info().Str("path", cfg.Store.Path).Msg("Migrating database")

			store, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.HealthCheck(ctx); err != nil {
				return fmt.Errorf("database is not healthy after migration: %w", err)
			}

			fmt.Printf("✓ Database ready: %s\n", cfg.Store.Path)
			return nil
		},
	}
}
