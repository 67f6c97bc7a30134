package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"bank-reconciliation-backend/internal/config"
)

func newMigrateCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, log, db, err := rt.setup(cmd.Context())
			if err != nil {
				return err
			}
			if err := config.Migrate(db); err != nil {
				return fmt.Errorf("migrating schema: %w", err)
			}
			log.Info().Msg("schema migrated")
			return nil
		},
	}
}
