package commands

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/logger"
)

// runtime carries what every command needs. Tests swap openDB for an
// in-memory database.
type runtime struct {
	loadConfig func() (*config.Config, error)
	openDB     func(*config.Config) (*gorm.DB, error)
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	return newRoot(&runtime{loadConfig: config.Load, openDB: config.InitDB})
}

func newRoot(rt *runtime) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Bank transaction reconciliation engine",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand(rt))
	rootCmd.AddCommand(newMigrateCommand(rt))
	rootCmd.AddCommand(newImportCommand(rt))
	rootCmd.AddCommand(newPatternsCommand(rt))

	return rootCmd
}

// setup loads configuration, builds the logger and opens the database.
func (rt *runtime) setup(ctx context.Context) (context.Context, *config.Config, zerolog.Logger, *gorm.DB, error) {
	cfg, err := rt.loadConfig()
	if err != nil {
		return ctx, nil, zerolog.Nop(), nil, err
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty)
	ctx = logger.WithContext(ctx, log)

	db, err := rt.openDB(cfg)
	if err != nil {
		return ctx, nil, log, nil, err
	}
	return ctx, cfg, log, db, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
