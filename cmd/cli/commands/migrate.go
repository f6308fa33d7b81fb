package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type migrator interface {
	RunMigrations(ctx context.Context) error
}

type tableCreator interface {
	CreateTable(ctx context.Context) error
}

// MigrateCmd creates the migrate command
func MigrateCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store's schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch s := app.Store.(type) {
			case migrator:
				if err := s.RunMigrations(app.Ctx); err != nil {
					return err
				}
			case tableCreator:
				if err := s.CreateTable(app.Ctx); err != nil {
					return err
				}
			default:
				fmt.Printf("\nThe %s backend needs no migrations.\n\n", app.Cfg.Store.Backend)
				return nil
			}

			fmt.Printf("\n✓ %s store is up to date\n\n", app.Cfg.Store.Backend)
			return nil
		},
	}
}
