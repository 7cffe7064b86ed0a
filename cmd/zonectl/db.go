package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/database"
)

// newDBCmd creates "zonectl db" and its schema subcommands. They open the
// database named in the configuration file; serve should be stopped first.
func newDBCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and migrate the state database",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending schema migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), opts, func(db *database.DB) error {
					applied, pending, err := db.GetMigrationStatus(cmd.Context())
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "VERSION\tSTATUS\tAPPLIED")
					for _, m := range applied {
						fmt.Fprintf(w, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
					}
					for _, m := range pending {
						fmt.Fprintf(w, "%s\tpending (%s)\t-\n", m.Version, m.Name)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending schema migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), opts, func(db *database.DB) error {
					_, pending, err := db.GetMigrationStatus(cmd.Context())
					if err != nil {
						return err
					}
					if err := db.Migrate(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d migrations applied\n", len(pending))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Revert the most recent schema migration",
			Long: "Runs the down script of the newest applied migration. State history\n" +
				"or audit rows held by the reverted table are lost.",
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), opts, func(db *database.DB) error {
					applied, _, err := db.GetMigrationStatus(cmd.Context())
					if err != nil {
						return err
					}
					if len(applied) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
						return nil
					}
					if err := db.MigrateDown(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", applied[len(applied)-1].Version)
					return nil
				})
			},
		},
	)
	return cmd
}

func withDB(ctx context.Context, opts *globalOptions, fn func(*database.DB) error) error {
	cfg, err := config.Load(getConfigPath(opts.configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly command

	return fn(db)
}
