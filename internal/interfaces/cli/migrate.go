package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/athene-kg/athene/internal/infrastructure/database/postgres"
	"github.com/athene-kg/athene/pkg/errors"
)

const defaultMigrationsPath = "migrations/postgres"

// NewMigrateCmd creates the schema migration command.  Unlike the query
// commands it talks to postgres directly, so it works without a running
// API server.
func NewMigrateCmd() *cobra.Command {
	var (
		dbURL string
		path  string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the analysis database schema",
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&dbURL, "db-url", "", "postgres connection URL (default: $ATHENE_DATABASE_URL)")
	pf.StringVar(&path, "path", defaultMigrationsPath, "migrations directory")

	resolveURL := func() (string, error) {
		if dbURL != "" {
			return dbURL, nil
		}
		if env := os.Getenv("ATHENE_DATABASE_URL"); env != "" {
			return env, nil
		}
		return "", errors.New(errors.ErrCodeValidation, "database URL is required (--db-url or $ATHENE_DATABASE_URL)")
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveURL()
			if err != nil {
				return err
			}
			if err := postgres.RunMigrations(url, path); err != nil {
				return err
			}
			PrintSuccess(cmd, "schema is up to date")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll the schema back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveURL()
			if err != nil {
				return err
			}
			if steps < 1 {
				return errors.New(errors.ErrCodeValidation, "--steps must be at least 1")
			}
			if err := postgres.RollbackMigrations(url, path, steps); err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("rolled back %d migration(s)", steps))
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveURL()
			if err != nil {
				return err
			}
			v, dirty, err := postgres.MigrationVersion(url, path)
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (%s)\n", v, state)
			return nil
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}
