package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ecolex.org/internal/auth"
	"ecolex.org/internal/config"
	"ecolex.org/internal/migrate"
	"ecolex.org/internal/store/pg"
)

var version = "0.1.0"

type options struct {
	dsn     string
	dir     string
	timeout time.Duration
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply ecolex database migrations and seeds, and mint API tokens",
		Long: `Applies the SQL migrations and seeds bundled with the API binary.

The DSN comes from --dsn or DATABASE_URL (a .env file is honoured).
--dir points at a directory holding migrations/ and seeds/ to run files
from disk instead of the embedded copies.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (default $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&opts.dir, "dir", "", "directory with migrations/ and seeds/ (default: embedded)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout")

	rootCmd.AddCommand(upCmd(opts))
	rootCmd.AddCommand(downCmd(opts))
	rootCmd.AddCommand(seedCmd(opts))
	rootCmd.AddCommand(statusCmd(opts))
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withManager opens the database, runs fn and closes everything.
func withManager(cmd *cobra.Command, opts *options, fn func(ctx context.Context, m *migrate.Manager) error) error {
	dsn := opts.dsn
	if dsn == "" {
		cfg, err := config.Load(".env")
		if cfg == nil {
			return err
		}
		dsn = cfg.DatabaseURL
	}
	if dsn == "" {
		return errors.New("missing DSN: provide --dsn or DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	m := pg.NewMigrator(db)
	if opts.dir != "" {
		m = migrate.NewManager(db, os.DirFS(opts.dir), "migrations", "seeds")
	}
	return fn(ctx, m)
}

func printList(cmd *cobra.Command, verb string, names []string) {
	if len(names) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "nothing to %s\n", verb)
		return
	}
	for _, n := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, n)
	}
}

func upCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *migrate.Manager) error {
				applied, err := m.Up(ctx)
				printList(cmd, "applied", applied)
				return err
			})
		},
	}
}

func downCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *migrate.Manager) error {
				name, err := m.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reverted %s\n", name)
				return nil
			})
		},
	}
}

func seedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Apply pending seed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *migrate.Manager) error {
				seeded, err := m.Seed(ctx)
				printList(cmd, "seeded", seeded)
				return err
			})
		},
	}
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *migrate.Manager) error {
				status, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, s := range status {
					mark := " "
					if s.Applied {
						mark = "x"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", mark, s.Name)
				}
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with AUTH_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(".env")
			if cfg == nil {
				return err
			}
			if cfg.AuthSecret == "" {
				return errors.New("AUTH_SECRET is not set")
			}
			signer, err := auth.NewSigner(cfg.AuthSecret)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = cfg.AuthTokenTTL
			}
			token, err := signer.GenerateToken(subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (required)")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleEditor}, "roles to grant")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default $AUTH_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
