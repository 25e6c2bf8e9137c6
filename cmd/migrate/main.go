package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/erp/exchange/internal/infrastructure/config"
	"github.com/erp/exchange/internal/infrastructure/logger"
	"github.com/erp/exchange/internal/infrastructure/migration"
	"github.com/erp/exchange/migrations"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	dir      string
	logLevel string
	log      *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Exchange database migrations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(&logger.Config{
				Level:      opts.logLevel,
				Format:     "console",
				Output:     "stdout",
				TimeFormat: "2006-01-02 15:04:05",
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&opts.dir, "path", "", "Read migrations from this directory instead of the embedded set")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newMigratorCmd(opts, "up", "Apply all pending migrations", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Up() }),
		newMigratorCmd(opts, "down", "Roll back all migrations", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Down() }),
		newMigratorCmd(opts, "step <n>", "Apply n migrations, negative rolls back", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				return m.Steps(n)
			}),
		newMigratorCmd(opts, "goto <version>", "Migrate to a specific version", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return m.GoTo(uint(v))
			}),
		newMigratorCmd(opts, "force <version>", "Set the version without running migrations", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return m.Force(v)
			}),
		newMigratorCmd(opts, "version", "Show the applied version", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Printf("version %d dirty=%t\n", v, dirty)
				return nil
			}),
		newCreateCmd(opts),
		newListCmd(opts),
	)
	return cmd
}

// newMigratorCmd builds a subcommand that needs a database connection
func newMigratorCmd(opts *rootOptions, use, short string, args cobra.PositionalArgs, run func(*migration.Migrator, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, a []string) error {
			m, closeDB, err := openMigrator(opts)
			if err != nil {
				return err
			}
			defer closeDB()
			return run(m, a)
		},
	}
}

func openMigrator(opts *rootOptions) (*migration.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.Driver != "postgres" {
		return nil, nil, fmt.Errorf("migrations target postgres, configured driver is %q", cfg.Database.Driver)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m, err := migration.New(db, source(opts), opts.log)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return m, func() {
		if err := m.Close(); err != nil {
			opts.log.Warn("Error closing migrator", zap.Error(err))
		}
	}, nil
}

func source(opts *rootOptions) migration.Source {
	if opts.dir != "" {
		return migration.Source{Dir: opts.dir}
	}
	return migration.Source{FS: migrations.FS}
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty up/down migration pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.dir
			if dir == "" {
				dir = "migrations"
			}
			f, err := migration.Create(dir, args[0])
			if err != nil {
				return err
			}
			opts.log.Info("Migration created", zap.String("dir", dir), zap.String("name", f.Base()))
			return nil
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := source(opts)
			fsys := src.FS
			if fsys == nil {
				fsys = os.DirFS(src.Dir)
			}
			files, err := migration.List(fsys)
			if err != nil {
				return err
			}
			for _, f := range files {
				down := ""
				if !f.HasDown {
					down = " (no down)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s%s\n", f.Base(), down)
			}
			return nil
		},
	}
}
