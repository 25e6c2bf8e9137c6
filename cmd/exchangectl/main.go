// Command exchangectl runs exchange maintenance tasks against the configured
// database: validating or importing a directory by hand, reaping stale
// sessions and creating accounts for 1C.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/erp/exchange/internal/bootstrap"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/identity"
	"github.com/erp/exchange/internal/infrastructure/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "exchangectl",
		Short:        "1C exchange maintenance",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newValidateCmd(),
		newRunCmd(),
		newReapCmd(),
		newAccountsCmd(),
	)
	return cmd
}

// withApp loads configuration, builds the application and closes it after fn
func withApp(ctx context.Context, fn func(app *bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))
	return fn(app)
}

func importTypeFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "type", "", "Import type: catalog, prices, stocks, customers or images (required)")
	_ = cmd.MarkFlagRequired("type")
}

func parseImportType(raw string) (exchange.ImportType, error) {
	t := exchange.ImportType(raw)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown import type %q", raw)
	}
	return t, nil
}

func newValidateCmd() *cobra.Command {
	var rawType string
	cmd := &cobra.Command{
		Use:   "validate <dir>",
		Short: "Parse an import directory without writing to the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			importType, err := parseImportType(rawType)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				stats, err := app.Runner.Validate(cmd.Context(), importType, args[0])
				printStats(cmd, stats)
				if err != nil {
					return fmt.Errorf("validation failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
	importTypeFlag(cmd, &rawType)
	return cmd
}

func newRunCmd() *cobra.Command {
	var rawType string
	cmd := &cobra.Command{
		Use:   "run <dir>",
		Short: "Import a directory synchronously as a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			importType, err := parseImportType(rawType)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				ctx := cmd.Context()
				sessions := app.Repos.Sessions()

				session, err := exchange.NewImportSession(importType, "exchangectl", args[0], "")
				if err != nil {
					return err
				}
				if err := sessions.Save(ctx, session); err != nil {
					return err
				}
				app.Logger.Info("Import session created", zap.String("session_id", session.ID.String()))

				runErr := app.Runner.RunSession(ctx, session)
				fmt.Fprintf(cmd.OutOrStdout(), "session %s: %s\n", session.ID, session.Status)
				printStats(cmd, session.Stats)
				if runErr != nil {
					return runErr
				}
				if session.Status == exchange.SessionStatusFailed {
					return errors.New(session.ErrorMessage)
				}
				return nil
			})
		},
	}
	importTypeFlag(cmd, &rawType)
	return cmd
}

func newReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Fail import sessions that stopped reporting progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				n, err := app.NewReaper(nil).Reap(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "reaped %d session(s)\n", n)
				return err
			})
		},
	}
}

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newAccountsCreateCmd())
	return cmd
}

type accountOptions struct {
	email    string
	password string
	staff    bool
	exchange bool
}

func newAccountsCreateCmd() *cobra.Command {
	var opts accountOptions
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account, optionally allowed to use the 1C exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.password == "" {
				opts.password = os.Getenv("EXCHANGE_ACCOUNT_PASSWORD")
			}
			if opts.password == "" {
				return errors.New("--password or EXCHANGE_ACCOUNT_PASSWORD is required")
			}
			account, err := identity.NewAccount(args[0], opts.email, opts.password)
			if err != nil {
				return err
			}
			account.IsStaff = opts.staff
			if opts.exchange {
				account.Grant(identity.PermissionExchange)
			}
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				if err := app.Repos.Accounts().Save(cmd.Context(), account); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s created (%s)\n", account.Username, account.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.email, "email", "", "Email address")
	cmd.Flags().StringVar(&opts.password, "password", "", "Password, defaults to $EXCHANGE_ACCOUNT_PASSWORD")
	cmd.Flags().BoolVar(&opts.staff, "staff", false, "Allow access to the operator API")
	cmd.Flags().BoolVar(&opts.exchange, "exchange", false, "Allow the account to run the 1C exchange")
	return cmd
}

func printStats(cmd *cobra.Command, stats exchange.ImportStats) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %d\n", k, stats[k])
	}
}
