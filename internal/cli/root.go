// Package cli implements kenoctl, a terminal front end for the keno client.
//
// Every invocation is a fresh process: it loads configuration, builds the
// client, signs in (with --email/--password, or by resuming the persisted
// auth method), runs one operation and exits. The durable store carries the
// auth method, the device id and any unacknowledged game between runs.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sakif/keno-client/internal/app"
	"github.com/sakif/keno-client/internal/config"
	"github.com/sakif/keno-client/internal/model"
)

var ValidFormats = []string{"text", "json"}

// BuildFunc assembles the client. Tests replace it to point at a twin.
type BuildFunc func(ctx context.Context, cfg *config.Config, opts app.Options, logger *slog.Logger) (*app.App, error)

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath string
	Format     string
	Verbose    bool
	Email      string
	Password   string

	Build BuildFunc
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Build: app.New})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kenoctl",
		Short: "Keno client from the terminal",
		Long: `kenoctl drives the keno client: sign in, play, complete games and
manage the wallet against a keno backend.

Configuration is read from KENO_* environment variables and an optional
YAML file (--config). Credentials default to KENO_EMAIL and KENO_PASSWORD.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("KENO_CONFIG"), "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level to stderr")
	cmd.PersistentFlags().StringVar(&opts.Email, "email", os.Getenv("KENO_EMAIL"), "account email")
	cmd.PersistentFlags().StringVar(&opts.Password, "password", os.Getenv("KENO_PASSWORD"), "account password")

	cmd.AddCommand(
		newLoginCommand(opts),
		newRegisterCommand(opts),
		newResumeCommand(opts),
		newLogoutCommand(opts),
		newStatusCommand(opts),
		newProfileCommand(opts),
		newResetPasswordCommand(opts),
		newDeleteAccountCommand(opts),
		newPlayCommand(opts),
		newCompleteCommand(opts),
		newClaimCommand(opts),
		newPurchaseCommand(opts),
		newBalanceCommand(opts),
		newTableCommand(opts),
		newAdCommand(opts),
	)
	return cmd
}

// run loads config, builds the client and hands it to fn. Errors from fn are
// printed in the chosen format and returned with ExitFailure.
func (o *RootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, out *OutputFormatter) error) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading config", err)
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	level := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := o.Build(ctx, cfg, app.Options{
		GoogleAuthorizer: terminalAuthorizer{in: cmd.InOrStdin(), out: cmd.ErrOrStderr()},
	}, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "starting client", err)
	}
	defer a.Close()

	if _, err := a.Sessions.Initialize(ctx); err != nil {
		logger.Warn("initializing session", slog.String("error", err.Error()))
	}

	out := &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
	if err := fn(ctx, a, out); err != nil {
		_ = out.Error(err)
		return WrapExitError(ExitFailure, cmd.Name()+" failed", err)
	}
	return nil
}

// signIn establishes a session with the flag credentials, or resumes the
// persisted auth method when none were given.
func (o *RootOptions) signIn(ctx context.Context, a *app.App) (*model.UserData, error) {
	if o.Email != "" {
		return a.Sessions.Login(ctx, o.Email, o.Password)
	}
	return a.Sessions.Resume(ctx)
}

func describeUser(u *model.UserData) string {
	return fmt.Sprintf("%s (user %d, session %d)\nbalance: %d coins, next bonus of %d at %s",
		u.Profile.Name, u.Profile.UserID, u.Profile.SessionID,
		u.Balance.Balance, u.Balance.TimeBonus, u.Balance.NextTimeBonusUTC.Format("2006-01-02 15:04 MST"))
}
