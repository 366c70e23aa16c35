package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/keno-client/internal/app"
	"github.com/sakif/keno-client/internal/apperror"
	"github.com/sakif/keno-client/internal/model"
)

func newLoginCommand(opts *RootOptions) *cobra.Command {
	var google bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and open a backend session",
		Long: `Sign in with --email/--password, or with Google when --google is set.

Login runs the whole pipeline: identity provider sign-in, token exchange,
balance fetch, completion of any game left pending by an earlier run, and
the payout table fetch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				var (
					data *model.UserData
					err  error
				)
				if google {
					data, err = a.Sessions.LoginWithGoogle(ctx, false)
				} else {
					if opts.Email == "" {
						return apperror.ValidationFailed("email", "is required (--email or KENO_EMAIL)")
					}
					data, err = a.Sessions.Login(ctx, opts.Email, opts.Password)
				}
				if err != nil {
					return err
				}
				return out.Success(data, "Signed in as "+describeUser(data))
			})
		},
	}

	cmd.Flags().BoolVar(&google, "google", false, "sign in with Google")
	return cmd
}

func newRegisterCommand(opts *RootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if opts.Email == "" {
					return apperror.ValidationFailed("email", "is required (--email or KENO_EMAIL)")
				}
				data, err := a.Sessions.Register(ctx, name, opts.Email, opts.Password)
				if err != nil {
					return err
				}
				return out.Success(data, "Registered "+describeUser(data))
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newResumeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Sign in again with the method used last time",
		Long: `Resume re-authenticates without prompting. It works for Google, whose
refresh token is kept in the local store. Passwords are never stored, so an
email account has to sign in with login.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				data, err := a.Sessions.Resume(ctx)
				if err != nil {
					return err
				}
				return out.Success(data, "Resumed "+describeUser(data))
			})
		},
	}
}

func newLogoutCommand(opts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Close the backend session and sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if _, err := opts.signIn(ctx, a); err != nil {
					if !force {
						return err
					}
					// Nothing to close; clear whatever was persisted.
					_ = a.Sessions.ForceLogout(ctx)
					return out.Success(map[string]bool{"loggedOut": true}, "Signed out")
				}
				logout := a.Sessions.Logout
				if force {
					logout = a.Sessions.ForceLogout
				}
				if err := logout(ctx); err != nil {
					return err
				}
				return out.Success(map[string]bool{"loggedOut": true}, "Signed out")
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "sign out locally even if the backend cannot be reached; its error is still reported")
	return cmd
}

type statusView struct {
	AuthMethod  string                   `json:"authMethod"`
	DeviceID    string                   `json:"deviceId"`
	PendingGame *model.PendingGameResult `json:"pendingGame,omitempty"`
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the local store remembers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				method, err := a.Prefs.AuthMethod(ctx)
				if err != nil {
					return err
				}
				deviceID, err := a.Prefs.DeviceID(ctx)
				if err != nil {
					return err
				}
				pending, err := a.Prefs.PendingGame(ctx)
				if err != nil {
					return err
				}

				v := statusView{AuthMethod: method.String(), DeviceID: deviceID, PendingGame: pending}
				var b strings.Builder
				fmt.Fprintf(&b, "auth method: %s\ndevice:      %s\n", v.AuthMethod, v.DeviceID)
				if pending != nil {
					fmt.Fprintf(&b, "pending game %d: bet %d, win %d", pending.GameID, pending.Bet, pending.Win)
				} else {
					b.WriteString("no pending game")
				}
				return out.Success(v, b.String())
			})
		},
	}
}

func newResetPasswordCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password",
		Short: "Mail a password reset link to --email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if err := a.Sessions.ResetPassword(ctx, opts.Email); err != nil {
					return err
				}
				return out.Success(map[string]string{"email": opts.Email}, "Reset link sent to "+opts.Email)
			})
		},
	}
}

func newDeleteAccountCommand(opts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Delete the account with the identity provider and the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return WrapExitError(ExitCommandError, "delete-account is permanent; pass --yes to confirm", nil)
			}
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if _, err := opts.signIn(ctx, a); err != nil {
					return err
				}
				if err := a.Sessions.DeleteAccount(ctx); err != nil {
					return err
				}
				return out.Success(map[string]bool{"deleted": true}, "Account deleted")
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newProfileCommand(opts *RootOptions) *cobra.Command {
	var (
		name   string
		email  string
		emails string
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the player profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if emails != "" && emails != "on" && emails != "off" {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid --emails %q: must be on or off", emails), nil)
			}
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				data, err := opts.signIn(ctx, a)
				if err != nil {
					return err
				}
				profile := &data.Profile
				if name != "" || email != "" {
					if name == "" {
						name = profile.Name
					}
					if profile, err = a.Sessions.UpdateProfile(ctx, name, email); err != nil {
						return err
					}
				}
				if emails != "" {
					if profile, err = a.Sessions.EnableEmails(ctx, emails == "on"); err != nil {
						return err
					}
				}
				return out.Success(profile, fmt.Sprintf("%s <%s>, emails enabled: %t",
					profile.Name, profile.Email, profile.EmailsEnabled))
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.Flags().StringVar(&email, "contact-email", "", "new contact email")
	cmd.Flags().StringVar(&emails, "emails", "", "marketing emails: on or off")
	return cmd
}
