package cli

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/keno-client/internal/app"
	"github.com/sakif/keno-client/internal/model"
)

type playView struct {
	Game      *model.GamePlayResponse `json:"game"`
	Completed bool                    `json:"completed"`
	Balance   model.BalanceData       `json:"balance"`
}

func newPlayCommand(opts *RootOptions) *cobra.Command {
	var (
		bet         int
		picks       []int
		keepPending bool
	)

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Place a bet on up to 10 numbers",
		Long: `Play places a bet and acknowledges the result with the backend.

With --keep-pending the result is recorded locally but not acknowledged; the
next sign-in completes it. Use this to exercise recovery after a crash.`,
		Example: `  kenoctl play --bet 10 --pick 3,17,42,55,80`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if _, err := opts.signIn(ctx, a); err != nil {
					return err
				}
				res, err := a.Games.Play(ctx, bet, picks)
				if err != nil {
					return err
				}
				v := playView{Game: res}
				if !keepPending {
					if v.Completed, err = a.Games.CompletePending(ctx); err != nil {
						return err
					}
				}
				v.Balance = a.Session.Balance()
				return out.Success(v, describePlay(v))
			})
		},
	}

	cmd.Flags().IntVar(&bet, "bet", 1, "coins to bet")
	cmd.Flags().IntSliceVar(&picks, "pick", nil, "numbers to pick, 1-80 (required)")
	cmd.Flags().BoolVar(&keepPending, "keep-pending", false, "leave the result unacknowledged")
	_ = cmd.MarkFlagRequired("pick")
	return cmd
}

func describePlay(v playView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "game %d: bet %d on %v\n", v.Game.GameID, v.Game.Bet, v.Game.SelectedCards)
	fmt.Fprintf(&b, "drawn:   %v\n", v.Game.DrawnCards)
	fmt.Fprintf(&b, "matched: %v\n", v.Game.MatchedCards)
	fmt.Fprintf(&b, "win:     %d\n", v.Game.Win)
	if v.Completed {
		fmt.Fprintf(&b, "balance: %d", v.Balance.Balance)
	} else {
		b.WriteString("result pending, completes on next sign-in")
	}
	return b.String()
}

func newCompleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete",
		Short: "Acknowledge a game left pending by an earlier run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				// Sign-in reconciles too; report whatever is left.
				if _, err := opts.signIn(ctx, a); err != nil {
					return err
				}
				done, err := a.Games.CompletePending(ctx)
				if err != nil {
					return err
				}
				b := a.Session.Balance()
				text := fmt.Sprintf("nothing pending, balance %d", b.Balance)
				if done {
					text = fmt.Sprintf("pending game completed, balance %d", b.Balance)
				}
				return out.Success(map[string]any{"completed": done, "balance": b}, text)
			})
		},
	}
}

func newClaimCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "claim",
		Short: "Claim the periodic time bonus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if _, err := opts.signIn(ctx, a); err != nil {
					return err
				}
				b, err := a.Games.ClaimTimeBonus(ctx)
				if err != nil {
					return err
				}
				return out.Success(b, describeBalance(b))
			})
		},
	}
}

func newPurchaseCommand(opts *RootOptions) *cobra.Command {
	var product, token string

	cmd := &cobra.Command{
		Use:   "purchase",
		Short: "Register a store purchase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if _, err := opts.signIn(ctx, a); err != nil {
					return err
				}
				b, err := a.Games.RegisterPurchase(ctx, product, token)
				if err != nil {
					return err
				}
				return out.Success(b, describeBalance(b))
			})
		},
	}

	cmd.Flags().StringVar(&product, "product", "", "store product id (required)")
	cmd.Flags().StringVar(&token, "token", "", "store purchase token (required)")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if _, err := opts.signIn(ctx, a); err != nil {
					return err
				}
				b, err := a.Games.RefreshBalance(ctx)
				if err != nil {
					return err
				}
				return out.Success(b, describeBalance(b))
			})
		},
	}
}

func describeBalance(b model.BalanceData) string {
	return fmt.Sprintf("balance: %d coins\nnext bonus: %d at %s",
		b.Balance, b.TimeBonus, b.NextTimeBonusUTC.Format("2006-01-02 15:04 MST"))
}

func newTableCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "table",
		Short: "Show the payout table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if _, err := opts.signIn(ctx, a); err != nil {
					return err
				}
				t, err := a.Games.RefreshGameTable(ctx)
				if err != nil {
					return err
				}
				return out.Success(t, describeTable(t))
			})
		},
	}
}

func describeTable(t model.HitTable) string {
	var b strings.Builder
	b.WriteString("picks  matched  pays")
	for _, sel := range slices.Sorted(maps.Keys(t)) {
		for _, r := range t[sel] {
			fmt.Fprintf(&b, "\n%5d  %7d  %4dx", r.Selected, r.Matched, r.Rate)
		}
	}
	return b.String()
}

func newAdCommand(opts *RootOptions) *cobra.Command {
	var save string

	cmd := &cobra.Command{
		Use:   "ad",
		Short: "Fetch the current advertisement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if _, err := opts.signIn(ctx, a); err != nil {
					return err
				}
				ad, err := a.Games.Ads(ctx)
				if err != nil {
					return err
				}
				if save != "" {
					if err := os.WriteFile(save, ad.Source, 0o644); err != nil {
						return fmt.Errorf("cli: saving ad: %w", err)
					}
				}
				return out.Success(map[string]string{
					"id": ad.ID, "fileName": ad.FileName, "url": ad.URL, "contentType": ad.ContentType,
				}, fmt.Sprintf("%s (%s, %d bytes) -> %s", ad.FileName, ad.ContentType, len(ad.Source), ad.URL))
			})
		},
	}

	cmd.Flags().StringVar(&save, "save", "", "write the image to this file")
	return cmd
}
