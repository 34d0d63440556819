package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "github.com/Aethery0y/Aot-sub000/internal/cli"
	"github.com/Aethery0y/Aot-sub000/internal/config"

	"github.com/spf13/cobra"
)

type globals struct {
	apiBase    string
	apiToken   string
	adminToken string
	as         string
}

func main() {
	cfg := config.LoadCLIFromEnv()
	g := &globals{apiBase: cfg.APIBaseURL, apiToken: cfg.APIToken, adminToken: cfg.AdminToken}

	root := &cobra.Command{
		Use:          "aotctl",
		Short:        "Player and operator client for the AOT economy API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.apiBase, "api", g.apiBase, "API base URL")
	root.PersistentFlags().StringVar(&g.as, "as", "", "act as this account instead of the saved session")

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newRegisterCmd(g),
		newProfileCmd(g),
		newBalanceCmd(g),
		newPayCmd(g),
		newCoinflipCmd(g),
		newBankCmd(g),
		newPowersCmd(g),
		newRedeemCmd(g),
		newFightCmd(g),
		newDuelCmd(g),
		newArenaCmd(g),
		newAdminCmd(g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (g *globals) client() *cl.Client {
	return cl.NewClient(strings.TrimSpace(g.apiBase), g.apiToken, g.adminToken)
}

func (g *globals) account() (string, error) {
	if id := strings.TrimSpace(g.as); id != "" {
		return id, nil
	}
	sess, err := cl.LoadSession()
	if err != nil {
		return "", fmt.Errorf("login required (aotctl login <account>) or pass --as: %w", err)
	}
	return sess.AccountID, nil
}

// playerRun wraps the boilerplate shared by every player command.
func (g *globals) playerRun(fn func(ctx context.Context, c *cl.Client, account string, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		account, err := g.account()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return fn(ctx, g.client(), account, args)
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [account_id]",
		Short: "Remember which account to act as",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) > 0 {
				id = strings.TrimSpace(args[0])
			} else {
				var err error
				if id, err = promptRequired("Account id"); err != nil {
					return err
				}
			}
			if err := cl.SaveSession(cl.Session{AccountID: id}); err != nil {
				return err
			}
			printSuccess("Acting as " + id + ".")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newRegisterCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create the account with its starter balance",
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, _ []string) error {
			out, err := c.Register(ctx, account)
			if err != nil {
				return err
			}
			return renderRegistered(out)
		}),
	}
}

func newProfileCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show balances, powers and arena position",
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, _ []string) error {
			out, err := c.Profile(ctx, account)
			if err != nil {
				return err
			}
			return renderProfile(out)
		}),
	}
}

func newBalanceCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show wallet, bank and draw credits",
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, _ []string) error {
			out, err := c.Balance(ctx, account)
			if err != nil {
				return err
			}
			return renderBalance(out)
		}),
	}
}

func newPayCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "pay <account_id> <amount>",
		Short: "Transfer coins to another account",
		Args:  cobra.ExactArgs(2),
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, args []string) error {
			amount, err := parsePositive(args[1], "amount")
			if err != nil {
				return err
			}
			out, err := c.Transfer(ctx, account, strings.TrimSpace(args[0]), amount)
			if err != nil {
				return err
			}
			return renderTransfer(out)
		}),
	}
}

func newCoinflipCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "coinflip <heads|tails> <stake>",
		Short: "Double or nothing",
		Args:  cobra.ExactArgs(2),
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, args []string) error {
			stake, err := parsePositive(args[1], "stake")
			if err != nil {
				return err
			}
			out, err := c.Coinflip(ctx, account, stake, args[0])
			if err != nil {
				return err
			}
			return renderCoinflip(out)
		}),
	}
}

func newBankCmd(g *globals) *cobra.Command {
	bank := &cobra.Command{
		Use:   "bank",
		Short: "Move coins between wallet and bank",
	}
	move := func(use, short string, deposit bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <amount|all>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, args []string) error {
				amount, all, err := parseAmountOrAll(args[0])
				if err != nil {
					return err
				}
				var out map[string]any
				if deposit {
					out, err = c.Deposit(ctx, account, amount, all)
				} else {
					out, err = c.Withdraw(ctx, account, amount, all)
				}
				if err != nil {
					return err
				}
				return renderBank(out, deposit)
			}),
		}
	}
	bank.AddCommand(
		move("deposit", "Wallet to bank", true),
		move("withdraw", "Bank to wallet", false),
	)
	return bank
}

func newPowersCmd(g *globals) *cobra.Command {
	powers := &cobra.Command{
		Use:   "powers",
		Short: "Power catalog, draws and equipment",
	}
	powers.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the power catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := g.client().PowerCatalog(ctx)
			if err != nil {
				return err
			}
			return renderCatalog(out)
		},
	})
	powers.AddCommand(&cobra.Command{
		Use:   "draw",
		Short: "Spend a draw credit on a random power",
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, _ []string) error {
			out, err := c.Draw(ctx, account)
			if err != nil {
				return err
			}
			return renderPower(out, "You drew")
		}),
	})
	powers.AddCommand(&cobra.Command{
		Use:   "buy <power_id>",
		Short: "Buy a power at catalog price",
		Args:  cobra.ExactArgs(1),
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, args []string) error {
			out, err := c.BuyPower(ctx, account, args[0])
			if err != nil {
				return err
			}
			return renderPower(out, "You bought")
		}),
	})
	powers.AddCommand(&cobra.Command{
		Use:   "equip <instance_id>",
		Short: "Equip an owned power",
		Args:  cobra.ExactArgs(1),
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, args []string) error {
			out, err := c.Equip(ctx, account, args[0])
			if err != nil {
				return err
			}
			return renderPower(out, "Equipped")
		}),
	})
	return powers
}

func newRedeemCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <code>",
		Short: "Redeem a promotional code",
		Args:  cobra.ExactArgs(1),
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, args []string) error {
			out, err := c.Redeem(ctx, account, args[0])
			if err != nil {
				return err
			}
			return renderGrant(out, "Code redeemed.")
		}),
	}
}

func newFightCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "fight [tier]",
		Short: "Fight a generated opponent, matched to your CP unless a tier is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, args []string) error {
			var tierLabel string
			if len(args) > 0 {
				tierLabel = strings.ToUpper(strings.TrimSpace(args[0]))
			}
			out, err := c.Fight(ctx, account, tierLabel)
			if err != nil {
				return err
			}
			return renderFight(out)
		}),
	}
}

func newDuelCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "duel <account_id>",
		Short: "Challenge another account",
		Args:  cobra.ExactArgs(1),
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, args []string) error {
			out, err := c.Duel(ctx, account, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return renderDuel(out, account)
		}),
	}
}

func newArenaCmd(g *globals) *cobra.Command {
	arena := &cobra.Command{
		Use:   "arena",
		Short: "Arena ranking",
	}
	var limit int
	top := &cobra.Command{
		Use:   "top",
		Short: "Show the top of the ranking",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := g.client().ArenaTop(ctx, limit)
			if err != nil {
				return err
			}
			return renderArena(out)
		},
	}
	top.Flags().IntVar(&limit, "limit", 10, "number of rows")
	arena.AddCommand(top)
	arena.AddCommand(&cobra.Command{
		Use:   "me",
		Short: "Show your arena position",
		RunE: g.playerRun(func(ctx context.Context, c *cl.Client, account string, _ []string) error {
			out, err := c.ArenaPosition(ctx, account)
			if err != nil {
				return err
			}
			return renderPosition(out)
		}),
	})
	return arena
}

func parsePositive(raw, label string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q", label, raw)
	}
	return v, nil
}

func parseAmountOrAll(raw string) (int64, bool, error) {
	if strings.EqualFold(strings.TrimSpace(raw), "all") {
		return 0, true, nil
	}
	v, err := parsePositive(raw, "amount")
	return v, false, err
}
