package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	cl "github.com/Aethery0y/Aot-sub000/internal/cli"

	"github.com/spf13/cobra"
)

type rewardFlags struct {
	coins  int64
	draws  int64
	powers []string
}

func (f *rewardFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.coins, "coins", 0, "coins to grant")
	cmd.Flags().Int64Var(&f.draws, "draws", 0, "draw credits to grant")
	cmd.Flags().StringSliceVar(&f.powers, "power", nil, "power id to grant (repeatable)")
}

func (f *rewardFlags) rewards() ([]map[string]any, error) {
	var out []map[string]any
	if f.coins > 0 {
		out = append(out, map[string]any{"type": "coin", "amount": f.coins})
	}
	if f.draws > 0 {
		out = append(out, map[string]any{"type": "draw-credit", "amount": f.draws})
	}
	for _, p := range f.powers {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, map[string]any{"type": "power", "power": p})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one of --coins, --draws or --power is required")
	}
	return out, nil
}

func adminRun(g *globals, fn func(ctx context.Context, c *cl.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return fn(ctx, g.client(), args)
	}
}

func newAdminCmd(g *globals) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands (needs AOT_ADMIN_TOKEN)",
	}
	admin.AddCommand(newAdminCodeCmd(g), newAdminGrantCmd(g))
	admin.AddCommand(&cobra.Command{
		Use:   "recompute",
		Short: "Rebuild the arena ranking now",
		RunE: adminRun(g, func(ctx context.Context, c *cl.Client, _ []string) error {
			out, err := c.RecomputeArena(ctx)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Ranked %s accounts.", comma(int64Field(out, "ranked"))))
			return nil
		}),
	})
	return admin
}

func newAdminCodeCmd(g *globals) *cobra.Command {
	code := &cobra.Command{
		Use:   "code",
		Short: "Manage redeem codes",
	}

	var (
		rf          rewardFlags
		name        string
		description string
		maxUses     int64
		expiresIn   time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Create a redeem code",
		RunE: adminRun(g, func(ctx context.Context, c *cl.Client, _ []string) error {
			rewards, err := rf.rewards()
			if err != nil {
				return err
			}
			req := cl.IssueCodeRequest{Code: name, Description: description, Rewards: rewards}
			if maxUses > 0 {
				req.MaxUses = &maxUses
			}
			if expiresIn > 0 {
				at := time.Now().Add(expiresIn).UTC()
				req.ExpiresAt = &at
			}
			out, err := c.IssueCode(ctx, req)
			if err != nil {
				return err
			}
			return renderCode(out)
		}),
	}
	rf.register(issue)
	issue.Flags().StringVar(&name, "code", "", "code text (XXX-XXX-XXX); generated when empty")
	issue.Flags().StringVar(&description, "description", "", "description shown to operators")
	issue.Flags().Int64Var(&maxUses, "max-uses", 0, "total redemption cap (0 = unlimited)")
	issue.Flags().DurationVar(&expiresIn, "expires-in", 0, "expire after this duration (0 = never)")
	code.AddCommand(issue)

	code.AddCommand(&cobra.Command{
		Use:   "show <code>",
		Short: "Show a code and its usage count",
		Args:  cobra.ExactArgs(1),
		RunE: adminRun(g, func(ctx context.Context, c *cl.Client, args []string) error {
			out, err := c.CodeUsage(ctx, args[0])
			if err != nil {
				return err
			}
			return renderCode(out)
		}),
	})
	code.AddCommand(&cobra.Command{
		Use:   "deactivate <code>",
		Short: "Stop a code from being redeemed",
		Args:  cobra.ExactArgs(1),
		RunE: adminRun(g, func(ctx context.Context, c *cl.Client, args []string) error {
			out, err := c.DeactivateCode(ctx, args[0])
			if err != nil {
				return err
			}
			return renderSimpleOK(out, "Code "+strings.ToUpper(args[0])+" deactivated.")
		}),
	})
	code.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Deactivate every expired code",
		RunE: adminRun(g, func(ctx context.Context, c *cl.Client, _ []string) error {
			out, err := c.SweepCodes(ctx)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Deactivated %s expired codes.", comma(int64Field(out, "deactivated"))))
			return nil
		}),
	})
	return code
}

func newAdminGrantCmd(g *globals) *cobra.Command {
	var (
		rf     rewardFlags
		reason string
	)
	grant := &cobra.Command{
		Use:   "grant <account_id>",
		Short: "Grant rewards directly to an account",
		Args:  cobra.ExactArgs(1),
		RunE: adminRun(g, func(ctx context.Context, c *cl.Client, args []string) error {
			rewards, err := rf.rewards()
			if err != nil {
				return err
			}
			out, err := c.Grant(ctx, strings.TrimSpace(args[0]), rewards, reason)
			if err != nil {
				return err
			}
			return renderGrant(out, "Granted.")
		}),
	}
	rf.register(grant)
	grant.Flags().StringVar(&reason, "reason", "", "reason recorded in the ledger")
	return grant
}
