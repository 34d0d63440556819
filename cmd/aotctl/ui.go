package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Aethery0y/Aot-sub000/internal/combat"
	"github.com/Aethery0y/Aot-sub000/internal/game"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type catalogPayload struct {
	Powers []game.PowerDefinition `json:"powers"`
}

type arenaPayload struct {
	Rows []game.RankPosition `json:"rows"`
}

type coinflipPayload struct {
	Landed string           `json:"landed"`
	Won    bool             `json:"won"`
	Result game.WagerResult `json:"result"`
}

type codePayload struct {
	Code    game.RedeemCode  `json:"code"`
	Rewards game.RewardsJSON `json:"rewards"`
	Uses    *int64           `json:"uses"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderRegistered(raw map[string]any) error {
	acct, err := decodeInto[game.Account](raw)
	if err != nil {
		return err
	}
	printSuccess("Welcome to the Survey Corps, " + acct.ID + ".")
	fmt.Printf("Starter wallet: %s coins, %d draw credits\n", comma(acct.Wallet), acct.DrawCredits)
	return nil
}

func renderBalance(raw map[string]any) error {
	b, err := decodeInto[game.BalanceView](raw)
	if err != nil {
		return err
	}
	printBalances(b)
	return nil
}

func printBalances(b game.BalanceView) {
	fmt.Printf("%-14s %s\n", "Wallet", accent.Sprint(comma(b.Wallet)))
	fmt.Printf("%-14s %s\n", "Bank", comma(b.Bank))
	fmt.Printf("%-14s %d\n", "Draw credits", b.DrawCredits)
}

func renderProfile(raw map[string]any) error {
	p, err := decodeInto[game.Profile](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s ==\n", strings.ToUpper(p.Account.ID))
	printBalances(p.Account.Balances())
	fmt.Printf("%-14s %s\n", "Effective CP", comma(p.EffectiveCP))
	fmt.Printf("%-14s Lv %d (%d xp) %d W / %d L\n", "Record", p.Account.Level, p.Account.XP, p.Account.Wins, p.Account.Losses)
	if p.Position != nil {
		fmt.Printf("%-14s #%d\n", "Arena", *p.Position)
	}
	if len(p.Powers) == 0 {
		printInfo("No powers yet. Try `aotctl powers draw`.")
		return nil
	}
	fmt.Printf("\n%-2s %-5s %-22s %12s  %s\n", "", "RANK", "POWER", "CP", "ID")
	for _, pw := range p.Powers {
		mark := ""
		if p.Account.EquippedPowerID != nil && *p.Account.EquippedPowerID == pw.ID {
			mark = "*"
		}
		fmt.Printf("%-2s %-5s %-22s %12s  %s\n", mark, pw.Rank, truncate(pw.Name, 22), comma(pw.CombatPower), pw.ID)
	}
	fmt.Println()
	return nil
}

func renderTransfer(raw map[string]any) error {
	out, err := decodeInto[game.TransferResult](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Sent %s coins to %s.", comma(out.Amount), out.To.AccountID))
	fmt.Printf("Wallet now %s\n", comma(out.From.Wallet))
	return nil
}

func renderCoinflip(raw map[string]any) error {
	out, err := decodeInto[coinflipPayload](raw)
	if err != nil {
		return err
	}
	fmt.Printf("The coin lands on %s. ", accent.Sprint(out.Landed))
	if out.Won {
		success.Printf("You win %s!\n", comma(out.Result.Net))
	} else {
		danger.Printf("You lose %s.\n", comma(out.Result.Stake))
	}
	fmt.Printf("Wallet now %s\n", comma(out.Result.Balance.Wallet))
	return nil
}

func renderBank(raw map[string]any, deposit bool) error {
	out, err := decodeInto[game.BankResult](raw)
	if err != nil {
		return err
	}
	verb := "Withdrew"
	if deposit {
		verb = "Deposited"
	}
	printSuccess(fmt.Sprintf("%s %s coins.", verb, comma(out.Moved)))
	printBalances(out.Balance)
	return nil
}

func renderCatalog(raw map[string]any) error {
	out, err := decodeInto[catalogPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== POWER CATALOG ==")
	fmt.Printf("%-16s %-5s %-22s %12s %12s\n", "ID", "RANK", "NAME", "BASE CP", "PRICE")
	for _, d := range out.Powers {
		fmt.Printf("%-16s %-5s %-22s %12s %12s\n", d.ID, d.Rank, truncate(d.Name, 22), comma(d.BaseCP), comma(d.Price))
	}
	fmt.Println()
	return nil
}

func renderPower(raw map[string]any, prefix string) error {
	p, err := decodeInto[game.PowerInstance](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("%s %s [%s] with %s CP.", prefix, p.Name, p.Rank, comma(p.CombatPower)))
	printInfo("Instance " + p.ID)
	return nil
}

func renderGrant(raw map[string]any, headline string) error {
	g, err := decodeInto[game.GrantResult](raw)
	if err != nil {
		return err
	}
	printSuccess(headline)
	if g.Coins > 0 {
		fmt.Printf("  +%s coins\n", comma(g.Coins))
	}
	if g.DrawCredits > 0 {
		fmt.Printf("  +%d draw credits\n", g.DrawCredits)
	}
	for _, p := range g.Powers {
		fmt.Printf("  +%s [%s] %s CP\n", p.Name, p.Rank, comma(p.CombatPower))
	}
	fmt.Printf("Wallet now %s\n", comma(g.Balance.Wallet))
	return nil
}

func renderFight(raw map[string]any) error {
	out, err := decodeInto[combat.FightResult](raw)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s, tier %s) with %s CP vs your %s CP\n",
		accent.Sprint(out.Encounter.Name), out.Encounter.Type, out.Encounter.Tier,
		comma(out.Encounter.CP), comma(out.EffectiveCP))
	if out.Outcome.Victory {
		success.Printf("Victory (%s)! +%s coins\n", out.Outcome.Intensity, comma(out.Reward))
	} else {
		danger.Printf("Defeat (%s).\n", out.Outcome.Intensity)
	}
	printStanding(out.Standing)
	return nil
}

func renderDuel(raw map[string]any, me string) error {
	out, err := decodeInto[combat.DuelResult](raw)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s CP) vs %s (%s CP)\n",
		out.Challenger.AccountID, comma(out.ChallengerCP),
		out.Defender.AccountID, comma(out.DefenderCP))
	if out.WinnerID == me {
		success.Printf("You win (%s)! +%s coins\n", out.Outcome.Intensity, comma(out.Reward))
	} else {
		danger.Printf("%s wins (%s). Consolation +%s coins\n", out.WinnerID, out.Outcome.Intensity, comma(out.Consolation))
	}
	if out.Challenger.AccountID == me {
		printStanding(out.Challenger)
	} else {
		printStanding(out.Defender)
	}
	return nil
}

func printStanding(s combat.Standing) {
	fmt.Printf("Lv %d (%d xp)  %d W / %d L  wallet %s\n", s.Level, s.XP, s.Wins, s.Losses, comma(s.Balance.Wallet))
	if s.LeveledUp {
		success.Printf("Level up! Now level %d.\n", s.Level)
	}
}

func renderArena(raw map[string]any) error {
	out, err := decodeInto[arenaPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== ARENA ==")
	if len(out.Rows) == 0 {
		printInfo("No ranking yet.")
		return nil
	}
	fmt.Printf("%-5s %-20s %14s %6s %5s\n", "RANK", "ACCOUNT", "CP", "WINS", "LV")
	for _, row := range out.Rows {
		fmt.Printf("%-5d %-20s %14s %6d %5d\n", row.Position, truncate(row.AccountID, 20), comma(row.EffectiveCP), row.Wins, row.Level)
	}
	fmt.Println()
	return nil
}

func renderPosition(raw map[string]any) error {
	row, err := decodeInto[game.RankPosition](raw)
	if err != nil {
		return err
	}
	fmt.Printf("#%d with %s CP (as of %s)\n", row.Position, comma(row.EffectiveCP), row.ComputedAt.Local().Format("15:04:05"))
	return nil
}

func renderCode(raw map[string]any) error {
	out, err := decodeInto[codePayload](raw)
	if err != nil {
		return err
	}
	c := out.Code
	state := success.Sprint("active")
	if !c.Active {
		state = danger.Sprint("inactive")
	}
	fmt.Printf("%s  %s\n", accent.Sprint(c.Code), state)
	if c.Description != "" {
		fmt.Println(c.Description)
	}
	limit := "unlimited"
	if c.MaxUses != nil {
		limit = comma(*c.MaxUses)
	}
	if out.Uses != nil {
		fmt.Printf("Uses: %s / %s\n", comma(*out.Uses), limit)
	} else {
		fmt.Printf("Max uses: %s\n", limit)
	}
	if c.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", c.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
	for _, r := range out.Rewards {
		switch v := r.(type) {
		case game.Coins:
			fmt.Printf("  %s coins\n", comma(v.Amount))
		case game.DrawCredits:
			fmt.Printf("  %d draw credits\n", v.Amount)
		case game.PowerGrant:
			fmt.Printf("  power %s\n", v.DefinitionID)
		}
	}
	return nil
}

func renderSimpleOK(raw map[string]any, successMessage string) error {
	if ok, _ := raw["ok"].(bool); ok || successMessage != "" {
		printSuccess(successMessage)
		return nil
	}
	printInfo("Done.")
	return nil
}

func int64Field(raw map[string]any, key string) int64 {
	switch v := raw[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
