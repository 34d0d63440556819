package game

import "time"

type Account struct {
	ID              string    `json:"id"`
	Wallet          int64     `json:"wallet"`
	Bank            int64     `json:"bank"`
	DrawCredits     int64     `json:"draw_credits"`
	EquippedPowerID *string   `json:"equipped_power_id,omitempty"`
	BonusCP         int64     `json:"bonus_cp"`
	Wins            int64     `json:"wins"`
	Losses          int64     `json:"losses"`
	XP              int64     `json:"xp"`
	Level           int32     `json:"level"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type PowerDefinition struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Rank   string `json:"rank" yaml:"rank"`
	BaseCP int64  `json:"base_cp" yaml:"base_cp"`
	Price  int64  `json:"price" yaml:"price"`
	Weight int    `json:"weight" yaml:"weight"`
}

type PowerInstance struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	DefinitionID string    `json:"definition_id"`
	Name         string    `json:"name"`
	Rank         string    `json:"rank"`
	CombatPower  int64     `json:"combat_power"`
	AcquiredAt   time.Time `json:"acquired_at"`
}

type RedeemCode struct {
	Code        string     `json:"code"`
	Description string     `json:"description"`
	Rewards     []Reward   `json:"-"`
	MaxUses     *int64     `json:"max_uses,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Expired reports whether the code is past its expiry at now.
func (c RedeemCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

type CodeUsage struct {
	Code       string    `json:"code"`
	AccountID  string    `json:"account_id"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

const (
	FieldWallet      = "wallet"
	FieldBank        = "bank"
	FieldDrawCredits = "draw_credits"
)

// LedgerEntry is one row of the balance change log.
type LedgerEntry struct {
	TxGroupID string    `json:"tx_group_id"`
	AccountID string    `json:"account_id"`
	Field     string    `json:"field"`
	Delta     int64     `json:"delta"`
	Balance   int64     `json:"balance"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Contender is the ranking snapshot of one account.
type Contender struct {
	AccountID   string `json:"account_id"`
	EffectiveCP int64  `json:"effective_cp"`
	Wins        int64  `json:"wins"`
	Level       int32  `json:"level"`
}

type RankPosition struct {
	Contender
	Position   int64     `json:"position"`
	ComputedAt time.Time `json:"computed_at"`
}

// Profile is the read model returned to the presentation layer.
type Profile struct {
	Account     Account         `json:"account"`
	Powers      []PowerInstance `json:"powers"`
	EffectiveCP int64           `json:"effective_cp"`
	Position    *int64          `json:"arena_position,omitempty"`
}

type BalanceView struct {
	AccountID   string `json:"account_id"`
	Wallet      int64  `json:"wallet"`
	Bank        int64  `json:"bank"`
	DrawCredits int64  `json:"draw_credits"`
}

func (a Account) Balances() BalanceView {
	return BalanceView{
		AccountID:   a.ID,
		Wallet:      a.Wallet,
		Bank:        a.Bank,
		DrawCredits: a.DrawCredits,
	}
}

type TransferResult struct {
	From   BalanceView `json:"from"`
	To     BalanceView `json:"to"`
	Amount int64       `json:"amount"`
}

type WagerResult struct {
	Stake   int64       `json:"stake"`
	Payout  int64       `json:"payout"`
	Net     int64       `json:"net"`
	Balance BalanceView `json:"balance"`
}

type BankResult struct {
	Moved   int64       `json:"moved"`
	Balance BalanceView `json:"balance"`
}

// GrantResult describes what a reward list actually changed.
type GrantResult struct {
	Coins       int64           `json:"coins"`
	DrawCredits int64           `json:"draw_credits"`
	Powers      []PowerInstance `json:"powers,omitempty"`
	Balance     BalanceView     `json:"balance"`
}
