package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	StarterWallet      = int64(500)
	StarterDrawCredits = int64(3)

	XPPerLevel   = int64(100)
	XPPerVictory = int64(25)
	XPPerDefeat  = int64(5)
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNegativeBalance   = errors.New("operation would leave a negative balance")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyRedeemed   = errors.New("code already redeemed by this account")
	ErrInvalidCode       = errors.New("invalid or inactive code")
	ErrExpired           = errors.New("code expired")
	ErrUsageExceeded     = errors.New("code usage limit reached")
	ErrConfiguration     = errors.New("configuration error")
	ErrInvalidAmount     = errors.New("amount must be > 0")
	ErrNoDrawCredits     = errors.New("no draw credits left")
	ErrNotOwned          = errors.New("power is not owned by this account")
	ErrAccountExists     = errors.New("account already registered")
	ErrCodeExists        = errors.New("code already exists")
	ErrSelfTarget        = errors.New("source and target account must differ")
	ErrUnknownTier       = errors.New("unknown tier")
	ErrInvalidReward     = errors.New("invalid reward")
)

// Narrower lookups; each still matches ErrNotFound.
var (
	ErrPowerNotFound = fmt.Errorf("power %w", ErrNotFound)
	ErrCodeNotFound  = fmt.Errorf("code %w", ErrNotFound)
	ErrNotRanked     = fmt.Errorf("arena ranking %w", ErrNotFound)
)

var codeRE = regexp.MustCompile(`^[A-Z0-9]{3}-[A-Z0-9]{3}-[A-Z0-9]{3}$`)

// NormalizeCode upper-cases and trims a user supplied redeem code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidateCode(code string) error {
	if !codeRE.MatchString(code) {
		return ErrInvalidCode
	}
	return nil
}

func LevelForXP(xp int64) int32 {
	if xp < 0 {
		xp = 0
	}
	return int32(1 + xp/XPPerLevel)
}

// EffectiveCP is the equipped power's CP plus the account's bonus CP.
func EffectiveCP(equipped *PowerInstance, bonusCP int64) int64 {
	cp := bonusCP
	if equipped != nil {
		cp += equipped.CombatPower
	}
	if cp < 0 {
		return 0
	}
	return cp
}

// Describe returns the player-facing message for a domain error. Unknown
// errors get a generic message so internals never leak to chat.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientFunds):
		return "You don't have enough coins for that."
	case errors.Is(err, ErrNegativeBalance):
		return "That would leave your wallet below zero."
	case errors.Is(err, ErrPowerNotFound):
		return "There is no power with that id."
	case errors.Is(err, ErrCodeNotFound):
		return "There is no code with that name."
	case errors.Is(err, ErrNotRanked):
		return "You are not ranked yet. Check again after the next arena update."
	case errors.Is(err, ErrNotFound):
		return "Account not found. Register first."
	case errors.Is(err, ErrAlreadyRedeemed):
		return "You have already redeemed this code."
	case errors.Is(err, ErrInvalidCode):
		return "That code does not exist or is no longer active."
	case errors.Is(err, ErrExpired):
		return "That code has expired."
	case errors.Is(err, ErrUsageExceeded):
		return "That code has reached its usage limit."
	case errors.Is(err, ErrInvalidAmount):
		return "Amount must be a positive number."
	case errors.Is(err, ErrNoDrawCredits):
		return "You have no draw credits left."
	case errors.Is(err, ErrNotOwned):
		return "You don't own that power."
	case errors.Is(err, ErrAccountExists):
		return "You are already registered."
	case errors.Is(err, ErrCodeExists):
		return "A code with that name already exists."
	case errors.Is(err, ErrSelfTarget):
		return "You can't target yourself."
	case errors.Is(err, ErrUnknownTier):
		return "Unknown tier."
	case errors.Is(err, ErrInvalidReward):
		return "That reward list is not valid."
	default:
		return "Something went wrong. Try again later."
	}
}
