package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aethery0y/Aot-sub000/internal/audit"
	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/lock"
	"github.com/Aethery0y/Aot-sub000/internal/store"
	"github.com/Aethery0y/Aot-sub000/internal/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Publish(_ context.Context, ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) last() audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestService(t *testing.T) (*Service, *memory.Store, *recorder) {
	t.Helper()
	st := memory.New()
	locks := lock.NewManager(lock.NewMemory(), lock.Options{Timeout: 5 * time.Second, RetryInterval: time.Millisecond})
	rec := &recorder{}
	svc := NewService(st, locks, Options{Sink: rec, Rand: game.NewRand(7)})
	return svc, st, rec
}

// seed registers id and forces its wallet and bank.
func seed(t *testing.T, svc *Service, st *memory.Store, id string, wallet, bank int64) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Register(ctx, id)
	require.NoError(t, err)
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		a, err := tx.AccountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		a.Wallet, a.Bank = wallet, bank
		return tx.UpdateAccount(ctx, a)
	}))
}

func account(t *testing.T, st *memory.Store, id string) game.Account {
	t.Helper()
	var a game.Account
	require.NoError(t, st.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		a, err = tx.Account(context.Background(), id)
		return err
	}))
	return a
}

func TestRegisterGrantsStarterBalances(t *testing.T) {
	svc, st, rec := newTestService(t)
	ctx := context.Background()

	a, err := svc.Register(ctx, "eren")
	require.NoError(t, err)
	assert.Equal(t, game.StarterWallet, a.Wallet)
	assert.Equal(t, game.StarterDrawCredits, a.DrawCredits)
	assert.Equal(t, int32(1), a.Level)
	assert.Len(t, st.Entries(), 2)
	assert.Equal(t, OpRegister, rec.last().Operation)

	_, err = svc.Register(ctx, "eren")
	require.ErrorIs(t, err, game.ErrAccountExists)
	assert.Equal(t, audit.OutcomeFailed, rec.last().Outcome)
}

func TestTransferInsufficientFundsLeavesBalances(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 50, 0)
	seed(t, svc, st, "b", 10, 0)

	_, err := svc.Transfer(ctx, "a", "b", 100)
	require.ErrorIs(t, err, game.ErrInsufficientFunds)
	assert.Equal(t, int64(50), account(t, st, "a").Wallet)
	assert.Equal(t, int64(10), account(t, st, "b").Wallet)
}

func TestTransferValidation(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 50, 0)

	_, err := svc.Transfer(ctx, "a", "a", 10)
	require.ErrorIs(t, err, game.ErrSelfTarget)
	_, err = svc.Transfer(ctx, "a", "ghost", 10)
	require.ErrorIs(t, err, game.ErrNotFound)
	_, err = svc.Transfer(ctx, "a", "b", 0)
	require.ErrorIs(t, err, game.ErrInvalidAmount)
}

func TestTransferAppendsPairedEntries(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 100, 0)
	seed(t, svc, st, "b", 0, 0)
	before := len(st.Entries())

	res, err := svc.Transfer(ctx, "a", "b", 40)
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.From.Wallet)
	assert.Equal(t, int64(40), res.To.Wallet)

	entries := st.Entries()[before:]
	require.Len(t, entries, 2)
	assert.Equal(t, entries[0].TxGroupID, entries[1].TxGroupID)
	assert.Equal(t, int64(0), entries[0].Delta+entries[1].Delta)
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 1000, 0)
	seed(t, svc, st, "b", 1000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int64) {
			defer wg.Done()
			_, _ = svc.Transfer(ctx, "a", "b", n%70+1)
		}(int64(i))
		go func(n int64) {
			defer wg.Done()
			_, _ = svc.Transfer(ctx, "b", "a", n%90+1)
		}(int64(i))
	}
	wg.Wait()

	a, b := account(t, st, "a"), account(t, st, "b")
	assert.Equal(t, int64(2000), a.Wallet+b.Wallet)
	assert.GreaterOrEqual(t, a.Wallet, int64(0))
	assert.GreaterOrEqual(t, b.Wallet, int64(0))
}

func TestWagerScenarios(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 15, 0)

	res, err := svc.Wager(ctx, "a", 10, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Balance.Wallet)
	assert.Equal(t, int64(10), res.Net)

	res, err = svc.Wager(ctx, "a", 25, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Balance.Wallet)

	_, err = svc.Wager(ctx, "a", 1, 0)
	require.ErrorIs(t, err, game.ErrInsufficientFunds)
	_, err = svc.Wager(ctx, "a", 0, 5)
	require.ErrorIs(t, err, game.ErrInvalidAmount)
}

func TestConcurrentWagersNeverGoNegative(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 100, 0)

	var wg sync.WaitGroup
	var ok, short int
	var mu sync.Mutex
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Wager(ctx, "a", 10, 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, game.ErrInsufficientFunds):
				short++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, ok)
	assert.Equal(t, 20, short)
	assert.Equal(t, int64(0), account(t, st, "a").Wallet)
}

func TestBankMovesAndAll(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 300, 0)

	res, err := svc.Deposit(ctx, "a", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(200), res.Balance.Wallet)
	assert.Equal(t, int64(100), res.Balance.Bank)

	_, err = svc.Withdraw(ctx, "a", 500)
	require.ErrorIs(t, err, game.ErrInsufficientFunds)

	res, err = svc.Deposit(ctx, "a", All)
	require.NoError(t, err)
	assert.Equal(t, int64(200), res.Moved)
	assert.Equal(t, int64(0), res.Balance.Wallet)
	assert.Equal(t, int64(300), res.Balance.Bank)

	_, err = svc.Deposit(ctx, "a", All)
	require.ErrorIs(t, err, game.ErrInvalidAmount)

	res, err = svc.Withdraw(ctx, "a", All)
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.Balance.Wallet)
	assert.Equal(t, int64(0), res.Balance.Bank)

	_, err = svc.Deposit(ctx, "a", -5)
	require.ErrorIs(t, err, game.ErrInvalidAmount)
}

func TestConcurrentDepositAllMovesOnce(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 400, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Deposit(ctx, "a", All)
		}()
	}
	wg.Wait()
	a := account(t, st, "a")
	assert.Equal(t, int64(0), a.Wallet)
	assert.Equal(t, int64(400), a.Bank)
}

func TestGrantRewardsAppliesEveryKind(t *testing.T) {
	svc, st, rec := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 0, 0)

	res, err := svc.GrantRewards(ctx, "a", []game.Reward{
		game.Coins{Amount: 250},
		game.DrawCredits{Amount: 2},
		game.PowerGrant{DefinitionID: "thunder-spear"},
	}, "test grant")
	require.NoError(t, err)
	assert.Equal(t, int64(250), res.Coins)
	assert.Equal(t, game.StarterDrawCredits+2, res.Balance.DrawCredits)
	require.Len(t, res.Powers, 1)

	a := account(t, st, "a")
	require.NotNil(t, a.EquippedPowerID)
	assert.Equal(t, res.Powers[0].ID, *a.EquippedPowerID)
	assert.Equal(t, OpGrant, rec.last().Operation)

	_, err = svc.GrantRewards(ctx, "a", []game.Reward{game.PowerGrant{DefinitionID: "nope"}}, "bad")
	require.ErrorIs(t, err, game.ErrConfiguration)
	assert.Equal(t, int64(250), account(t, st, "a").Wallet)
}

func TestCreditsRefuseToOverflow(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 500, 0)
	seed(t, svc, st, "rich", math.MaxInt64-10, 0)
	seed(t, svc, st, "vault", 100, math.MaxInt64-50)

	_, err := svc.GrantRewards(ctx, "a", []game.Reward{game.Coins{Amount: math.MaxInt64}}, "huge")
	require.ErrorIs(t, err, game.ErrInvalidAmount)
	_, err = svc.GrantRewards(ctx, "a", []game.Reward{game.DrawCredits{Amount: math.MaxInt64}}, "huge")
	require.ErrorIs(t, err, game.ErrInvalidAmount)
	a := account(t, st, "a")
	assert.Equal(t, int64(500), a.Wallet)
	assert.Equal(t, game.StarterDrawCredits, a.DrawCredits)

	_, err = svc.Transfer(ctx, "a", "rich", 100)
	require.ErrorIs(t, err, game.ErrInvalidAmount)
	assert.Equal(t, int64(500), account(t, st, "a").Wallet)
	assert.Equal(t, int64(math.MaxInt64-10), account(t, st, "rich").Wallet)

	_, err = svc.Deposit(ctx, "vault", All)
	require.ErrorIs(t, err, game.ErrInvalidAmount)

	_, err = svc.Wager(ctx, "rich", 5, 100)
	require.ErrorIs(t, err, game.ErrInvalidAmount)
	assert.Equal(t, int64(math.MaxInt64-10), account(t, st, "rich").Wallet)
}

func TestDrawConsumesCredits(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 0, 0)

	for i := int64(0); i < game.StarterDrawCredits; i++ {
		p, err := svc.Draw(ctx, "a")
		require.NoError(t, err)
		def, ok := svc.Powers().Get(p.DefinitionID)
		require.True(t, ok)
		assert.InDelta(t, float64(def.BaseCP), float64(p.CombatPower), float64(def.BaseCP)/10+1)
	}
	_, err := svc.Draw(ctx, "a")
	require.ErrorIs(t, err, game.ErrNoDrawCredits)

	prof, err := svc.Profile(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, prof.Powers, int(game.StarterDrawCredits))
	assert.Equal(t, int64(0), prof.Account.DrawCredits)
	assert.Positive(t, prof.EffectiveCP)
	assert.Nil(t, prof.Position)
}

func TestBuyAndEquip(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, st, "a", 150, 0)
	seed(t, svc, st, "b", 0, 0)

	_, err := svc.BuyPower(ctx, "a", "scout-veteran")
	require.ErrorIs(t, err, game.ErrInsufficientFunds)
	_, err = svc.BuyPower(ctx, "a", "missing")
	require.ErrorIs(t, err, game.ErrNotFound)

	first, err := svc.BuyPower(ctx, "a", "odm-recruit")
	require.NoError(t, err)
	assert.Equal(t, int64(50), account(t, st, "a").Wallet)

	granted, err := svc.GrantRewards(ctx, "a", []game.Reward{game.PowerGrant{DefinitionID: "jaw-titan"}}, "gift")
	require.NoError(t, err)
	assert.Equal(t, first.ID, *account(t, st, "a").EquippedPowerID)

	_, err = svc.Equip(ctx, "a", granted.Powers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, granted.Powers[0].ID, *account(t, st, "a").EquippedPowerID)

	_, err = svc.Equip(ctx, "b", first.ID)
	require.ErrorIs(t, err, game.ErrNotOwned)
	_, err = svc.Equip(ctx, "b", "nope")
	require.ErrorIs(t, err, game.ErrNotOwned)
}
