package arena

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/store"
	"github.com/Aethery0y/Aot-sub000/internal/store/memory"
)

func TestOrderTieBreaks(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := Order([]game.Contender{
		{AccountID: "d", EffectiveCP: 500, Wins: 1, Level: 1},
		{AccountID: "c", EffectiveCP: 900, Wins: 2, Level: 3},
		{AccountID: "b", EffectiveCP: 900, Wins: 2, Level: 3},
		{AccountID: "a", EffectiveCP: 900, Wins: 2, Level: 1},
		{AccountID: "e", EffectiveCP: 900, Wins: 5, Level: 1},
		{AccountID: "f", EffectiveCP: 1200, Wins: 0, Level: 1},
	}, at)

	want := []string{"f", "e", "b", "c", "a", "d"}
	require.Len(t, rows, len(want))
	for i, id := range want {
		if rows[i].AccountID != id || rows[i].Position != int64(i+1) {
			t.Fatalf("position %d = %s (#%d), want %s", i+1, rows[i].AccountID, rows[i].Position, id)
		}
		if !rows[i].ComputedAt.Equal(at) {
			t.Fatalf("computed_at not stamped")
		}
	}
}

func seedAccounts(t *testing.T, st store.Store, accounts ...game.Account) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		for _, a := range accounts {
			if err := tx.CreateAccount(ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestRecomputeUsesEquippedPowerAndBonus(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	seedAccounts(t, st,
		game.Account{ID: "a", BonusCP: 100},
		game.Account{ID: "b"},
		game.Account{ID: "c", BonusCP: 50, Wins: 4},
	)
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		p := game.PowerInstance{ID: "p1", AccountID: "b", DefinitionID: "x", CombatPower: 400}
		if err := tx.InsertPower(ctx, p); err != nil {
			return err
		}
		b, _ := tx.AccountForUpdate(ctx, "b")
		b.EquippedPowerID = &p.ID
		return tx.UpdateAccount(ctx, b)
	}))

	r := NewRanker(st, nil)
	n, err := r.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	top, err := r.Top(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].AccountID)
	assert.Equal(t, int64(400), top[0].EffectiveCP)
	assert.Equal(t, "a", top[1].AccountID)

	pos, err := r.Position(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos.Position)

	_, err = r.Position(ctx, "ghost")
	require.ErrorIs(t, err, game.ErrNotFound)
}

type countingRanker struct{ n atomic.Int32 }

func (c *countingRanker) Recompute(context.Context) (int, error) {
	c.n.Add(1)
	return 0, nil
}

func TestSchedulerCoalescesNotifications(t *testing.T) {
	cr := &countingRanker{}
	s := NewScheduler(cr, time.Hour, 50*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	for i := 0; i < 100; i++ {
		s.Notify()
	}
	require.Eventually(t, func() bool { return cr.n.Load() >= 1 }, time.Second, 5*time.Millisecond)
	first := cr.n.Load()
	assert.LessOrEqual(t, first, int32(2))

	s.Notify()
	require.Eventually(t, func() bool { return cr.n.Load() > first }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestSchedulerRunsOnTick(t *testing.T) {
	cr := &countingRanker{}
	s := NewScheduler(cr, 10*time.Millisecond, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	require.Eventually(t, func() bool { return cr.n.Load() >= 3 }, time.Second, 5*time.Millisecond)
}
