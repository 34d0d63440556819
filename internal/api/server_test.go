package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aethery0y/Aot-sub000/internal/arena"
	"github.com/Aethery0y/Aot-sub000/internal/audit"
	"github.com/Aethery0y/Aot-sub000/internal/combat"
	"github.com/Aethery0y/Aot-sub000/internal/config"
	"github.com/Aethery0y/Aot-sub000/internal/content"
	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/ledger"
	"github.com/Aethery0y/Aot-sub000/internal/lock"
	"github.com/Aethery0y/Aot-sub000/internal/redeem"
	"github.com/Aethery0y/Aot-sub000/internal/store/memory"
)

const (
	apiToken   = "api-secret"
	adminToken = "admin-secret"
)

func newTestServer(t *testing.T, cfg config.APIConfig) *httptest.Server {
	t.Helper()
	return newTestServerWithArena(t, cfg, nil)
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify() { c.n.Add(1) }

func newTestServerWithArena(t *testing.T, cfg config.APIConfig, notifier combat.Notifier) *httptest.Server {
	t.Helper()
	c, err := content.Default()
	require.NoError(t, err)

	st := memory.New()
	rnd := game.NewRand(7)
	locks := lock.NewManager(lock.NewMemory(), lock.Options{Timeout: 5 * time.Second, RetryInterval: time.Millisecond})
	l := ledger.NewService(st, locks, ledger.Options{Sink: audit.Discard{}, Powers: c.Powers, Rand: rnd})
	ranker := arena.NewRanker(st, nil)
	srv := New(cfg, nil, Deps{
		Ledger: l,
		Redeem: redeem.NewService(st, locks, l, redeem.Options{Sink: audit.Discard{}}),
		Combat: combat.NewService(st, locks, l, c.Tiers,
			combat.NewGenerator(c.Tiers, c.Opponents, rnd),
			combat.NewResolver(rnd, 0, 0),
			combat.Options{Sink: audit.Discard{}}),
		Ranker: ranker,
		Arena:  notifier,
		Rand:   rnd,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func defaultConfig() config.APIConfig {
	return config.APIConfig{APIToken: apiToken, AdminToken: adminToken}
}

type response struct {
	Status int
	Body   map[string]any
}

func call(t *testing.T, ts *httptest.Server, method, path, token, account string, body any) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{Status: resp.StatusCode, Body: map[string]any{}}
	_ = json.NewDecoder(resp.Body).Decode(&out.Body)
	return out
}

func wallet(t *testing.T, ts *httptest.Server, account string) int64 {
	t.Helper()
	res := call(t, ts, http.MethodGet, "/v1/me/balance", apiToken, account, nil)
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	return int64(res.Body["wallet"].(float64))
}

func TestHealthzIsPublic(t *testing.T) {
	ts := newTestServer(t, defaultConfig())
	res := call(t, ts, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t, defaultConfig())

	tests := []struct {
		name    string
		method  string
		path    string
		token   string
		account string
		want    int
	}{
		{"missing token", http.MethodGet, "/v1/me", "", "eren", http.StatusUnauthorized},
		{"wrong token", http.MethodGet, "/v1/me", "nope", "eren", http.StatusUnauthorized},
		{"missing account", http.MethodGet, "/v1/me", apiToken, "", http.StatusBadRequest},
		{"api token on admin", http.MethodPost, "/v1/admin/codes/sweep", apiToken, "", http.StatusUnauthorized},
		{"catalog without account", http.MethodGet, "/v1/powers", apiToken, "", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := call(t, ts, tc.method, tc.path, tc.token, tc.account, nil)
			assert.Equal(t, tc.want, res.Status, res.Body)
		})
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{APIToken: apiToken})
	res := call(t, ts, http.MethodPost, "/v1/admin/codes/sweep", "", "", nil)
	assert.Equal(t, http.StatusForbidden, res.Status)
}

func TestRegisterAndProfile(t *testing.T) {
	ts := newTestServer(t, defaultConfig())

	res := call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "eren", nil)
	require.Equal(t, http.StatusCreated, res.Status, res.Body)
	assert.Equal(t, float64(game.StarterWallet), res.Body["wallet"])

	res = call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "eren", nil)
	assert.Equal(t, http.StatusConflict, res.Status)
	assert.Equal(t, "account_exists", res.Body["kind"])
	assert.Equal(t, game.Describe(game.ErrAccountExists), res.Body["error"])

	res = call(t, ts, http.MethodGet, "/v1/me", apiToken, "ghost", nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestTransferInsufficientFunds(t *testing.T) {
	ts := newTestServer(t, defaultConfig())
	call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "armin", nil)
	call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "mikasa", nil)

	res := call(t, ts, http.MethodPost, "/v1/transfers", apiToken, "armin", map[string]any{"to": "mikasa", "amount": game.StarterWallet + 1})
	assert.Equal(t, http.StatusPaymentRequired, res.Status)
	assert.Equal(t, "insufficient_funds", res.Body["kind"])
	assert.Equal(t, game.StarterWallet, wallet(t, ts, "armin"))

	res = call(t, ts, http.MethodPost, "/v1/transfers", apiToken, "armin", map[string]any{"to": "mikasa", "amount": 120})
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, game.StarterWallet-120, wallet(t, ts, "armin"))
	assert.Equal(t, game.StarterWallet+120, wallet(t, ts, "mikasa"))

	res = call(t, ts, http.MethodPost, "/v1/transfers", apiToken, "armin", map[string]any{"to": "armin", "amount": 1})
	assert.Equal(t, "self_target", res.Body["kind"])
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t, defaultConfig())
	call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "sasha", nil)
	res := call(t, ts, http.MethodPost, "/v1/bank/deposit", apiToken, "sasha", map[string]any{"amount": 5, "potato": true})
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestBankDepositAll(t *testing.T) {
	ts := newTestServer(t, defaultConfig())
	call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "hange", nil)

	res := call(t, ts, http.MethodPost, "/v1/bank/deposit", apiToken, "hange", map[string]any{"all": true})
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, float64(game.StarterWallet), res.Body["moved"])
	assert.Equal(t, int64(0), wallet(t, ts, "hange"))

	res = call(t, ts, http.MethodPost, "/v1/bank/deposit", apiToken, "hange", map[string]any{"all": true})
	assert.Equal(t, "invalid_amount", res.Body["kind"])

	res = call(t, ts, http.MethodPost, "/v1/bank/withdraw", apiToken, "hange", map[string]any{"amount": 200})
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, int64(200), wallet(t, ts, "hange"))
}

func TestCoinflip(t *testing.T) {
	ts := newTestServer(t, defaultConfig())
	call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "jean", nil)

	res := call(t, ts, http.MethodPost, "/v1/games/coinflip", apiToken, "jean", map[string]any{"stake": 10, "call": "edge"})
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = call(t, ts, http.MethodPost, "/v1/games/coinflip", apiToken, "jean", map[string]any{"stake": 10, "call": "heads"})
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	got := wallet(t, ts, "jean")
	if res.Body["won"] == true {
		assert.Equal(t, game.StarterWallet+10, got)
	} else {
		assert.Equal(t, game.StarterWallet-10, got)
	}

	res = call(t, ts, http.MethodPost, "/v1/games/coinflip", apiToken, "jean", map[string]any{"stake": 10_000, "call": "tails"})
	assert.Equal(t, http.StatusPaymentRequired, res.Status)
}

func TestRedeemFlow(t *testing.T) {
	ts := newTestServer(t, defaultConfig())
	call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "levi", nil)
	call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "erwin", nil)

	res := call(t, ts, http.MethodPost, "/v1/admin/codes", adminToken, "", map[string]any{
		"code":        "SNK-001-AOT",
		"description": "launch",
		"rewards": []map[string]any{
			{"type": "coin", "amount": 250},
			{"type": "draw-credit", "amount": 2},
		},
		"max_uses": 5,
	})
	require.Equal(t, http.StatusCreated, res.Status, res.Body)

	res = call(t, ts, http.MethodPost, "/v1/redeem", apiToken, "levi", map[string]any{"code": "snk-001-aot"})
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, float64(250), res.Body["coins"])
	assert.Equal(t, game.StarterWallet+250, wallet(t, ts, "levi"))

	res = call(t, ts, http.MethodPost, "/v1/redeem", apiToken, "levi", map[string]any{"code": "SNK-001-AOT"})
	assert.Equal(t, http.StatusConflict, res.Status)
	assert.Equal(t, "already_redeemed", res.Body["kind"])

	res = call(t, ts, http.MethodGet, "/v1/admin/codes/SNK-001-AOT", adminToken, "", nil)
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, float64(1), res.Body["uses"])

	res = call(t, ts, http.MethodDelete, "/v1/admin/codes/SNK-001-AOT", adminToken, "", nil)
	require.Equal(t, http.StatusOK, res.Status, res.Body)

	res = call(t, ts, http.MethodPost, "/v1/redeem", apiToken, "erwin", map[string]any{"code": "SNK-001-AOT"})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Status)
	assert.Equal(t, "invalid_code", res.Body["kind"])
	assert.Equal(t, game.StarterWallet, wallet(t, ts, "erwin"))
}

func TestIssueRejectsBadRewards(t *testing.T) {
	ts := newTestServer(t, defaultConfig())
	res := call(t, ts, http.MethodPost, "/v1/admin/codes", adminToken, "", map[string]any{
		"rewards": []map[string]any{{"type": "gems", "amount": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "invalid_reward", res.Body["kind"])

	res = call(t, ts, http.MethodPost, "/v1/admin/codes", adminToken, "", map[string]any{
		"rewards": []map[string]any{{"type": "power", "power": "no-such-titan"}},
	})
	assert.Equal(t, "invalid_reward", res.Body["kind"])
}

func TestGrantDrawEquipAndArena(t *testing.T) {
	ts := newTestServer(t, defaultConfig())
	for _, id := range []string{"reiner", "bertholdt"} {
		call(t, ts, http.MethodPost, "/v1/accounts", apiToken, id, nil)
	}

	res := call(t, ts, http.MethodPost, "/v1/admin/grants", adminToken, "", map[string]any{
		"account_id": "reiner",
		"rewards":    []map[string]any{{"type": "power", "power": "armored-titan"}},
	})
	require.Equal(t, http.StatusOK, res.Status, res.Body)

	res = call(t, ts, http.MethodPost, "/v1/admin/grants", adminToken, "", map[string]any{
		"account_id": "reiner",
		"rewards":    []map[string]any{{"type": "power", "power": "beast-titan"}},
	})
	assert.Equal(t, "invalid_reward", res.Body["kind"])

	res = call(t, ts, http.MethodPost, "/v1/admin/arena/recompute", adminToken, "", nil)
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, float64(2), res.Body["ranked"])

	res = call(t, ts, http.MethodGet, "/v1/arena?limit=1", apiToken, "", nil)
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	rows := res.Body["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "reiner", rows[0].(map[string]any)["account_id"])
	assert.Equal(t, float64(90000), rows[0].(map[string]any)["effective_cp"])

	res = call(t, ts, http.MethodGet, "/v1/me/arena", apiToken, "bertholdt", nil)
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, float64(2), res.Body["position"])

	res = call(t, ts, http.MethodGet, "/v1/arena?limit=zero", apiToken, "", nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)

	call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "zeke", nil)
	res = call(t, ts, http.MethodPost, "/v1/powers/draw", apiToken, "zeke", nil)
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	instance := res.Body["id"].(string)

	res = call(t, ts, http.MethodPost, "/v1/powers/equip", apiToken, "reiner", map[string]any{"instance_id": instance})
	assert.Equal(t, http.StatusForbidden, res.Status)
	assert.Equal(t, "not_owned", res.Body["kind"])

	res = call(t, ts, http.MethodPost, "/v1/powers/equip", apiToken, "zeke", map[string]any{"instance_id": instance})
	assert.Equal(t, http.StatusOK, res.Status, res.Body)
}

func TestFightAndDuel(t *testing.T) {
	ts := newTestServer(t, defaultConfig())
	for _, id := range []string{"connie", "ymir"} {
		call(t, ts, http.MethodPost, "/v1/accounts", apiToken, id, nil)
	}

	res := call(t, ts, http.MethodPost, "/v1/fights", apiToken, "connie", map[string]any{"tier": "Z"})
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, "unknown_tier", res.Body["kind"])

	res = call(t, ts, http.MethodPost, "/v1/fights", apiToken, "connie", map[string]any{"tier": ""})
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Contains(t, res.Body, "encounter")

	res = call(t, ts, http.MethodPost, "/v1/duels", apiToken, "connie", map[string]any{"defender": "connie"})
	assert.Equal(t, "self_target", res.Body["kind"])

	res = call(t, ts, http.MethodPost, "/v1/duels", apiToken, "connie", map[string]any{"defender": "ymir"})
	require.Equal(t, http.StatusOK, res.Status, res.Body)
}

func TestErrorStatusIsDistinctPerKind(t *testing.T) {
	errs := []error{
		lock.ErrTimeout,
		game.ErrInsufficientFunds,
		game.ErrNegativeBalance,
		game.ErrNoDrawCredits,
		game.ErrNotFound,
		game.ErrPowerNotFound,
		game.ErrCodeNotFound,
		game.ErrNotRanked,
		game.ErrUnknownTier,
		game.ErrAlreadyRedeemed,
		game.ErrAccountExists,
		game.ErrCodeExists,
		game.ErrInvalidCode,
		game.ErrExpired,
		game.ErrUsageExceeded,
		game.ErrNotOwned,
		game.ErrInvalidAmount,
		game.ErrInvalidReward,
		game.ErrSelfTarget,
	}
	seen := map[string]error{}
	for _, err := range errs {
		_, kind := errorStatus(fmt.Errorf("wrapped: %w", err))
		if prev, ok := seen[kind]; ok {
			t.Fatalf("%v and %v share kind %q", prev, err, kind)
		}
		if kind == "internal" {
			t.Fatalf("%v mapped to internal", err)
		}
		seen[kind] = err
	}

	status, _ := errorStatus(lock.ErrTimeout)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	status, kind := errorStatus(game.ErrConfiguration)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", kind)
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearerabc":    "",
	}
	for in, want := range tests {
		if got := bearerToken(in); got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPowerChangesNotifyArena(t *testing.T) {
	notifier := &countingNotifier{}
	ts := newTestServerWithArena(t, defaultConfig(), notifier)
	call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "sasha", nil)
	require.Equal(t, int32(0), notifier.n.Load())

	res := call(t, ts, http.MethodPost, "/v1/powers/draw", apiToken, "sasha", nil)
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, int32(1), notifier.n.Load())

	res = call(t, ts, http.MethodPost, "/v1/powers/buy", apiToken, "sasha", map[string]any{"definition_id": "odm-recruit"})
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, int32(2), notifier.n.Load())

	for code, reward := range map[string]map[string]any{
		"PWR-000-001": {"type": "power", "power": "garrison-gunner"},
		"CON-000-001": {"type": "coin", "amount": 10},
	} {
		res = call(t, ts, http.MethodPost, "/v1/admin/codes", adminToken, "", map[string]any{
			"code":    code,
			"rewards": []map[string]any{reward},
		})
		require.Equal(t, http.StatusCreated, res.Status, res.Body)
	}
	res = call(t, ts, http.MethodPost, "/v1/redeem", apiToken, "sasha", map[string]any{"code": "PWR-000-001"})
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, int32(3), notifier.n.Load())

	res = call(t, ts, http.MethodPost, "/v1/redeem", apiToken, "sasha", map[string]any{"code": "CON-000-001"})
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, int32(3), notifier.n.Load(), "coin-only codes leave the ranking alone")
}

func TestNotFoundKindsAreSpecific(t *testing.T) {
	ts := newTestServer(t, defaultConfig())
	call(t, ts, http.MethodPost, "/v1/accounts", apiToken, "hange", nil)

	tests := []struct {
		name    string
		method  string
		path    string
		token   string
		account string
		body    any
		kind    string
	}{
		{"unknown power", http.MethodPost, "/v1/powers/buy", apiToken, "hange", map[string]any{"definition_id": "beast-titan"}, "power_not_found"},
		{"unknown code usage", http.MethodGet, "/v1/admin/codes/ZZZ-ZZZ-ZZZ", adminToken, "", nil, "code_not_found"},
		{"unknown code deactivate", http.MethodDelete, "/v1/admin/codes/ZZZ-ZZZ-ZZZ", adminToken, "", nil, "code_not_found"},
		{"not ranked yet", http.MethodGet, "/v1/me/arena", apiToken, "hange", nil, "not_ranked"},
		{"unregistered account", http.MethodGet, "/v1/me/balance", apiToken, "ghost", nil, "not_found"},
	}
	messages := map[string]string{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, ts, tt.method, tt.path, tt.token, tt.account, tt.body)
			assert.Equal(t, http.StatusNotFound, res.Status, res.Body)
			assert.Equal(t, tt.kind, res.Body["kind"])
			msg, _ := res.Body["error"].(string)
			require.NotEmpty(t, msg)
			messages[tt.kind] = msg
		})
	}
	assert.NotEqual(t, messages["power_not_found"], messages["not_found"])
	assert.NotEqual(t, messages["code_not_found"], messages["not_found"])
	assert.NotEqual(t, messages["not_ranked"], messages["not_found"])
}
