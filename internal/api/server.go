package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Aethery0y/Aot-sub000/internal/arena"
	"github.com/Aethery0y/Aot-sub000/internal/combat"
	"github.com/Aethery0y/Aot-sub000/internal/config"
	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/ledger"
	"github.com/Aethery0y/Aot-sub000/internal/lock"
	"github.com/Aethery0y/Aot-sub000/internal/redeem"
	"github.com/Aethery0y/Aot-sub000/internal/store/postgres"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const accountContextKey contextKey = "account"

// AccountHeader carries the chat-platform user id of the caller. The
// presentation layer is trusted to set it; the bearer token proves that.
const AccountHeader = "X-Account-ID"

const (
	defaultTopLimit = 10
	maxTopLimit     = 100
)

type Deps struct {
	Ledger *ledger.Service
	Redeem *redeem.Service
	Combat *combat.Service
	Ranker *arena.Ranker
	// Arena is poked when an equip, draw, purchase or power grant may reorder
	// the ranking.
	Arena combat.Notifier
	Rand  *game.Rand
}

type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	ledger *ledger.Service
	redeem *redeem.Service
	combat *combat.Service
	ranker *arena.Ranker
	arena  combat.Notifier
	rand   *game.Rand
	mux    *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Rand == nil {
		deps.Rand = game.NewTimeRand()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		ledger: deps.Ledger,
		redeem: deps.Redeem,
		combat: deps.Combat,
		ranker: deps.Ranker,
		arena:  deps.Arena,
		rand:   deps.Rand,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.tokenMiddleware(func() string { return s.cfg.APIToken }))
			r.Get("/powers", s.handlePowerCatalog)
			r.Get("/arena", s.handleArenaTop)

			r.Group(func(r chi.Router) {
				r.Use(accountMiddleware)
				r.Post("/accounts", s.handleRegister)
				r.Get("/me", s.handleProfile)
				r.Get("/me/balance", s.handleBalance)
				r.Get("/me/arena", s.handleArenaPosition)

				r.Post("/transfers", s.handleTransfer)
				r.Post("/wagers", s.handleWager)
				r.Post("/games/coinflip", s.handleCoinflip)
				r.Post("/bank/deposit", s.handleDeposit)
				r.Post("/bank/withdraw", s.handleWithdraw)

				r.Post("/powers/draw", s.handleDraw)
				r.Post("/powers/buy", s.handleBuyPower)
				r.Post("/powers/equip", s.handleEquip)

				r.Post("/redeem", s.handleRedeem)
				r.Post("/fights", s.handleFight)
				r.Post("/duels", s.handleDuel)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.tokenMiddleware(func() string { return s.cfg.AdminToken }))
			r.Post("/codes", s.handleIssueCode)
			r.Get("/codes/{code}", s.handleCodeUsage)
			r.Delete("/codes/{code}", s.handleDeactivateCode)
			r.Post("/codes/sweep", s.handleSweepCodes)
			r.Post("/grants", s.handleGrant)
			r.Post("/arena/recompute", s.handleRecompute)
		})
	})
}

// tokenMiddleware compares the bearer token against want(). An empty
// configured token disables the route group.
func (s *Server) tokenMiddleware(want func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := want()
			if expected == "" {
				writeError(w, http.StatusForbidden, "forbidden", "route disabled")
				return
			}
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accountMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(AccountHeader))
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing_account", "missing "+AccountHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), accountContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountFromContext(ctx context.Context) string {
	id, _ := ctx.Value(accountContextKey).(string)
	return id
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Register(r.Context(), accountFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.Profile(r.Context(), accountFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.Profile(r.Context(), accountFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out.Account.Balances())
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := s.ledger.Transfer(r.Context(), accountFromContext(r.Context()), strings.TrimSpace(in.To), in.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleWager settles a game the presentation layer already played.
func (s *Server) handleWager(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Stake  int64 `json:"stake"`
		Payout int64 `json:"payout"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := s.ledger.Wager(r.Context(), accountFromContext(r.Context()), in.Stake, in.Payout)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCoinflip(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Stake int64  `json:"stake"`
		Call  string `json:"call"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	call := strings.ToLower(strings.TrimSpace(in.Call))
	if call != "heads" && call != "tails" {
		writeError(w, http.StatusBadRequest, "bad_request", "call must be heads or tails")
		return
	}
	landed := "heads"
	if s.rand.Intn(2) == 1 {
		landed = "tails"
	}
	var payout int64
	if landed == call {
		payout = in.Stake * 2
	}
	out, err := s.ledger.Wager(r.Context(), accountFromContext(r.Context()), in.Stake, payout)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"landed": landed,
		"won":    payout > 0,
		"result": out,
	})
}

type bankInput struct {
	Amount int64 `json:"amount"`
	All    bool  `json:"all"`
}

func (in bankInput) amount() int64 {
	if in.All {
		return ledger.All
	}
	return in.Amount
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var in bankInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := s.ledger.Deposit(r.Context(), accountFromContext(r.Context()), in.amount())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var in bankInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := s.ledger.Withdraw(r.Context(), accountFromContext(r.Context()), in.amount())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePowerCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"powers": s.ledger.Powers().List()})
}

func (s *Server) handleDraw(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.Draw(r.Context(), accountFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.notifyArena()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBuyPower(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DefinitionID string `json:"definition_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := s.ledger.BuyPower(r.Context(), accountFromContext(r.Context()), strings.TrimSpace(in.DefinitionID))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.notifyArena()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEquip(w http.ResponseWriter, r *http.Request) {
	var in struct {
		InstanceID string `json:"instance_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := s.ledger.Equip(r.Context(), accountFromContext(r.Context()), strings.TrimSpace(in.InstanceID))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.notifyArena()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := s.redeem.Redeem(r.Context(), in.Code, accountFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if len(out.Powers) > 0 {
		s.notifyArena()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFight(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Tier string `json:"tier"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := s.combat.Fight(r.Context(), accountFromContext(r.Context()), strings.TrimSpace(in.Tier))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDuel(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Defender string `json:"defender"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := s.combat.Duel(r.Context(), accountFromContext(r.Context()), strings.TrimSpace(in.Defender))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// notifyArena asks for a ranking rebuild after a change to what an account
// may have equipped.
func (s *Server) notifyArena() {
	if s.arena != nil {
		s.arena.Notify()
	}
}

func (s *Server) handleArenaTop(w http.ResponseWriter, r *http.Request) {
	limit := defaultTopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxTopLimit)
	}
	rows, err := s.ranker.Top(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleArenaPosition(w http.ResponseWriter, r *http.Request) {
	out, err := s.ranker.Position(r.Context(), accountFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code        string           `json:"code"`
		Description string           `json:"description"`
		Rewards     game.RewardsJSON `json:"rewards"`
		MaxUses     *int64           `json:"max_uses"`
		ExpiresAt   *time.Time       `json:"expires_at"`
	}
	if err := decodeJSON(r, &in); err != nil {
		if errors.Is(err, game.ErrInvalidReward) {
			s.writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := s.redeem.Issue(r.Context(), redeem.IssueInput{
		Code:        in.Code,
		Description: in.Description,
		Rewards:     in.Rewards,
		MaxUses:     in.MaxUses,
		ExpiresAt:   in.ExpiresAt,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"code":    out,
		"rewards": game.RewardsJSON(out.Rewards),
	})
}

func (s *Server) handleCodeUsage(w http.ResponseWriter, r *http.Request) {
	out, err := s.redeem.Usage(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":    out.Code,
		"rewards": game.RewardsJSON(out.Code.Rewards),
		"uses":    out.Uses,
	})
}

func (s *Server) handleDeactivateCode(w http.ResponseWriter, r *http.Request) {
	if err := s.redeem.Deactivate(r.Context(), chi.URLParam(r, "code")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSweepCodes(w http.ResponseWriter, r *http.Request) {
	n, err := s.redeem.SweepExpired(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deactivated": n})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AccountID string           `json:"account_id"`
		Rewards   game.RewardsJSON `json:"rewards"`
		Reason    string           `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil {
		if errors.Is(err, game.ErrInvalidReward) {
			s.writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	for _, rw := range in.Rewards {
		if pg, ok := rw.(game.PowerGrant); ok {
			if _, known := s.ledger.Powers().Get(pg.DefinitionID); !known {
				s.writeDomainError(w, fmt.Errorf("%w: unknown power %q", game.ErrInvalidReward, pg.DefinitionID))
				return
			}
		}
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "admin grant"
	}
	out, err := s.ledger.GrantRewards(r.Context(), strings.TrimSpace(in.AccountID), in.Rewards, reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if len(out.Powers) > 0 {
		s.notifyArena()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	n, err := s.ranker.Recompute(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ranked": n})
}

// errorStatus maps a domain failure to its HTTP status and a stable
// machine-readable kind.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, lock.ErrTimeout):
		return http.StatusServiceUnavailable, "lock_timeout"
	case errors.Is(err, postgres.ErrTxConflict):
		return http.StatusConflict, "tx_conflict"
	case errors.Is(err, game.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, game.ErrNegativeBalance):
		return http.StatusPaymentRequired, "negative_balance"
	case errors.Is(err, game.ErrNoDrawCredits):
		return http.StatusPaymentRequired, "no_draw_credits"
	case errors.Is(err, game.ErrPowerNotFound):
		return http.StatusNotFound, "power_not_found"
	case errors.Is(err, game.ErrCodeNotFound):
		return http.StatusNotFound, "code_not_found"
	case errors.Is(err, game.ErrNotRanked):
		return http.StatusNotFound, "not_ranked"
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, game.ErrUnknownTier):
		return http.StatusNotFound, "unknown_tier"
	case errors.Is(err, game.ErrAlreadyRedeemed):
		return http.StatusConflict, "already_redeemed"
	case errors.Is(err, game.ErrAccountExists):
		return http.StatusConflict, "account_exists"
	case errors.Is(err, game.ErrCodeExists):
		return http.StatusConflict, "code_exists"
	case errors.Is(err, game.ErrInvalidCode):
		return http.StatusUnprocessableEntity, "invalid_code"
	case errors.Is(err, game.ErrExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, game.ErrUsageExceeded):
		return http.StatusGone, "usage_exceeded"
	case errors.Is(err, game.ErrNotOwned):
		return http.StatusForbidden, "not_owned"
	case errors.Is(err, game.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, game.ErrInvalidReward):
		return http.StatusBadRequest, "invalid_reward"
	case errors.Is(err, game.ErrSelfTarget):
		return http.StatusBadRequest, "self_target"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status, kind := errorStatus(err)
	msg := game.Describe(err)
	switch kind {
	case "lock_timeout", "tx_conflict":
		msg = "The server is busy, try again in a moment."
	case "internal":
		s.log.Error("request failed", "err", err)
	}
	writeError(w, status, kind, msg)
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message), "kind": kind})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
