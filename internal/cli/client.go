package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const accountHeader = "X-Account-ID"

// APIError is a non-2xx response from the economy API.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL    string
	HTTP       *http.Client
	APIToken   string
	AdminToken string
}

func NewClient(baseURL, apiToken, adminToken string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIToken:   apiToken,
		AdminToken: adminToken,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Register(ctx context.Context, account string) (map[string]any, error) {
	return c.player(ctx, http.MethodPost, "/v1/accounts", account, nil)
}

func (c *Client) Profile(ctx context.Context, account string) (map[string]any, error) {
	return c.player(ctx, http.MethodGet, "/v1/me", account, nil)
}

func (c *Client) Balance(ctx context.Context, account string) (map[string]any, error) {
	return c.player(ctx, http.MethodGet, "/v1/me/balance", account, nil)
}

func (c *Client) Transfer(ctx context.Context, account, to string, amount int64) (map[string]any, error) {
	return c.player(ctx, http.MethodPost, "/v1/transfers", account, map[string]any{
		"to":     to,
		"amount": amount,
	})
}

func (c *Client) Coinflip(ctx context.Context, account string, stake int64, call string) (map[string]any, error) {
	return c.player(ctx, http.MethodPost, "/v1/games/coinflip", account, map[string]any{
		"stake": stake,
		"call":  call,
	})
}

// Deposit moves amount into the bank; all moves the whole wallet.
func (c *Client) Deposit(ctx context.Context, account string, amount int64, all bool) (map[string]any, error) {
	return c.player(ctx, http.MethodPost, "/v1/bank/deposit", account, bankBody(amount, all))
}

func (c *Client) Withdraw(ctx context.Context, account string, amount int64, all bool) (map[string]any, error) {
	return c.player(ctx, http.MethodPost, "/v1/bank/withdraw", account, bankBody(amount, all))
}

func bankBody(amount int64, all bool) map[string]any {
	if all {
		return map[string]any{"all": true}
	}
	return map[string]any{"amount": amount}
}

func (c *Client) PowerCatalog(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/powers", c.APIToken, "", nil, &out)
	return out, err
}

func (c *Client) Draw(ctx context.Context, account string) (map[string]any, error) {
	return c.player(ctx, http.MethodPost, "/v1/powers/draw", account, nil)
}

func (c *Client) BuyPower(ctx context.Context, account, definitionID string) (map[string]any, error) {
	return c.player(ctx, http.MethodPost, "/v1/powers/buy", account, map[string]any{"definition_id": definitionID})
}

func (c *Client) Equip(ctx context.Context, account, instanceID string) (map[string]any, error) {
	return c.player(ctx, http.MethodPost, "/v1/powers/equip", account, map[string]any{"instance_id": instanceID})
}

func (c *Client) Redeem(ctx context.Context, account, code string) (map[string]any, error) {
	return c.player(ctx, http.MethodPost, "/v1/redeem", account, map[string]any{"code": code})
}

func (c *Client) Fight(ctx context.Context, account, tier string) (map[string]any, error) {
	return c.player(ctx, http.MethodPost, "/v1/fights", account, map[string]any{"tier": tier})
}

func (c *Client) Duel(ctx context.Context, account, defender string) (map[string]any, error) {
	return c.player(ctx, http.MethodPost, "/v1/duels", account, map[string]any{"defender": defender})
}

func (c *Client) ArenaTop(ctx context.Context, limit int) (map[string]any, error) {
	path := "/v1/arena"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, c.APIToken, "", nil, &out)
	return out, err
}

func (c *Client) ArenaPosition(ctx context.Context, account string) (map[string]any, error) {
	return c.player(ctx, http.MethodGet, "/v1/me/arena", account, nil)
}

type IssueCodeRequest struct {
	Code        string           `json:"code,omitempty"`
	Description string           `json:"description,omitempty"`
	Rewards     []map[string]any `json:"rewards"`
	MaxUses     *int64           `json:"max_uses,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
}

func (c *Client) IssueCode(ctx context.Context, in IssueCodeRequest) (map[string]any, error) {
	return c.admin(ctx, http.MethodPost, "/v1/admin/codes", in)
}

func (c *Client) CodeUsage(ctx context.Context, code string) (map[string]any, error) {
	return c.admin(ctx, http.MethodGet, "/v1/admin/codes/"+url.PathEscape(code), nil)
}

func (c *Client) DeactivateCode(ctx context.Context, code string) (map[string]any, error) {
	return c.admin(ctx, http.MethodDelete, "/v1/admin/codes/"+url.PathEscape(code), nil)
}

func (c *Client) SweepCodes(ctx context.Context) (map[string]any, error) {
	return c.admin(ctx, http.MethodPost, "/v1/admin/codes/sweep", nil)
}

func (c *Client) Grant(ctx context.Context, account string, rewards []map[string]any, reason string) (map[string]any, error) {
	return c.admin(ctx, http.MethodPost, "/v1/admin/grants", map[string]any{
		"account_id": account,
		"rewards":    rewards,
		"reason":     reason,
	})
}

func (c *Client) RecomputeArena(ctx context.Context) (map[string]any, error) {
	return c.admin(ctx, http.MethodPost, "/v1/admin/arena/recompute", nil)
}

func (c *Client) player(ctx context.Context, method, path, account string, body any) (map[string]any, error) {
	if strings.TrimSpace(account) == "" {
		return nil, fmt.Errorf("account id is required")
	}
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, c.APIToken, account, body, &out)
	return out, err
}

func (c *Client) admin(ctx context.Context, method, path string, body any) (map[string]any, error) {
	if c.AdminToken == "" {
		return nil, fmt.Errorf("admin token is not configured (AOT_ADMIN_TOKEN)")
	}
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, c.AdminToken, "", body, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token, account string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if account != "" {
		req.Header.Set(accountHeader, account)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Kind = payload.Kind
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
