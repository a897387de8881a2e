package esi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/internal/httpclient"
	"github.com/lumacorp/industry-exporter/internal/metrics"
)

// Client wraps the upstream ESI REST API. All calls go through the shared
// rate-limited executor; authenticated endpoints attach a bearer token from
// the token source.
type Client struct {
	logger    *zap.Logger
	exec      *httpclient.Executor
	baseURL   string
	verifyURL string
	userAgent string
	tokens    TokenSource

	mu            sync.Mutex
	characterID   int64
	corporationID int64
}

// NewClient constructs an upstream API client.
func NewClient(logger *zap.Logger, exec *httpclient.Executor, baseURL, verifyURL, userAgent string, tokens TokenSource) *Client {
	return &Client{
		logger:    logger,
		exec:      exec,
		baseURL:   baseURL,
		verifyURL: verifyURL,
		userAgent: userAgent,
		tokens:    tokens,
	}
}

// Identity resolves and caches the authenticated character id and its
// corporation id. Resolution failures are not cached.
func (c *Client) Identity(ctx context.Context) (characterID, corporationID int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.characterID != 0 && c.corporationID != 0 {
		return c.characterID, c.corporationID, nil
	}

	var who verifyResponse
	if err := c.doJSON(ctx, "verify", c.verifyURL, true, &who); err != nil {
		return 0, 0, fmt.Errorf("identity verify: %w", err)
	}
	if who.CharacterID == 0 {
		return 0, 0, fmt.Errorf("identity verify returned no character id")
	}

	var char characterResponse
	path := fmt.Sprintf("%s/characters/%d/", c.baseURL, who.CharacterID)
	if err := c.doJSON(ctx, "character", path, false, &char); err != nil {
		return 0, 0, fmt.Errorf("character lookup: %w", err)
	}

	c.characterID = who.CharacterID
	c.corporationID = char.CorporationID
	c.logger.Info("esi.identity_resolved",
		zap.Int64("character_id", c.characterID),
		zap.Int64("corporation_id", c.corporationID))
	return c.characterID, c.corporationID, nil
}

// RegionOrders returns one page of open orders in a region. typeID 0 means
// all types. Past the last page the upstream answers 404 (see IsNotFound).
func (c *Client) RegionOrders(ctx context.Context, regionID, typeID int64, orderType string, page int) ([]Order, error) {
	q := url.Values{}
	q.Set("order_type", orderType)
	q.Set("page", strconv.Itoa(page))
	if typeID > 0 {
		q.Set("type_id", strconv.FormatInt(typeID, 10))
	}

	var orders []Order
	path := fmt.Sprintf("%s/markets/%d/orders/?%s", c.baseURL, regionID, q.Encode())
	if err := c.doJSON(ctx, "region_orders", path, false, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// RegionHistory returns the daily aggregate series for one type in a region.
func (c *Client) RegionHistory(ctx context.Context, regionID, typeID int64) ([]HistoryDay, error) {
	var history []HistoryDay
	path := fmt.Sprintf("%s/markets/%d/history/?type_id=%d", c.baseURL, regionID, typeID)
	if err := c.doJSON(ctx, "region_history", path, false, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// CorpBlueprints returns one page of blueprints owned by the corporation.
func (c *Client) CorpBlueprints(ctx context.Context, corporationID int64, page int) ([]Blueprint, error) {
	var blueprints []Blueprint
	path := fmt.Sprintf("%s/corporations/%d/blueprints/?page=%d", c.baseURL, corporationID, page)
	if err := c.doJSON(ctx, "corp_blueprints", path, true, &blueprints); err != nil {
		return nil, err
	}
	return blueprints, nil
}

// CharacterSkills returns all trained skills of the character.
func (c *Client) CharacterSkills(ctx context.Context, characterID int64) ([]Skill, error) {
	var resp skillsResponse
	path := fmt.Sprintf("%s/characters/%d/skills/", c.baseURL, characterID)
	if err := c.doJSON(ctx, "character_skills", path, true, &resp); err != nil {
		return nil, err
	}
	return resp.Skills, nil
}

// CorpDivisions returns the corporation's wallet divisions.
func (c *Client) CorpDivisions(ctx context.Context, corporationID int64) ([]Division, error) {
	var resp divisionsResponse
	path := fmt.Sprintf("%s/corporations/%d/divisions/", c.baseURL, corporationID)
	if err := c.doJSON(ctx, "corp_divisions", path, true, &resp); err != nil {
		return nil, err
	}
	return resp.Wallet, nil
}

// CorpWallets returns the balance of every wallet division.
func (c *Client) CorpWallets(ctx context.Context, corporationID int64) ([]WalletBalance, error) {
	var balances []WalletBalance
	path := fmt.Sprintf("%s/corporations/%d/wallets/", c.baseURL, corporationID)
	if err := c.doJSON(ctx, "corp_wallets", path, true, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

// WalletTransactions returns up to one page of transactions for a division,
// newest first. fromID > 0 requests only transactions older than fromID.
func (c *Client) WalletTransactions(ctx context.Context, corporationID int64, division int, fromID int64) ([]WalletTransaction, error) {
	path := fmt.Sprintf("%s/corporations/%d/wallets/%d/transactions/", c.baseURL, corporationID, division)
	if fromID > 0 {
		path += "?from_id=" + strconv.FormatInt(fromID, 10)
	}

	var txns []WalletTransaction
	if err := c.doJSON(ctx, "wallet_transactions", path, true, &txns); err != nil {
		return nil, err
	}
	return txns, nil
}

func (c *Client) doJSON(ctx context.Context, endpoint, rawURL string, authed bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	if authed {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			metrics.IncESIRequest(endpoint, "token_error")
			return fmt.Errorf("token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	if err := c.exec.DoJSON(ctx, req, out); err != nil {
		switch {
		case IsNotFound(err):
			metrics.IncESIRequest(endpoint, "not_found")
		case IsAuthError(err):
			metrics.IncESIRequest(endpoint, "unauthorized")
		default:
			metrics.IncESIRequest(endpoint, "error")
		}
		return err
	}

	metrics.IncESIRequest(endpoint, "ok")
	return nil
}
