package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/internal/secrets"
)

// TokenSource supplies a bearer token for authenticated upstream calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// SSOTokenSource exchanges a long-lived refresh token for short-lived access
// tokens and caches them until shortly before expiry.
type SSOTokenSource struct {
	logger   *zap.Logger
	http     *http.Client
	tokenURL string
	creds    secrets.Credentials

	mu          sync.Mutex
	accessToken string
	expiry      time.Time
}

// NewSSOTokenSource constructs a token source for the given SSO credentials.
func NewSSOTokenSource(logger *zap.Logger, httpClient *http.Client, tokenURL string, creds secrets.Credentials) *SSOTokenSource {
	return &SSOTokenSource{
		logger:   logger,
		http:     httpClient,
		tokenURL: tokenURL,
		creds:    creds,
	}
}

// Token returns a valid access token, refreshing it when within a minute of
// expiry. Safe for concurrent use.
func (s *SSOTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Until(s.expiry) > time.Minute {
		return s.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.creds.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.creds.ClientID, s.creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh returned %d: %s", resp.StatusCode, string(body))
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("token decode failed: %w", err)
	}

	s.accessToken = tok.AccessToken
	s.expiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if tok.RefreshToken != "" {
		// SSO rotates refresh tokens on use.
		s.creds.RefreshToken = tok.RefreshToken
	}

	s.logger.Debug("esi.token_refreshed", zap.Time("expiry", s.expiry))
	return s.accessToken, nil
}

// StaticTokenSource returns the same token on every call. Test helper and
// escape hatch for pre-issued tokens.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	return string(s), nil
}
