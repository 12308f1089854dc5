package auth

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

	"fba-scout/internal/logger"
)

// refreshMargin is how long before expiry a cached token is considered
// stale and refreshed instead of returned.
const refreshMargin = 5 * time.Minute

// AuthError reports a failed token acquisition. It is identity-level:
// calls needing the same identity are halted, calls on the other
// identity proceed.
type AuthError struct {
	Identity string
	Reason   string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %s: %v", e.Identity, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth %s: %s", e.Identity, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// LWAConfig holds the Login-with-Amazon client credentials used to
// exchange refresh tokens for short-lived bearer tokens.
type LWAConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	// AppRefreshToken is the application identity credential, usable for
	// public marketplace data in every marketplace of the region.
	AppRefreshToken string
}

// AccessToken is a bearer token with its absolute expiry.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

func (t AccessToken) fresh(now time.Time) bool {
	return now.Before(t.ExpiresAt.Add(-refreshMargin))
}

type tokenKey struct {
	merchantID  string // "" = application identity
	marketplace string
}

// Manager acquires and caches bearer tokens per (identity, marketplace).
// Safe for concurrent use; the cache and the in-flight refresh are
// guarded by a single mutex since refreshes are rare.
type Manager struct {
	cfg   LWAConfig
	store *CredentialStore // nil when no merchant identities are configured
	http  *http.Client

	mu    sync.Mutex
	cache map[tokenKey]AccessToken
}

// NewManager creates a token manager. store may be nil when only the
// application identity is used.
func NewManager(cfg LWAConfig, store *CredentialStore) *Manager {
	return &Manager{
		cfg:   cfg,
		store: store,
		http:  &http.Client{Timeout: 30 * time.Second},
		cache: make(map[tokenKey]AccessToken),
	}
}

// AppToken returns a valid bearer token for the application identity,
// refreshing if the cached one is within the safety margin of expiry.
func (m *Manager) AppToken(ctx context.Context, marketplace string) (string, error) {
	if m.cfg.AppRefreshToken == "" {
		return "", &AuthError{Identity: "app", Reason: "no application credential configured"}
	}
	return m.token(ctx, tokenKey{"", marketplace}, m.cfg.AppRefreshToken, "app")
}

// MerchantToken returns a valid bearer token for a merchant identity.
// A missing or disconnected credential is not an error: it returns
// ok=false, signaling that seller-scoped calls must be skipped.
func (m *Manager) MerchantToken(ctx context.Context, merchantID, marketplace string) (token string, ok bool, err error) {
	if m.store == nil || merchantID == "" {
		return "", false, nil
	}
	cred := m.store.Get(merchantID, marketplace)
	if cred == nil || !cred.Connected {
		return "", false, nil
	}
	tok, err := m.token(ctx, tokenKey{merchantID, marketplace}, cred.RefreshToken, merchantID)
	if err != nil {
		return "", false, err
	}
	return tok, true, nil
}

func (m *Manager) token(ctx context.Context, key tokenKey, refreshToken, identity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.cache[key]; ok && cached.fresh(time.Now()) {
		return cached.Token, nil
	}

	logger.Info("AUTH", fmt.Sprintf("Refreshing token for %s/%s", identity, key.marketplace))
	tok, err := m.exchange(ctx, refreshToken)
	if err != nil {
		// Failed refreshes are never cached.
		return "", &AuthError{Identity: identity, Reason: "refresh failed", Err: err}
	}
	m.cache[key] = tok
	return tok.Token, nil
}

// exchange swaps a long-lived refresh token for a short-lived bearer
// token at the LWA token endpoint.
func (m *Manager) exchange(ctx context.Context, refreshToken string) (AccessToken, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, "POST", m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return AccessToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.http.Do(req)
	if err != nil {
		return AccessToken{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return AccessToken{}, fmt.Errorf("LWA %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return AccessToken{}, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return AccessToken{}, fmt.Errorf("empty access_token in response")
	}
	return AccessToken{
		Token:     payload.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}
