// Package credentials holds the OAuth access token shared by the concurrent
// entity syncs of one HubSpot account.
package credentials

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/johnwards/hubsync/internal/domain"
)

// DefaultTokenURL is HubSpot's OAuth token endpoint.
const DefaultTokenURL = "https://api.hubapi.com/oauth/v1/token"

// Config holds the app credentials used for the refresh_token grant.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client
}

// Credential is a snapshot of the current access token.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// AuthError is returned when the token refresh fails.
type AuthError struct {
	HubID string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("refresh access token for hub %s: %v", e.HubID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Manager owns the access token of one account. It is safe for concurrent
// use: readers always get the last written token and concurrent refreshes
// collapse into a single call to the token endpoint.
type Manager struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
	group      singleflight.Group

	mu      sync.RWMutex
	account *domain.Account
	current Credential
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager seeded with the account's stored access token.
// The stored token has no known expiry, so it reports as expired until the
// first successful refresh.
func NewManager(cfg Config, account *domain.Account, opts ...Option) *Manager {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	m := &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: cfg.HTTPClient,
		now:        time.Now,
		account:    account,
		current:    Credential{AccessToken: account.AccessToken},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AccessToken returns the current access token.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.AccessToken
}

// Current returns the current credential.
func (m *Manager) Current() Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Expired reports whether the current token is past its expiry, or has none.
func (m *Manager) Expired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.ExpiresAt.IsZero() || !m.now().Before(m.current.ExpiresAt)
}

// Refresh exchanges the account's refresh token for a new access token and
// updates both the shared credential and the account record. Failures are
// returned as *AuthError; Refresh never retries.
func (m *Manager) Refresh(ctx context.Context) (Credential, error) {
	v, err, _ := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

func (m *Manager) refresh(ctx context.Context) (Credential, error) {
	m.mu.RLock()
	hubID, refreshToken := m.account.HubID, m.account.RefreshToken
	m.mu.RUnlock()

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}

	tok, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return Credential{}, &AuthError{HubID: hubID, Err: err}
	}

	expiresAt := tok.Expiry
	if d := lifetime(tok); d > 0 {
		expiresAt = m.now().Add(d)
	}
	cred := Credential{AccessToken: tok.AccessToken, ExpiresAt: expiresAt}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = cred
	if tok.AccessToken != m.account.AccessToken {
		m.account.AccessToken = tok.AccessToken
	}
	if tok.RefreshToken != "" && tok.RefreshToken != m.account.RefreshToken {
		m.account.RefreshToken = tok.RefreshToken
	}
	return cred, nil
}

// lifetime returns the expires_in of a token response.
func lifetime(tok *oauth2.Token) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}
