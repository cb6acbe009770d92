// Package token owns OAuth access-token validity and renewal for mailbox
// access. One TokenRecord is stored per user; refreshes for a user are
// collapsed into a single in-flight call.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"

	"github.com/inboxledger/inboxledger/internal/domain"
	"github.com/inboxledger/inboxledger/internal/retry"
	"github.com/inboxledger/inboxledger/internal/store"
)

// refreshSkew forces renewal while the stored token still has this much
// lifetime left, so a token never expires mid-run.
const refreshSkew = 5 * time.Minute

// Refresher exchanges a refresh token for a fresh access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// googleRefresher implements Refresher against Google's token endpoint.
type googleRefresher struct {
	cfg *oauth2.Config
}

// NewGoogleRefresher builds the production refresher for the configured
// OAuth client.
func NewGoogleRefresher(clientID, clientSecret string) Refresher {
	return &googleRefresher{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
	}}
}

func (g *googleRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := g.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("token: refresh call: %w", err)
	}
	return tok, nil
}

// Manager hands out valid access tokens, refreshing stored records when they
// are expired or about to expire.
type Manager struct {
	tokens    store.Tokens
	refresher Refresher
	policy    retry.Policy
	group     singleflight.Group
	now       func() time.Time
}

func NewManager(tokens store.Tokens, refresher Refresher) *Manager {
	return &Manager{
		tokens:    tokens,
		refresher: refresher,
		policy:    retry.DefaultPolicy,
		now:       time.Now,
	}
}

// GetValidAccessToken returns the stored access token when it is still valid
// beyond the skew window; otherwise it refreshes, persists the new token, and
// returns it. Missing or rejected refresh tokens yield
// domain.ErrAuthRequired, which is fatal for a headless caller.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	rec, err := m.tokens.GetToken(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: no stored credentials for user %s", domain.ErrAuthRequired, userID)
		}
		return "", fmt.Errorf("token: load record for %s: %w", userID, err)
	}

	if rec.AccessToken != "" && rec.Expiry.After(m.now().Add(refreshSkew)) {
		return rec.AccessToken, nil
	}
	if rec.RefreshToken == "" {
		return "", fmt.Errorf("%w: user %s has no refresh token", domain.ErrAuthRequired, userID)
	}

	// Collapse concurrent refreshes for the same user into one call.
	v, err, _ := m.group.Do(userID, func() (interface{}, error) {
		return m.refresh(ctx, rec)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refresh(ctx context.Context, rec *domain.TokenRecord) (string, error) {
	var tok *oauth2.Token
	err := retry.Do(ctx, m.policy, func(ctx context.Context) error {
		t, err := m.refresher.Refresh(ctx, rec.RefreshToken)
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
				retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
				// The grant itself was rejected; retrying cannot help.
				return retry.Stop(fmt.Errorf("%w: refresh rejected for user %s: %v",
					domain.ErrAuthRequired, rec.UserID, err))
			}
			return err
		}
		tok = t
		return nil
	})
	if err != nil {
		return "", err
	}

	rec.AccessToken = tok.AccessToken
	rec.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		// Google occasionally rotates the refresh token.
		rec.RefreshToken = tok.RefreshToken
	}
	if err := m.tokens.SaveToken(ctx, rec); err != nil {
		return "", fmt.Errorf("token: persist refreshed record for %s: %w", rec.UserID, err)
	}
	return rec.AccessToken, nil
}

// Revoke clears the stored record; the next sync for this user reports
// ErrAuthRequired until re-authorization.
func (m *Manager) Revoke(ctx context.Context, userID string) error {
	if err := m.tokens.DeleteToken(ctx, userID); err != nil {
		return fmt.Errorf("token: revoke for %s: %w", userID, err)
	}
	return nil
}
