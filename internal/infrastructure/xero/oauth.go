package xero

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/infrastructure/config"
)

// OAuth drives Xero's authorization-code flow
type OAuth struct {
	conf       *oauth2.Config
	revokeURL  string
	httpClient *http.Client
}

// NewOAuth creates the provider from the app registration
func NewOAuth(cfg config.XeroConfig) *OAuth {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OAuth{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		revokeURL:  cfg.RevokeURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AuthCodeURL returns the consent URL carrying state
func (o *OAuth) AuthCodeURL(state string) string {
	return o.conf.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens
func (o *OAuth) Exchange(ctx context.Context, code string) (*ledgersync.TokenSet, error) {
	tok, err := o.conf.Exchange(o.withClient(ctx), code)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return toTokenSet(tok, ""), nil
}

// Refresh exchanges a refresh token. Xero rotates refresh tokens, so the
// returned set must replace the stored one.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*ledgersync.TokenSet, error) {
	if refreshToken == "" {
		return nil, ledgersync.ErrRefreshRejected
	}
	expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Minute)}
	tok, err := o.conf.TokenSource(o.withClient(ctx), expired).Token()
	if err != nil {
		return nil, mapTokenError(err)
	}
	return toTokenSet(tok, refreshToken), nil
}

// Revoke invalidates a refresh token and the access tokens issued from it
func (o *OAuth) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" || o.revokeURL == "" {
		return nil
	}
	form := url.Values{"token": {refreshToken}, "token_type_hint": {"refresh_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("xero: failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(o.conf.ClientID, o.conf.ClientSecret)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ledgersync.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: revoke HTTP %d", ledgersync.ErrLedgerRequestFailed, resp.StatusCode)
	}
	return nil
}

func (o *OAuth) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

func toTokenSet(tok *oauth2.Token, previousRefresh string) *ledgersync.TokenSet {
	ts := &ledgersync.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = previousRefresh
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		ts.Scopes = strings.Fields(scope)
	}
	return ts
}

func mapTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || strings.Contains(string(re.Body), "invalid_grant") {
			return fmt.Errorf("%w: %s", ledgersync.ErrRefreshRejected, re.ErrorDescription)
		}
		if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: token endpoint HTTP %d", ledgersync.ErrLedgerUnavailable, re.Response.StatusCode)
		}
		return fmt.Errorf("%w: %v", ledgersync.ErrLedgerAuthFailed, err)
	}
	if strings.Contains(err.Error(), "invalid_grant") {
		return fmt.Errorf("%w: %v", ledgersync.ErrRefreshRejected, err)
	}
	return fmt.Errorf("%w: %v", ledgersync.ErrLedgerUnavailable, err)
}

var _ ledgersync.OAuthProvider = (*OAuth)(nil)
