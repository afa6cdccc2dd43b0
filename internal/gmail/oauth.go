// Package gmail connects a Google account over OAuth and implements the
// mail client on top of the Gmail REST API.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"

	"github.com/znz-systems/mailpilot/internal/models"
	"github.com/znz-systems/mailpilot/internal/store"
)

// Scopes needed to read threads, send replies and manage the auto-reply label.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/userinfo.email",
}

var ErrNotConfigured = errors.New("google oauth is not configured")

// OAuthConfig returns the OAuth2 config for the Gmail connect flow.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     googleOAuth.Endpoint,
	}
}

// Connector links the authorised mailbox as the single account.
type Connector interface {
	Connect(ctx context.Context, email string, provider models.Provider, credentialRef string) (*models.Account, error)
}

// Authenticator runs the authorization-code flow and owns stored tokens.
type Authenticator struct {
	cfg     *oauth2.Config
	creds   store.CredentialStore
	connect Connector
	baseURL string
}

func NewAuthenticator(cfg *oauth2.Config, creds store.CredentialStore, connect Connector) *Authenticator {
	return &Authenticator{cfg: cfg, creds: creds, connect: connect, baseURL: defaultBaseURL}
}

func (a *Authenticator) Enabled() bool {
	return a != nil && a.cfg != nil && a.cfg.ClientID != "" && a.cfg.ClientSecret != ""
}

// AuthURL returns the consent URL. Offline access with a forced prompt makes
// Google return a refresh token on every connect.
func (a *Authenticator) AuthURL(state string) (string, error) {
	if !a.Enabled() {
		return "", ErrNotConfigured
	}
	return a.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades the callback code for tokens, looks up the mailbox address
// and connects it.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*models.Account, error) {
	if !a.Enabled() {
		return nil, ErrNotConfigured
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("missing authorization code")
	}

	tok, err := a.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	api := &apiClient{http: a.cfg.Client(ctx, tok), baseURL: a.baseURL}
	var profile struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := api.get(ctx, "/users/me/profile", nil, &profile); err != nil {
		return nil, fmt.Errorf("fetch gmail profile: %w", err)
	}
	if profile.EmailAddress == "" {
		return nil, errors.New("gmail profile has no email address")
	}

	ref := "gmail:" + strings.ToLower(profile.EmailAddress)
	if err := a.creds.SaveCredential(ctx, credentialFromToken(ref, tok)); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}

	acct, err := a.connect.Connect(ctx, profile.EmailAddress, models.ProviderGmail, ref)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "gmail account authorised", "email", profile.EmailAddress)
	return acct, nil
}

// TokenSource returns a refreshing token source for the stored credential.
// Refreshed tokens are written back to the store.
func (a *Authenticator) TokenSource(ctx context.Context, ref string) (oauth2.TokenSource, error) {
	if !a.Enabled() {
		return nil, ErrNotConfigured
	}
	c, err := a.creds.GetCredential(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load credential %s: %w", ref, err)
	}
	tok := tokenFromCredential(c)
	base := a.cfg.TokenSource(context.WithoutCancel(ctx), tok)
	return oauth2.ReuseTokenSource(tok, &persistingTokenSource{
		base:  base,
		creds: a.creds,
		ref:   ref,
		last:  tok.AccessToken,
	}), nil
}

type persistingTokenSource struct {
	base  oauth2.TokenSource
	creds store.CredentialStore
	ref   string

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.creds.SaveCredential(context.Background(), credentialFromToken(p.ref, tok)); err != nil {
			slog.Error("persist refreshed token failed", "ref", p.ref, "error", err)
		} else {
			p.last = tok.AccessToken
		}
	}
	return tok, nil
}

func credentialFromToken(ref string, tok *oauth2.Token) *models.Credential {
	scope, _ := tok.Extra("scope").(string)
	return &models.Credential{
		Ref:          ref,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        scope,
		Expiry:       tok.Expiry,
	}
}

func tokenFromCredential(c *models.Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}
