// google.go -- Google OAuth2 authorization-code provider.
package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Google endpoints, used when discovery is off and no override is configured.
const (
	GoogleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL = "https://oauth2.googleapis.com/token"
	GoogleIssuer   = "https://accounts.google.com"
)

// DefaultExchangeTimeout bounds a single token exchange when none is configured.
const DefaultExchangeTimeout = 10 * time.Second

// GoogleConfig holds what NewGoogleProvider needs. Empty AuthURL/TokenURL use Google's.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	Timeout      time.Duration
}

// GoogleProvider implements Provider with the OAuth2 authorization-code flow.
// Requests offline access so the first consent yields a refresh token.
type GoogleProvider struct {
	config     *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
}

// NewGoogleProvider builds the provider. Makes no network calls.
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = GoogleAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = GoogleTokenURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
				// Fixed style: auto-detect re-sends the code on a 4xx, and codes are single-use.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

// Name returns "google".
func (p *GoogleProvider) Name() string { return "google" }

// Scopes returns the configured scopes in request order.
func (p *GoogleProvider) Scopes() []string { return p.config.Scopes }

// TokenEndpoint returns the token URL codes are exchanged at.
func (p *GoogleProvider) TokenEndpoint() string { return p.config.Endpoint.TokenURL }

// ClientID returns the OAuth client id.
func (p *GoogleProvider) ClientID() string { return p.config.ClientID }

// AuthCodeURL builds the Google consent page URL with state embedded.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades an authorization code for tokens. One attempt, bounded by the
// provider timeout and the caller's ctx.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, &ExchangeError{Status: status, Code: re.ErrorCode, Body: string(re.Body), Err: err}
		}
		return nil, &ExchangeError{Err: err}
	}

	ts := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		Expiry:       token.Expiry,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok {
		ts.Scopes = strings.Fields(scope)
	}
	return ts, nil
}
