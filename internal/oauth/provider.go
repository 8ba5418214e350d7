// provider.go -- OAuth provider interface and shared types.
package oauth

import (
	"context"
	"fmt"
	"time"
)

// TokenSet is the token response of a successful code exchange.
// IDToken is empty when the provider returned none; RefreshToken is empty on repeat consent.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IDToken      string
	Scopes       []string // as granted by the provider, not as requested
	Expiry       time.Time
}

// ExchangeError is returned by Exchange on any non-success token response.
// Status is 0 when no HTTP response was received (transport failure or timeout).
// Body is the raw response body; never surface it to end users.
type ExchangeError struct {
	Status int
	Code   string // OAuth error code, e.g. "invalid_grant"
	Body   string
	Err    error
}

func (e *ExchangeError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	}
	if e.Code != "" {
		return fmt.Sprintf("token exchange failed: status %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("token exchange failed: status %d", e.Status)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Provider is an OAuth2 identity provider.
// Implementations build auth URLs and perform the code-for-token exchange.
// Exchange must never retry: authorization codes are single-use.
type Provider interface {
	// Name returns the provider identifier used in routes and logs.
	Name() string

	// Scopes returns the ordered scopes requested on every authorization URL.
	Scopes() []string

	// AuthCodeURL returns the consent page URL with state embedded.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for a token set.
	// Returns *ExchangeError for any failure.
	Exchange(ctx context.Context, code string) (*TokenSet, error)

	// TokenEndpoint and ClientID are recorded on the stored credential.
	TokenEndpoint() string
	ClientID() string
}
