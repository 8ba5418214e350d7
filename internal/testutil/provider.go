// provider.go
//
// In-memory oauth.Provider with single-use authorization codes.
package testutil

import (
	"context"
	"sync"

	"github.com/franklink/linkd/internal/oauth"
	"github.com/golang-jwt/jwt/v5"
)

// MockProvider implements oauth.Provider for tests.
// Codes maps each valid authorization code to the tokens it yields; a code is
// consumed by its first Exchange, and every later Exchange with it fails with
// invalid_grant like a real provider.
type MockProvider struct {
	AuthURL     string
	ScopeList   []string
	Codes       map[string]*oauth.TokenSet
	ExchangeErr error

	mu            sync.Mutex
	used          map[string]bool
	ExchangeCalls int
}

// NewMockProvider returns a provider with the given codes and default scopes.
func NewMockProvider(codes map[string]*oauth.TokenSet) *MockProvider {
	return &MockProvider{
		AuthURL:   "https://mock.provider.test/auth",
		ScopeList: []string{"openid", "email", "https://www.googleapis.com/auth/calendar"},
		Codes:     codes,
	}
}

func (m *MockProvider) Name() string          { return "mock" }
func (m *MockProvider) Scopes() []string      { return m.ScopeList }
func (m *MockProvider) TokenEndpoint() string { return "https://mock.provider.test/token" }
func (m *MockProvider) ClientID() string      { return "mock-client" }

func (m *MockProvider) AuthCodeURL(state string) string {
	return m.AuthURL + "?state=" + state
}

func (m *MockProvider) Exchange(_ context.Context, code string) (*oauth.TokenSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExchangeCalls++
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	ts, ok := m.Codes[code]
	if !ok || m.used[code] {
		return nil, &oauth.ExchangeError{
			Status: 400,
			Code:   "invalid_grant",
			Body:   `{"error":"invalid_grant","error_description":"Bad Request"}`,
		}
	}
	if m.used == nil {
		m.used = make(map[string]bool)
	}
	m.used[code] = true
	cp := *ts
	return &cp, nil
}

// Calls returns how many times Exchange ran.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExchangeCalls
}

// IDToken returns a signed JWT carrying claims. Signed with a throwaway HMAC key:
// untrusted decoding never checks it.
func IDToken(claims map[string]any) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString([]byte("test-only-key"))
	if err != nil {
		panic(err)
	}
	return tok
}

// TokenSetFor returns a token set whose identity token names email.
func TokenSetFor(email string) *oauth.TokenSet {
	return &oauth.TokenSet{
		AccessToken:  "ya29.access-" + email,
		RefreshToken: "1//refresh-" + email,
		TokenType:    "Bearer",
		IDToken:      IDToken(map[string]any{"sub": "sub-" + email, "email": email, "email_verified": true}),
		Scopes:       []string{"openid", "email"},
	}
}
