// identity.go -- Identity token decoding.
//
// Two decoders with deliberately different names:
//   - DecodeUntrusted reads the payload without checking the signature. Acceptable only
//     for tokens received directly from the provider's token endpoint over TLS.
//   - IDTokenVerifier checks signature, issuer, audience and expiry via OIDC discovery.
package oauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Identity holds the subject claims read from an identity token.
// Email is best-effort -- empty when the token carries no email claim.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	RawClaims     map[string]any
}

// DecodeUntrusted parses the identity token payload WITHOUT signature verification.
// Returns (nil, false) if the token is absent, malformed, or its payload is not JSON.
func DecodeUntrusted(ts *TokenSet) (*Identity, bool) {
	if ts == nil || ts.IDToken == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(ts.IDToken, claims); err != nil {
		return nil, false
	}
	return identityFromClaims(claims), true
}

// identityFromClaims normalizes the claims both decoders care about.
// email_verified arrives as a bool from Google but as a string from some providers.
func identityFromClaims(claims map[string]any) *Identity {
	id := &Identity{RawClaims: claims}
	if sub, ok := claims["sub"].(string); ok {
		id.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = strings.TrimSpace(email)
	}
	switch v := claims["email_verified"].(type) {
	case bool:
		id.EmailVerified = v
	case string:
		id.EmailVerified = strings.EqualFold(v, "true")
	}
	return id
}

// IDTokenVerifier verifies identity tokens against the issuer's published keys.
type IDTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
	authURL  string
	tokenURL string
}

// NewIDTokenVerifier fetches the issuer's OIDC discovery document.
// Makes an outbound HTTP request at startup; returns an error if unreachable.
func NewIDTokenVerifier(ctx context.Context, issuer, clientID string) (*IDTokenVerifier, error) {
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", issuer, err)
	}
	ep := p.Endpoint()
	return &IDTokenVerifier{
		verifier: p.Verifier(&oidc.Config{ClientID: clientID}),
		authURL:  ep.AuthURL,
		tokenURL: ep.TokenURL,
	}, nil
}

// Endpoints returns the discovered authorization and token URLs.
func (v *IDTokenVerifier) Endpoints() (authURL, tokenURL string) {
	return v.authURL, v.tokenURL
}

// Verify checks the identity token's signature, audience and expiry, then extracts claims.
func (v *IDTokenVerifier) Verify(ctx context.Context, ts *TokenSet) (*Identity, error) {
	if ts == nil || ts.IDToken == "" {
		return nil, fmt.Errorf("no id_token in token response")
	}
	idToken, err := v.verifier.Verify(ctx, ts.IDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id token: %w", err)
	}
	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extracting id token claims: %w", err)
	}
	return identityFromClaims(claims), nil
}
