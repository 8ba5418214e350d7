// Package flow drives the OAuth authorization-code flow for one user at a time:
// issue an authorization URL bound to a correlation token, then complete the
// callback by exchanging the code and persisting the resulting credential.
//
// Per user the flow moves IDLE -> PENDING -> COMPLETE|FAILED. PENDING is the
// FlowState on the user record; COMPLETE is the stored Credential. There is no
// per-user lock here -- the store's per-record atomicity is relied on instead.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/franklink/linkd/internal/oauth"
	"github.com/franklink/linkd/internal/store"
	"github.com/gofrs/uuid/v5"
)

// Store is the record contract the controller needs.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	// GetUser returns store.ErrNotFound when no record has the id.
	GetUser(ctx context.Context, id uuid.UUID) (*store.UserRecord, error)

	// SetFlowState overwrites any prior flow state for the user.
	SetFlowState(ctx context.Context, id uuid.UUID, fs store.FlowState) error

	// SetCredential replaces the credential atomically: all fields land or none do.
	SetCredential(ctx context.Context, id uuid.UUID, c store.Credential) error

	// ClearFlowState is best-effort; callers treat failure as non-fatal.
	ClearFlowState(ctx context.Context, id uuid.UUID) error
}

// Verifier checks identity token signatures.
// Satisfied by *oauth.IDTokenVerifier.
type Verifier interface {
	Verify(ctx context.Context, ts *oauth.TokenSet) (*oauth.Identity, error)
}

// Policy holds the configurable trade-offs of the flow.
type Policy struct {
	// StrictStateValidation rejects callbacks whose correlation token does not match
	// the stored flow state. Off, a mismatch is only logged and the flow proceeds.
	StrictStateValidation bool

	// AllowedDomains restricts subject emails; empty allows all. See DomainAllowed.
	AllowedDomains []string

	// FlowStateTTL after which a stored flow state counts as absent. 0 never expires.
	FlowStateTTL time.Duration

	// ClientSecretRef is recorded on credentials in place of the secret itself.
	ClientSecretRef string
}

// Controller orchestrates the provider client and the store.
// Construct once at startup; safe for concurrent use.
type Controller struct {
	Store    Store
	Provider oauth.Provider
	// Verifier, when set, replaces the untrusted local decode of the identity token.
	Verifier Verifier
	Policy   Policy
	// Now defaults to time.Now; tests override it.
	Now func() time.Time
}

// StartResult is returned by Start.
type StartResult struct {
	AuthorizationURL string
	UserID           uuid.UUID
}

// CallbackParams are the provider's callback fields.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Result is returned by a successful Complete.
// StateVerified is false when the soft state check let a mismatch through.
type Result struct {
	UserID        uuid.UUID
	Credential    store.Credential
	SubjectEmail  string
	StateVerified bool
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Start issues an authorization URL for userID and records the flow state,
// superseding any flow already pending for the user.
func (c *Controller) Start(ctx context.Context, userID uuid.UUID) (*StartResult, error) {
	if _, err := c.Store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fail(KindNotFound, "user not found", err)
		}
		return nil, fail(KindStoreError, "could not load user", err)
	}

	token, err := NewCorrelationToken(userID)
	if err != nil {
		return nil, fail(KindStoreError, "could not start authorization", err)
	}
	authURL := c.Provider.AuthCodeURL(token)

	scopes := append([]string(nil), c.Provider.Scopes()...)
	err = c.Store.SetFlowState(ctx, userID, store.FlowState{
		CorrelationToken: token,
		RequestedScopes:  scopes,
		CreatedAt:        c.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fail(KindNotFound, "user not found", err)
		}
		return nil, fail(KindStoreError, "could not save authorization state", err)
	}

	slog.InfoContext(ctx, "oauth flow started", "user_id", userID, "provider", c.Provider.Name())
	return &StartResult{AuthorizationURL: authURL, UserID: userID}, nil
}

// Complete finishes the flow for a provider callback.
// Nothing before the credential write mutates the credential: every failure up to
// that point leaves the stored credential exactly as it was.
func (c *Controller) Complete(ctx context.Context, p CallbackParams) (*Result, error) {
	if p.Error != "" {
		slog.WarnContext(ctx, "oauth callback: provider returned error",
			"error_code", p.Error, "error_description", p.ErrorDescription)
		c.consumeMatchingFlow(ctx, p.State)
		if p.Error == "access_denied" {
			return nil, fail(KindProviderDenied, "authorization was declined", nil)
		}
		return nil, fail(KindProviderError, "the identity provider reported an error", errors.New(p.Error))
	}
	if p.Code == "" {
		return nil, fail(KindMissingParameter, "missing authorization code", nil)
	}
	if p.State == "" {
		return nil, fail(KindMissingParameter, "missing state", nil)
	}

	userID, err := ParseCorrelationToken(p.State)
	if err != nil {
		slog.WarnContext(ctx, "oauth callback: unparseable state")
		return nil, fail(KindUnknownUser, "unknown user", err)
	}
	user, err := c.Store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "oauth callback: state names unknown user", "user_id", userID)
			return nil, fail(KindUnknownUser, "unknown user", err)
		}
		return nil, fail(KindStoreError, "could not load user", err)
	}

	verified := c.checkState(ctx, user, p.State)
	if !verified && c.Policy.StrictStateValidation {
		return nil, fail(KindStateMismatch, "authorization state did not match", nil)
	}

	res, err := c.exchangeAndPersist(ctx, userID, p.Code)
	if err != nil {
		// The callback consumed its own flow; a mismatched one leaves the pending flow alone.
		if verified {
			c.clearFlowState(ctx, userID)
		}
		return nil, err
	}
	res.StateVerified = verified

	c.clearFlowState(ctx, userID)
	slog.InfoContext(ctx, "oauth flow completed",
		"user_id", userID, "provider", c.Provider.Name(), "state_verified", verified,
		"scopes", len(res.Credential.GrantedScopes))
	return res, nil
}

// checkState compares the stored flow state with the supplied token. Logs every
// mismatch; strictness is the caller's decision.
func (c *Controller) checkState(ctx context.Context, user *store.UserRecord, supplied string) bool {
	fs := user.FlowState
	switch {
	case fs == nil:
		slog.WarnContext(ctx, "oauth callback: no pending flow state", "user_id", user.ID)
		return false
	case fs.Expired(c.now(), c.Policy.FlowStateTTL):
		slog.WarnContext(ctx, "oauth callback: flow state expired",
			"user_id", user.ID, "created_at", fs.CreatedAt)
		return false
	case !tokensEqual(fs.CorrelationToken, supplied):
		slog.WarnContext(ctx, "oauth callback: state mismatch", "user_id", user.ID)
		return false
	}
	return true
}

// exchangeAndPersist runs steps that contact the provider and, last, write the credential.
func (c *Controller) exchangeAndPersist(ctx context.Context, userID uuid.UUID, code string) (*Result, error) {
	ts, err := c.Provider.Exchange(ctx, code)
	if err != nil {
		attrs := []any{"user_id", userID, "provider", c.Provider.Name(), "error", err}
		var ee *oauth.ExchangeError
		if errors.As(err, &ee) {
			attrs = append(attrs, "status", ee.Status, "error_code", ee.Code)
		}
		slog.WarnContext(ctx, "oauth callback: exchange failed", attrs...)
		return nil, fail(KindExchangeFailed, "authorization code exchange failed", err)
	}

	email, err := c.identityEmail(ctx, ts)
	if err != nil {
		slog.WarnContext(ctx, "oauth callback: no usable email", "user_id", userID, "error", err)
		return nil, fail(KindNoEmail, "no email address was returned by the identity provider", err)
	}

	if !DomainAllowed(email, c.Policy.AllowedDomains) {
		slog.WarnContext(ctx, "oauth callback: email domain rejected", "user_id", userID)
		return nil, fail(KindDomainRejected, "this email domain is not allowed", nil)
	}

	now := c.now()
	cred := store.Credential{
		AccessToken:     ts.AccessToken,
		TokenEndpoint:   c.Provider.TokenEndpoint(),
		ClientID:        c.Provider.ClientID(),
		ClientSecretRef: c.Policy.ClientSecretRef,
		GrantedScopes:   ts.Scopes,
		SubjectEmail:    email,
		IssuedAt:        now,
		UpdatedAt:       now,
	}
	if ts.RefreshToken != "" {
		rt := ts.RefreshToken
		cred.RefreshToken = &rt
	}
	if !ts.Expiry.IsZero() {
		exp := ts.Expiry
		cred.Expiry = &exp
	}

	if err := c.Store.SetCredential(ctx, userID, cred); err != nil {
		slog.ErrorContext(ctx, "oauth callback: credential write failed", "user_id", userID, "error", err)
		return nil, fail(KindStoreError, "could not save credential", err)
	}

	return &Result{UserID: userID, Credential: cred, SubjectEmail: email}, nil
}

// errNoEmailClaim reports a decodable token without a usable email claim.
var errNoEmailClaim = errors.New("identity token has no usable email claim")

// identityEmail reads the subject email with the verifier when configured,
// otherwise with the untrusted local decode.
func (c *Controller) identityEmail(ctx context.Context, ts *oauth.TokenSet) (string, error) {
	var id *oauth.Identity
	if c.Verifier != nil {
		v, err := c.Verifier.Verify(ctx, ts)
		if err != nil {
			return "", err
		}
		id = v
	} else {
		v, ok := oauth.DecodeUntrusted(ts)
		if !ok {
			return "", errors.New("identity token absent or malformed")
		}
		id = v
	}
	if !usableEmail(id.Email) {
		return "", errNoEmailClaim
	}
	return id.Email, nil
}

// consumeMatchingFlow clears the pending flow named by state when the token matches.
// Used on provider errors, where the flow is over but nothing else is read or written.
func (c *Controller) consumeMatchingFlow(ctx context.Context, state string) {
	if state == "" {
		return
	}
	userID, err := ParseCorrelationToken(state)
	if err != nil {
		return
	}
	user, err := c.Store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "oauth callback: could not load user to end flow", "user_id", userID, "error", err)
		}
		return
	}
	if c.checkState(ctx, user, state) {
		c.clearFlowState(ctx, userID)
	}
}

// clearFlowState is best-effort; a leftover flow state is harmless clutter.
func (c *Controller) clearFlowState(ctx context.Context, userID uuid.UUID) {
	if err := c.Store.ClearFlowState(ctx, userID); err != nil {
		slog.WarnContext(ctx, "oauth callback: failed to clear flow state", "user_id", userID, "error", err)
	}
}
