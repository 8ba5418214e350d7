// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (rate limiting).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrNotFound is returned by lookups when no matching row exists.
// Callers use errors.Is so they never depend on pgx.ErrNoRows directly.
var ErrNotFound = errors.New("not found")

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// UserRecord is a row in the users table joined with its credential.
// Credential and FlowState are nil when absent -- each is 0-or-1 per user.
type UserRecord struct {
	ID             uuid.UUID
	Email          *string
	Phone          *string
	LastKnownEmail *string
	Credential     *Credential
	FlowState      *FlowState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FlowState is the transient correlation data for one in-flight OAuth flow.
// Lives in the flow_state_* columns of users; a new Start overwrites it.
type FlowState struct {
	CorrelationToken string
	RequestedScopes  []string
	CreatedAt        time.Time
}

// Expired reports whether the state is older than ttl at now.
// A zero ttl never expires.
func (f *FlowState) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(f.CreatedAt) > ttl
}

// Credential is a row in user_credentials. The only place raw provider tokens are persisted.
// RefreshToken is nil when the provider omitted it (repeat consent).
// ClientSecretRef names where the client secret lives, never the secret itself.
type Credential struct {
	AccessToken     string
	RefreshToken    *string
	TokenEndpoint   string
	ClientID        string
	ClientSecretRef string
	GrantedScopes   []string
	SubjectEmail    string
	Expiry          *time.Time
	IssuedAt        time.Time
	UpdatedAt       time.Time
}

// AuthIdentity is a row in auth_identities -- a password login linked to a user record.
// Created by account provisioning; PasswordHash is Argon2id in PHC format.
type AuthIdentity struct {
	UserID       uuid.UUID
	Identity     string
	PasswordHash string
	CreatedAt    time.Time
}

// RateLimit defines the policy for a rate-limited action.
// All three fields required, zero values disable the respective behaviour.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // rolling window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}
