// handler.go -- AuthHandler dependencies and the service index.
package auth

import (
	"context"
	"net/http"

	"github.com/franklink/linkd/internal/flow"
	"github.com/franklink/linkd/internal/store"
	"github.com/gofrs/uuid/v5"
)

// FlowController runs the OAuth state machine.
// Satisfied by *flow.Controller -- defined here (at consumer) per Go convention.
type FlowController interface {
	// Start issues an authorization URL for the user and records the flow state.
	Start(ctx context.Context, userID uuid.UUID) (*flow.StartResult, error)

	// Complete exchanges the callback's code and persists the credential.
	Complete(ctx context.Context, p flow.CallbackParams) (*flow.Result, error)
}

// Store defines database operations needed by the non-flow handlers.
// Satisfied by *store.PostgresStore.
type Store interface {
	// GetUserByIdentity fetches a user by email or phone. Returns store.ErrNotFound.
	GetUserByIdentity(ctx context.Context, identity string) (*store.UserRecord, error)

	// GetAuthIdentity fetches the linked password identity. Returns store.ErrNotFound.
	GetAuthIdentity(ctx context.Context, userID uuid.UUID) (*store.AuthIdentity, error)

	// CreateAuthIdentity links a password identity; created=false if one already exists.
	CreateAuthIdentity(ctx context.Context, a store.AuthIdentity) (bool, error)

	// CheckHealth pings the database.
	CheckHealth(ctx context.Context) error
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter -- defined here per Go convention.
type RateLimiter interface {
	// Allow checks whether the action is within policy, records the attempt.
	// Returns store.ErrRateLimitExceeded if locked out; other errors are Redis failures.
	Allow(ctx context.Context, key string, policy store.RateLimit) error

	// CheckHealth pings Redis.
	CheckHealth(ctx context.Context) error
}

// AuthHandler holds dependencies for all HTTP handlers.
// Flow is nil when the OAuth client is not configured; OAuth routes then answer 503.
type AuthHandler struct {
	Flow FlowController
	PS   Store
	RL   RateLimiter

	Version     string
	Environment string

	StartLimit       store.RateLimit
	ProvisionLimit   store.RateLimit
	ProvisionIPLimit store.RateLimit

	// ProvisionSecret is the shared password provisioned identities are created with.
	// Empty disables POST /account/provision.
	ProvisionSecret  string
	PhoneEmailDomain string
}

// Index handles GET / -- names the service and its endpoints.
func (h *AuthHandler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Message   string            `json:"message"`
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}{
		Message: "Franklink API",
		Version: h.Version,
		Endpoints: map[string]string{
			"health":         "/health",
			"oauth_start":    "/oauth/google/start",
			"oauth_callback": "/oauth/google/callback",
			"provision":      "/account/provision",
		},
	})
}
