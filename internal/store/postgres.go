// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable store for user records, credentials and flow state.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool to PostgreSQL and pings it.
// Call once at startup from main.go; the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings the pool. Returns nil when Postgres is reachable.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser inserts a bare user record. Used by provisioning fixtures and tests;
// account management proper lives outside this service.
func (s *PostgresStore) CreateUser(ctx context.Context, id uuid.UUID, email, phone *string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO users (id, email, phone) VALUES ($1, $2, $3)",
		id, email, phone)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// userColumns is the shared select list for user lookups, credential LEFT JOINed.
const userColumns = `
	u.id, u.email, u.phone, u.last_known_email,
	u.flow_state_token, u.flow_state_scopes, u.flow_state_created_at,
	u.created_at, u.updated_at,
	c.access_token, c.refresh_token, c.token_endpoint, c.client_id, c.client_secret_ref,
	c.granted_scopes, c.subject_email, c.expiry, c.issued_at, c.updated_at`

// scanUser reads one userColumns row. Nullable credential and flow state columns
// collapse into nil pointers on the record.
func scanUser(row pgx.Row) (*UserRecord, error) {
	var u UserRecord
	var (
		flowToken     *string
		flowScopes    []string
		flowCreatedAt *time.Time

		accessToken     *string
		refreshToken    *string
		tokenEndpoint   *string
		clientID        *string
		clientSecretRef *string
		grantedScopes   []string
		subjectEmail    *string
		expiry          *time.Time
		issuedAt        *time.Time
		credUpdatedAt   *time.Time
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Phone, &u.LastKnownEmail,
		&flowToken, &flowScopes, &flowCreatedAt,
		&u.CreatedAt, &u.UpdatedAt,
		&accessToken, &refreshToken, &tokenEndpoint, &clientID, &clientSecretRef,
		&grantedScopes, &subjectEmail, &expiry, &issuedAt, &credUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if flowToken != nil && flowCreatedAt != nil {
		u.FlowState = &FlowState{
			CorrelationToken: *flowToken,
			RequestedScopes:  flowScopes,
			CreatedAt:        *flowCreatedAt,
		}
	}
	if accessToken != nil {
		u.Credential = &Credential{
			AccessToken:     *accessToken,
			RefreshToken:    refreshToken,
			TokenEndpoint:   deref(tokenEndpoint),
			ClientID:        deref(clientID),
			ClientSecretRef: deref(clientSecretRef),
			GrantedScopes:   grantedScopes,
			SubjectEmail:    deref(subjectEmail),
			Expiry:          expiry,
		}
		if issuedAt != nil {
			u.Credential.IssuedAt = *issuedAt
		}
		if credUpdatedAt != nil {
			u.Credential.UpdatedAt = *credUpdatedAt
		}
	}
	return &u, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GetUser fetches a user record with its credential and flow state.
// Returns ErrNotFound if no user has the given id.
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*UserRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN user_credentials c ON c.user_id = u.id
		WHERE u.id = $1`, id)
	return scanUser(row)
}

// GetUserByIdentity fetches a user by email or phone number.
// An email match wins over a phone match on another row.
// Returns ErrNotFound if neither column matches.
func (s *PostgresStore) GetUserByIdentity(ctx context.Context, identity string) (*UserRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN user_credentials c ON c.user_id = u.id
		WHERE u.email = $1 OR u.phone = $1
		ORDER BY (u.email = $1) IS TRUE DESC
		LIMIT 1`, identity)
	return scanUser(row)
}

// SetFlowState overwrites the user's in-flight flow state (last writer wins).
// Returns ErrNotFound if the user row is gone.
func (s *PostgresStore) SetFlowState(ctx context.Context, id uuid.UUID, fs FlowState) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET flow_state_token = $2,
		    flow_state_scopes = $3,
		    flow_state_created_at = $4,
		    updated_at = now()
		WHERE id = $1`,
		id, fs.CorrelationToken, fs.RequestedScopes, fs.CreatedAt)
	if err != nil {
		return fmt.Errorf("setting flow state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearFlowState removes the user's flow state. Clearing an absent state is a no-op.
func (s *PostgresStore) ClearFlowState(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET flow_state_token = NULL,
		    flow_state_scopes = NULL,
		    flow_state_created_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND flow_state_token IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("clearing flow state: %w", err)
	}
	return nil
}

// SetCredential replaces the user's credential wholesale and records the subject email.
// Both writes share one transaction: readers see the old row or the new row, never a mix.
// Returns ErrNotFound if the user row is gone.
func (s *PostgresStore) SetCredential(ctx context.Context, id uuid.UUID, c Credential) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users SET last_known_email = $2, updated_at = now() WHERE id = $1`,
			id, c.SubjectEmail)
		if err != nil {
			return fmt.Errorf("updating last known email: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		scopes := c.GrantedScopes
		if scopes == nil {
			scopes = []string{}
		}
		// Every column is assigned on conflict so no stale token survives an overwrite.
		_, err = tx.Exec(ctx, `
			INSERT INTO user_credentials (
				user_id, access_token, refresh_token, token_endpoint, client_id,
				client_secret_ref, granted_scopes, subject_email, expiry, issued_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (user_id) DO UPDATE SET
				access_token = EXCLUDED.access_token,
				refresh_token = EXCLUDED.refresh_token,
				token_endpoint = EXCLUDED.token_endpoint,
				client_id = EXCLUDED.client_id,
				client_secret_ref = EXCLUDED.client_secret_ref,
				granted_scopes = EXCLUDED.granted_scopes,
				subject_email = EXCLUDED.subject_email,
				expiry = EXCLUDED.expiry,
				issued_at = EXCLUDED.issued_at,
				updated_at = EXCLUDED.updated_at`,
			id, c.AccessToken, c.RefreshToken, c.TokenEndpoint, c.ClientID,
			c.ClientSecretRef, scopes, c.SubjectEmail, c.Expiry, c.IssuedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upserting credential: %w", err)
		}
		return nil
	})
}

// CleanupExpiredFlowStates clears flow states created more than ttl ago.
// Returns the number of users whose flow state was cleared.
func (s *PostgresStore) CleanupExpiredFlowStates(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET flow_state_token = NULL,
		    flow_state_scopes = NULL,
		    flow_state_created_at = NULL
		WHERE flow_state_created_at < $1`,
		time.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("cleaning up flow states: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetAuthIdentity fetches the auth identity linked to userID.
// Returns ErrNotFound if the user has none.
func (s *PostgresStore) GetAuthIdentity(ctx context.Context, userID uuid.UUID) (*AuthIdentity, error) {
	var a AuthIdentity
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, identity, password_hash, created_at
		FROM auth_identities WHERE user_id = $1`, userID,
	).Scan(&a.UserID, &a.Identity, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching auth identity: %w", err)
	}
	return &a, nil
}

// CreateAuthIdentity links a password identity to a user if none exists yet.
// Returns created=false without error when the user or identity is already linked.
func (s *PostgresStore) CreateAuthIdentity(ctx context.Context, a AuthIdentity) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO auth_identities (user_id, identity, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		a.UserID, a.Identity, a.PasswordHash)
	if err != nil {
		return false, fmt.Errorf("inserting auth identity: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
