// stores.go
//
// Shared mock implementations of the store contracts consumed by flow and auth.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"

	"github.com/franklink/linkd/internal/store"
	"github.com/gofrs/uuid/v5"
)

// MockStore implements flow.Store and the auth package's store contracts.
//
// Always stateful...Users is a map, like a real store.
// Use *Err fields to inject errors for specific operations.
// Counters record how often each write ran, for "never touched the store" assertions.
type MockStore struct {
	// Error injection...zero value means no error
	GetUserErr            error
	SetFlowStateErr       error
	SetCredentialErr      error
	ClearFlowStateErr     error
	CreateAuthIdentityErr error
	HealthErr             error

	Users      map[uuid.UUID]*store.UserRecord
	Identities map[uuid.UUID]*store.AuthIdentity

	SetFlowStateCalls   int
	SetCredentialCalls  int
	ClearFlowStateCalls int

	mu sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given users, indexed by id.
func NewMockStore(users ...*store.UserRecord) *MockStore {
	ms := &MockStore{
		Users:      make(map[uuid.UUID]*store.UserRecord),
		Identities: make(map[uuid.UUID]*store.AuthIdentity),
	}
	for _, u := range users {
		ms.Users[u.ID] = u
	}
	return ms
}

// NewUser returns a fresh user record with a v7 id and the given email.
func NewUser(email string) *store.UserRecord {
	id := uuid.Must(uuid.NewV7())
	u := &store.UserRecord{ID: id}
	if email != "" {
		u.Email = &email
	}
	return u
}

// snapshot copies a record so callers never share pointers with the map.
func snapshot(u *store.UserRecord) *store.UserRecord {
	cp := *u
	if u.Credential != nil {
		c := *u.Credential
		c.GrantedScopes = append([]string(nil), u.Credential.GrantedScopes...)
		cp.Credential = &c
	}
	if u.FlowState != nil {
		fs := *u.FlowState
		fs.RequestedScopes = append([]string(nil), u.FlowState.RequestedScopes...)
		cp.FlowState = &fs
	}
	return &cp
}

func (m *MockStore) GetUser(_ context.Context, id uuid.UUID) (*store.UserRecord, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return snapshot(u), nil
}

// User returns a copy of the stored record, or nil. For assertions.
func (m *MockStore) User(id uuid.UUID) *store.UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil
	}
	return snapshot(u)
}

func (m *MockStore) SetFlowState(_ context.Context, id uuid.UUID, fs store.FlowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetFlowStateCalls++
	if m.SetFlowStateErr != nil {
		return m.SetFlowStateErr
	}
	u, ok := m.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.FlowState = &fs
	return nil
}

func (m *MockStore) SetCredential(_ context.Context, id uuid.UUID, c store.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCredentialCalls++
	if m.SetCredentialErr != nil {
		return m.SetCredentialErr
	}
	u, ok := m.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Credential = &c
	email := c.SubjectEmail
	u.LastKnownEmail = &email
	return nil
}

func (m *MockStore) ClearFlowState(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearFlowStateCalls++
	if m.ClearFlowStateErr != nil {
		return m.ClearFlowStateErr
	}
	if u, ok := m.Users[id]; ok {
		u.FlowState = nil
	}
	return nil
}

func (m *MockStore) GetUserByIdentity(_ context.Context, identity string) (*store.UserRecord, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var byPhone *store.UserRecord
	for _, u := range m.Users {
		if u.Email != nil && *u.Email == identity {
			return snapshot(u), nil
		}
		if u.Phone != nil && *u.Phone == identity {
			byPhone = u
		}
	}
	if byPhone != nil {
		return snapshot(byPhone), nil
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) CreateAuthIdentity(_ context.Context, a store.AuthIdentity) (bool, error) {
	if m.CreateAuthIdentityErr != nil {
		return false, m.CreateAuthIdentityErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.Identities[a.UserID]; exists {
		return false, nil
	}
	for _, existing := range m.Identities {
		if existing.Identity == a.Identity {
			return false, nil
		}
	}
	m.Identities[a.UserID] = &a
	return true, nil
}

func (m *MockStore) GetAuthIdentity(_ context.Context, userID uuid.UUID) (*store.AuthIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Identities[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockStore) CheckHealth(_ context.Context) error {
	return m.HealthErr
}

// MockRateLimiter implements auth.RateLimiter for tests.
// Zero value allows everything; set AllowErr to simulate lockout or Redis failure.
// With Counting set, each key is limited to the policy's MaxAttempts like the Redis limiter.
type MockRateLimiter struct {
	AllowErr  error
	HealthErr error
	Counting  bool

	mu     sync.Mutex
	Keys   []string
	counts map[string]int
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, policy store.RateLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Keys = append(m.Keys, key)
	if m.AllowErr != nil {
		return m.AllowErr
	}
	if m.Counting && policy.MaxAttempts > 0 {
		if m.counts == nil {
			m.counts = make(map[string]int)
		}
		m.counts[key]++
		if m.counts[key] > policy.MaxAttempts {
			return store.ErrRateLimitExceeded
		}
	}
	return nil
}

func (m *MockRateLimiter) CheckHealth(_ context.Context) error {
	return m.HealthErr
}
