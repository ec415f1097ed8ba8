package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
)

// In-memory repositories shared by the service tests. They enforce the same
// tenant scoping and conditional-update semantics as the Postgres
// implementations.

type memoryClientRepo struct {
	mu      sync.Mutex
	nextID  int64
	clients map[string]domain.OAuthClient
}

func newMemoryClientRepo() *memoryClientRepo {
	return &memoryClientRepo{clients: make(map[string]domain.OAuthClient)}
}

func clientKey(tenantID int64, clientID string) string {
	return fmt.Sprintf("%d/%s", tenantID, clientID)
}

func (m *memoryClientRepo) Create(ctx context.Context, client domain.OAuthClient) (domain.OAuthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	client.ID = m.nextID
	client.CreatedAt = time.Now()
	client.UpdatedAt = client.CreatedAt
	m.clients[clientKey(client.TenantID, client.ClientID)] = client
	return client, nil
}

func (m *memoryClientRepo) Get(ctx context.Context, tenantID int64, clientID string) (domain.OAuthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[clientKey(tenantID, clientID)]
	if !ok {
		return domain.OAuthClient{}, domain.ErrNotFound
	}
	return client, nil
}

func (m *memoryClientRepo) Update(ctx context.Context, client domain.OAuthClient) (domain.OAuthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := clientKey(client.TenantID, client.ClientID)
	if _, ok := m.clients[key]; !ok {
		return domain.OAuthClient{}, domain.ErrNotFound
	}
	client.UpdatedAt = time.Now()
	m.clients[key] = client
	return client, nil
}

func (m *memoryClientRepo) SetStatus(ctx context.Context, tenantID int64, clientID, status string) (domain.OAuthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := clientKey(tenantID, clientID)
	client, ok := m.clients[key]
	if !ok {
		return domain.OAuthClient{}, domain.ErrNotFound
	}
	client.Status = status
	m.clients[key] = client
	return client, nil
}

type memoryCodeRepo struct {
	mu     sync.Mutex
	nextID int64
	codes  map[string]domain.OAuthCode
}

func newMemoryCodeRepo() *memoryCodeRepo {
	return &memoryCodeRepo{codes: make(map[string]domain.OAuthCode)}
}

func (m *memoryCodeRepo) Create(ctx context.Context, code domain.OAuthCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	code.ID = m.nextID
	code.CreatedAt = time.Now()
	m.codes[clientKey(code.TenantID, code.Code)] = code
	return nil
}

func (m *memoryCodeRepo) Get(ctx context.Context, tenantID int64, code string) (domain.OAuthCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.codes[clientKey(tenantID, code)]
	if !ok {
		return domain.OAuthCode{}, domain.ErrNotFound
	}
	return row, nil
}

func (m *memoryCodeRepo) Consume(ctx context.Context, tenantID int64, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := clientKey(tenantID, code)
	row, ok := m.codes[key]
	if !ok || row.UsedAt != nil || time.Now().After(row.ExpiresAt) {
		return domain.ErrCodeConsumed
	}
	now := time.Now()
	row.UsedAt = &now
	m.codes[key] = row
	return nil
}

type memoryTokenRepo struct {
	mu     sync.Mutex
	nextID int64
	tokens map[int64]domain.OAuthToken
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{tokens: make(map[int64]domain.OAuthToken)}
}

func (m *memoryTokenRepo) Create(ctx context.Context, token domain.OAuthToken) (domain.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(token), nil
}

func (m *memoryTokenRepo) insert(token domain.OAuthToken) domain.OAuthToken {
	m.nextID++
	token.ID = m.nextID
	token.CreatedAt = time.Now()
	m.tokens[token.ID] = token
	return token
}

func (m *memoryTokenRepo) GetByAccessToken(ctx context.Context, tenantID int64, accessToken string) (domain.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TenantID == tenantID && t.AccessToken == accessToken {
			return t, nil
		}
	}
	return domain.OAuthToken{}, domain.ErrNotFound
}

func (m *memoryTokenRepo) GetByRefreshToken(ctx context.Context, tenantID int64, refreshToken string) (domain.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TenantID == tenantID && t.RefreshToken != "" && t.RefreshToken == refreshToken {
			return t, nil
		}
	}
	return domain.OAuthToken{}, domain.ErrNotFound
}

func (m *memoryTokenRepo) Revoke(ctx context.Context, tenantID int64, tokenID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tokens[tokenID]
	if !ok || row.TenantID != tenantID {
		return domain.ErrNotFound
	}
	now := time.Now()
	row.RevokedAt = &now
	m.tokens[tokenID] = row
	return nil
}

func (m *memoryTokenRepo) Rotate(ctx context.Context, oldTokenID int64, next domain.OAuthToken) (domain.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldTokenID]
	if !ok || old.RevokedAt != nil {
		return domain.OAuthToken{}, domain.ErrTokenRevoked
	}
	now := time.Now()
	old.RevokedAt = &now
	m.tokens[oldTokenID] = old
	return m.insert(next), nil
}

type memoryConsentRepo struct {
	mu       sync.Mutex
	nextID   int64
	consents map[string]domain.Consent
}

func newMemoryConsentRepo() *memoryConsentRepo {
	return &memoryConsentRepo{consents: make(map[string]domain.Consent)}
}

func consentKey(tenantID, userID int64, clientID string) string {
	return fmt.Sprintf("%d/%d/%s", tenantID, userID, clientID)
}

func (m *memoryConsentRepo) Get(ctx context.Context, tenantID, userID int64, clientID string) (domain.Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	consent, ok := m.consents[consentKey(tenantID, userID, clientID)]
	if !ok {
		return domain.Consent{}, domain.ErrNotFound
	}
	return consent, nil
}

func (m *memoryConsentRepo) Upsert(ctx context.Context, consent domain.Consent) (domain.Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := consentKey(consent.TenantID, consent.UserID, consent.ClientID)
	if existing, ok := m.consents[key]; ok {
		consent.ID = existing.ID
	} else {
		m.nextID++
		consent.ID = m.nextID
	}
	consent.UpdatedAt = time.Now()
	m.consents[key] = consent
	return consent, nil
}

func (m *memoryConsentRepo) Delete(ctx context.Context, tenantID, userID int64, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.consents, consentKey(tenantID, userID, clientID))
	return nil
}

type memoryUserRepo struct {
	mu         sync.Mutex
	nextID     int64
	users      map[int64]domain.User
	identities map[string]domain.UserIdentity
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[int64]domain.User), identities: make(map[string]domain.UserIdentity)}
}

func identityKey(tenantID int64, provider, subject string) string {
	return fmt.Sprintf("%d/%s/%s", tenantID, provider, subject)
}

func (m *memoryUserRepo) GetByID(ctx context.Context, tenantID, userID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok || user.TenantID != tenantID {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func (m *memoryUserRepo) GetByEmail(ctx context.Context, tenantID int64, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *memoryUserRepo) GetByIdentity(ctx context.Context, tenantID int64, provider, subject string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[identityKey(tenantID, provider, subject)]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	user, ok := m.users[identity.UserID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func (m *memoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUserRepo) UpdateProfile(ctx context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return domain.ErrNotFound
	}
	m.users[user.ID] = user
	return nil
}

func (m *memoryUserRepo) LinkIdentity(ctx context.Context, identity domain.UserIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identityKey(identity.TenantID, identity.Provider, identity.Subject)
	if _, ok := m.identities[key]; ok {
		return nil
	}
	m.identities[key] = identity
	return nil
}
