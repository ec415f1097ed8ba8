package handler_test

import (
	"context"
	"fmt"
	"time"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
)

type memClientRepo struct {
	nextID  int64
	clients map[string]domain.OAuthClient
}

func newMemClientRepo() *memClientRepo {
	return &memClientRepo{clients: make(map[string]domain.OAuthClient)}
}

func ck(tenantID int64, clientID string) string { return fmt.Sprintf("%d/%s", tenantID, clientID) }

func (m *memClientRepo) Create(_ context.Context, c domain.OAuthClient) (domain.OAuthClient, error) {
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now()
	m.clients[ck(c.TenantID, c.ClientID)] = c
	return c, nil
}

func (m *memClientRepo) Get(_ context.Context, tenantID int64, clientID string) (domain.OAuthClient, error) {
	c, ok := m.clients[ck(tenantID, clientID)]
	if !ok {
		return domain.OAuthClient{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *memClientRepo) Update(_ context.Context, c domain.OAuthClient) (domain.OAuthClient, error) {
	m.clients[ck(c.TenantID, c.ClientID)] = c
	return c, nil
}

func (m *memClientRepo) SetStatus(_ context.Context, tenantID int64, clientID, status string) (domain.OAuthClient, error) {
	c, ok := m.clients[ck(tenantID, clientID)]
	if !ok {
		return domain.OAuthClient{}, domain.ErrNotFound
	}
	c.Status = status
	m.clients[ck(tenantID, clientID)] = c
	return c, nil
}

type memCodeRepo struct {
	codes map[string]domain.OAuthCode
}

func newMemCodeRepo() *memCodeRepo { return &memCodeRepo{codes: make(map[string]domain.OAuthCode)} }

func (m *memCodeRepo) Create(_ context.Context, code domain.OAuthCode) error {
	m.codes[ck(code.TenantID, code.Code)] = code
	return nil
}

func (m *memCodeRepo) Get(_ context.Context, tenantID int64, code string) (domain.OAuthCode, error) {
	row, ok := m.codes[ck(tenantID, code)]
	if !ok {
		return domain.OAuthCode{}, domain.ErrNotFound
	}
	return row, nil
}

func (m *memCodeRepo) Consume(_ context.Context, tenantID int64, code string) error {
	key := ck(tenantID, code)
	row, ok := m.codes[key]
	if !ok || row.UsedAt != nil || time.Now().After(row.ExpiresAt) {
		return domain.ErrCodeConsumed
	}
	now := time.Now()
	row.UsedAt = &now
	m.codes[key] = row
	return nil
}

type memTokenRepo struct {
	nextID int64
	tokens map[int64]domain.OAuthToken
}

func newMemTokenRepo() *memTokenRepo { return &memTokenRepo{tokens: make(map[int64]domain.OAuthToken)} }

func (m *memTokenRepo) Create(_ context.Context, t domain.OAuthToken) (domain.OAuthToken, error) {
	m.nextID++
	t.ID = m.nextID
	t.CreatedAt = time.Now()
	m.tokens[t.ID] = t
	return t, nil
}

func (m *memTokenRepo) GetByAccessToken(_ context.Context, tenantID int64, token string) (domain.OAuthToken, error) {
	for _, t := range m.tokens {
		if t.TenantID == tenantID && t.AccessToken == token {
			return t, nil
		}
	}
	return domain.OAuthToken{}, domain.ErrNotFound
}

func (m *memTokenRepo) GetByRefreshToken(_ context.Context, tenantID int64, token string) (domain.OAuthToken, error) {
	for _, t := range m.tokens {
		if t.TenantID == tenantID && t.RefreshToken != "" && t.RefreshToken == token {
			return t, nil
		}
	}
	return domain.OAuthToken{}, domain.ErrNotFound
}

func (m *memTokenRepo) Revoke(_ context.Context, tenantID, tokenID int64) error {
	t, ok := m.tokens[tokenID]
	if !ok || t.TenantID != tenantID {
		return domain.ErrNotFound
	}
	now := time.Now()
	t.RevokedAt = &now
	m.tokens[tokenID] = t
	return nil
}

func (m *memTokenRepo) Rotate(_ context.Context, oldTokenID int64, next domain.OAuthToken) (domain.OAuthToken, error) {
	old, ok := m.tokens[oldTokenID]
	if !ok || old.RevokedAt != nil {
		return domain.OAuthToken{}, domain.ErrTokenRevoked
	}
	now := time.Now()
	old.RevokedAt = &now
	m.tokens[oldTokenID] = old
	return m.Create(context.Background(), next)
}

type memConsentRepo struct {
	consents map[string]domain.Consent
}

func newMemConsentRepo() *memConsentRepo {
	return &memConsentRepo{consents: make(map[string]domain.Consent)}
}

func cck(tenantID, userID int64, clientID string) string {
	return fmt.Sprintf("%d/%d/%s", tenantID, userID, clientID)
}

func (m *memConsentRepo) Get(_ context.Context, tenantID, userID int64, clientID string) (domain.Consent, error) {
	c, ok := m.consents[cck(tenantID, userID, clientID)]
	if !ok {
		return domain.Consent{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *memConsentRepo) Upsert(_ context.Context, c domain.Consent) (domain.Consent, error) {
	m.consents[cck(c.TenantID, c.UserID, c.ClientID)] = c
	return c, nil
}

func (m *memConsentRepo) Delete(_ context.Context, tenantID, userID int64, clientID string) error {
	delete(m.consents, cck(tenantID, userID, clientID))
	return nil
}

type memKeyRepo struct {
	keys map[int64]domain.SessionKey
}

func newMemKeyRepo() *memKeyRepo { return &memKeyRepo{keys: make(map[int64]domain.SessionKey)} }

func (m *memKeyRepo) GetActive(_ context.Context, tenantID int64) (domain.SessionKey, error) {
	k, ok := m.keys[tenantID]
	if !ok {
		return domain.SessionKey{}, domain.ErrNotFound
	}
	return k, nil
}

func (m *memKeyRepo) Create(_ context.Context, k domain.SessionKey) (domain.SessionKey, error) {
	k.ID = int64(len(m.keys) + 1)
	k.Active = true
	m.keys[k.TenantID] = k
	return k, nil
}

type memUserRepo struct {
	nextID int64
	users  map[int64]domain.User
}

func newMemUserRepo() *memUserRepo { return &memUserRepo{users: make(map[int64]domain.User)} }

func (m *memUserRepo) GetByID(_ context.Context, tenantID, userID int64) (domain.User, error) {
	u, ok := m.users[userID]
	if !ok || u.TenantID != tenantID {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *memUserRepo) GetByEmail(_ context.Context, tenantID int64, email string) (domain.User, error) {
	for _, u := range m.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *memUserRepo) GetByIdentity(_ context.Context, tenantID int64, provider, subject string) (domain.User, error) {
	return domain.User{}, domain.ErrNotFound
}

func (m *memUserRepo) Create(_ context.Context, u domain.User) (domain.User, error) {
	m.nextID++
	u.ID = m.nextID
	m.users[u.ID] = u
	return u, nil
}

func (m *memUserRepo) UpdateProfile(_ context.Context, u domain.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *memUserRepo) LinkIdentity(_ context.Context, identity domain.UserIdentity) error {
	return nil
}
