// Package session issues and validates end-user login session tokens. These
// are short-lived HS256 JWTs signed with a per-tenant key and carried in a
// cookie; they are unrelated to the opaque OAuth access and refresh tokens.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
	"github.com/mcpgrid/mcpgrid-auth/internal/repository"
)

// CookieName is the cookie carrying the end-user session token.
const CookieName = "mcpgrid_session"

// ErrInvalidSession is returned for any token that fails verification.
var ErrInvalidSession = errors.New("invalid session token")

// Claims are the custom claims embedded in a session token.
type Claims struct {
	TenantID int64  `json:"tenant_id"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Manager signs and verifies session tokens with per-tenant keys, creating a
// key on first use.
type Manager struct {
	keys repository.KeyRepository
	ttl  time.Duration

	mu    sync.RWMutex
	cache map[int64]domain.SessionKey
}

// NewManager creates a session manager.
func NewManager(keys repository.KeyRepository, ttl time.Duration) *Manager {
	return &Manager{keys: keys, ttl: ttl, cache: make(map[int64]domain.SessionKey)}
}

// Issue mints a session token for the user within their tenant.
func (m *Manager) Issue(ctx context.Context, tenantCtxIssuer string, user domain.User) (string, error) {
	key, err := m.activeKey(ctx, user.TenantID)
	if err != nil {
		return "", fmt.Errorf("load session key: %w", err)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key.Secret},
		(&jose.SignerOptions{ExtraHeaders: map[jose.HeaderKey]any{"kid": key.KID}}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	now := time.Now()
	std := jwt.Claims{
		Issuer:   tenantCtxIssuer,
		Subject:  fmt.Sprintf("%d", user.ID),
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(m.ttl)),
	}
	custom := Claims{TenantID: user.TenantID, Email: user.Email, Name: user.Name}

	token, err := jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// Verify checks a session token against the tenant's key and issuer and
// returns the authenticated user id.
func (m *Manager) Verify(ctx context.Context, tenantID int64, issuer, token string) (int64, *Claims, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return 0, nil, ErrInvalidSession
	}

	key, err := m.activeKey(ctx, tenantID)
	if err != nil {
		return 0, nil, fmt.Errorf("load session key: %w", err)
	}

	var (
		std    jwt.Claims
		custom Claims
	)
	if err := parsed.Claims(key.Secret, &std, &custom); err != nil {
		return 0, nil, ErrInvalidSession
	}
	if err := std.Validate(jwt.Expected{Issuer: issuer, Time: time.Now()}); err != nil {
		return 0, nil, ErrInvalidSession
	}
	if custom.TenantID != tenantID {
		return 0, nil, ErrInvalidSession
	}

	var userID int64
	if _, err := fmt.Sscanf(std.Subject, "%d", &userID); err != nil || userID <= 0 {
		return 0, nil, ErrInvalidSession
	}
	return userID, &custom, nil
}

func (m *Manager) activeKey(ctx context.Context, tenantID int64) (domain.SessionKey, error) {
	m.mu.RLock()
	if key, ok := m.cache[tenantID]; ok {
		m.mu.RUnlock()
		return key, nil
	}
	m.mu.RUnlock()

	key, err := m.keys.GetActive(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		key, err = m.createKey(ctx, tenantID)
	}
	if err != nil {
		return domain.SessionKey{}, err
	}

	m.mu.Lock()
	m.cache[tenantID] = key
	m.mu.Unlock()
	return key, nil
}

func (m *Manager) createKey(ctx context.Context, tenantID int64) (domain.SessionKey, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return domain.SessionKey{}, fmt.Errorf("generate key material: %w", err)
	}
	kid := make([]byte, 8)
	if _, err := rand.Read(kid); err != nil {
		return domain.SessionKey{}, fmt.Errorf("generate kid: %w", err)
	}

	return m.keys.Create(ctx, domain.SessionKey{
		TenantID:  tenantID,
		KID:       hex.EncodeToString(kid),
		Secret:    secret,
		Algorithm: "HS256",
	})
}
