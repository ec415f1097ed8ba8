package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
	"github.com/mcpgrid/mcpgrid-auth/internal/service"
	"github.com/mcpgrid/mcpgrid-auth/internal/upstream"
)

type fakeUpstream struct {
	profile upstream.Profile
	err     error
}

func (f *fakeUpstream) AuthCodeURL(provider, redirectURI, state string) (string, error) {
	return "https://idp.example.com/auth?state=" + state, nil
}

func (f *fakeUpstream) Exchange(ctx context.Context, provider, code, redirectURI string) (upstream.Profile, error) {
	return f.profile, f.err
}

func TestPasswordLogin(t *testing.T) {
	ctx := context.Background()
	users := newMemoryUserRepo()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)
	seeded, err := users.Create(ctx, domain.User{TenantID: 1, Email: "dev@acme.test", PasswordHash: string(hash)})
	require.NoError(t, err)

	svc := service.NewLoginService(users, &fakeUpstream{}, zap.NewNop())

	user, err := svc.PasswordLogin(ctx, testTenant(), "Dev@Acme.Test ", "hunter22")
	require.NoError(t, err)
	require.Equal(t, seeded.ID, user.ID)

	_, err = svc.PasswordLogin(ctx, testTenant(), "dev@acme.test", "wrong")
	require.ErrorIs(t, err, service.ErrBadCredentials)

	// Unknown email reads identically to a wrong password.
	_, err = svc.PasswordLogin(ctx, testTenant(), "ghost@acme.test", "hunter22")
	require.ErrorIs(t, err, service.ErrBadCredentials)

	// A social-only account has no password to check.
	social, err := users.Create(ctx, domain.User{TenantID: 1, Email: "social@acme.test"})
	require.NoError(t, err)
	_, err = svc.PasswordLogin(ctx, testTenant(), social.Email, "anything")
	require.ErrorIs(t, err, service.ErrBadCredentials)
}

func TestUpstreamLoginCreatesUser(t *testing.T) {
	ctx := context.Background()
	users := newMemoryUserRepo()
	up := &fakeUpstream{profile: upstream.Profile{
		Subject:       "g-123",
		Email:         "new@acme.test",
		EmailVerified: true,
		Name:          "New User",
		AvatarURL:     "https://img.example.com/a.png",
	}}
	svc := service.NewLoginService(users, up, zap.NewNop())

	user, err := svc.UpstreamLogin(ctx, testTenant(), "google", "code", "https://acme.mcpgrid.dev/login/callback")
	require.NoError(t, err)
	require.Equal(t, "new@acme.test", user.Email)
	require.Equal(t, "New User", user.Name)

	// A second login with the same subject maps to the same user.
	again, err := svc.UpstreamLogin(ctx, testTenant(), "google", "code", "https://acme.mcpgrid.dev/login/callback")
	require.NoError(t, err)
	require.Equal(t, user.ID, again.ID)
}

func TestUpstreamLoginLinksVerifiedEmailOnly(t *testing.T) {
	ctx := context.Background()
	users := newMemoryUserRepo()
	existing, err := users.Create(ctx, domain.User{TenantID: 1, Email: "dev@acme.test", EmailVerified: true})
	require.NoError(t, err)

	// Verified upstream email attaches to the existing account.
	up := &fakeUpstream{profile: upstream.Profile{Subject: "g-1", Email: "dev@acme.test", EmailVerified: true}}
	svc := service.NewLoginService(users, up, zap.NewNop())
	user, err := svc.UpstreamLogin(ctx, testTenant(), "google", "code", "")
	require.NoError(t, err)
	require.Equal(t, existing.ID, user.ID)

	// An unverified claim on the same email creates a separate user instead
	// of taking over the account.
	up2 := &fakeUpstream{profile: upstream.Profile{Subject: "gh-9", Email: "dev@acme.test", EmailVerified: false}}
	svc2 := service.NewLoginService(users, up2, zap.NewNop())
	stranger, err := svc2.UpstreamLogin(ctx, testTenant(), "github", "code", "")
	require.NoError(t, err)
	require.NotEqual(t, existing.ID, stranger.ID)
}
