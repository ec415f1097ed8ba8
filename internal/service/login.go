package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
	"github.com/mcpgrid/mcpgrid-auth/internal/repository"
	"github.com/mcpgrid/mcpgrid-auth/internal/upstream"
)

// ErrBadCredentials is returned for any password login failure. It never
// distinguishes an unknown email from a wrong password.
var ErrBadCredentials = errors.New("invalid email or password")

// dummyPasswordHash keeps the comparison cost constant when the email is
// unknown.
var dummyPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("mcpgrid-dummy"), bcrypt.DefaultCost)

// LoginService authenticates end users with a password or through an
// upstream identity provider.
type LoginService struct {
	users    repository.UserRepository
	upstream upstream.Client
	logger   *zap.Logger
}

// NewLoginService wires end-user authentication.
func NewLoginService(users repository.UserRepository, up upstream.Client, logger *zap.Logger) *LoginService {
	return &LoginService{users: users, upstream: up, logger: logger}
}

// PasswordLogin verifies an email/password pair within one tenant.
func (s *LoginService) PasswordLogin(ctx context.Context, tenant domain.Tenant, email, password string) (domain.User, error) {
	ctx, span := startSpan(ctx, "LoginService.PasswordLogin")
	defer span.End()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.User{}, ErrBadCredentials
	}

	user, err := s.users.GetByEmail(ctx, tenant.ID, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Burn a hash comparison so the miss costs the same as a wrong
			// password.
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
			return domain.User{}, ErrBadCredentials
		}
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if user.PasswordHash == "" {
		return domain.User{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrBadCredentials
	}

	s.log().Info("password login", zap.Int64("tenant_id", tenant.ID), zap.Int64("user_id", user.ID))
	return user, nil
}

// UpstreamAuthURL returns the provider's authorization URL for a social
// login round-trip.
func (s *LoginService) UpstreamAuthURL(provider, redirectURI, state string) (string, error) {
	return s.upstream.AuthCodeURL(provider, redirectURI, state)
}

// UpstreamLogin completes a social login: it exchanges the provider code and
// resolves the profile to a tenant user, creating or linking as needed.
func (s *LoginService) UpstreamLogin(ctx context.Context, tenant domain.Tenant, provider, code, redirectURI string) (domain.User, error) {
	ctx, span := startSpan(ctx, "LoginService.UpstreamLogin")
	defer span.End()

	profile, err := s.upstream.Exchange(ctx, provider, code, redirectURI)
	if err != nil {
		return domain.User{}, fmt.Errorf("upstream login: %w", err)
	}
	return s.ensureUser(ctx, tenant, provider, profile)
}

// ensureUser maps an upstream profile to a tenant user. Matching by
// (provider, subject) always wins; matching an existing account by email is
// allowed only when the provider asserts the email as verified, so an
// attacker cannot claim an account by registering its email at a lax
// provider.
func (s *LoginService) ensureUser(ctx context.Context, tenant domain.Tenant, provider string, profile upstream.Profile) (domain.User, error) {
	user, err := s.users.GetByIdentity(ctx, tenant.ID, provider, profile.Subject)
	if err == nil {
		s.refreshProfile(ctx, &user, profile)
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("load identity: %w", err)
	}

	if profile.Email != "" && profile.EmailVerified {
		existing, err := s.users.GetByEmail(ctx, tenant.ID, profile.Email)
		if err == nil {
			if err := s.users.LinkIdentity(ctx, domain.UserIdentity{
				TenantID: tenant.ID,
				UserID:   existing.ID,
				Provider: provider,
				Subject:  profile.Subject,
			}); err != nil {
				return domain.User{}, fmt.Errorf("link identity: %w", err)
			}
			s.log().Info("identity linked",
				zap.Int64("tenant_id", tenant.ID),
				zap.Int64("user_id", existing.ID),
				zap.String("provider", provider),
			)
			s.refreshProfile(ctx, &existing, profile)
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, fmt.Errorf("load user by email: %w", err)
		}
	}

	created, err := s.users.Create(ctx, domain.User{
		TenantID:      tenant.ID,
		Email:         profile.Email,
		EmailVerified: profile.EmailVerified,
		Name:          profile.Name,
		AvatarURL:     profile.AvatarURL,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	if err := s.users.LinkIdentity(ctx, domain.UserIdentity{
		TenantID: tenant.ID,
		UserID:   created.ID,
		Provider: provider,
		Subject:  profile.Subject,
	}); err != nil {
		return domain.User{}, fmt.Errorf("link identity: %w", err)
	}

	s.log().Info("user created from upstream login",
		zap.Int64("tenant_id", tenant.ID),
		zap.Int64("user_id", created.ID),
		zap.String("provider", provider),
	)
	return created, nil
}

// refreshProfile backfills name and avatar from the provider. Failures are
// logged and ignored; login already succeeded.
func (s *LoginService) refreshProfile(ctx context.Context, user *domain.User, profile upstream.Profile) {
	changed := false
	if user.Name == "" && profile.Name != "" {
		user.Name = profile.Name
		changed = true
	}
	if user.AvatarURL == "" && profile.AvatarURL != "" {
		user.AvatarURL = profile.AvatarURL
		changed = true
	}
	if !changed {
		return
	}
	if err := s.users.UpdateProfile(ctx, *user); err != nil {
		s.log().Warn("profile refresh failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}
}

func (s *LoginService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
