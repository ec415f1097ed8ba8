package tenant

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
	"github.com/mcpgrid/mcpgrid-auth/internal/repository"
)

// Context stores resolved tenant metadata used throughout the request
// lifecycle. The issuer is what discovery documents and redirects advertise.
type Context struct {
	Tenant domain.Tenant
	Issuer string
}

// Resolver maps an inbound host or explicit slug to a tenant's OAuth
// configuration.
type Resolver struct {
	repo           repository.TenantRepository
	platformDomain string
}

// NewResolver creates a tenant resolver. platformDomain is the shared suffix
// under which tenant subdomains live, e.g. "mcpgrid.io" for
// "acme.mcpgrid.io".
func NewResolver(repo repository.TenantRepository, platformDomain string) *Resolver {
	return &Resolver{repo: repo, platformDomain: strings.ToLower(strings.TrimSpace(platformDomain))}
}

// Resolve loads tenant information from a request host.
func (r *Resolver) Resolve(ctx context.Context, host string) (*Context, error) {
	cleaned := strings.ToLower(strings.TrimSpace(host))
	if cleaned == "" {
		zap.L().Warn("tenant resolver received empty host")
		return nil, fmt.Errorf("resolve tenant: empty host: %w", domain.ErrNotFound)
	}

	slug := cleaned
	if suffix := "." + r.platformDomain; strings.HasSuffix(cleaned, suffix) {
		slug = strings.TrimSuffix(cleaned, suffix)
	}
	if strings.Contains(slug, ".") {
		// Custom domains map one-to-one onto a slug record.
		slug = strings.SplitN(slug, ".", 2)[0]
	}

	return r.ResolveBySlug(ctx, slug)
}

// ResolveBySlug loads tenant information from an explicit tenant slug.
func (r *Resolver) ResolveBySlug(ctx context.Context, slug string) (*Context, error) {
	cleaned := strings.ToLower(strings.TrimSpace(slug))
	if cleaned == "" {
		return nil, fmt.Errorf("resolve tenant: empty slug: %w", domain.ErrNotFound)
	}

	tenantRow, err := r.repo.GetBySlug(ctx, cleaned)
	if err != nil {
		zap.L().Warn("failed to resolve tenant", zap.String("slug", cleaned), zap.Error(err))
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}
	if !tenantRow.Enabled {
		zap.L().Warn("tenant disabled", zap.String("slug", cleaned), zap.Int64("tenant_id", tenantRow.ID))
		return nil, fmt.Errorf("resolve tenant: %w", domain.ErrTenantDisabled)
	}

	issuer := strings.TrimRight(tenantRow.IssuerURL, "/")
	if issuer == "" {
		issuer = fmt.Sprintf("https://%s.%s", tenantRow.Slug, r.platformDomain)
	}

	zap.L().Debug("tenant context resolved", zap.String("slug", cleaned), zap.Int64("tenant_id", tenantRow.ID))

	return &Context{Tenant: tenantRow, Issuer: issuer}, nil
}
