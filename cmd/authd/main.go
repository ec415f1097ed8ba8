package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mcpgrid/mcpgrid-auth/internal/config"
	httptransport "github.com/mcpgrid/mcpgrid-auth/internal/http"
	"github.com/mcpgrid/mcpgrid-auth/internal/http/handler"
	httpmiddleware "github.com/mcpgrid/mcpgrid-auth/internal/http/middleware"
	apimiddleware "github.com/mcpgrid/mcpgrid-auth/internal/middleware"
	"github.com/mcpgrid/mcpgrid-auth/internal/repository"
	"github.com/mcpgrid/mcpgrid-auth/internal/server"
	"github.com/mcpgrid/mcpgrid-auth/internal/service"
	"github.com/mcpgrid/mcpgrid-auth/internal/session"
	"github.com/mcpgrid/mcpgrid-auth/internal/telemetry"
	"github.com/mcpgrid/mcpgrid-auth/internal/tenant"
	"github.com/mcpgrid/mcpgrid-auth/internal/upstream"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newPGXPool,
			newTenantRepository,
			newClientRepository,
			newUserRepository,
			newCodeRepository,
			newTokenRepository,
			newConsentRepository,
			newKeyRepository,
			newRateLimiter,
			newResolver,
			newSessionManager,
			newSessionMiddleware,
			newUpstreamClient,
			service.NewRegistryService,
			service.NewAuthorizeService,
			service.NewTokenService,
			service.NewIntrospectService,
			service.NewLoginService,
			service.NewDiscoveryService,
			handler.NewOAuthHandler,
			handler.NewLoginHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newTenantRepository(pool *pgxpool.Pool) repository.TenantRepository {
	return repository.NewPostgresTenantRepo(pool)
}

func newClientRepository(pool *pgxpool.Pool) repository.ClientRepository {
	return repository.NewPostgresClientRepo(pool)
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newCodeRepository(pool *pgxpool.Pool) repository.CodeRepository {
	return repository.NewPostgresCodeRepo(pool)
}

func newTokenRepository(pool *pgxpool.Pool) repository.TokenRepository {
	return repository.NewPostgresTokenRepo(pool)
}

func newConsentRepository(pool *pgxpool.Pool) repository.ConsentRepository {
	return repository.NewPostgresConsentRepo(pool)
}

func newKeyRepository(pool *pgxpool.Pool) repository.KeyRepository {
	return repository.NewPostgresKeyRepo(pool)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newResolver(repo repository.TenantRepository, cfg config.Config) *tenant.Resolver {
	return tenant.NewResolver(repo, cfg.PlatformDomain)
}

func newSessionManager(keys repository.KeyRepository, cfg config.Config) *session.Manager {
	return session.NewManager(keys, cfg.SessionTTL)
}

func newSessionMiddleware(manager *session.Manager) *httpmiddleware.Session {
	return &httpmiddleware.Session{Manager: manager}
}

func newUpstreamClient(cfg config.Config) upstream.Client {
	var providers []upstream.Provider
	if cfg.GoogleClientID != "" {
		providers = append(providers, upstream.GoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret))
	}
	if cfg.GitHubClientID != "" {
		providers = append(providers, upstream.GitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret))
	}
	return upstream.NewClient(providers, cfg.UpstreamTimeout)
}

func useTelemetry(*telemetry.Provider) {}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop(ctx)
		},
	})
}
