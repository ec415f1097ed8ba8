package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mcpgrid/mcpgrid-auth/internal/config"
	"github.com/mcpgrid/mcpgrid-auth/internal/http/handler"
	httpmiddleware "github.com/mcpgrid/mcpgrid-auth/internal/http/middleware"
	"github.com/mcpgrid/mcpgrid-auth/internal/middleware"
	"github.com/mcpgrid/mcpgrid-auth/internal/tenant"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(
	cfg config.Config,
	oauthHandler *handler.OAuthHandler,
	loginHandler *handler.LoginHandler,
	sessionMW *httpmiddleware.Session,
	resolver *tenant.Resolver,
	rateLimiter *middleware.RateLimiter,
) *gin.Engine {
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	tenanted := r.Group("/")
	tenanted.Use(middleware.Tenant(resolver))
	tenanted.Use(middleware.TenantCORS(cfg))
	tenanted.Use(otelgin.Middleware(cfg.ServiceName))

	tenanted.GET("/.well-known/oauth-authorization-server", oauthHandler.ServerMetadata)
	tenanted.GET("/.well-known/oauth-protected-resource", oauthHandler.ResourceMetadata)

	oauth := tenanted.Group("/oauth")
	{
		oauth.GET("/authorize", oauthHandler.AuthorizeStart)
		oauth.POST("/authorize", sessionMW.RequireSession, oauthHandler.AuthorizeDecide)
		oauth.POST("/token", oauthHandler.TokenExchange)
		oauth.POST("/introspect", oauthHandler.IntrospectToken)
		oauth.POST("/revoke", oauthHandler.Revoke)
		oauth.GET("/userinfo", oauthHandler.UserInfo)

		oauth.POST("/register", oauthHandler.Register)
		oauth.GET("/register", oauthHandler.GetClient)
		oauth.PUT("/register", oauthHandler.UpdateClient)
		oauth.DELETE("/register", oauthHandler.RevokeClient)
	}

	tenanted.POST("/login", loginHandler.PasswordLogin)
	tenanted.GET("/login/upstream/:provider", loginHandler.UpstreamStart)
	tenanted.GET("/login/upstream/:provider/callback", loginHandler.UpstreamCallback)
	tenanted.POST("/logout", loginHandler.Logout)
	tenanted.GET("/me", sessionMW.RequireSession, loginHandler.Me)

	return r
}
