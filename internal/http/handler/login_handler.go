package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mcpgrid/mcpgrid-auth/internal/config"
	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
	"github.com/mcpgrid/mcpgrid-auth/internal/http/middleware"
	"github.com/mcpgrid/mcpgrid-auth/internal/service"
	"github.com/mcpgrid/mcpgrid-auth/internal/session"
)

// LoginHandler serves end-user authentication: password login, upstream
// social login, and session introspection for the dashboard.
type LoginHandler struct {
	Login    *service.LoginService
	Sessions *session.Manager
	Config   config.Config
}

// NewLoginHandler creates the login handler.
func NewLoginHandler(login *service.LoginService, sessions *session.Manager, cfg config.Config) *LoginHandler {
	return &LoginHandler{Login: login, Sessions: sessions, Config: cfg}
}

// PasswordLogin handles POST /login.
func (h *LoginHandler) PasswordLogin(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}

	var req struct {
		Email    string `json:"email" form:"email"`
		Password string `json:"password" form:"password"`
		ReturnTo string `json:"return_to" form:"return_to"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email and password are required."})
		return
	}

	user, err := h.Login.PasswordLogin(c.Request.Context(), tenantCtx.Tenant, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "error_description": "Invalid email or password."})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
		return
	}

	if err := h.setSessionCookie(c, tenantCtx.Issuer, user); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":   user.ID,
		"email":     user.Email,
		"return_to": sanitizeReturnTo(req.ReturnTo),
	})
}

// UpstreamStart handles GET /login/upstream/:provider and redirects to the
// provider's authorization page. The OAuth authorize request being resumed
// travels in the state parameter.
func (h *LoginHandler) UpstreamStart(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}

	provider := c.Param("provider")
	state := sanitizeReturnTo(c.Query("return_to"))

	authURL, err := h.Login.UpstreamAuthURL(provider, h.callbackURL(tenantCtx.Issuer, provider), state)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Unknown identity provider."})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// UpstreamCallback handles GET /login/upstream/:provider/callback.
func (h *LoginHandler) UpstreamCallback(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}

	provider := c.Param("provider")
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Provider returned no code."})
		return
	}

	user, err := h.Login.UpstreamLogin(c.Request.Context(), tenantCtx.Tenant, provider, code, h.callbackURL(tenantCtx.Issuer, provider))
	if err != nil {
		zap.L().Warn("upstream login failed", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_error", "error_description": "Identity provider login failed."})
		return
	}

	if err := h.setSessionCookie(c, tenantCtx.Issuer, user); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
		return
	}

	if returnTo := sanitizeReturnTo(c.Query("state")); returnTo != "" {
		c.Redirect(http.StatusFound, returnTo)
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// Logout handles POST /logout by clearing the session cookie.
func (h *LoginHandler) Logout(c *gin.Context) {
	c.SetCookie(session.CookieName, "", -1, "/", "", h.Config.Production(), true)
	c.Status(http.StatusNoContent)
}

// Me handles GET /me for an authenticated session.
func (h *LoginHandler) Me(c *gin.Context) {
	userID, ok := middleware.SessionUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_session", "error_description": "Login required."})
		return
	}
	claims, _ := middleware.SessionClaims(c)

	resp := gin.H{"user_id": userID}
	if claims != nil {
		resp["email"] = claims.Email
		resp["name"] = claims.Name
	}
	c.JSON(http.StatusOK, resp)
}

func (h *LoginHandler) setSessionCookie(c *gin.Context, issuer string, user domain.User) error {
	token, err := h.Sessions.Issue(c.Request.Context(), issuer, user)
	if err != nil {
		return fmt.Errorf("issue session: %w", err)
	}
	maxAge := int(h.Config.SessionTTL.Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(session.CookieName, token, maxAge, "/", "", h.Config.Production(), true)
	return nil
}

func (h *LoginHandler) callbackURL(issuer, provider string) string {
	return strings.TrimSuffix(issuer, "/") + "/login/upstream/" + provider + "/callback"
}

// sanitizeReturnTo keeps redirects on-site. Anything absolute or
// protocol-relative is dropped.
func sanitizeReturnTo(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return ""
	}
	if _, err := url.Parse(raw); err != nil {
		return ""
	}
	return raw
}
