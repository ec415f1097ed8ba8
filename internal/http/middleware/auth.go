package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcpgrid/mcpgrid-auth/internal/session"
)

const (
	sessionUserKey   = "sessionUserID"
	sessionClaimsKey = "sessionClaims"
)

// Session authenticates browser requests with the tenant session cookie.
type Session struct {
	Manager *session.Manager
}

// Authenticate resolves the session cookie to a user id without aborting,
// so the authorize endpoint can redirect anonymous users to the login page.
func (m *Session) Authenticate(c *gin.Context) (int64, bool) {
	tenantCtx, ok := GetTenantContext(c)
	if !ok {
		return 0, false
	}
	token, err := c.Cookie(session.CookieName)
	if err != nil || token == "" {
		return 0, false
	}
	userID, claims, err := m.Manager.Verify(c.Request.Context(), tenantCtx.Tenant.ID, tenantCtx.Issuer, token)
	if err != nil {
		if !errors.Is(err, session.ErrInvalidSession) {
			_ = c.Error(err)
		}
		return 0, false
	}
	c.Set(sessionUserKey, userID)
	c.Set(sessionClaimsKey, claims)
	return userID, true
}

// RequireSession aborts with 401 when no valid session cookie is present.
func (m *Session) RequireSession(c *gin.Context) {
	if _, ok := m.Authenticate(c); !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_session", "error_description": "Login required."})
		return
	}
	c.Next()
}

// SessionUserID returns the authenticated user id set by RequireSession.
func SessionUserID(c *gin.Context) (int64, bool) {
	value, ok := c.Get(sessionUserKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(int64)
	return id, ok
}

// SessionClaims returns the session claims set by RequireSession.
func SessionClaims(c *gin.Context) (*session.Claims, bool) {
	value, ok := c.Get(sessionClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*session.Claims)
	return claims, ok
}
