package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/mcpgrid/mcpgrid-auth/internal/tenant"
)

const ginTenantContextKey = "tenantContext"

// GetTenantContext returns the tenant resolved for this request.
func GetTenantContext(c *gin.Context) (*tenant.Context, bool) {
	value, ok := c.Get(ginTenantContextKey)
	if !ok {
		return nil, false
	}
	tenantCtx, ok := value.(*tenant.Context)
	return tenantCtx, ok
}
