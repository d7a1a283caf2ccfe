package middleware

import (
	"github.com/gin-gonic/gin"

	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// TenantMiddleware resolves the calling school from the gateway-injected
// headers and puts it on the request context. Every billing route is tenant
// scoped, so requests without a tenant are rejected up front.
func TenantMiddleware(c *gin.Context) {
	tenantID := c.GetHeader(types.HeaderTenantID)
	if tenantID == "" {
		c.Error(ierr.NewError("missing tenant header").
			WithHint("Tenant identification is required").
			Mark(ierr.ErrValidation))
		c.Abort()
		return
	}

	ctx := types.SetTenantID(c.Request.Context(), tenantID)
	if userID := c.GetHeader(types.HeaderUserID); userID != "" {
		ctx = types.SetUserID(ctx, userID)
	}
	c.Request = c.Request.WithContext(ctx)

	c.Next()
}
