package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quarrylabs/quarry/internal/pkg/errcode"
	"github.com/quarrylabs/quarry/internal/pkg/jwt"
	"github.com/quarrylabs/quarry/internal/pkg/response"
)

const ContextTenantIDKey = "tenant_id"

// TenantAuth extracts the tenant identity from a bearer token. Every route
// behind it can assume a non-empty tenant id in the gin context.
func TenantAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, errcode.ErrUnauthorized, "missing authorization")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, errcode.ErrUnauthorized, "invalid authorization")
			c.Abort()
			return
		}
		claims, err := jwt.ParseToken(parts[1], secret)
		if err != nil {
			response.Error(c, errcode.ErrUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(ContextTenantIDKey, claims.TenantID)
		c.Next()
	}
}
