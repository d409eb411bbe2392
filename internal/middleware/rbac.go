package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
	"github.com/noah-isme/kindergarten-admission-api/pkg/response"
)

// RequireRoles lets the request through when the caller holds one of roles.
// SUPERADMIN passes every check.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles)+1)
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	allowed[models.RoleSuperAdmin] = struct{}{}

	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Abort(c, appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrForbidden, "role not permitted"),
				"role", claims.Role))
			return
		}
		c.Next()
	}
}
