package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRole allows the request through when the authenticated identity
// carries any of the listed roles. Missing identity is 401, wrong role 403.
func (m *AuthMiddleware) RequireRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))

	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		role, ok := RoleFromContext(c)

		if !ok || role == "" {
			abortUnauthorized(c, "Missing identity context")
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "forbidden",
					"message": "Insufficient role for this operation",
				},
			})
			return
		}

		c.Next()
	}
}
