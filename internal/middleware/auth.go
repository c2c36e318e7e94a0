package middleware

import (
	"net/http"
	"strings"

	"github.com/codecollab/editor-backend/internal/auth"
	"github.com/gin-gonic/gin"
)

// ClaimsContextKey is the gin context key the claims are stored under once
// RequireAuth has validated the bearer token.
const ClaimsContextKey = "claims"

// RequireAuth validates the Authorization: Bearer <token> header against
// validator and stores the resulting claims in the context for handlers
// downstream to read.
func RequireAuth(validator auth.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "error": "missing bearer token", "code": "unauthorized",
			})
			return
		}

		claims, err := validator.ValidateToken(strings.TrimPrefix(header, prefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "error": "invalid or expired token", "code": "unauthorized",
			})
			return
		}

		c.Set(ClaimsContextKey, claims)
		c.Next()
	}
}
