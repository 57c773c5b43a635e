// README: Firebase ID-token bearer authentication and role checks.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fleetwatch/internal/infra"
)

const (
	ctxCallerUID  = "caller_uid"
	ctxCallerRole = "caller_role"
)

// RoleAdmin may manage dispatch groups and other users' contacts.
const RoleAdmin = "admin"

// Auth verifies "Authorization: Bearer <id token>" and stores the caller's
// uid and optional "role" claim on the context.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxCallerUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxCallerRole, role)
		}
		c.Next()
	}
}

// RequireRole rejects callers whose role claim is not one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden: role required"})
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxCallerUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxCallerRole)
}
