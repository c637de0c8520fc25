package rbac

import (
	"net/http"

	"agency-billing/internal/accounts"
	"agency-billing/internal/apperr"
	"agency-billing/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireEffectiveRole allows access if the effective account has any of the
// provided roles. Data routes gate on the effective identity: an OWNER
// impersonating a CLIENT sees exactly what that client sees.
// Session presence is enforced via auth.RequireSession (use it in the chain).
func RequireEffectiveRole(allowed ...accounts.Role) gin.HandlerFunc {
	return requireRole(func(s auth.Session) accounts.Role { return s.EffectiveRole }, allowed)
}

// RequireActingRole gates on the real identity. Used for routes that act on
// the session itself, such as account switching.
func RequireActingRole(allowed ...accounts.Role) gin.HandlerFunc {
	return requireRole(func(s auth.Session) accounts.Role { return s.ActingRole }, allowed)
}

func requireRole(pick func(auth.Session) accounts.Role, allowed []accounts.Role) gin.HandlerFunc {
	allowedSet := make(map[accounts.Role]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		s, err := auth.SessionFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"kind":    apperr.KindInsufficientContext,
				"message": "session required",
			}})
			return
		}
		if _, ok := allowedSet[pick(s)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": gin.H{
				"kind":    apperr.KindForbidden,
				"message": "role " + string(pick(s)) + " may not use this endpoint",
			}})
			return
		}
		c.Next()
	}
}
