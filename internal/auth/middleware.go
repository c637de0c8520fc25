package auth

import (
	"net/http"
	"strings"
	"time"

	"agency-billing/internal/apperr"
	"agency-billing/pkg/logger"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireSession verifies a session token and injects the Session into the request context.
// It does not perform role checks; those belong to internal/rbac.
func RequireSession(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		s, err := m.Verify(tok, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("session rejected", "err", err)
			abortUnauthorized(c, "invalid session token")
			return
		}

		c.Request = c.Request.WithContext(WithSession(c.Request.Context(), s))
		logger.Enrich(c, logger.FromGin(c).With(
			"acting_account_id", s.ActingAccountID,
			"effective_account_id", s.EffectiveAccountID,
		))

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
		"kind":    apperr.KindInsufficientContext,
		"message": msg,
	}})
}
