package httpapi

import (
	"errors"
	"net/http"

	"agency-billing/internal/apperr"
	"agency-billing/pkg/logger"

	"github.com/gin-gonic/gin"
)

// statusFor is the single kind -> HTTP status table.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindAlreadyImpersonating, apperr.KindNotImpersonating:
		return http.StatusConflict
	case apperr.KindBelowFloorRate, apperr.KindRateNotConfigured, apperr.KindInsufficientCredits:
		return http.StatusUnprocessableEntity
	case apperr.KindInsufficientContext:
		return http.StatusUnauthorized
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": {"kind", "message", ...details}}.
// Errors without a kind are logged and reported as internal.
func writeError(c *gin.Context, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"kind":    "internal",
			"message": "internal error",
		}})
		return
	}

	body := gin.H{}
	for k, v := range e.Details {
		body[k] = v
	}
	body["kind"] = e.Kind
	body["message"] = e.Message
	c.AbortWithStatusJSON(statusFor(e.Kind), gin.H{"error": body})
}

func badRequest(c *gin.Context, format string, args ...any) {
	writeError(c, apperr.New(apperr.KindInvalidArgument, format, args...))
}
