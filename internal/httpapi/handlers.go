package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"agency-billing/internal/accounts"
	"agency-billing/internal/audit"
	"agency-billing/internal/auth"
	"agency-billing/internal/billing"
	"agency-billing/internal/pricing"
	"agency-billing/internal/rbac"
	"agency-billing/internal/reporting"
	"agency-billing/internal/session"
	"agency-billing/internal/wallet"
	"agency-billing/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Accounts *accounts.Directory
	Rates    *pricing.Service
	Sessions *session.Manager
	Billing  *billing.Engine
	Credits  *wallet.Service
	Reports  *reporting.Service
	Audit    *audit.Service
}

// Register mounts the session-protected routes on g. g must already run
// auth.RequireSession.
func (h Handlers) Register(g *gin.RouterGroup) {
	g.GET("/session", h.GetSession)
	g.POST("/session/switch", rbac.RequireActingRole(accounts.RoleOwner, accounts.RoleAgency), h.SwitchTo)
	g.POST("/session/switch-back", h.SwitchBack)

	g.GET("/accounts/accessible", h.ListAccessible)

	g.GET("/rates", h.ListRates)
	g.PUT("/rates", rbac.RequireEffectiveRole(accounts.RoleOwner, accounts.RoleAgency), h.SetRates)

	g.POST("/billing/sync", h.SyncBilling)

	g.GET("/credits/:account_id", h.GetCredits)
	g.POST("/credits/:account_id", rbac.RequireEffectiveRole(accounts.RoleOwner, accounts.RoleAgency), h.AdjustCredits)
	g.GET("/credits/:account_id/ledger", h.ListLedger)

	g.GET("/usage/summary", h.UsageSummary)
}

// Health reports liveness plus the result of check, when set.
func Health(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				logger.FromGin(c).Warn("health check failed", "err", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// --- Session ---

func (h Handlers) GetSession(c *gin.Context) {
	s, err := auth.SessionFrom(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type switchRequest struct {
	TargetAccountID string `json:"target_account_id"`
}

func (h Handlers) SwitchTo(c *gin.Context) {
	s, err := auth.SessionFrom(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	tok, err := h.Sessions.SwitchTo(c.Request.Context(), s, req.TargetAccountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (h Handlers) SwitchBack(c *gin.Context) {
	s, err := auth.SessionFrom(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	tok, err := h.Sessions.SwitchBack(c.Request.Context(), s)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

// ListAccessible lists the accounts the real (acting) identity may switch into.
func (h Handlers) ListAccessible(c *gin.Context) {
	s, err := auth.SessionFrom(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	accs, err := h.Accounts.ListAccessible(c.Request.Context(), s.ActingAccountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accs})
}

// --- Rates ---

func (h Handlers) ListRates(c *gin.Context) {
	s, err := auth.SessionFrom(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	accountID := c.DefaultQuery("account_id", s.EffectiveAccountID)
	table, err := h.Rates.ListRates(c.Request.Context(), s.EffectiveAccountID, accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, table)
}

type setRatesRequest struct {
	// TargetAccountID nil writes the base price list.
	TargetAccountID *string             `json:"target_account_id"`
	Entries         []pricing.RateInput `json:"entries"`
}

// SetRates writes rates as the effective account. The whole batch is
// rejected if any entry fails.
func (h Handlers) SetRates(c *gin.Context) {
	s, err := auth.SessionFrom(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	var req setRatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}

	ctx := c.Request.Context()
	written, err := h.Rates.SetRates(ctx, s.EffectiveAccountID, req.TargetAccountID, req.Entries)
	if err != nil {
		writeError(c, err)
		return
	}

	target := ""
	if req.TargetAccountID != nil {
		target = *req.TargetAccountID
	}
	if h.Audit != nil {
		if err := h.Audit.LogRateOverride(ctx, s.ActingAccountID, s.EffectiveAccountID, target, gin.H{"entries": req.Entries}); err != nil {
			logger.FromGin(c).Warn("audit append failed", "event", audit.EventTypeRateOverride, "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": written})
}

// --- Billing ---

// SyncBilling runs one sync pass. scope defaults to the caller's subtree
// (everything for OWNER); trigger=auto sheds the call if a pass is running.
func (h Handlers) SyncBilling(c *gin.Context) {
	s, err := auth.SessionFrom(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	trigger, err := billing.ParseTrigger(c.Query("trigger"))
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	scope, err := h.Billing.ScopeFor(ctx, s, c.Query("scope"))
	if err != nil {
		writeError(c, err)
		return
	}
	sum, err := h.Billing.Sync(ctx, billing.SyncRequest{Scope: scope, Trigger: trigger, ActingAccountID: s.ActingAccountID})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Credits ---

func (h Handlers) GetCredits(c *gin.Context) {
	s, err := auth.SessionFrom(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	cr, err := h.Credits.GetCredits(c.Request.Context(), s, c.Param("account_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cr)
}

func (h Handlers) AdjustCredits(c *gin.Context) {
	s, err := auth.SessionFrom(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	var req wallet.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	entry, err := h.Credits.AdjustCredits(c.Request.Context(), s, c.Param("account_id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h Handlers) ListLedger(c *gin.Context) {
	s, err := auth.SessionFrom(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := h.Credits.ListLedger(c.Request.Context(), s, c.Param("account_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// --- Usage ---

func (h Handlers) UsageSummary(c *gin.Context) {
	s, err := auth.SessionFrom(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	from, ok := parseTimeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := parseTimeQuery(c, "to")
	if !ok {
		return
	}
	out, err := h.Reports.UsageSummary(c.Request.Context(), s, reporting.UsageSummaryRequest{
		AccountID: c.DefaultQuery("account_id", s.EffectiveAccountID),
		Range:     reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseTimeQuery(c *gin.Context, key string) (time.Time, bool) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		badRequest(c, "%s must be RFC3339, got %q", key, v)
		return time.Time{}, false
	}
	return t.UTC(), true
}
