package auth

import (
	"time"

	"agency-billing/internal/accounts"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the only supported JWT claims shape for this service.
// Subject always carries the acting (real) account. The effective account is
// the one whose data the caller operates on; it differs from the acting
// account only while Impersonating is set.
type Claims struct {
	jwt.RegisteredClaims

	ActingAccountID    string        `json:"acting_account_id"`
	ActingRole         accounts.Role `json:"acting_role"`
	EffectiveAccountID string        `json:"effective_account_id"`
	EffectiveRole      accounts.Role `json:"effective_role"`
	Impersonating      bool          `json:"impersonating"`
}

// Session is the verified identity of a request.
// There is deliberately no single "current user": callers must pick the
// acting or the effective identity for each decision.
type Session struct {
	ActingAccountID    string        `json:"acting_account_id"`
	ActingRole         accounts.Role `json:"acting_role"`
	EffectiveAccountID string        `json:"effective_account_id"`
	EffectiveRole      accounts.Role `json:"effective_role"`
	Impersonating      bool          `json:"impersonating"`
	IssuedAt           time.Time     `json:"issued_at"`
}

// Token is a signed session token plus the session it encodes.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Session   Session   `json:"session"`
}

func (c Claims) session() Session {
	s := Session{
		ActingAccountID:    c.ActingAccountID,
		ActingRole:         c.ActingRole,
		EffectiveAccountID: c.EffectiveAccountID,
		EffectiveRole:      c.EffectiveRole,
		Impersonating:      c.Impersonating,
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time.UTC()
	}
	return s
}
