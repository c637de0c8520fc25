package accounts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the closed set of tenant roles. Every switch over Role must be
// exhaustive; adding a role means visiting each permission table.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAgency Role = "AGENCY"
	RoleClient Role = "CLIENT"
)

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleAgency, RoleClient:
		return Role(s), nil
	default:
		return "", fmt.Errorf("accounts: unknown role %q", s)
	}
}

func (r Role) String() string { return string(r) }

// Account is a node of the tenant tree.
//
// The tree has a single OWNER root. AGENCY accounts hang off the owner,
// CLIENT accounts hang off an agency or directly off the owner.
// Accounts are never hard-deleted while usage references them; Disabled
// is the soft-delete flag.
type Account struct {
	ID              string  `json:"id" db:"id"`
	Role            Role    `json:"role" db:"role"`
	ParentAccountID *string `json:"parent_account_id,omitempty" db:"parent_account_id"`

	Name  string `json:"name" db:"name"`
	Email string `json:"email,omitempty" db:"email"`

	// CreditBalance may go negative; billing never blocks on it.
	CreditBalance decimal.Decimal `json:"credit_balance" db:"credit_balance"`

	// Flat per-minute defaults used by direction-based billing.
	OutboundRatePerMinute decimal.Decimal `json:"outbound_rate_per_minute" db:"outbound_rate_per_minute"`
	InboundRatePerMinute  decimal.Decimal `json:"inbound_rate_per_minute" db:"inbound_rate_per_minute"`

	Disabled  bool      `json:"disabled" db:"disabled"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ParentID returns the parent id or "" for the root.
func (a Account) ParentID() string {
	if a.ParentAccountID == nil {
		return ""
	}
	return *a.ParentAccountID
}
