package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - ActingAccountID is the real identity behind the action, never the
//   impersonated one. EffectiveAccountID records whose data it touched.
// - ip capture is best-effort; do not block critical flows on audit failures.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	ActingAccountID    string `json:"acting_account_id" db:"acting_account_id"`
	EffectiveAccountID string `json:"effective_account_id,omitempty" db:"effective_account_id"`
	TargetAccountID    string `json:"target_account_id,omitempty" db:"target_account_id"`

	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeImpersonationStart EventType = "impersonation_start"
	EventTypeImpersonationEnd   EventType = "impersonation_end"
	EventTypeRateOverride       EventType = "rate_override"
	EventTypeCreditAdjustment   EventType = "credit_adjustment"
	EventTypeBillingSync        EventType = "billing_sync"
)

// SystemActor is the acting id recorded for unattended work such as scheduled syncs.
const SystemActor = "system"
