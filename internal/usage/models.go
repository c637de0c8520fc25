package usage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one metered call.
//
// Billing invariant: BilledAt goes from nil to set exactly once, in the same
// transaction that debits the account and writes the ledger entry. Nothing
// ever clears it.
type Record struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	Direction       Direction `json:"direction" db:"direction"`
	DurationSeconds int       `json:"duration_seconds" db:"duration_seconds"`

	BillingMode BillingMode `json:"billing_mode" db:"billing_mode"`
	// Provider mode only. TranscriberID is optional; its rate adds to the model rate.
	ProviderID    string `json:"provider_id,omitempty" db:"provider_id"`
	ItemID        string `json:"item_id,omitempty" db:"item_id"`
	TranscriberID string `json:"transcriber_id,omitempty" db:"transcriber_id"`

	// ExternalRef is the voice provider's call id.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	BilledAt     *time.Time       `json:"billed_at,omitempty" db:"billed_at"`
	BilledAmount *decimal.Decimal `json:"billed_amount,omitempty" db:"billed_amount"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (r Record) Billed() bool { return r.BilledAt != nil }

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// BillingMode selects where the per-minute rate comes from.
type BillingMode string

const (
	// BillingModeDirection uses the account's flat inbound/outbound rate.
	BillingModeDirection BillingMode = "direction"
	// BillingModeProvider resolves the rate for ProviderID/ItemID.
	BillingModeProvider BillingMode = "provider"
)

// Claim asks the repository to mark RecordID billed and debit AccountID by
// Amount, atomically.
type Claim struct {
	RecordID  string
	AccountID string
	Amount    decimal.Decimal
	BilledAt  time.Time
}

// Validate checks a record before it is stored.
func (r Record) Validate() error {
	if r.AccountID == "" {
		return fmt.Errorf("%w: account_id required", ErrInvalidRecord)
	}
	if r.DurationSeconds < 0 {
		return fmt.Errorf("%w: duration_seconds must be >= 0", ErrInvalidRecord)
	}
	switch r.Direction {
	case DirectionInbound, DirectionOutbound:
	default:
		return fmt.Errorf("%w: direction must be inbound or outbound, got %q", ErrInvalidRecord, r.Direction)
	}
	switch r.BillingMode {
	case BillingModeDirection:
	case BillingModeProvider:
		if r.ProviderID == "" || r.ItemID == "" {
			return fmt.Errorf("%w: provider mode needs provider_id and item_id", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown billing_mode %q", ErrInvalidRecord, r.BillingMode)
	}
	if r.BilledAt != nil {
		return fmt.Errorf("%w: new records must be unbilled", ErrInvalidRecord)
	}
	return nil
}
