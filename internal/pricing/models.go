package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rates are per-minute prices expressed as decimals in the platform currency.
//
// Key convention:
// - LLM models: ProviderID is the model provider (openai, anthropic...), ItemID the model name.
// - Transcribers: ProviderID is TranscriberProvider, ItemID the transcriber vendor.

const TranscriberProvider = "transcriber"

type Scope string

const (
	// ScopeGlobal entries form the base price list, owned by nobody.
	ScopeGlobal Scope = "GLOBAL"
	// ScopeAccount entries override the base price for exactly one account.
	ScopeAccount Scope = "ACCOUNT"
)

// RateEntry is unique per (Scope, OwnerAccountID, ProviderID, ItemID).
type RateEntry struct {
	Scope          Scope   `json:"scope" db:"scope"`
	OwnerAccountID *string `json:"owner_account_id,omitempty" db:"owner_account_id"`

	ProviderID string `json:"provider_id" db:"provider_id"`
	ItemID     string `json:"item_id" db:"item_id"`

	Rate decimal.Decimal `json:"rate" db:"rate"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (e RateEntry) owner() string {
	if e.OwnerAccountID == nil {
		return ""
	}
	return *e.OwnerAccountID
}

// RateInput is a single requested write.
type RateInput struct {
	ProviderID string          `json:"provider_id"`
	ItemID     string          `json:"item_id"`
	Rate       decimal.Decimal `json:"rate"`
}

// RateTable is the read view for one account.
type RateTable struct {
	AccountID        string      `json:"account_id"`
	GlobalRates      []RateEntry `json:"global_rates"`
	AccountOverrides []RateEntry `json:"account_overrides"`
}
