package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// Common filtering inputs. A zero bound leaves that side of the range open.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// UsageSummaryRequest requests aggregated usage for one account.
// AccountID is required; the caller must be the account or an ancestor.

type UsageSummaryRequest struct {
	AccountID string    `json:"account_id"`
	Range     TimeRange `json:"range"`
}

type UsageSummary struct {
	AccountID string    `json:"account_id"`
	Range     TimeRange `json:"range"`

	TotalRecords    int `json:"total_records"`
	BilledRecords   int `json:"billed_records"`
	UnbilledRecords int `json:"unbilled_records"`

	TotalDurationSeconds int `json:"total_duration_seconds"`
	// BilledMinutes counts whole started minutes of billed records, the unit
	// they were charged in.
	BilledMinutes int `json:"billed_minutes"`

	TotalBilledAmount decimal.Decimal `json:"total_billed_amount"`

	Items []ItemUsage `json:"items"`
}

// ItemUsage breaks billed usage down by what was priced: provider/item for
// provider-mode records, direction for flat-rate ones.
type ItemUsage struct {
	Key           string          `json:"key"`
	Records       int             `json:"records"`
	BilledMinutes int             `json:"billed_minutes"`
	BilledAmount  decimal.Decimal `json:"billed_amount"`
}
