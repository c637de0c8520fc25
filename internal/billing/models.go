package billing

import (
	"agency-billing/internal/apperr"

	"github.com/shopspring/decimal"
)

// Summary reports one sync pass. A pass always completes; per-record
// failures are listed in Errors and those records stay unbilled.
type Summary struct {
	Scope        string          `json:"scope,omitempty"`
	BilledCount  int             `json:"billed_count"`
	TotalCharged decimal.Decimal `json:"total_charged"`
	// SkippedCount counts records another concurrent pass billed first.
	SkippedCount     int               `json:"skipped_count"`
	Errors           []RecordError     `json:"errors"`
	NegativeBalances []NegativeBalance `json:"negative_balances"`
	// Skipped is set when an opportunistic trigger found a sync already
	// running for the scope and did nothing.
	Skipped bool `json:"skipped,omitempty"`
}

type RecordError struct {
	RecordID  string     `json:"record_id"`
	AccountID string     `json:"account_id"`
	Kind      apperr.Kind `json:"kind"`
	Message   string     `json:"message"`
}

type NegativeBalance struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

// Trigger says why a sync runs. Auto triggers go through the Gate.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

func ParseTrigger(s string) (Trigger, error) {
	switch Trigger(s) {
	case "", TriggerManual:
		return TriggerManual, nil
	case TriggerAuto:
		return TriggerAuto, nil
	default:
		return "", apperr.New(apperr.KindInvalidArgument, "trigger must be manual or auto, got %q", s)
	}
}

// kindInternal labels record failures that carry no apperr kind (storage errors).
const kindInternal apperr.Kind = "internal"
