package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is an immutable append-only record of one balance change.
//
// Money invariant: the account's credit_balance is a projection; no code
// changes it without writing a LedgerEntry in the same transaction.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Type      LedgerEntryType `json:"type" db:"type"`

	// Amount is signed: credits are positive, debits negative.
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`

	// UsageRecordID is set for usage debits; at most one entry per record.
	UsageRecordID *string `json:"usage_record_id,omitempty" db:"usage_record_id"`
	// ActorAccountID is the acting (real) account behind manual changes.
	ActorAccountID *string `json:"actor_account_id,omitempty" db:"actor_account_id"`

	Note      string    `json:"note,omitempty" db:"note"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeUsageDebit LedgerEntryType = "usage_debit"
	LedgerEntryTypeCredit     LedgerEntryType = "credit"
	LedgerEntryTypeAdjustment LedgerEntryType = "adjustment"
)

// Op is a manual credit operation.
type Op string

const (
	OpAdd      Op = "add"
	OpSubtract Op = "subtract"
	OpSet      Op = "set"
)

type AdjustRequest struct {
	Op     Op              `json:"op"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty"`
}

type Credits struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"credit_balance"`
}
