package wallet

import "github.com/oklog/ulid/v2"

// NewEntryID returns a ULID. Ledger ids sort by creation time, so listing by
// id DESC is newest first without a separate index on created_at.
func NewEntryID() string {
	return ulid.Make().String()
}
