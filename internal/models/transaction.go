package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one row of an account's ledger.
//
// Amount is the unsigned magnitude of the movement; the direction comes from
// the type's bucket, except for the OTHER bucket where the amount itself may
// carry either sign. Date is the logical transaction date used for
// chronological ordering, not the insertion time - rows may be back- or
// forward-dated. UpdatedBalance is a derived snapshot of the account's running
// balance immediately after this transaction in chronological order; it is
// recomputed by the ledger engine whenever ordering or upstream amounts change.
type Transaction struct {
	ID             string          `json:"id"`
	UserID         int             `json:"userId"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	Type           string          `json:"type"`
	Date           time.Time       `json:"date"`
	UpdatedBalance decimal.Decimal `json:"updatedBalance"`
	IsPending      bool            `json:"isPending"`
	CreatedAt      time.Time       `json:"createdAt"`

	// Populated on listing endpoints that join the owning user.
	User *UserSummary `json:"user,omitempty"`
}
