package ledger

import (
	"errors"
	"fmt"
)

// Typed failures surfaced to callers. The engine never retries; the HTTP
// layer owns the mapping to status codes.
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidTransactionType = errors.New("invalid transaction type")

	// ErrStoreUnavailable means the atomic unit could not be committed and
	// was fully rolled back - no partial balance change was applied.
	ErrStoreUnavailable = errors.New("store unavailable")
)

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
