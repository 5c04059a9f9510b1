package ledger

import (
	"github.com/shopspring/decimal"
)

// Bucket is the balance-direction class a transaction type maps into.
type Bucket int

const (
	BucketCredit Bucket = iota // balance += amount
	BucketDebit                // balance -= amount
	BucketOther                // balance += amount, amount carries its own sign
)

func (b Bucket) String() string {
	switch b {
	case BucketCredit:
		return "CREDIT"
	case BucketDebit:
		return "DEBIT"
	case BucketOther:
		return "OTHER"
	}
	return "UNKNOWN"
}

// buckets is the single classification table consulted by every ledger
// operation. Keeping it in one place means create, update and delete can
// never drift apart on what a type does to the balance.
var buckets = map[string]Bucket{
	// credits
	"credit":         BucketCredit,
	"deposit":        BucketCredit,
	"ach":            BucketCredit,
	"wire":           BucketCredit,
	"refund":         BucketCredit,
	"interest":       BucketCredit,
	"direct_deposit": BucketCredit,

	// debits
	"debit":        BucketDebit,
	"card":         BucketDebit,
	"fee":          BucketDebit,
	"bill_payment": BucketDebit,
	"ach_debit":    BucketDebit,
	"tax":          BucketDebit,
	"withdrawal":   BucketDebit,
	"check":        BucketDebit,

	// either direction, sign carried by the amount
	"other":         BucketOther,
	"transfer":      BucketOther,
	"adjustment":    BucketOther,
	"reversal":      BucketOther,
	"returned_item": BucketOther,
}

// Classify maps a transaction type to its bucket. Unknown or empty types are
// rejected outright; there is no permissive default.
func Classify(txType string) (Bucket, error) {
	b, ok := buckets[txType]
	if !ok {
		return 0, ErrInvalidTransactionType
	}
	return b, nil
}

// Effect returns the signed balance delta a transaction produces.
func Effect(amount decimal.Decimal, txType string) (decimal.Decimal, error) {
	b, err := Classify(txType)
	if err != nil {
		return decimal.Zero, err
	}
	if b == BucketDebit {
		return amount.Neg(), nil
	}
	return amount, nil
}
