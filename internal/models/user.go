package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is both the login identity and the bank account. Balance is the
// running balance kept consistent with the transaction ledger.
type User struct {
	ID              int             `json:"id" example:"1"`
	Name            string          `json:"name" example:"John Doe"`
	Email           string          `json:"email" example:"john.doe@example.com"`
	Phone           string          `json:"phone,omitempty" example:"(555) 123-4567"`
	Address         string          `json:"address,omitempty"`
	AccountName     string          `json:"accountName" example:"Alpha Tech LLC"`
	AccountType     string          `json:"accountType" example:"BUS COMPLETE CHK"`
	AccountNumber   string          `json:"accountNumber" example:"...4821"`
	Role            bool            `json:"role"` // true = admin
	Balance         decimal.Decimal `json:"balance"`
	AvailableCredit decimal.Decimal `json:"availableCredit"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// UserSummary is the trimmed owner view embedded in transaction listings.
type UserSummary struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
}
