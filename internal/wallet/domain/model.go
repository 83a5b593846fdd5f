package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Wallet holds one user's balance in minor units.
type Wallet struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID `json:"user_id" gorm:"not null;uniqueIndex:ux_wallets_user_id"`
	Balance   int64        `json:"balance" gorm:"not null;default:0"`
	Currency  string       `json:"currency" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

// WalletTransaction is the append-only record of one balance mutation.
// Reference is unique: it is the idempotency key that makes a credit
// at-most-once no matter how many times its source event is redelivered.
type WalletTransaction struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID `json:"user_id" gorm:"not null;index"`
	Amount    int64        `json:"amount" gorm:"not null"`
	Currency  string       `json:"currency" gorm:"type:text;not null"`
	Kind      string       `json:"kind" gorm:"type:text;not null"`
	Reference string       `json:"reference" gorm:"type:text;not null;uniqueIndex:ux_wallet_txns_reference"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

const (
	KindPaymentCredit = "payment_credit"
)

var (
	ErrInvalidAmount = errors.New("invalid_wallet_amount")
	ErrUserNotFound  = errors.New("wallet_user_not_found")
)

// Service applies ledger effects. Credit must run inside the caller's
// transaction so balance changes commit atomically with the payment
// transition that caused them.
type Service interface {
	// Credit increments userID's balance by amount exactly once per
	// reference. Returns true when the credit was applied, false when the
	// reference was already settled.
	Credit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, currency string, kind string, reference string) (bool, error)
	Balance(ctx context.Context, userID snowflake.ID) (int64, error)
}
