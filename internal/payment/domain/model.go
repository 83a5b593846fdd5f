package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the lifecycle state of an external payment transaction.
type Status string

const (
	StatusNew       Status = "new"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
	StatusMismatch  Status = "mismatch"
)

// PaymentRecord is the canonical state of one processor transaction.
// TxnID is the processor's transaction identifier and the idempotency key:
// creation is always an upsert keyed on it, never a blind insert.
type PaymentRecord struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	TxnID          string         `json:"txn_id" gorm:"type:text;not null;uniqueIndex:ux_payments_txn_id"`
	OrderNumber    string         `json:"order_number" gorm:"type:text;index"`
	Amount         int64          `json:"amount" gorm:"not null"`
	Currency       string         `json:"currency" gorm:"type:text;not null"`
	SourceAmount   string         `json:"source_amount" gorm:"type:text"`
	SourceCurrency string         `json:"source_currency" gorm:"type:text"`
	Confirmations  int            `json:"confirmations" gorm:"not null;default:0"`
	Status         Status         `json:"status" gorm:"type:text;not null;index"`
	RawPayload     datatypes.JSON `json:"raw_payload"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"not null"`
}

func (PaymentRecord) TableName() string { return "payments" }

// Notice is one parsed processor callback, validated and normalized.
type Notice struct {
	TxnID          string
	OrderNumber    string
	Status         Status
	Amount         int64
	Currency       string
	SourceAmount   string
	SourceCurrency string
	Confirmations  int
	RawPayload     []byte
}

// Outcome is the result of pushing one callback through the pipeline.
// Duplicates and refused transitions are expected, frequent outcomes, so they
// are values rather than errors.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeQueued    Outcome = "queued"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrMissingTxnID     = errors.New("missing_txn_id")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrNotFound         = errors.New("payment_not_found")

	// ErrOrderUserMissing is a referential violation: the correlated order
	// names an owner that does not exist. Surfaced to operators, not retried.
	ErrOrderUserMissing = errors.New("order_user_missing")
)

// RetryableError marks a failure the retry queue should redeliver.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err for the retry queue.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err (anywhere in its chain) is retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Service is the pipeline entry point exposed to the HTTP layer.
type Service interface {
	// HandleWebhook verifies, decides and reconciles one raw callback body.
	// Signature failure is the only error that should reach the transport as
	// a rejection; every other path returns an Outcome and a nil error.
	HandleWebhook(ctx context.Context, payload []byte) (Outcome, error)
	// Replay re-enters the pipeline at the transition guard for a payload
	// that was already verified on first receipt.
	Replay(ctx context.Context, payload []byte) (Outcome, error)
	GetByTxnID(ctx context.Context, txnID string) (*PaymentRecord, error)
}

// Repository is the payments table access used by the reconciler.
type Repository interface {
	FindByTxnID(ctx context.Context, db *gorm.DB, txnID string) (*PaymentRecord, error)
	// LockByTxnID loads the record under a row lock; callers must hold an
	// open transaction.
	LockByTxnID(ctx context.Context, db *gorm.DB, txnID string) (*PaymentRecord, error)
	// Insert creates the record if no row with the same TxnID exists.
	// Returns false when a concurrent creation won the race.
	Insert(ctx context.Context, db *gorm.DB, rec *PaymentRecord) (bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, raw []byte, now time.Time) error
	RefreshPayload(ctx context.Context, db *gorm.DB, txnID string, raw []byte, now time.Time) error
}
