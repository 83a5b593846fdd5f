package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/fanlore/fanlore/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobStatus string

const (
	// JobStatusPending: waiting for its next_run_at to come due.
	JobStatusPending JobStatus = "pending"
	// JobStatusLeased: claimed by a drainer; reclaimed if the lease expires.
	JobStatusLeased JobStatus = "leased"
	// JobStatusDead: attempt budget exhausted; requires operator attention.
	JobStatusDead JobStatus = "dead"
)

// RetryJob holds one webhook payload awaiting redelivery through the
// pipeline. The payload re-enters at the transition guard, never directly at
// the reconciliation transaction, because state may have moved since the
// failure.
type RetryJob struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	TxnID     string         `json:"txn_id" gorm:"type:text;not null;index"`
	Payload   datatypes.JSON `json:"payload" gorm:"not null"`
	Attempt   int            `json:"attempt" gorm:"not null;default:0"`
	Status    JobStatus      `json:"status" gorm:"type:text;not null;index"`
	NextRunAt time.Time      `json:"next_run_at" gorm:"not null;index"`
	LeasedAt  *time.Time     `json:"leased_at"`
	LastError string         `json:"last_error" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null"`
}

func (RetryJob) TableName() string { return "payment_retry_jobs" }

var (
	ErrJobNotFound = errors.New("retry_job_not_found")
	ErrJobNotDead  = errors.New("retry_job_not_dead")
)

// Queue accepts failed reconciliations for later redelivery.
type Queue interface {
	// Enqueue schedules payload for redelivery. attempt counts deliveries
	// already tried; when it reaches the configured budget the job is
	// parked dead instead of scheduled.
	Enqueue(ctx context.Context, txnID string, payload []byte, attempt int, cause error) error
	// DeadLetter parks payload immediately, bypassing the backoff schedule.
	// Used for fatal (non-retryable) failures.
	DeadLetter(ctx context.Context, txnID string, payload []byte, cause error) error
	ListDead(ctx context.Context, limit int) ([]*RetryJob, error)
	// Requeue puts a dead job back on the schedule with a fresh budget.
	Requeue(ctx context.Context, id snowflake.ID) error
}

// Submitter re-enters a stored payload into the pipeline. Implemented by the
// payment webhook service; redelivery respects the same transition-guard
// discipline as a fresh webhook.
type Submitter interface {
	Replay(ctx context.Context, payload []byte) (paymentdomain.Outcome, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *RetryJob) error
	// ClaimDue leases up to limit due jobs and returns them. Jobs whose
	// lease has expired are reclaimed first.
	ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, leaseTimeout time.Duration, limit int) ([]*RetryJob, error)
	Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt int, nextRunAt time.Time, lastError string, now time.Time) error
	MarkDead(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RetryJob, error)
	ListByStatus(ctx context.Context, db *gorm.DB, status JobStatus, limit int) ([]*RetryJob, error)
	Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, nextRunAt time.Time, now time.Time) error
}
