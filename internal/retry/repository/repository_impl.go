package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fanlore/fanlore/internal/retry/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, job *domain.RetryJob) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_retry_jobs (
			id, txn_id, payload, attempt, status,
			next_run_at, leased_at, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.TxnID,
		job.Payload,
		job.Attempt,
		job.Status,
		job.NextRunAt,
		job.LeasedAt,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	).Error
}

func (r *repo) ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, leaseTimeout time.Duration, limit int) ([]*domain.RetryJob, error) {
	var jobs []*domain.RetryJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		staleBefore := now.Add(-leaseTimeout)
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_run_at <= ?", domain.JobStatusPending, now).
			Or("status = ? AND leased_at <= ?", domain.JobStatusLeased, staleBefore).
			Order("next_run_at asc").
			Limit(limit).
			Find(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]snowflake.ID, 0, len(jobs))
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
		if err := tx.Exec(
			`UPDATE payment_retry_jobs
			 SET status = ?, leased_at = ?, updated_at = ?
			 WHERE id IN ?`,
			domain.JobStatusLeased,
			now,
			now,
			ids,
		).Error; err != nil {
			return err
		}
		for _, job := range jobs {
			job.Status = domain.JobStatusLeased
			leased := now
			job.LeasedAt = &leased
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt int, nextRunAt time.Time, lastError string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_retry_jobs
		 SET status = ?, attempt = ?, next_run_at = ?, leased_at = NULL, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		domain.JobStatusPending,
		attempt,
		nextRunAt,
		lastError,
		now,
		id,
	).Error
}

func (r *repo) MarkDead(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_retry_jobs
		 SET status = ?, leased_at = NULL, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		domain.JobStatusDead,
		lastError,
		now,
		id,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM payment_retry_jobs WHERE id = ?`,
		id,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.RetryJob, error) {
	var job domain.RetryJob
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) ListByStatus(ctx context.Context, db *gorm.DB, status domain.JobStatus, limit int) ([]*domain.RetryJob, error) {
	var jobs []*domain.RetryJob
	err := db.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at desc").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, nextRunAt time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_retry_jobs
		 SET status = ?, attempt = 0, next_run_at = ?, leased_at = NULL, last_error = '', updated_at = ?
		 WHERE id = ?`,
		domain.JobStatusPending,
		nextRunAt,
		now,
		id,
	).Error
}
