package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fanlore/fanlore/internal/clock"
	"github.com/fanlore/fanlore/internal/config"
	obsmetrics "github.com/fanlore/fanlore/internal/observability/metrics"
	paymentdomain "github.com/fanlore/fanlore/internal/payment/domain"
	"github.com/fanlore/fanlore/internal/retry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const claimBatchSize = 50

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type queue struct {
	db          *gorm.DB
	log         *zap.Logger
	clk         clock.Clock
	genID       *snowflake.Node
	repo        domain.Repository
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	obsMetrics  *obsmetrics.Metrics
}

func NewQueue(p Params) domain.Queue {
	return &queue{
		db:          p.DB,
		log:         p.Log.Named("retry.queue"),
		clk:         p.Clock,
		genID:       p.GenID,
		repo:        p.Repo,
		baseDelay:   p.Cfg.RetryBaseDelay,
		maxDelay:    p.Cfg.RetryMaxDelay,
		maxAttempts: p.Cfg.RetryMaxAttempts,
		obsMetrics:  p.ObsMetrics,
	}
}

// backoff returns the delay before the given attempt (0-based) runs again.
// Exponential on the base delay, capped.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (q *queue) Enqueue(ctx context.Context, txnID string, payload []byte, attempt int, cause error) error {
	now := q.clk.Now()
	job := &domain.RetryJob{
		ID:        q.genID.Generate(),
		TxnID:     txnID,
		Payload:   datatypes.JSON(payload),
		Attempt:   attempt,
		Status:    domain.JobStatusPending,
		NextRunAt: now.Add(backoff(q.baseDelay, q.maxDelay, attempt)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cause != nil {
		job.LastError = cause.Error()
	}

	if attempt >= q.maxAttempts {
		job.Status = domain.JobStatusDead
		job.NextRunAt = now
		if err := q.repo.Insert(ctx, q.db, job); err != nil {
			return err
		}
		q.log.Error("retry budget exhausted, parking payload",
			zap.String("txn_id", txnID),
			zap.Int("attempt", attempt),
			zap.String("cause", job.LastError),
		)
		q.obsMetrics.RecordDeadLetter()
		return nil
	}

	if err := q.repo.Insert(ctx, q.db, job); err != nil {
		return err
	}
	q.log.Info("scheduled payment redelivery",
		zap.String("txn_id", txnID),
		zap.Int("attempt", attempt),
		zap.Time("next_run_at", job.NextRunAt),
	)
	return nil
}

func (q *queue) DeadLetter(ctx context.Context, txnID string, payload []byte, cause error) error {
	now := q.clk.Now()
	job := &domain.RetryJob{
		ID:        q.genID.Generate(),
		TxnID:     txnID,
		Payload:   datatypes.JSON(payload),
		Status:    domain.JobStatusDead,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cause != nil {
		job.LastError = cause.Error()
	}
	return q.repo.Insert(ctx, q.db, job)
}

func (q *queue) ListDead(ctx context.Context, limit int) ([]*domain.RetryJob, error) {
	if limit <= 0 {
		limit = claimBatchSize
	}
	return q.repo.ListByStatus(ctx, q.db, domain.JobStatusDead, limit)
}

func (q *queue) Requeue(ctx context.Context, id snowflake.ID) error {
	job, err := q.repo.FindByID(ctx, q.db, id)
	if err != nil {
		return err
	}
	if job == nil {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusDead {
		return domain.ErrJobNotDead
	}
	now := q.clk.Now()
	if err := q.repo.Requeue(ctx, q.db, id, now, now); err != nil {
		return err
	}
	q.log.Info("requeued dead payment delivery",
		zap.String("txn_id", job.TxnID),
		zap.Int64("job_id", int64(job.ID)),
	)
	return nil
}

// Drainer periodically claims due jobs and replays them through the
// pipeline entry point.
type Drainer struct {
	db          *gorm.DB
	log         *zap.Logger
	clk         clock.Clock
	repo        domain.Repository
	submitter   domain.Submitter
	every       time.Duration
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	obsMetrics  *obsmetrics.Metrics
}

type DrainerParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	Repo       domain.Repository
	Submitter  domain.Submitter
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewDrainer(p DrainerParams) *Drainer {
	return &Drainer{
		db:          p.DB,
		log:         p.Log.Named("retry.drainer"),
		clk:         p.Clock,
		repo:        p.Repo,
		submitter:   p.Submitter,
		every:       p.Cfg.RetryDrainEvery,
		baseDelay:   p.Cfg.RetryBaseDelay,
		maxDelay:    p.Cfg.RetryMaxDelay,
		maxAttempts: p.Cfg.RetryMaxAttempts,
		obsMetrics:  p.ObsMetrics,
	}
}

// RunForever drains on a ticker until ctx is cancelled.
func (d *Drainer) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.log.Error("drain pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce claims one batch of due jobs and replays each. The lease timeout
// is generous so a slow replay is not reclaimed mid-flight.
func (d *Drainer) RunOnce(ctx context.Context) error {
	now := d.clk.Now()
	jobs, err := d.repo.ClaimDue(ctx, d.db, now, 10*d.every, claimBatchSize)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		d.replay(ctx, job)
	}
	return nil
}

func (d *Drainer) replay(ctx context.Context, job *domain.RetryJob) {
	d.obsMetrics.RecordRetry()
	outcome, err := d.submitter.Replay(ctx, job.Payload)
	now := d.clk.Now()
	if err == nil {
		d.log.Info("redelivery succeeded",
			zap.String("txn_id", job.TxnID),
			zap.Int("attempt", job.Attempt+1),
			zap.String("outcome", string(outcome)),
		)
		if delErr := d.repo.Delete(ctx, d.db, job.ID); delErr != nil {
			d.log.Error("failed to remove finished retry job", zap.Error(delErr))
		}
		return
	}

	attempt := job.Attempt + 1
	if !paymentdomain.IsRetryable(err) || attempt >= d.maxAttempts {
		d.log.Error("redelivery exhausted, parking payload",
			zap.String("txn_id", job.TxnID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		d.obsMetrics.RecordDeadLetter()
		if deadErr := d.repo.MarkDead(ctx, d.db, job.ID, err.Error(), now); deadErr != nil {
			d.log.Error("failed to park retry job", zap.Error(deadErr))
		}
		return
	}

	next := now.Add(backoff(d.baseDelay, d.maxDelay, attempt))
	d.log.Warn("redelivery failed, rescheduling",
		zap.String("txn_id", job.TxnID),
		zap.Int("attempt", attempt),
		zap.Time("next_run_at", next),
		zap.Error(err),
	)
	if resErr := d.repo.Reschedule(ctx, d.db, job.ID, attempt, next, err.Error(), now); resErr != nil {
		d.log.Error("failed to reschedule retry job", zap.Error(resErr))
	}
}
