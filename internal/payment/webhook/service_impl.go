package webhook

import (
	"context"
	"time"

	"github.com/fanlore/fanlore/internal/config"
	"github.com/fanlore/fanlore/internal/notifier"
	obsmetrics "github.com/fanlore/fanlore/internal/observability/metrics"
	paymentdomain "github.com/fanlore/fanlore/internal/payment/domain"
	paymentservice "github.com/fanlore/fanlore/internal/payment/service"
	"github.com/fanlore/fanlore/internal/payment/signature"
	retrydomain "github.com/fanlore/fanlore/internal/retry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Repo       paymentdomain.Repository
	Reconciler *paymentservice.Reconciler
	Queue      retrydomain.Queue
	Notifier   notifier.Notifier
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service is the pipeline entry point: signature gate, transition guard,
// reconciliation, and the retry fallback, in that order.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	verifier   *signature.Verifier
	repo       paymentdomain.Repository
	reconciler *paymentservice.Reconciler
	queue      retrydomain.Queue
	notifier   notifier.Notifier
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		verifier:   signature.NewVerifier(p.Cfg.PaymentIPNSecret),
		repo:       p.Repo,
		reconciler: p.Reconciler,
		queue:      p.Queue,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
	}
}

// HandleWebhook processes one raw callback body. Signature verification
// happens before any datastore access; a failed check short-circuits the
// whole pipeline.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte) (paymentdomain.Outcome, error) {
	fields, err := signature.DecodeFields(payload)
	if err != nil {
		return paymentdomain.OutcomeIgnored, paymentdomain.ErrInvalidPayload
	}

	provided := fields[paymentdomain.FieldHash]
	delete(fields, paymentdomain.FieldHash)

	if !s.verifier.Configured() {
		s.log.Warn("payment callback secret not configured, refusing webhook")
		s.obsMetrics.RecordSignatureFailure()
		return paymentdomain.OutcomeIgnored, paymentdomain.ErrInvalidSignature
	}
	if !s.verifier.Verify(fields, provided) {
		s.log.Warn("payment callback signature mismatch",
			zap.String("txn_id", fields[paymentdomain.FieldTxnID]),
		)
		s.obsMetrics.RecordSignatureFailure()
		return paymentdomain.OutcomeIgnored, paymentdomain.ErrInvalidSignature
	}

	return s.process(ctx, fields, payload, 0)
}

// Replay re-enters the guard for a payload verified on first receipt.
// The attempt counter is carried by the retry queue, not the payload, so a
// replayed delivery that fails again is re-enqueued by the drainer.
func (s *Service) Replay(ctx context.Context, payload []byte) (paymentdomain.Outcome, error) {
	fields, err := signature.DecodeFields(payload)
	if err != nil {
		return paymentdomain.OutcomeIgnored, paymentdomain.ErrInvalidPayload
	}
	delete(fields, paymentdomain.FieldHash)

	notice, err := paymentdomain.ParseNotice(fields, payload)
	if err != nil {
		return paymentdomain.OutcomeIgnored, err
	}
	return s.reconcile(ctx, notice)
}

func (s *Service) GetByTxnID(ctx context.Context, txnID string) (*paymentdomain.PaymentRecord, error) {
	rec, err := s.repo.FindByTxnID(ctx, s.db, txnID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return rec, nil
}

func (s *Service) process(ctx context.Context, fields map[string]string, payload []byte, attempt int) (paymentdomain.Outcome, error) {
	notice, err := paymentdomain.ParseNotice(fields, payload)
	if err != nil {
		s.log.Warn("malformed payment callback", zap.Error(err))
		s.obsMetrics.RecordWebhook("malformed")
		return paymentdomain.OutcomeIgnored, err
	}

	// Fast-path guard read. The verdict is advisory only; the reconciler
	// re-decides under the row lock.
	existing, err := s.repo.FindByTxnID(ctx, s.db, notice.TxnID)
	if err == nil && existing != nil {
		switch paymentdomain.Decide(&existing.Status, notice.Status) {
		case paymentdomain.DecisionDuplicate:
			if err := s.repo.RefreshPayload(ctx, s.db, notice.TxnID, payload, time.Now().UTC()); err != nil {
				s.log.Warn("failed to refresh duplicate payload", zap.Error(err))
			}
			s.obsMetrics.RecordWebhook(string(paymentdomain.OutcomeDuplicate))
			return paymentdomain.OutcomeDuplicate, nil
		case paymentdomain.DecisionReject:
			s.log.Warn("refused out-of-order transition",
				zap.String("txn_id", notice.TxnID),
				zap.String("current", string(existing.Status)),
				zap.String("incoming", string(notice.Status)),
			)
			s.obsMetrics.RecordWebhook(string(paymentdomain.OutcomeIgnored))
			return paymentdomain.OutcomeIgnored, nil
		}
	}

	outcome, err := s.reconcile(ctx, notice)
	if err == nil {
		s.obsMetrics.RecordWebhook(string(outcome))
		return outcome, nil
	}

	if paymentdomain.IsRetryable(err) {
		s.log.Warn("reconciliation failed, queueing for retry",
			zap.String("txn_id", notice.TxnID),
			zap.Error(err),
		)
		s.obsMetrics.RecordRetry()
		if qErr := s.queue.Enqueue(ctx, notice.TxnID, payload, attempt, err); qErr != nil {
			// Could not even durably park the payload; this is the one
			// internal failure the processor's own retry must cover.
			s.log.Error("failed to enqueue retry job",
				zap.String("txn_id", notice.TxnID),
				zap.Error(qErr),
			)
			return paymentdomain.OutcomeIgnored, qErr
		}
		s.obsMetrics.RecordWebhook(string(paymentdomain.OutcomeQueued))
		return paymentdomain.OutcomeQueued, nil
	}

	// Fatal: invariant or referential violation. Park for operators, do not
	// spin on it.
	s.log.Error("fatal reconciliation failure, parking payload",
		zap.String("txn_id", notice.TxnID),
		zap.Error(err),
	)
	s.obsMetrics.RecordDeadLetter()
	if dlErr := s.queue.DeadLetter(ctx, notice.TxnID, payload, err); dlErr != nil {
		s.log.Error("failed to park dead letter", zap.Error(dlErr))
		return paymentdomain.OutcomeIgnored, dlErr
	}
	s.obsMetrics.RecordWebhook("dead_letter")
	return paymentdomain.OutcomeQueued, nil
}

func (s *Service) reconcile(ctx context.Context, notice *paymentdomain.Notice) (paymentdomain.Outcome, error) {
	outcome, err := s.reconciler.Reconcile(ctx, notice)
	if err != nil {
		return outcome, err
	}

	if outcome == paymentdomain.OutcomeApplied {
		// Deliberately after commit: notification failures must never roll
		// back financial state.
		s.notifier.Notify(ctx, "payment.status_changed", map[string]any{
			"txn_id":       notice.TxnID,
			"order_number": notice.OrderNumber,
			"status":       string(notice.Status),
			"amount":       notice.Amount,
			"currency":     notice.Currency,
		})
	}
	return outcome, nil
}
