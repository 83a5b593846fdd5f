package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fanlore/fanlore/internal/audit/domain"
	obsmetrics "github.com/fanlore/fanlore/internal/observability/metrics"
	orderdomain "github.com/fanlore/fanlore/internal/order/domain"
	paymentdomain "github.com/fanlore/fanlore/internal/payment/domain"
	walletdomain "github.com/fanlore/fanlore/internal/wallet/domain"
	"github.com/fanlore/fanlore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       paymentdomain.Repository
	OrderRepo  orderdomain.Repository
	WalletSvc  walletdomain.Service
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Reconciler applies an authorized transition as one atomic unit: payment
// upsert, order update, ledger credit and audit entry either all commit or
// none do.
type Reconciler struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       paymentdomain.Repository
	orderRepo  orderdomain.Repository
	walletSvc  walletdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewReconciler(p Params) *Reconciler {
	return &Reconciler{
		db:         p.DB,
		log:        p.Log.Named("payment.reconciler"),
		genID:      p.GenID,
		repo:       p.Repo,
		orderRepo:  p.OrderRepo,
		walletSvc:  p.WalletSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// creditReference is the ledger idempotency key for one transaction.
func creditReference(txnID string) string { return "payment:" + txnID }

// Reconcile runs the reconciliation transaction for a notice the transition
// guard has already screened. The decision is re-derived under the row lock:
// between the guard's read and this transaction a concurrent delivery may
// have advanced the record, and the lock-time decision is the binding one.
func (s *Reconciler) Reconcile(ctx context.Context, notice *paymentdomain.Notice) (paymentdomain.Outcome, error) {
	if notice == nil {
		return paymentdomain.OutcomeIgnored, paymentdomain.ErrInvalidPayload
	}

	start := time.Now()
	outcome := paymentdomain.OutcomeApplied

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var oldStatus *paymentdomain.Status

		rec, err := s.repo.LockByTxnID(ctx, tx, notice.TxnID)
		if err != nil {
			return err
		}
		if rec == nil {
			candidate := s.newRecord(notice, now)
			inserted, err := s.repo.Insert(ctx, tx, candidate)
			if err != nil {
				return err
			}
			if inserted {
				rec = candidate
			} else {
				// Lost the creation race; the unique constraint on txn_id
				// arbitrates. Re-read and fall into the guard like any
				// delivery for a known transaction.
				rec, err = s.repo.LockByTxnID(ctx, tx, notice.TxnID)
				if err != nil {
					return err
				}
				if rec == nil {
					return gorm.ErrInvalidTransaction
				}
				status := rec.Status
				oldStatus = &status
			}
		} else {
			status := rec.Status
			oldStatus = &status
		}

		switch paymentdomain.Decide(oldStatus, notice.Status) {
		case paymentdomain.DecisionCreate:
			// Row was created above in the incoming status; nothing to move.
		case paymentdomain.DecisionApply:
			if err := s.repo.UpdateStatus(ctx, tx, rec.ID, notice.Status, notice.RawPayload, now); err != nil {
				return err
			}
		case paymentdomain.DecisionDuplicate:
			outcome = paymentdomain.OutcomeDuplicate
			return s.repo.RefreshPayload(ctx, tx, notice.TxnID, notice.RawPayload, now)
		case paymentdomain.DecisionReject:
			outcome = paymentdomain.OutcomeIgnored
			s.log.Warn("refused out-of-order transition",
				zap.String("txn_id", notice.TxnID),
				zap.String("current", string(rec.Status)),
				zap.String("incoming", string(notice.Status)),
			)
			return nil
		}

		order, err := s.updateOrder(ctx, tx, notice, now)
		if err != nil {
			return err
		}

		credited := false
		if notice.Status == paymentdomain.StatusCompleted && order != nil {
			credited, err = s.walletSvc.Credit(
				ctx, tx,
				order.UserID,
				notice.Amount,
				notice.Currency,
				walletdomain.KindPaymentCredit,
				creditReference(notice.TxnID),
			)
			if err != nil {
				if errors.Is(err, walletdomain.ErrUserNotFound) {
					return fmt.Errorf("%w: %w", paymentdomain.ErrOrderUserMissing, err)
				}
				return err
			}
		}

		return s.writeAuditLog(ctx, tx, notice, oldStatus, order, credited)
	})
	if err != nil {
		if db.IsRetryableErr(err) {
			return paymentdomain.OutcomeIgnored, paymentdomain.Retryable(err)
		}
		return paymentdomain.OutcomeIgnored, err
	}

	s.obsMetrics.ObserveReconcile(time.Since(start))
	return outcome, nil
}

func (s *Reconciler) newRecord(notice *paymentdomain.Notice, now time.Time) *paymentdomain.PaymentRecord {
	return &paymentdomain.PaymentRecord{
		ID:             s.genID.Generate(),
		TxnID:          notice.TxnID,
		OrderNumber:    notice.OrderNumber,
		Amount:         notice.Amount,
		Currency:       notice.Currency,
		SourceAmount:   notice.SourceAmount,
		SourceCurrency: notice.SourceCurrency,
		Confirmations:  notice.Confirmations,
		Status:         notice.Status,
		RawPayload:     datatypes.JSON(notice.RawPayload),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// updateOrder maps the payment status onto the correlated order, when one
// exists. A callback for an order this side never tracked is a warning, not
// an error.
func (s *Reconciler) updateOrder(ctx context.Context, tx *gorm.DB, notice *paymentdomain.Notice, now time.Time) (*orderdomain.Order, error) {
	if notice.OrderNumber == "" {
		return nil, nil
	}

	order, err := s.orderRepo.FindByNumber(ctx, tx, notice.OrderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		s.log.Warn("callback references unknown order",
			zap.String("txn_id", notice.TxnID),
			zap.String("order_number", notice.OrderNumber),
		)
		return nil, nil
	}

	target := orderStatusFor(notice.Status)
	if order.Status == target {
		return order, nil
	}
	if err := s.orderRepo.UpdateStatus(ctx, tx, order.ID, target, now); err != nil {
		return nil, err
	}
	order.Status = target
	return order, nil
}

func orderStatusFor(status paymentdomain.Status) orderdomain.Status {
	switch status {
	case paymentdomain.StatusCompleted:
		return orderdomain.StatusCompleted
	case paymentdomain.StatusExpired, paymentdomain.StatusCancelled,
		paymentdomain.StatusError, paymentdomain.StatusMismatch:
		return orderdomain.StatusFailed
	default:
		return orderdomain.StatusPending
	}
}

func (s *Reconciler) writeAuditLog(
	ctx context.Context,
	tx *gorm.DB,
	notice *paymentdomain.Notice,
	oldStatus *paymentdomain.Status,
	order *orderdomain.Order,
	credited bool,
) error {
	metadata := map[string]any{
		"txn_id":     notice.TxnID,
		"new_status": string(notice.Status),
		"amount":     notice.Amount,
		"currency":   notice.Currency,
	}
	if oldStatus != nil {
		metadata["old_status"] = string(*oldStatus)
	}
	if order != nil {
		metadata["order_number"] = order.Number
		metadata["order_status"] = string(order.Status)
		metadata["user_id"] = order.UserID.String()
	}
	if credited {
		metadata["ledger_credit"] = notice.Amount
		metadata["ledger_reference"] = creditReference(notice.TxnID)
	}

	return s.auditSvc.AuditLog(
		ctx, tx,
		auditdomain.ActorTypeProcessor,
		"payment."+string(notice.Status),
		"payment",
		notice.TxnID,
		metadata,
	)
}
