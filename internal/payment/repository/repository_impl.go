package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fanlore/fanlore/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByTxnID(ctx context.Context, db *gorm.DB, txnID string) (*domain.PaymentRecord, error) {
	var item domain.PaymentRecord
	err := db.WithContext(ctx).
		Where("txn_id = ?", txnID).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) LockByTxnID(ctx context.Context, db *gorm.DB, txnID string) (*domain.PaymentRecord, error) {
	var item domain.PaymentRecord
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("txn_id = ?", txnID).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rec *domain.PaymentRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, txn_id, order_number, amount, currency,
			source_amount, source_currency, confirmations, status,
			raw_payload, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (txn_id) DO NOTHING`,
		rec.ID,
		rec.TxnID,
		rec.OrderNumber,
		rec.Amount,
		rec.Currency,
		rec.SourceAmount,
		rec.SourceCurrency,
		rec.Confirmations,
		rec.Status,
		rec.RawPayload,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, raw []byte, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, raw_payload = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		raw,
		now,
		id,
	).Error
}

func (r *repo) RefreshPayload(ctx context.Context, db *gorm.DB, txnID string, raw []byte, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET raw_payload = ?, updated_at = ?
		 WHERE txn_id = ?`,
		raw,
		now,
		txnID,
	).Error
}
