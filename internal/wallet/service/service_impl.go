package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	walletdomain "github.com/fanlore/fanlore/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("wallet.service"),
		genID: p.GenID,
	}
}

func (s *Service) Credit(
	ctx context.Context,
	tx *gorm.DB,
	userID snowflake.ID,
	amount int64,
	currency string,
	kind string,
	reference string,
) (bool, error) {
	if amount <= 0 {
		return false, walletdomain.ErrInvalidAmount
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || strings.TrimSpace(reference) == "" {
		return false, walletdomain.ErrInvalidAmount
	}

	var exists snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM users WHERE id = ?`,
		userID,
	).Scan(&exists).Error; err != nil {
		return false, err
	}
	if exists == 0 {
		return false, walletdomain.ErrUserNotFound
	}

	now := time.Now().UTC()

	// The unique reference arbitrates redelivery: only the insert that wins
	// may touch the balance.
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO wallet_transactions (id, user_id, amount, currency, kind, reference, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (reference) DO NOTHING`,
		s.genID.Generate(),
		userID,
		amount,
		currency,
		kind,
		reference,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		s.log.Info("wallet credit already settled",
			zap.String("reference", reference),
			zap.String("user_id", userID.String()),
		)
		return false, nil
	}

	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO wallets (id, user_id, balance, currency, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		s.genID.Generate(),
		userID,
		currency,
		now,
		now,
	).Error; err != nil {
		return false, err
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE wallets SET balance = balance + ?, updated_at = ? WHERE user_id = ?`,
		amount,
		now,
		userID,
	).Error; err != nil {
		return false, err
	}

	return true, nil
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(balance, 0) FROM wallets WHERE user_id = ?`,
		userID,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}
