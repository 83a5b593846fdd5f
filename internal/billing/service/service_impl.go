package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fanlore/fanlore/internal/billing/domain"
	"github.com/fanlore/fanlore/internal/clock"
	orderdomain "github.com/fanlore/fanlore/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	GenID     *snowflake.Node
	OrderRepo orderdomain.Repository
	Client    domain.InvoiceClient
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	clk       clock.Clock
	genID     *snowflake.Node
	orderRepo orderdomain.Repository
	client    domain.InvoiceClient
}

func NewService(p Params) domain.Service {
	return &service{
		db:        p.DB,
		log:       p.Log.Named("billing.service"),
		clk:       p.Clock,
		genID:     p.GenID,
		orderRepo: p.OrderRepo,
		client:    p.Client,
	}
}

// CreateInvoice allocates a pending order and asks the processor for a
// hosted payment page. The order row must exist before we hand out the
// number, otherwise the first webhook races an order that is not there yet.
func (s *service) CreateInvoice(ctx context.Context, userID snowflake.ID, amount int64, currency string) (*domain.CheckoutIntent, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return nil, domain.ErrInvalidCurrency
	}

	now := s.clk.Now()
	order := &orderdomain.Order{
		ID:        s.genID.Generate(),
		Number:    fmt.Sprintf("FL-%s", s.genID.Generate().Base36()),
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		Status:    orderdomain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orderRepo.Insert(ctx, s.db, order); err != nil {
		return nil, err
	}

	payURL, err := s.client.CreateInvoice(ctx, order.Number, amount, currency)
	if err != nil {
		// Keep the pending order; the storefront can retry against the
		// same number.
		s.log.Error("processor invoice creation failed",
			zap.String("order_number", order.Number),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("created invoice",
		zap.String("order_number", order.Number),
		zap.Int64("amount", amount),
		zap.String("currency", currency),
	)
	return &domain.CheckoutIntent{Order: order, PayURL: payURL}, nil
}
