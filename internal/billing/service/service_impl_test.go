package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/fanlore/fanlore/internal/billing/domain"
	billingservice "github.com/fanlore/fanlore/internal/billing/service"
	"github.com/fanlore/fanlore/internal/clock"
	orderdomain "github.com/fanlore/fanlore/internal/order/domain"
	orderrepo "github.com/fanlore/fanlore/internal/order/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubClient struct {
	err   error
	calls int
}

func (c *stubClient) CreateInvoice(_ context.Context, orderNumber string, _ int64, _ string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "https://pay.example.test/checkout/" + orderNumber, nil
}

func setupBillingTest(t *testing.T) (*gorm.DB, billingdomain.Service, *stubClient) {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_billing_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&orderdomain.Order{}))

	node, err := snowflake.NewNode(50)
	require.NoError(t, err)

	client := &stubClient{}
	svc := billingservice.NewService(billingservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     clock.NewSystemClock(),
		GenID:     node,
		OrderRepo: orderrepo.Provide(),
		Client:    client,
	})

	return db, svc, client
}

func TestCreateInvoice(t *testing.T) {
	ctx := context.Background()
	db, svc, client := setupBillingTest(t)

	node, err := snowflake.NewNode(51)
	require.NoError(t, err)
	userID := node.Generate()

	intent, err := svc.CreateInvoice(ctx, userID, 2599, "usd")
	require.NoError(t, err)

	require.NotNil(t, intent.Order)
	assert.True(t, strings.HasPrefix(intent.Order.Number, "FL-"))
	assert.Equal(t, orderdomain.StatusPending, intent.Order.Status)
	assert.Equal(t, int64(2599), intent.Order.Amount)
	assert.Equal(t, "USD", intent.Order.Currency)
	assert.Contains(t, intent.PayURL, intent.Order.Number)
	assert.Equal(t, 1, client.calls)

	var persisted orderdomain.Order
	require.NoError(t, db.First(&persisted, "number = ?", intent.Order.Number).Error)
	assert.Equal(t, orderdomain.StatusPending, persisted.Status)
}

func TestCreateInvoiceValidation(t *testing.T) {
	ctx := context.Background()
	_, svc, client := setupBillingTest(t)

	_, err := svc.CreateInvoice(ctx, snowflake.ID(1), 0, "USD")
	assert.ErrorIs(t, err, billingdomain.ErrInvalidAmount)

	_, err = svc.CreateInvoice(ctx, snowflake.ID(1), -100, "USD")
	assert.ErrorIs(t, err, billingdomain.ErrInvalidAmount)

	_, err = svc.CreateInvoice(ctx, snowflake.ID(1), 100, "  ")
	assert.ErrorIs(t, err, billingdomain.ErrInvalidCurrency)

	assert.Zero(t, client.calls, "validation failures never reach the processor")
}

func TestCreateInvoiceKeepsOrderOnProcessorFailure(t *testing.T) {
	ctx := context.Background()
	db, svc, client := setupBillingTest(t)
	client.err = errors.New("processor unavailable")

	_, err := svc.CreateInvoice(ctx, snowflake.ID(7), 1000, "USD")
	require.Error(t, err)

	var n int64
	require.NoError(t, db.Model(&orderdomain.Order{}).Count(&n).Error)
	assert.Equal(t, int64(1), n, "the pending order survives for a retry")
}
