package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/fanlore/fanlore/internal/order/domain"
)

var (
	ErrInvalidAmount   = errors.New("invoice_invalid_amount")
	ErrInvalidCurrency = errors.New("invoice_invalid_currency")
)

// CheckoutIntent is what the storefront needs to send a buyer to the
// processor: the order we will reconcile against later plus the hosted
// payment URL.
type CheckoutIntent struct {
	Order  *orderdomain.Order `json:"order"`
	PayURL string             `json:"pay_url"`
}

// InvoiceClient creates an invoice with the external payment processor.
// The processor assigns its own transaction id; we only learn it when the
// first webhook arrives.
type InvoiceClient interface {
	CreateInvoice(ctx context.Context, orderNumber string, amount int64, currency string) (payURL string, err error)
}

type Service interface {
	CreateInvoice(ctx context.Context, userID snowflake.ID, amount int64, currency string) (*CheckoutIntent, error)
}
