package client

import (
	"context"
	"fmt"

	"github.com/fanlore/fanlore/internal/billing/domain"
	"github.com/fanlore/fanlore/internal/config"
)

// stub backs development and test environments. The real processor
// integration lives outside this repo; it only needs to satisfy
// domain.InvoiceClient.
type stub struct {
	baseURL string
}

func NewStub(cfg config.Config) domain.InvoiceClient {
	base := "https://pay.example.test"
	if cfg.Environment == "production" {
		base = "https://pay.fanlore.io"
	}
	return &stub{baseURL: base}
}

func (c *stub) CreateInvoice(_ context.Context, orderNumber string, amount int64, currency string) (string, error) {
	return fmt.Sprintf("%s/checkout/%s", c.baseURL, orderNumber), nil
}
