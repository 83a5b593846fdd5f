package payment

import (
	paymentdomain "github.com/fanlore/fanlore/internal/payment/domain"
	"github.com/fanlore/fanlore/internal/payment/repository"
	paymentservice "github.com/fanlore/fanlore/internal/payment/service"
	"github.com/fanlore/fanlore/internal/payment/webhook"
	retrydomain "github.com/fanlore/fanlore/internal/retry/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewReconciler),
	fx.Provide(webhook.NewService),
	// The retry drainer replays parked payloads through the same pipeline.
	fx.Provide(func(svc paymentdomain.Service) retrydomain.Submitter {
		return svc
	}),
)
