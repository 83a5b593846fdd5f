package billing

import (
	"github.com/fanlore/fanlore/internal/billing/client"
	"github.com/fanlore/fanlore/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(client.NewStub),
	fx.Provide(service.NewService),
)
