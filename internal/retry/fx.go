package retry

import (
	"context"

	"github.com/fanlore/fanlore/internal/retry/repository"
	"github.com/fanlore/fanlore/internal/retry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("retry",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewQueue),
	fx.Provide(service.NewDrainer),
	fx.Invoke(runDrainer),
)

func runDrainer(lc fx.Lifecycle, drainer *service.Drainer) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go drainer.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
