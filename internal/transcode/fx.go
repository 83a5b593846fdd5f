package transcode

import (
	"github.com/fanlore/fanlore/internal/transcode/service"
	"go.uber.org/fx"
)

var Module = fx.Module("transcode.service",
	fx.Provide(service.NewService),
)
