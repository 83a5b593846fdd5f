package audit

import (
	"github.com/fanlore/fanlore/internal/audit/repository"
	"github.com/fanlore/fanlore/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
