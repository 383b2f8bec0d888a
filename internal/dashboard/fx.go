package dashboard

import (
	"github.com/platewise/platewise/internal/dashboard/rollup"
	"github.com/platewise/platewise/internal/dashboard/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dashboard.service",
	fx.Provide(service.NewService),
	fx.Provide(rollup.NewService),
)
