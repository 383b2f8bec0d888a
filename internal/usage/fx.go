package usage

import (
	"github.com/platewise/platewise/internal/usage/liveevents"
	"github.com/platewise/platewise/internal/usage/repository"
	"github.com/platewise/platewise/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(
		liveevents.NewHub,
		repository.Provide,
		service.NewService,
	),
)
