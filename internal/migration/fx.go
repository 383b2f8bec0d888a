package migration

import (
	"github.com/platewise/platewise/internal/config"
	dashboarddomain "github.com/platewise/platewise/internal/dashboard/domain"
	usagedomain "github.com/platewise/platewise/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Versioned migrations are postgres only. Other dialects are
		// for local development, where the model schema is enough.
		return conn.AutoMigrate(
			&usagedomain.UsageEvent{},
			&dashboarddomain.DailyRollup{},
		)
	}),
)
