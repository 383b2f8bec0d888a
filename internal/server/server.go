package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/platewise/platewise/internal/clock"
	"github.com/platewise/platewise/internal/config"
	"github.com/platewise/platewise/internal/dashboard"
	dashboarddomain "github.com/platewise/platewise/internal/dashboard/domain"
	"github.com/platewise/platewise/internal/dashboard/rollup"
	"github.com/platewise/platewise/internal/observability"
	obslogger "github.com/platewise/platewise/internal/observability/logger"
	obsmetrics "github.com/platewise/platewise/internal/observability/metrics"
	obstracing "github.com/platewise/platewise/internal/observability/tracing"
	"github.com/platewise/platewise/internal/pricing"
	"github.com/platewise/platewise/internal/ratelimit"
	"github.com/platewise/platewise/internal/usage"
	usagedomain "github.com/platewise/platewise/internal/usage/domain"
	"github.com/platewise/platewise/internal/usage/liveevents"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	pricing.Module,
	usage.Module,
	dashboard.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Clock        clock.Clock
	UsageSvc     usagedomain.Service
	DashboardSvc dashboarddomain.Service
	RollupSvc    *rollup.Service
	LiveEvents   *liveevents.Hub        `optional:"true"`
	EmitLimiter  *ratelimit.EmitLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics    `optional:"true"`
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	clock        clock.Clock
	usageSvc     usagedomain.Service
	dashboardSvc dashboarddomain.Service
	rollupSvc    *rollup.Service
	liveEvents   *liveevents.Hub
	emitLimiter  *ratelimit.EmitLimiter
	obsMetrics   *obsmetrics.Metrics
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		clock:        p.Clock,
		usageSvc:     p.UsageSvc,
		dashboardSvc: p.DashboardSvc,
		rollupSvc:    p.RollupSvc,
		liveEvents:   p.LiveEvents,
		emitLimiter:  p.EmitLimiter,
		obsMetrics:   p.ObsMetrics,
	}
}

func registerRoutes(s *Server) {
	s.RegisterUsageRoutes()
	s.RegisterDashboardRoutes()
	s.RegisterAdminRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterUsageRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/usage/events", s.IdentityRequired(), s.EmitRateLimit(), s.EmitUsage)
	v1.GET("/usage/events", s.IdentityRequired(), s.ListUsage)
	v1.GET("/usage/events/live", s.StreamLiveUsage)
}

func (s *Server) RegisterDashboardRoutes() {
	dash := s.engine.Group("/v1/dashboard")

	dash.GET("/summary", s.GetSummary)
	dash.GET("/cost-per-active-user", s.GetCostPerActiveUser)
	dash.GET("/by-day", s.GetByDay)
	dash.GET("/groups/:billingOwnerId/usage", s.GetGroupUsage)
}

func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/v1/admin")

	admin.POST("/rollup/run", s.RunRollup)
}
