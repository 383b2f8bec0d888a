package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	dashboarddomain "github.com/platewise/platewise/internal/dashboard/domain"
	"github.com/platewise/platewise/internal/observability/logger"
	"go.uber.org/zap"
)

func (s *Server) GetSummary(c *gin.Context) {
	days, err := parseDays(c.Query("days"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.dashboardSvc.Summary(c.Request.Context(), days, parseProvider(c.Query("provider")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetCostPerActiveUser(c *gin.Context) {
	days, err := parseDays(c.Query("days"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.dashboardSvc.CostPerActiveUser(c.Request.Context(), days, parseProvider(c.Query("provider")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetByDay(c *gin.Context) {
	days, err := parseDays(c.Query("days"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.dashboardSvc.ByDay(c.Request.Context(), days, parseProvider(c.Query("provider")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetGroupUsage(c *gin.Context) {
	days, err := parseDays(c.Query("days"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.dashboardSvc.GroupUsage(
		c.Request.Context(),
		c.Param("billingOwnerId"),
		days,
		parseProvider(c.Query("provider")),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RunRollup rebuilds one day on demand, for backfills and incident
// recovery. The day defaults to yesterday when absent.
func (s *Server) RunRollup(c *gin.Context) {
	ctx := c.Request.Context()

	var day time.Time
	if raw := strings.TrimSpace(c.Query("day")); raw != "" {
		parsed, err := dashboarddomain.ParseDay(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		day = parsed
	}

	lockDay := day
	if lockDay.IsZero() {
		lockDay = s.clock.Now().UTC().AddDate(0, 0, -1)
	}
	dayKey := dashboarddomain.DayKey(lockDay)
	if s.emitLimiter.Enabled() {
		token, ok, err := s.emitLimiter.TryLockRollupDay(ctx, dayKey)
		if err != nil {
			logger.FromContext(ctx).Warn("rollup lock failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !ok {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		defer func() {
			if err := s.emitLimiter.ReleaseRollupDay(ctx, dayKey, token); err != nil {
				logger.FromContext(ctx).Warn("rollup lock release failed", zap.Error(err))
			}
		}()
	}

	result, err := s.rollupSvc.RunDaily(ctx, day)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
