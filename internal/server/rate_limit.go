package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/platewise/platewise/internal/billingcontext"
	"github.com/platewise/platewise/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonOwnerRate = "owner-rate"

// EmitRateLimit throttles event emission per billing owner. It sits
// after IdentityRequired, so the owner is always resolved. A limiter
// backend failure degrades to service_unavailable rather than silently
// letting unmetered traffic through.
func (s *Server) EmitRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.emitLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		identity, ok := billingcontext.IdentityFromContext(ctx)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		result, err := s.emitLimiter.AllowOwner(ctx, identity.BillingOwnerID)
		if err != nil {
			logger.FromContext(ctx).Warn("emit rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("emit rate limit exceeded",
				zap.String("reason", rateLimitReasonOwnerRate),
				zap.String("endpoint", endpoint),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonOwnerRate)
			}
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonOwnerRate)
			AbortWithError(c, ErrTooManyRequests)
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		}
		c.Next()
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
