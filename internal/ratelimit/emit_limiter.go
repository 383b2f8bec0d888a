package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platewise/platewise/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyEmitOwner     = "usage:emit:owner:%s"
	keyRollupDayLock = "rollup:day:lock:%s"

	rollupLockTTL = 10 * time.Minute
)

// EmitLimiter throttles usage event emission per billing owner and
// serializes manual rollup rebuilds per day. A nil limiter means rate
// limiting is disabled; every check then allows.
type EmitLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	ownerRate  float64
	ownerBurst int
}

func NewEmitLimiter(cfg config.Config) (*EmitLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.OwnerRate <= 0 || limitCfg.OwnerBurst <= 0 {
		return nil, errors.New("owner rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &EmitLimiter{
		enabled:    true,
		bucket:     NewTokenBucket(client),
		locker:     NewLocker(client),
		ownerRate:  limitCfg.OwnerRate,
		ownerBurst: limitCfg.OwnerBurst,
	}, nil
}

func (l *EmitLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowOwner consumes one emit token for the billing owner.
func (l *EmitLimiter) AllowOwner(ctx context.Context, billingOwnerID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyEmitOwner, strings.TrimSpace(billingOwnerID))
	return l.bucket.Allow(ctx, key, l.ownerRate, l.ownerBurst)
}

// TryLockRollupDay takes the rebuild lease for one day key so two
// concurrent admin triggers cannot rebuild the same day at once.
func (l *EmitLimiter) TryLockRollupDay(ctx context.Context, day string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyRollupDayLock, strings.TrimSpace(day)), rollupLockTTL)
}

func (l *EmitLimiter) ReleaseRollupDay(ctx context.Context, day, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyRollupDayLock, strings.TrimSpace(day)), token)
}
