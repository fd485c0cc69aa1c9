package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// HedgeBurstLimiter caps how many hedge bursts (secondary fan-outs) a tenant
// may trigger within a rolling window, using Redis INCR+EXPIRE so the cap is
// shared across every mediator instance rather than per-process.
type HedgeBurstLimiter struct {
	rdb       *redis.Client
	maxBursts int
	window    time.Duration
}

// NewHedgeBurstLimiter creates a limiter. maxBursts is the number of hedge
// bursts allowed per tenant within window.
func NewHedgeBurstLimiter(rdb *redis.Client, maxBursts int, window time.Duration) *HedgeBurstLimiter {
	return &HedgeBurstLimiter{rdb: rdb, maxBursts: maxBursts, window: window}
}

// Allow reports whether tenantID may trigger another hedge burst right now,
// recording this attempt toward the window's count regardless of the
// outcome. A nil limiter always allows (the burst limiter is an optional
// cost-control feature, not part of the failover correctness contract).
func (l *HedgeBurstLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}

	key := fmt.Sprintf("tsamediator:hedge_burst:%s", tenantID)
	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("recording hedge burst: %w", err)
	}

	return incr.Val() <= int64(l.maxBursts), nil
}
