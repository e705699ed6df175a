package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	maxFailures   = 6
	failureWindow = 10 * time.Minute
)

// FailureLimiter caps authentication failures per client IP: 6 failures in
// a sliding 10 minute window across login, register and token verify.
// Redis backs the window when available so limits survive restarts; the
// in-memory fallback keeps the limiter working (and failing open) without
// it, following the service's hybrid limiter convention.
type FailureLimiter struct {
	redis *redis.Client

	mu      sync.Mutex
	history map[string][]time.Time
}

func NewFailureLimiter(client *redis.Client) *FailureLimiter {
	return &FailureLimiter{
		redis:   client,
		history: make(map[string][]time.Time),
	}
}

// Allow reports whether the IP is still under its failure budget.
func (l *FailureLimiter) Allow(ctx context.Context, ip string) bool {
	if l == nil {
		return true
	}
	if l.redis != nil {
		if n, err := l.redisCount(ctx, ip); err == nil {
			return n < maxFailures
		}
		// Fail open to the in-memory window if redis is unreachable.
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(ip)) < maxFailures
}

// Record registers one failed attempt for the IP.
func (l *FailureLimiter) Record(ctx context.Context, ip string) {
	if l == nil {
		return
	}
	if l.redis != nil {
		if err := l.redisRecord(ctx, ip); err == nil {
			return
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history[ip] = append(l.prune(ip), time.Now())
}

// prune requires l.mu held.
func (l *FailureLimiter) prune(ip string) []time.Time {
	cutoff := time.Now().Add(-failureWindow)
	kept := l.history[ip][:0]
	for _, t := range l.history[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.history, ip)
		return nil
	}
	l.history[ip] = kept
	return kept
}

func (l *FailureLimiter) redisKey(ip string) string {
	return "authfail:" + ip
}

func (l *FailureLimiter) redisCount(ctx context.Context, ip string) (int64, error) {
	now := time.Now().UnixNano()
	windowStart := now - int64(failureWindow)
	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, l.redisKey(ip), "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, l.redisKey(ip))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return countCmd.Val(), nil
}

func (l *FailureLimiter) redisRecord(ctx context.Context, ip string) error {
	now := time.Now().UnixNano()
	pipe := l.redis.Pipeline()
	pipe.ZAdd(ctx, l.redisKey(ip), redis.Z{Score: float64(now), Member: now})
	pipe.Expire(ctx, l.redisKey(ip), failureWindow)
	_, err := pipe.Exec(ctx)
	return err
}
