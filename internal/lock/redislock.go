package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/noah-isme/pedilo-api/internal/lock"

// Locker provides a Redis-backed distributed lock.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	// Wait records how long callers waited to acquire a lock, in milliseconds.
	Wait metric.Float64Histogram
}

// New builds a Locker whose wait time is recorded through meter. A nil meter
// falls back to the global meter provider.
func New(client *redis.Client, retryBackoff time.Duration, meter metric.Meter) (Locker, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	wait, err := meter.Float64Histogram("pedilo.lock.wait",
		metric.WithDescription("Time spent waiting to acquire a distributed lock."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return Locker{}, err
	}
	return Locker{R: client, RetryBackoff: retryBackoff, Wait: wait}, nil
}

// PromotionKey is the lock serialising redemptions of one coupon code.
func PromotionKey(merchantID, code string) string {
	return "lock:promotion:" + merchantID + ":" + code
}

// WithLock executes fn while holding a lock for the provided key. The lock is
// released automatically even if fn returns an error. When the lock cannot be
// acquired before the context is cancelled an error is returned.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	started := time.Now()
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			l.observe(ctx, key, started, "error")
			return err
		}
		if ok {
			l.observe(ctx, key, started, "acquired")
			defer l.release(context.Background(), key, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.observe(ctx, key, started, "timeout")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) observe(ctx context.Context, key string, started time.Time, result string) {
	if l.Wait == nil {
		return
	}
	scope := key
	if parts := strings.SplitN(key, ":", 3); len(parts) >= 2 {
		scope = parts[0] + ":" + parts[1]
	}
	l.Wait.Record(context.WithoutCancel(ctx), float64(time.Since(started).Microseconds())/1000,
		metric.WithAttributes(attribute.String("scope", scope), attribute.String("result", result)))
}

func (l Locker) release(ctx context.Context, key, token string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	if err := l.R.Eval(ctx, script, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}
