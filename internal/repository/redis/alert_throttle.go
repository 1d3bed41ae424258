package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"security-monitor/internal/client"
	"security-monitor/internal/util"
)

const (
	alertCooldownPrefix = "alert_cooldown:"
	alertWindowPrefix   = "alert_window:"
	alertCountPrefix    = "alert_count:"
)

// AlertThrottle deduplicates and rate-limits outbound alerts so a noisy
// identity cannot flood the alert topic. A per-identity cooldown stops
// repeats, and a sliding window caps total alerts per identity.
type AlertThrottle struct {
	client *client.RedisClient
}

func NewAlertThrottle(redisClient *client.RedisClient) *AlertThrottle {
	return &AlertThrottle{client: redisClient}
}

// TryAcquire reports whether an alert for identityKey may be sent. It
// atomically claims a cooldown slot; a false return means a recent alert
// for the same identity already claimed it.
func (t *AlertThrottle) TryAcquire(ctx context.Context, identityKey string, cooldown time.Duration) (bool, error) {
	key := alertCooldownPrefix + identityKey

	acquired, err := t.client.SetNX(ctx, key, strconv.FormatInt(time.Now().Unix(), 10), cooldown)
	if err != nil {
		util.Error("Failed to acquire alert cooldown",
			zap.String("identity_key", identityKey),
			zap.Error(err))
		return false, fmt.Errorf("failed to acquire alert cooldown: %w", err)
	}

	if !acquired {
		util.Debug("Alert suppressed by cooldown",
			zap.String("identity_key", identityKey))
	}
	return acquired, nil
}

// Release clears the cooldown early, letting the next alert through.
// Used when a send fails so the alert is not silently lost.
func (t *AlertThrottle) Release(ctx context.Context, identityKey string) error {
	if err := t.client.Del(ctx, alertCooldownPrefix+identityKey); err != nil {
		return fmt.Errorf("failed to release alert cooldown: %w", err)
	}
	return nil
}

// AllowInWindow atomically checks and records an alert against the
// identity's sliding window. Returns whether the alert is allowed and
// the current count inside the window.
func (t *AlertThrottle) AllowInWindow(ctx context.Context, identityKey string, limit int, window time.Duration) (bool, int, error) {
	now := time.Now().UnixNano()
	windowStart := now - window.Nanoseconds()

	luaScript := `
		local key = KEYS[1]
		local now = tonumber(ARGV[1])
		local window_start = tonumber(ARGV[2])
		local limit = tonumber(ARGV[3])

		redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

		local current_count = redis.call('ZCARD', key)

		if current_count < limit then
			redis.call('ZADD', key, now, now)
			redis.call('EXPIRE', key, math.ceil(tonumber(ARGV[4])))
			return {1, current_count + 1}
		else
			return {0, current_count}
		end
	`

	result, err := t.client.Eval(ctx, luaScript, []string{alertWindowPrefix + identityKey},
		now, windowStart, limit, int(window.Seconds()))
	if err != nil {
		util.Error("Failed to execute alert window check",
			zap.String("identity_key", identityKey),
			zap.Int("limit", limit),
			zap.Duration("window", window),
			zap.Error(err))
		return false, 0, fmt.Errorf("failed to execute alert window check: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 2 {
		return false, 0, fmt.Errorf("unexpected result format from alert window script")
	}

	allowed := resultSlice[0].(int64) == 1
	currentCount := int(resultSlice[1].(int64))

	util.Debug("Alert window check",
		zap.String("identity_key", identityKey),
		zap.Bool("allowed", allowed),
		zap.Int("current_count", currentCount),
		zap.Int("limit", limit))

	return allowed, currentCount, nil
}

// RecordSent bumps the daily sent counter, used for dashboard stats.
func (t *AlertThrottle) RecordSent(ctx context.Context, severity string) error {
	key := fmt.Sprintf("%s%s:%s", alertCountPrefix, severity, time.Now().UTC().Format("2006-01-02"))
	if _, err := t.client.IncrWithExpire(ctx, key, 48*time.Hour); err != nil {
		return fmt.Errorf("failed to record sent alert: %w", err)
	}
	return nil
}

// SentToday returns the number of alerts sent today for a severity.
func (t *AlertThrottle) SentToday(ctx context.Context, severity string) (int, error) {
	key := fmt.Sprintf("%s%s:%s", alertCountPrefix, severity, time.Now().UTC().Format("2006-01-02"))

	countStr, err := t.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get alert count: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid alert count format: %w", err)
	}
	return count, nil
}
