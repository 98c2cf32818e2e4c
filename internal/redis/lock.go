package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/ledger"
	"github.com/hackgods/voice-reservations/internal/logging"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
)

const lockPollInterval = 25 * time.Millisecond

// SlotLocker guards the critical section of one slot across processes with a
// per-slot Redis key. Only the holder's token can release it.
type SlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// NewSlotLocker creates a locker whose keys expire after ttl. Acquisition is
// retried for up to wait before giving up with ErrLockNotAcquired.
func NewSlotLocker(client *redis.Client, ttl, wait time.Duration, logger *zap.Logger) *SlotLocker {
	return &SlotLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		logger: logging.OrNop(logger).Named("slot_lock"),
	}
}

// LockKey is the Redis key guarding a slot.
func LockKey(key ledger.Key) string {
	return fmt.Sprintf("lock:slot:%sT%02d:%02d", key.Date, key.Time.Hour, key.Time.Minute)
}

func (l *SlotLocker) WithSlotLock(ctx context.Context, key ledger.Key, fn func(ctx context.Context) error) error {
	redisKey := LockKey(key)
	token := uuid.NewString()

	if err := l.acquire(ctx, redisKey, token); err != nil {
		return err
	}

	defer func() {
		// the caller's ctx may already be done; release regardless
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := l.release(releaseCtx, redisKey, token); err != nil {
			l.logger.Warn("slot lock not released, held until ttl",
				zap.String("key", redisKey), zap.Duration("ttl", l.ttl), zap.Error(err))
		}
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *SlotLocker) acquire(ctx context.Context, key, token string) error {
	b := retry.WithMaxDuration(l.wait, retry.NewConstant(lockPollInterval))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire slot lock: %w", err)
		}
		if !ok {
			return retry.RetryableError(ErrLockNotAcquired)
		}
		return nil
	})
	if err != nil {
		return apperr.Transient("acquire slot lock "+key, err)
	}
	return nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *SlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}
