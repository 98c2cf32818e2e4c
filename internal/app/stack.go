// Package app assembles the booking stack from configuration. Every binary
// builds the same service; they differ only in what they put in front of it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/db"
	"github.com/hackgods/voice-reservations/internal/ledger"
	"github.com/hackgods/voice-reservations/internal/notify"
	redisclient "github.com/hackgods/voice-reservations/internal/redis"
	"github.com/hackgods/voice-reservations/internal/resilience"
)

type Stack struct {
	Service *booking.Service
	Repo    booking.Repository
	Layer   *resilience.Layer

	// nil when the corresponding backend is not configured
	PgPool *pgxpool.Pool
	Redis  *redis.Client

	closers []func()
	inline  *notify.InlineDispatcher
}

// Build connects the configured store, lock and notifier. Close releases
// whatever Build opened, including on error.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Stack, error) {
	s := &Stack{
		Layer: resilience.NewLayer(resilience.PolicyFrom(cfg.Resilience), resilience.WithLogger(logger)),
	}

	if err := s.connect(ctx, cfg, logger); err != nil {
		s.Close()
		return nil, err
	}

	var locker booking.Locker = ledger.NewKeyedLocker()
	if s.Redis != nil {
		locker = redisclient.NewSlotLocker(s.Redis, cfg.LockTTL, cfg.LockWait, logger)
		logger.Info("using redis slot lock", zap.Duration("ttl", cfg.LockTTL), zap.Duration("wait", cfg.LockWait))
	}

	opts := []booking.Option{booking.WithLogger(logger)}
	if n := s.notifier(cfg, logger); n != nil {
		opts = append(opts, booking.WithNotifier(n))
	}

	s.Service = booking.NewService(s.Repo, locker, cfg.Booking, opts...)
	return s, nil
}

func (s *Stack) connect(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Store {
	case "memory":
		s.Repo = booking.NewMemoryRepository(time.Now)
		logger.Warn("using in-memory store; bookings are lost on exit")
	default:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		s.PgPool = pool
		s.closers = append(s.closers, pool.Close)

		version, err := db.Migrate(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info("connected to postgres", zap.Int64("schema_version", version))
		s.Repo = booking.NewPgRepository(pool)
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		s.Redis = rdb
		s.closers = append(s.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		})
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}
	return nil
}

func (s *Stack) notifier(cfg config.Config, logger *zap.Logger) booking.Notifier {
	switch cfg.Notify.Mode {
	case "off":
		return nil
	case "queue":
		client := asynq.NewClient(RedisOpt(cfg))
		s.closers = append(s.closers, func() { _ = client.Close() })
		return notify.NewQueueDispatcher(client, logger)
	default:
		s.inline = notify.NewInlineDispatcher(s.Layer, logger, Senders(cfg, logger)...)
		return s.inline
	}
}

// Senders lists the configured notification channels, most preferred first.
// The log sender is always last.
func Senders(cfg config.Config, logger *zap.Logger) []notify.Sender {
	var senders []notify.Sender
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, nil))
	}
	return append(senders, notify.NewLogSender(logger))
}

func RedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	}
}

// Close waits for in-flight inline notifications, then closes connections in
// reverse order of opening.
func (s *Stack) Close() {
	if s.inline != nil {
		s.inline.Wait()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
