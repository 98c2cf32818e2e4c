package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/app"
	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/logging"
	"github.com/hackgods/voice-reservations/internal/notify"
	"github.com/hackgods/voice-reservations/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("worker starting up",
		zap.String("env", cfg.Env),
		zap.String("slot_schedule", cfg.Worker.SlotSchedule),
		zap.Int("days_ahead", cfg.Worker.DaysAhead),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the worker delivers queued confirmations, so it must not queue its own
	cfg.Notify.Mode = "off"
	stack, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer stack.Close()

	rules := cfg.Booking
	gen := scheduler.NewSlotGenerator(stack.Service, cfg.Worker.DaysAhead,
		func() civil.Date { return rules.Today(time.Now()) }, logger)

	// Run once at startup
	runCtx, cancel := context.WithTimeout(rootCtx, time.Minute)
	if _, err := gen.RunOnce(runCtx); err != nil {
		logger.Warn("initial slot generation incomplete", zap.Error(err))
	}
	cancel()

	loc := rules.Location
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := gen.Schedule(rootCtx, c, cfg.Worker.SlotSchedule); err != nil {
		logger.Fatal("invalid slot schedule", zap.Error(err))
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	if cfg.RedisAddr == "" {
		logger.Info("no redis configured, notification queue disabled")
		<-rootCtx.Done()
		logger.Info("shutdown signal received, stopping worker")
		return
	}

	srv := asynq.NewServer(app.RedisOpt(cfg), asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues:      map[string]int{notify.Queue: 1},
		Logger:      logger.Named("asynq").Sugar(),
	})

	mux := asynq.NewServeMux()
	notify.NewTaskHandler(stack.Layer, logger, app.Senders(cfg, logger)...).Register(mux)

	if err := srv.Start(mux); err != nil {
		logger.Fatal("queue server failed", zap.Error(err))
	}

	<-rootCtx.Done()
	logger.Info("shutdown signal received, stopping worker")
	srv.Shutdown()
}
