package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/agent"
	"github.com/hackgods/voice-reservations/internal/app"
	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/llm"
	"github.com/hackgods/voice-reservations/internal/logging"
	"github.com/hackgods/voice-reservations/internal/nlu"
	"github.com/hackgods/voice-reservations/internal/respond"
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

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer stack.Close()

	opts := []agent.Option{agent.WithLogger(logger)}

	gemini, err := llm.NewGemini(rootCtx, cfg.LLM)
	switch {
	case errors.Is(err, llm.ErrNoAPIKey):
		logger.Info("no GEMINI_API_KEY, using pattern extraction and template responses")
	case err != nil:
		logger.Warn("gemini unavailable, using offline fallbacks", zap.Error(err))
	default:
		defer gemini.Close()
		opts = append(opts,
			agent.WithExtractors(nlu.NewLLMExtractor(gemini, cfg.Booking, nil)),
			agent.WithResponders(respond.NewLLMResponder(gemini)),
		)
	}

	voice := agent.NewConsoleVoice(os.Stdin, os.Stdout)
	session := agent.NewSession(voice, stack.Service, stack.Layer, cfg.Timeouts, opts...)

	out, err := session.Run(rootCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("session failed", zap.String("session_id", out.SessionID), zap.Error(err))
	}

	fmt.Println()
	if out.Booking != nil {
		fmt.Printf("Booked %s for %d on %s at %02d:%02d (code %s)\n",
			out.Booking.CustomerName, out.Booking.PartySize, out.Booking.Date,
			out.Booking.Time.Hour, out.Booking.Time.Minute, out.Booking.ConfirmationCode)
	} else {
		fmt.Printf("Call ended without a booking (%s)\n", out.Reason)
	}
}
