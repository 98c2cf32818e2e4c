package api

import (
	"context"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/ledger"
	"github.com/hackgods/voice-reservations/internal/resilience"
)

type BookingService interface {
	ValidateBookingRequest(req booking.Request) error
	CreateBooking(ctx context.Context, req booking.Request) (*booking.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	CancelBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	GetAvailableSlots(ctx context.Context, date civil.Date, partySize int) ([]ledger.Slot, error)
}

type RouterConfig struct {
	Service BookingService
	Layer   *resilience.Layer
	Logger  *zap.Logger

	// PgPool and Redis are optional; readiness skips what is nil.
	PgPool *pgxpool.Pool
	Redis  *redis.Client

	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	layer := cfg.Layer
	if layer == nil {
		layer = resilience.NewLayer(resilience.DefaultPolicy(), resilience.WithLogger(logger))
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger.Named("http")))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, layer, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Get("/health/breakers", health.Breakers)

	// Booking endpoints
	h := &bookingHandlers{svc: cfg.Service, layer: layer, logger: logger.Named("api")}
	r.Post("/bookings", h.create)
	r.Post("/bookings/validate", h.validateBooking)
	r.Get("/bookings/{id}", h.get)
	r.Post("/bookings/{id}/cancel", h.cancel)
	r.Get("/availability", h.availability)

	return r
}
