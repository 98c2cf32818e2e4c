package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/app"
	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/logging"
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

	days := getInt("SEED_DAYS", 7)
	bookings := getInt("SEED_BOOKINGS", 200)
	logger.Info("seed starting", zap.Int("days", days), zap.Int("bookings", bookings))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg.Notify.Mode = "off"
	stack, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer stack.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	dates, err := seedSlots(ctx, stack.Service, cfg.Booking, days, logger)
	if err != nil {
		logger.Fatal("seed slots", zap.Error(err))
	}
	if len(dates) == 0 {
		logger.Fatal("no open days in the seed range")
	}

	if err := seedBookings(ctx, stack.Service, faker, dates, bookings, logger); err != nil {
		logger.Fatal("seed bookings", zap.Error(err))
	}

	logger.Info("seed complete")
}

// seedSlots generates slots for the next days and returns the open dates.
func seedSlots(ctx context.Context, svc *booking.Service, rules config.BookingRules, days int, logger *zap.Logger) ([]civil.Date, error) {
	today := rules.Today(time.Now())

	var open []civil.Date
	for i := 1; i <= days; i++ {
		date := today.AddDays(i)
		if !rules.HoursOn(date).IsOpen {
			continue
		}
		n, err := svc.EnsureSlots(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("ensure slots %s: %w", date, err)
		}
		logger.Info("slots ready", zap.Stringer("date", date), zap.Int("created", n))
		open = append(open, date)
	}
	return open, nil
}

func seedBookings(ctx context.Context, svc *booking.Service, faker *gofakeit.Faker, dates []civil.Date, count int, logger *zap.Logger) error {
	created, full := 0, 0

	for i := 0; i < count; i++ {
		date := dates[faker.Number(0, len(dates)-1)]
		slots, err := svc.GetAvailableSlots(ctx, date, 1)
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			continue
		}
		slot := slots[faker.Number(0, len(slots)-1)]

		req := booking.Request{
			Date:          slot.Date,
			Time:          slot.Time,
			PartySize:     faker.Number(1, svc.Rules().MaxPartySize),
			CustomerName:  faker.Name(),
			CustomerPhone: fmt.Sprintf("555%07d", faker.Number(0, 9_999_999)),
		}
		if faker.Bool() {
			email := faker.Email()
			req.CustomerEmail = &email
		}
		if faker.Number(1, 5) == 1 {
			note := faker.RandomString([]string{"window seat", "birthday", "high chair", "quiet table", "vegetarian"})
			req.SpecialRequests = &note
		}

		_, err = svc.CreateBooking(ctx, req)
		switch apperr.KindOf(err) {
		case apperr.KindUnknown:
			if err != nil {
				return err
			}
			created++
		case apperr.KindCapacityExceeded, apperr.KindValidation:
			full++
		default:
			return err
		}
	}

	logger.Info("bookings seeded", zap.Int("created", created), zap.Int("rejected", full))
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
