package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/ledger"
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingCancelled = "BOOKING_CANCELLED"
	EventCapacityRejected = "BOOKING_CAPACITY_REJECTED"
)

// MaxAlternatives is how many slots a CapacityExceeded error suggests.
const MaxAlternatives = 3

type Service struct {
	repo     Repository
	locker   Locker
	rules    config.BookingRules
	now      func() time.Time
	logger   *zap.Logger
	notifier Notifier
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l.Named("booking") }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(repo Repository, locker Locker, rules config.BookingRules, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locker: locker,
		rules:  rules,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Rules() config.BookingRules {
	return s.rules
}

// ValidateBookingRequest runs the stateless checks of CreateBooking without
// touching the store. Its verdict is always the one CreateBooking would give.
func (s *Service) ValidateBookingRequest(req Request) error {
	_, err := s.validate(req)
	return err
}

func (s *Service) validate(req Request) (Request, error) {
	if err := CheckSchedule(s.rules, s.now(), req.Date, req.Time, req.PartySize); err != nil {
		return Request{}, err
	}

	name, err := NormalizeName(req.CustomerName)
	if err != nil {
		return Request{}, err
	}
	phone, err := NormalizePhone(req.CustomerPhone)
	if err != nil {
		return Request{}, err
	}

	req.CustomerName = name
	req.CustomerPhone = phone
	req.Time = ledger.NewKey(req.Date, req.Time).Time
	return req, nil
}

// CreateBooking validates req, then reserves seats and records the booking in
// one transaction while holding the slot's lock. Either both the booking and
// the reservation are stored or neither is.
func (s *Service) CreateBooking(ctx context.Context, req Request) (*Booking, error) {
	req, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	// The day grid is generated before the lock; only off-grid times are
	// created inside the transaction.
	if _, err := s.EnsureSlots(ctx, req.Date); err != nil {
		return nil, err
	}

	key := req.Key()
	var created *Booking

	err = s.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(txCtx context.Context, tx Tx) error {
			// Inside the critical section re-read the slot; anything read
			// before the lock may be stale.
			slot, err := tx.GetSlotForUpdate(txCtx, key)
			switch {
			case errors.Is(err, ErrSlotNotFound):
				if !s.rules.CreateMissingSlots {
					return apperr.Validation("time", apperr.RuleNoSlot, fmt.Sprintf("no slot configured at %s", key))
				}
				slot = &ledger.Slot{Date: key.Date, Time: key.Time, TotalCapacity: s.rules.DefaultCapacity}
				if err := tx.CreateSlot(txCtx, *slot); err != nil {
					return txError("create slot", err)
				}
			case err != nil:
				return txError("load slot", err)
			}

			if !slot.CanAccommodate(req.PartySize) {
				return apperr.CapacityExceeded(
					fmt.Sprintf("no table for %d at %s", req.PartySize, key), nil)
			}

			b := s.newBooking(req)
			if err := tx.InsertBooking(txCtx, b); err != nil {
				return txError("insert booking", err)
			}

			if err := slot.Reserve(req.PartySize); err != nil {
				return err
			}
			if err := tx.UpdateSlot(txCtx, *slot); err != nil {
				return txError("update slot", err)
			}

			created = b
			return nil
		})
	})

	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrCapacityExceeded):
			return nil, s.capacityExceeded(ctx, req, err)
		case errors.Is(err, ErrDuplicateBooking):
			// raised at commit by stores that check uniqueness late
			return nil, txError("create booking", err)
		}
		return nil, err
	}

	s.logger.Info("booking created",
		zap.Stringer("booking_id", created.ID),
		zap.Stringer("slot", key),
		zap.Int("party_size", created.PartySize),
	)
	s.logEvent(ctx, created.ID, EventBookingCreated, map[string]any{
		"slot":       key.String(),
		"party_size": created.PartySize,
		"code":       created.ConfirmationCode,
	})

	if s.notifier != nil {
		s.notifier.BookingConfirmed(ctx, *created)
	}

	return created, nil
}

// capacityExceeded attaches alternatives to a capacity failure. It runs after
// the slot lock has been released.
func (s *Service) capacityExceeded(ctx context.Context, req Request, cause error) error {
	msg := cause.Error()
	if e, ok := apperr.As(cause); ok && e.Msg != "" {
		msg = e.Msg
	}

	alts, err := s.Alternatives(ctx, req.Key(), req.PartySize)
	if err != nil {
		s.logger.Warn("alternatives lookup failed", zap.Stringer("slot", req.Key()), zap.Error(err))
	}

	s.logger.Info("booking rejected, slot full",
		zap.Stringer("slot", req.Key()),
		zap.Int("party_size", req.PartySize),
		zap.Int("alternatives", len(alts)),
	)
	s.logEvent(ctx, uuid.Nil, EventCapacityRejected, map[string]any{
		"slot":       req.Key().String(),
		"party_size": req.PartySize,
	})

	return apperr.CapacityExceeded(msg, ledger.ToAlternatives(alts))
}

// CancelBooking cancels a booking and gives its seats back to the slot, in one
// transaction under the slot's lock.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	existing, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == StatusCancelled {
		return nil, apperr.Validation("status", apperr.RuleAlreadyCancel, "booking is already cancelled")
	}

	var cancelled *Booking

	err = s.locker.WithSlotLock(ctx, existing.Key(), func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(txCtx context.Context, tx Tx) error {
			current, err := tx.GetBookingForUpdate(txCtx, id)
			if err != nil {
				return txError("load booking", err)
			}
			if current.Status == StatusCancelled {
				return apperr.Validation("status", apperr.RuleAlreadyCancel, "booking is already cancelled")
			}

			slot, err := tx.GetSlotForUpdate(txCtx, current.Key())
			if err != nil {
				return txError("load slot", err)
			}
			if err := slot.Release(current.PartySize); err != nil {
				return err
			}

			updated, err := tx.UpdateBookingStatus(txCtx, id, current.Status, StatusCancelled)
			if err != nil {
				return txError("cancel booking", err)
			}
			if err := tx.UpdateSlot(txCtx, *slot); err != nil {
				return txError("update slot", err)
			}

			cancelled = updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking cancelled", zap.Stringer("booking_id", id), zap.Stringer("slot", cancelled.Key()))
	s.logEvent(ctx, id, EventBookingCancelled, map[string]any{
		"slot":       cancelled.Key().String(),
		"party_size": cancelled.PartySize,
	})

	return cancelled, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			e := apperr.NotFound("get booking", "booking")
			e.Err = ErrBookingNotFound
			return nil, e
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// EnsureSlots generates the slots of date from its operating hours and
// returns how many were added. Slots that already exist keep their capacity
// and bookings.
func (s *Service) EnsureSlots(ctx context.Context, date civil.Date) (int, error) {
	grid := ledger.Generate(date, s.rules.HoursOn(date), s.rules.SlotInterval, s.rules.DefaultCapacity)
	if len(grid) == 0 {
		return 0, nil
	}

	existing, err := s.repo.ListSlots(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("list slots: %w", err)
	}
	have := make(map[ledger.Key]struct{}, len(existing))
	for _, slot := range existing {
		have[slot.Key()] = struct{}{}
	}

	var slots []ledger.Slot
	for _, slot := range grid {
		if _, ok := have[slot.Key()]; !ok {
			slots = append(slots, slot)
		}
	}
	if len(slots) == 0 {
		return 0, nil
	}

	created, err := s.repo.InsertSlots(ctx, slots)
	if err != nil {
		return 0, fmt.Errorf("insert slots: %w", err)
	}
	if created > 0 {
		s.logger.Debug("slots generated", zap.Stringer("date", date), zap.Int("count", created))
	}
	return created, nil
}

// GetAvailableSlots lists the slots of date that can still seat partySize,
// skipping times that are outside operating hours or already past.
func (s *Service) GetAvailableSlots(ctx context.Context, date civil.Date, partySize int) ([]ledger.Slot, error) {
	if _, err := s.EnsureSlots(ctx, date); err != nil {
		return nil, err
	}

	slots, err := s.repo.ListSlots(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	hours := s.rules.HoursOn(date)
	now := s.rules.LocalNow(s.now())

	var available []ledger.Slot
	for _, slot := range slots {
		if !hours.Contains(slot.Time) {
			continue
		}
		if !slot.Key().DateTime().After(now) {
			continue
		}
		if slot.CanAccommodate(partySize) {
			available = append(available, slot)
		}
	}
	return available, nil
}

// Alternatives suggests up to MaxAlternatives slots near key that can seat
// partySize.
func (s *Service) Alternatives(ctx context.Context, key ledger.Key, partySize int) ([]ledger.Slot, error) {
	if _, err := s.EnsureSlots(ctx, key.Date); err != nil {
		return nil, err
	}
	sameDay, err := s.repo.ListSlots(ctx, key.Date)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	var nextDay []ledger.Slot
	next := key.Date.AddDays(1)
	lastDay := s.rules.Today(s.now()).AddDays(s.rules.BookingWindowDays)
	if s.rules.HoursOn(next).IsOpen && !next.After(lastDay) {
		if _, err := s.EnsureSlots(ctx, next); err != nil {
			return nil, err
		}
		if nextDay, err = s.repo.ListSlots(ctx, next); err != nil {
			return nil, fmt.Errorf("list slots: %w", err)
		}
	}

	return ledger.SuggestAlternatives(key, partySize, s.rules.SlotInterval, sameDay, nextDay,
		s.rules.LocalNow(s.now()), MaxAlternatives), nil
}

func (s *Service) newBooking(req Request) *Booking {
	id := uuid.New()
	now := s.now()
	return &Booking{
		ID:               id,
		ConfirmationCode: strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8]),
		Date:             req.Date,
		Time:             req.Time,
		PartySize:        req.PartySize,
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		CustomerEmail:    req.CustomerEmail,
		SpecialRequests:  req.SpecialRequests,
		Status:           StatusConfirmed,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// txError maps repository errors met inside a transaction onto the error
// taxonomy.
func txError(op string, err error) error {
	switch {
	case errors.Is(err, ErrDuplicateBooking):
		return apperr.Validation("customer_phone", apperr.RuleDuplicate,
			"a booking for this phone number already exists at this time")
	case errors.Is(err, ErrSlotExists) && !apperr.IsTransient(err):
		return apperr.Transient(op, err)
	case errors.Is(err, ErrSlotNotFound):
		return apperr.Invariant(op, "slot disappeared inside transaction")
	case errors.Is(err, ErrBookingNotFound):
		e := apperr.NotFound(op, "booking")
		e.Err = err
		return e
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	var id *uuid.UUID
	if bookingID != uuid.Nil {
		id = &bookingID
	}

	ev := EventLog{
		EventType: eventType,
		BookingID: id,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.Stringer("booking_id", bookingID),
			zap.Error(err),
		)
	}
}
