package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/ledger"
	"github.com/hackgods/voice-reservations/internal/testfixtures"
)

// The reference clock is Wednesday 2025-03-12 14:00 UTC.
var (
	today    = civil.Date{Year: 2025, Month: 3, Day: 12}
	thursday = civil.Date{Year: 2025, Month: 3, Day: 13}
	seven    = civil.Time{Hour: 19}
)

type fixture struct {
	svc   *Service
	repo  *MemoryRepository
	clock *testfixtures.Clock
}

func newFixture(t *testing.T, rules config.BookingRules, opts ...Option) fixture {
	t.Helper()
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())
	repo := NewMemoryRepository(clock.Now)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return fixture{
		svc:   NewService(repo, ledger.NewKeyedLocker(), rules, opts...),
		repo:  repo,
		clock: clock,
	}
}

func request(phone string, party int) Request {
	return Request{
		Date:          thursday,
		Time:          seven,
		PartySize:     party,
		CustomerName:  "Ada Lovelace",
		CustomerPhone: phone,
	}
}

func (f fixture) seedSlot(t *testing.T, key ledger.Key, capacity int) {
	t.Helper()
	_, err := f.repo.InsertSlots(context.Background(), []ledger.Slot{{Date: key.Date, Time: key.Time, TotalCapacity: capacity}})
	require.NoError(t, err)
}

func (f fixture) slot(t *testing.T, key ledger.Key) ledger.Slot {
	t.Helper()
	s, err := f.repo.GetSlot(context.Background(), key)
	require.NoError(t, err)
	return *s
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t, config.DefaultBookingRules())

	b, err := f.svc.CreateBooking(context.Background(), request("(555) 123-4567", 4))
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, "5551234567", b.CustomerPhone)
	assert.Len(t, b.ConfirmationCode, 8)
	assert.NotEqual(t, uuid.Nil, b.ID)

	slot := f.slot(t, ledger.NewKey(thursday, seven))
	assert.Equal(t, 50, slot.TotalCapacity)
	assert.Equal(t, 4, slot.BookedCapacity)

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventBookingCreated, events[0].EventType)
	assert.Equal(t, b.ID, *events[0].BookingID)
}

func TestCreateBookingLastSeatRace(t *testing.T) {
	f := newFixture(t, config.DefaultBookingRules())
	f.seedSlot(t, ledger.NewKey(thursday, seven), 1)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CreateBooking(context.Background(), request(fmt.Sprintf("555000000%d", i), 1))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, apperr.ErrCapacityExceeded):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, 1, rejected.Load())
	assert.Equal(t, 1, f.slot(t, ledger.NewKey(thursday, seven)).BookedCapacity)
}

func TestCreateBookingNeverOverbooks(t *testing.T) {
	f := newFixture(t, config.DefaultBookingRules())
	key := ledger.NewKey(thursday, seven)
	f.seedSlot(t, key, 10)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		booked int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			party := i%3 + 1
			_, err := f.svc.CreateBooking(context.Background(), request(fmt.Sprintf("55500001%02d", i), party))
			if err != nil {
				assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)
				return
			}
			mu.Lock()
			booked += party
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	slot := f.slot(t, key)
	assert.LessOrEqual(t, slot.BookedCapacity, slot.TotalCapacity)
	assert.Equal(t, booked, slot.BookedCapacity)

	sum := 0
	for _, b := range f.repo.Bookings() {
		sum += b.PartySize
	}
	assert.Equal(t, booked, sum)
}

// failingRepo fails every booking insert made inside a transaction.
type failingRepo struct {
	*MemoryRepository
}

func (r failingRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.MemoryRepository.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, failingTx{tx})
	})
}

type failingTx struct {
	Tx
}

func (failingTx) InsertBooking(context.Context, *Booking) error {
	return errors.New("disk full")
}

func TestCreateBookingIsAtomic(t *testing.T) {
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())
	repo := NewMemoryRepository(clock.Now)
	svc := NewService(failingRepo{repo}, ledger.NewKeyedLocker(), config.DefaultBookingRules(), WithClock(clock.Now))

	key := ledger.NewKey(thursday, seven)
	_, err := repo.InsertSlots(context.Background(), []ledger.Slot{{Date: thursday, Time: seven, TotalCapacity: 4}})
	require.NoError(t, err)

	_, err = svc.CreateBooking(context.Background(), request("5551234567", 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	s, err := repo.GetSlot(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 0, s.BookedCapacity)
	assert.Empty(t, repo.Bookings())
	assert.Empty(t, repo.Events())
}

func TestCreateBookingCapacityExceededSuggestsAlternatives(t *testing.T) {
	rules := config.DefaultBookingRules()
	f := newFixture(t, rules)
	key := ledger.NewKey(thursday, seven)
	f.seedSlot(t, key, 4)
	_, err := f.repo.InsertSlots(context.Background(),
		ledger.Generate(thursday, rules.HoursOn(thursday), rules.SlotInterval, rules.DefaultCapacity))
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(context.Background(), request("5551111111", 4))
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(context.Background(), request("5552222222", 1))
	require.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	e, ok := apperr.As(err)
	require.True(t, ok)
	require.NotEmpty(t, e.Alternatives)
	assert.LessOrEqual(t, len(e.Alternatives), MaxAlternatives)
	assert.Equal(t, thursday, e.Alternatives[0].Date)
	assert.Equal(t, civil.Time{Hour: 19, Minute: 30}, e.Alternatives[0].Time)
	for _, alt := range e.Alternatives {
		assert.GreaterOrEqual(t, alt.Remaining, 1)
	}

	assert.Equal(t, 4, f.slot(t, key).BookedCapacity)
	assert.Len(t, f.repo.Bookings(), 1)
}

func TestCreateBookingBeyondWindowTouchesNothing(t *testing.T) {
	f := newFixture(t, config.DefaultBookingRules())

	req := request("5551234567", 2)
	req.Date = today.AddDays(31)
	_, err := f.svc.CreateBooking(context.Background(), req)
	require.ErrorIs(t, err, apperr.ErrValidation)

	e, _ := apperr.As(err)
	assert.Equal(t, apperr.RuleBeyondWindow, e.Rule)

	slots, err := f.repo.ListSlots(context.Background(), req.Date)
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.Empty(t, f.repo.Events())
}

func TestValidateMatchesCreate(t *testing.T) {
	sunday := civil.Date{Year: 2025, Month: 3, Day: 16}

	cases := []struct {
		name  string
		mod   func(r *Request)
		field string
		rule  apperr.Rule
	}{
		{"past date", func(r *Request) { r.Date = today.AddDays(-1) }, "date", apperr.RulePastDate},
		{"past time today", func(r *Request) { r.Date = today; r.Time = civil.Time{Hour: 13} }, "time", apperr.RulePastDate},
		{"beyond window", func(r *Request) { r.Date = today.AddDays(31) }, "date", apperr.RuleBeyondWindow},
		{"zero party", func(r *Request) { r.PartySize = 0 }, "party_size", apperr.RulePartyTooSmall},
		{"large party", func(r *Request) { r.PartySize = 9 }, "party_size", apperr.RulePartyTooLarge},
		{"before opening", func(r *Request) { r.Time = civil.Time{Hour: 9} }, "time", apperr.RuleOutsideHours},
		{"sunday late", func(r *Request) { r.Date = sunday; r.Time = civil.Time{Hour: 21, Minute: 30} }, "time", apperr.RuleOutsideHours},
		{"no name", func(r *Request) { r.CustomerName = "  " }, "customer_name", apperr.RuleRequired},
		{"short phone", func(r *Request) { r.CustomerPhone = "12345" }, "customer_phone", apperr.RuleFormat},
		{"no phone", func(r *Request) { r.CustomerPhone = "" }, "customer_phone", apperr.RuleRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, config.DefaultBookingRules())
			req := request("5551234567", 2)
			tc.mod(&req)

			verr := f.svc.ValidateBookingRequest(req)
			_, cerr := f.svc.CreateBooking(context.Background(), req)

			for _, err := range []error{verr, cerr} {
				require.ErrorIs(t, err, apperr.ErrValidation)
				e, ok := apperr.As(err)
				require.True(t, ok)
				assert.Equal(t, tc.field, e.Field)
				assert.Equal(t, tc.rule, e.Rule)
			}
			assert.Empty(t, f.repo.Bookings())
		})
	}

	t.Run("valid", func(t *testing.T) {
		f := newFixture(t, config.DefaultBookingRules())
		req := request("+44 20 7946 0958", 8)
		require.NoError(t, f.svc.ValidateBookingRequest(req))
		_, err := f.svc.CreateBooking(context.Background(), req)
		require.NoError(t, err)
	})
}

func TestCreateBookingDuplicatePhone(t *testing.T) {
	f := newFixture(t, config.DefaultBookingRules())

	_, err := f.svc.CreateBooking(context.Background(), request("555-123-4567", 2))
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(context.Background(), request("5551234567", 2))
	require.ErrorIs(t, err, apperr.ErrValidation)
	e, _ := apperr.As(err)
	assert.Equal(t, apperr.RuleDuplicate, e.Rule)
	assert.Equal(t, 2, f.slot(t, ledger.NewKey(thursday, seven)).BookedCapacity)
}

func TestCreateBookingMissingSlot(t *testing.T) {
	rules := config.DefaultBookingRules()
	rules.CreateMissingSlots = false
	f := newFixture(t, rules)

	// 19:15 is inside opening hours but not on the half-hour grid
	req := request("5551234567", 2)
	req.Time = civil.Time{Hour: 19, Minute: 15}
	_, err := f.svc.CreateBooking(context.Background(), req)
	require.ErrorIs(t, err, apperr.ErrValidation)
	e, _ := apperr.As(err)
	assert.Equal(t, apperr.RuleNoSlot, e.Rule)

	rules.CreateMissingSlots = true
	f = newFixture(t, rules)
	b, err := f.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, f.slot(t, b.Key()).BookedCapacity)
	assert.Equal(t, rules.DefaultCapacity, f.slot(t, b.Key()).TotalCapacity)
}

func TestCreateBookingGeneratesTheDay(t *testing.T) {
	rules := config.DefaultBookingRules()

	fresh := newFixture(t, rules)
	untouched, err := fresh.svc.GetAvailableSlots(context.Background(), thursday, 2)
	require.NoError(t, err)
	require.NotEmpty(t, untouched)

	f := newFixture(t, rules)
	_, err = f.svc.CreateBooking(context.Background(), request("5551234567", 2))
	require.NoError(t, err)

	slots, err := f.svc.GetAvailableSlots(context.Background(), thursday, 2)
	require.NoError(t, err)
	assert.Len(t, slots, len(untouched))
	assert.Equal(t, 2, f.slot(t, ledger.NewKey(thursday, seven)).BookedCapacity)

	alts, err := f.svc.Alternatives(context.Background(), ledger.NewKey(thursday, seven), 2)
	require.NoError(t, err)
	require.NotEmpty(t, alts)
	assert.Equal(t, thursday, alts[0].Date)
}

func TestEnsureSlotsFillsGaps(t *testing.T) {
	rules := config.DefaultBookingRules()
	f := newFixture(t, rules)
	key := ledger.NewKey(thursday, seven)
	f.seedSlot(t, key, 4)

	n, err := f.svc.EnsureSlots(context.Background(), thursday)
	require.NoError(t, err)

	grid := ledger.Generate(thursday, rules.HoursOn(thursday), rules.SlotInterval, rules.DefaultCapacity)
	assert.Equal(t, len(grid)-1, n)
	assert.Equal(t, 4, f.slot(t, key).TotalCapacity)
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t, config.DefaultBookingRules())
	key := ledger.NewKey(thursday, seven)

	b, err := f.svc.CreateBooking(context.Background(), request("5551234567", 3))
	require.NoError(t, err)

	cancelled, err := f.svc.CancelBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, 0, f.slot(t, key).BookedCapacity)

	_, err = f.svc.CancelBooking(context.Background(), b.ID)
	require.ErrorIs(t, err, apperr.ErrValidation)
	e, _ := apperr.As(err)
	assert.Equal(t, apperr.RuleAlreadyCancel, e.Rule)

	// the phone may book the slot again once the old booking is cancelled
	_, err = f.svc.CreateBooking(context.Background(), request("5551234567", 3))
	require.NoError(t, err)
	assert.Equal(t, 3, f.slot(t, key).BookedCapacity)
}

func TestGetBookingNotFound(t *testing.T) {
	f := newFixture(t, config.DefaultBookingRules())

	_, err := f.svc.GetBooking(context.Background(), uuid.New())
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, err, ErrBookingNotFound)

	_, err = f.svc.CancelBooking(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEnsureSlotsIsIdempotent(t *testing.T) {
	f := newFixture(t, config.DefaultBookingRules())

	n, err := f.svc.EnsureSlots(context.Background(), thursday)
	require.NoError(t, err)
	assert.Positive(t, n)

	n, err = f.svc.EnsureSlots(context.Background(), thursday)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetAvailableSlots(t *testing.T) {
	f := newFixture(t, config.DefaultBookingRules())

	slots, err := f.svc.GetAvailableSlots(context.Background(), today, 2)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	for _, s := range slots {
		assert.Greater(t, s.Time.Hour, 13, "slot %s should be in the future", s.Key())
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []Booking
}

func (n *recordingNotifier) BookingConfirmed(_ context.Context, b Booking) {
	n.mu.Lock()
	n.seen = append(n.seen, b)
	n.mu.Unlock()
}

func TestCreateBookingNotifies(t *testing.T) {
	n := &recordingNotifier{}
	f := newFixture(t, config.DefaultBookingRules(), WithNotifier(n))

	b, err := f.svc.CreateBooking(context.Background(), request("5551234567", 2))
	require.NoError(t, err)

	require.Len(t, n.seen, 1)
	assert.Equal(t, b.ID, n.seen[0].ID)
}
