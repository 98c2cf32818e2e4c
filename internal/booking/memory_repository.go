package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/ledger"
)

// ErrSlotExists is returned by a transaction that tried to create a slot which
// another writer created first. It is transient: a retry will see the slot.
var ErrSlotExists = errors.New("slot already exists")

type activeKey struct {
	slot  ledger.Key
	phone string
}

// MemoryRepository is a single-process store. Transactions stage their writes
// and apply them in one step on commit, so a failed transaction leaves no
// trace. Uniqueness of (slot, phone) among active bookings is enforced at
// commit.
type MemoryRepository struct {
	mu       sync.RWMutex
	slots    map[ledger.Key]ledger.Slot
	bookings map[uuid.UUID]Booking
	active   map[activeKey]uuid.UUID
	events   []EventLog
	now      func() time.Time
}

func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{
		slots:    make(map[ledger.Key]ledger.Slot),
		bookings: make(map[uuid.UUID]Booking),
		active:   make(map[activeKey]uuid.UUID),
		now:      now,
	}
}

func (r *MemoryRepository) GetSlot(ctx context.Context, key ledger.Key) (*ledger.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[key]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) ListSlots(ctx context.Context, date civil.Date) ([]ledger.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ledger.Slot
	for k, s := range r.slots {
		if k.Date == date {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out, nil
}

func (r *MemoryRepository) InsertSlots(ctx context.Context, slots []ledger.Slot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := 0
	for _, s := range slots {
		if _, ok := r.slots[s.Key()]; ok {
			continue
		}
		r.slots[s.Key()] = s
		created++
	}
	return created, nil
}

func (r *MemoryRepository) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

// Bookings returns every stored booking, oldest first.
func (r *MemoryRepository) Bookings() []Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Booking, 0, len(r.bookings))
	for _, b := range r.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		repo:         r,
		slots:        make(map[ledger.Key]ledger.Slot),
		createdSlots: make(map[ledger.Key]bool),
		bookings:     make(map[uuid.UUID]Booking),
		inserted:     make(map[uuid.UUID]bool),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperr.Transient("commit", err)
	}
	return tx.commit()
}

type memTx struct {
	repo         *MemoryRepository
	slots        map[ledger.Key]ledger.Slot
	createdSlots map[ledger.Key]bool
	bookings     map[uuid.UUID]Booking
	inserted     map[uuid.UUID]bool
}

func (t *memTx) GetSlotForUpdate(ctx context.Context, key ledger.Key) (*ledger.Slot, error) {
	if s, ok := t.slots[key]; ok {
		return &s, nil
	}
	return t.repo.GetSlot(ctx, key)
}

func (t *memTx) CreateSlot(ctx context.Context, slot ledger.Slot) error {
	key := slot.Key()
	if _, ok := t.slots[key]; ok {
		return ErrSlotExists
	}
	if _, err := t.repo.GetSlot(ctx, key); err == nil {
		return ErrSlotExists
	}
	t.slots[key] = slot
	t.createdSlots[key] = true
	return nil
}

func (t *memTx) UpdateSlot(ctx context.Context, slot ledger.Slot) error {
	key := slot.Key()
	if _, err := t.GetSlotForUpdate(ctx, key); err != nil {
		return err
	}
	t.slots[key] = slot
	return nil
}

func (t *memTx) InsertBooking(ctx context.Context, b *Booking) error {
	for _, staged := range t.bookings {
		if t.inserted[staged.ID] && sameActive(staged, *b) {
			return ErrDuplicateBooking
		}
	}
	t.bookings[b.ID] = *b
	t.inserted[b.ID] = true
	return nil
}

func (t *memTx) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	if b, ok := t.bookings[id]; ok {
		return &b, nil
	}
	return t.repo.GetBooking(ctx, id)
}

func (t *memTx) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	b, err := t.GetBookingForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != from {
		return nil, ErrBookingNotFound
	}
	b.Status = to
	b.UpdatedAt = t.repo.now()
	t.bookings[id] = *b
	return b, nil
}

func (t *memTx) commit() error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range t.createdSlots {
		if _, ok := r.slots[key]; ok {
			return apperr.Transient("commit", ErrSlotExists)
		}
	}
	for id := range t.inserted {
		b := t.bookings[id]
		if b.Status == StatusCancelled {
			continue
		}
		if _, taken := r.active[activeKey{b.Key(), b.CustomerPhone}]; taken {
			return ErrDuplicateBooking
		}
	}

	for key, s := range t.slots {
		r.slots[key] = s
	}
	for id, b := range t.bookings {
		if prev, ok := r.bookings[id]; ok && prev.Status != StatusCancelled {
			delete(r.active, activeKey{prev.Key(), prev.CustomerPhone})
		}
		r.bookings[id] = b
		if b.Status != StatusCancelled {
			r.active[activeKey{b.Key(), b.CustomerPhone}] = id
		}
	}
	return nil
}

func sameActive(a, b Booking) bool {
	return a.Key() == b.Key() && a.CustomerPhone == b.CustomerPhone &&
		a.Status != StatusCancelled && b.Status != StatusCancelled
}
