package booking

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/voice-reservations/internal/ledger"
)

var (
	ErrSlotNotFound     = errors.New("slot not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrDuplicateBooking = errors.New("booking already exists for this phone at this slot")
)

// Repository contains all storage interactions needed by the service.
type Repository interface {
	GetSlot(ctx context.Context, key ledger.Key) (*ledger.Slot, error)
	ListSlots(ctx context.Context, date civil.Date) ([]ledger.Slot, error)

	// InsertSlots creates slots that do not exist yet and reports how many
	// were created. Existing slots are left untouched.
	InsertSlots(ctx context.Context, slots []ledger.Slot) (int, error)

	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)

	// WithTx runs fn in one atomic unit: every write made through tx is
	// visible after fn returns nil, and none is if fn returns an error.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Tx is the transactional view handed to WithTx callbacks.
type Tx interface {
	GetSlotForUpdate(ctx context.Context, key ledger.Key) (*ledger.Slot, error)
	CreateSlot(ctx context.Context, slot ledger.Slot) error
	UpdateSlot(ctx context.Context, slot ledger.Slot) error

	InsertBooking(ctx context.Context, b *Booking) error
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error)
}

// Locker guards the critical section of a single slot.
type Locker interface {
	WithSlotLock(ctx context.Context, key ledger.Key, fn func(ctx context.Context) error) error
}

// Notifier is told about committed bookings. It must not block the caller.
type Notifier interface {
	BookingConfirmed(ctx context.Context, b Booking)
}
