package booking

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/voice-reservations/internal/ledger"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Request is the immutable input of a booking transaction.
type Request struct {
	Date            civil.Date
	Time            civil.Time
	PartySize       int
	CustomerName    string
	CustomerPhone   string
	CustomerEmail   *string
	SpecialRequests *string
}

func (r Request) Key() ledger.Key {
	return ledger.NewKey(r.Date, r.Time)
}

type Booking struct {
	ID               uuid.UUID
	ConfirmationCode string
	Date             civil.Date
	Time             civil.Time
	PartySize        int
	CustomerName     string
	CustomerPhone    string
	CustomerEmail    *string
	SpecialRequests  *string
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (b Booking) Key() ledger.Key {
	return ledger.NewKey(b.Date, b.Time)
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
