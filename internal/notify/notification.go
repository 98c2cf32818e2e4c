// Package notify delivers booking confirmations. Delivery never blocks or
// undoes a booking: failures are logged and, when queued, retried by the
// worker.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/resilience"
	"github.com/hackgods/voice-reservations/internal/respond"
)

const Dependency = "notify"

type Notification struct {
	BookingID        uuid.UUID `json:"booking_id"`
	ConfirmationCode string    `json:"confirmation_code"`
	CustomerName     string    `json:"customer_name"`
	CustomerPhone    string    `json:"customer_phone"`
	CustomerEmail    *string   `json:"customer_email,omitempty"`
	Date             string    `json:"date"`
	Time             string    `json:"time"`
	PartySize        int       `json:"party_size"`
	Message          string    `json:"message"`
}

func FromBooking(b booking.Booking) Notification {
	return Notification{
		BookingID:        b.ID,
		ConfirmationCode: b.ConfirmationCode,
		CustomerName:     b.CustomerName,
		CustomerPhone:    b.CustomerPhone,
		CustomerEmail:    b.CustomerEmail,
		Date:             b.Date.String(),
		Time:             fmt.Sprintf("%02d:%02d", b.Time.Hour, b.Time.Minute),
		PartySize:        b.PartySize,
		Message: fmt.Sprintf("Hello %s, your reservation for %d on %s at %s is confirmed. Confirmation #: %s. We look forward to serving you!",
			b.CustomerName, b.PartySize, respond.FormatDate(b.Date), respond.FormatTime(b.Time), b.ConfirmationCode),
	}
}

type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// deliver tries senders in order through the resilience layer.
func deliver(ctx context.Context, layer *resilience.Layer, senders []Sender, n Notification) error {
	providers := make([]resilience.Provider[struct{}], 0, len(senders))
	for _, s := range senders {
		s := s
		providers = append(providers, resilience.Action(s.Name(), func(ctx context.Context) error {
			return s.Send(ctx, n)
		}))
	}
	return resilience.Do(ctx, layer, Dependency, providers...)
}
