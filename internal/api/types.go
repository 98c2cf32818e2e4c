package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/ledger"
)

// CreateBookingRequest is checked for shape here; business rules are the
// booking service's.
type CreateBookingRequest struct {
	Date            string  `json:"date" validate:"required,datetime=2006-01-02"`
	Time            string  `json:"time" validate:"required,datetime=15:04"`
	PartySize       int     `json:"party_size"`
	CustomerName    string  `json:"customer_name" validate:"required"`
	CustomerPhone   string  `json:"customer_phone" validate:"required"`
	CustomerEmail   *string `json:"customer_email,omitempty" validate:"omitempty,email"`
	SpecialRequests *string `json:"special_requests,omitempty" validate:"omitempty,max=500"`
}

type BookingResponse struct {
	ID               uuid.UUID `json:"id"`
	ConfirmationCode string    `json:"confirmation_code"`
	Date             string    `json:"date"`
	Time             string    `json:"time"`
	PartySize        int       `json:"party_size"`
	CustomerName     string    `json:"customer_name"`
	CustomerPhone    string    `json:"customer_phone"`
	CustomerEmail    *string   `json:"customer_email,omitempty"`
	SpecialRequests  *string   `json:"special_requests,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

type SlotResponse struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Remaining int    `json:"remaining"`
}

type AvailabilityResponse struct {
	Date      string         `json:"date"`
	PartySize int            `json:"party_size"`
	Slots     []SlotResponse `json:"slots"`
}

type ValidationResponse struct {
	Valid bool `json:"valid"`
}

type ErrorResponse struct {
	Error        string         `json:"error"`
	Details      string         `json:"details,omitempty"`
	Field        string         `json:"field,omitempty"`
	Rule         string         `json:"rule,omitempty"`
	Alternatives []SlotResponse `json:"alternatives,omitempty"`
}

func hhmm(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:               b.ID,
		ConfirmationCode: b.ConfirmationCode,
		Date:             b.Date.String(),
		Time:             hhmm(b.Time.Hour, b.Time.Minute),
		PartySize:        b.PartySize,
		CustomerName:     b.CustomerName,
		CustomerPhone:    b.CustomerPhone,
		CustomerEmail:    b.CustomerEmail,
		SpecialRequests:  b.SpecialRequests,
		Status:           string(b.Status),
		CreatedAt:        b.CreatedAt,
	}
}

func toSlotResponses(slots []ledger.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{Date: s.Date.String(), Time: hhmm(s.Time.Hour, s.Time.Minute), Remaining: s.RemainingCapacity()})
	}
	return out
}

func toAlternativeResponses(alts []apperr.Alternative) []SlotResponse {
	out := make([]SlotResponse, 0, len(alts))
	for _, a := range alts {
		out = append(out, SlotResponse{Date: a.Date.String(), Time: hhmm(a.Time.Hour, a.Time.Minute), Remaining: a.Remaining})
	}
	return out
}
