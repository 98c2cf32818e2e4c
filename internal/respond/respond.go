// Package respond produces what the agent says next.
package respond

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/conversation"
)

const AgentName = "Alex"

type Intent string

const (
	IntentGreeting       Intent = "greeting"
	IntentCollecting     Intent = "collecting"
	IntentConfirming     Intent = "confirming"
	IntentChange         Intent = "change_request"
	IntentCompleted      Intent = "completed"
	IntentNoAvailability Intent = "no_availability"
	IntentInvalid        Intent = "invalid_input"
	IntentClarification  Intent = "clarification"
	IntentUnavailable    Intent = "system_unavailable"
	IntentGoodbye        Intent = "goodbye"
)

// Request describes the turn being answered.
type Request struct {
	Intent  Intent
	State   conversation.State
	Context conversation.Context

	// Problem is a validation message to relay for IntentInvalid.
	Problem      string
	Alternatives []apperr.Alternative
	Booking      *booking.Booking
}

type Responder interface {
	Name() string
	Respond(ctx context.Context, req Request) (string, error)
}

// FormatDate renders a date the way it is spoken, e.g. "Friday, March 14".
func FormatDate(d civil.Date) string {
	return d.In(time.UTC).Format("Monday, January 2")
}

// FormatTime renders a time the way it is spoken, e.g. "7:30 PM".
func FormatTime(t civil.Time) string {
	return time.Date(2000, 1, 1, t.Hour, t.Minute, 0, 0, time.UTC).Format("3:04 PM")
}

func people(n int) string {
	if n == 1 {
		return "1 person"
	}
	return fmt.Sprintf("%d people", n)
}

// Summary lists the collected details for prompts and read-backs.
func Summary(c conversation.Context) string {
	var parts []string
	if c.Date != nil {
		parts = append(parts, "Date: "+FormatDate(*c.Date))
	}
	if c.Time != nil {
		parts = append(parts, "Time: "+FormatTime(*c.Time))
	}
	if c.PartySize != nil {
		parts = append(parts, "Party size: "+people(*c.PartySize))
	}
	if c.Name != nil {
		parts = append(parts, "Name: "+*c.Name)
	}
	if c.Phone != nil {
		parts = append(parts, "Phone: "+*c.Phone)
	}
	if len(parts) == 0 {
		return "None yet"
	}
	return strings.Join(parts, ", ")
}

// FormatAlternatives joins alternative slots into one spoken phrase.
func FormatAlternatives(requested *civil.Date, alts []apperr.Alternative) string {
	phrases := make([]string, 0, len(alts))
	for _, a := range alts {
		p := FormatTime(a.Time)
		if requested == nil || a.Date != *requested {
			p += " on " + FormatDate(a.Date)
		}
		phrases = append(phrases, p)
	}
	switch len(phrases) {
	case 0:
		return ""
	case 1:
		return phrases[0]
	default:
		return strings.Join(phrases[:len(phrases)-1], ", ") + " or " + phrases[len(phrases)-1]
	}
}
