package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/conversation"
	"github.com/hackgods/voice-reservations/internal/ledger"
	"github.com/hackgods/voice-reservations/internal/resilience"
	"github.com/hackgods/voice-reservations/internal/respond"
	"github.com/hackgods/voice-reservations/internal/testfixtures"
	"github.com/hackgods/voice-reservations/internal/timeout"
)

// The reference clock is Wednesday 2025-03-12 14:00 UTC, so "tomorrow" is
// Thursday 2025-03-13.
var thursday = civil.Date{Year: 2025, Month: time.March, Day: 13}

// silence in a script makes the caller say nothing until the listen hint
// runs out.
const silence = ""

type scriptedVoice struct {
	clock   *testfixtures.Clock
	script  []string
	prompts []string
}

func (v *scriptedVoice) Prompt(_ context.Context, text string) error {
	v.prompts = append(v.prompts, text)
	return nil
}

func (v *scriptedVoice) Listen(_ context.Context, hint time.Duration) (string, error) {
	if len(v.script) == 0 {
		return "", io.EOF
	}
	line := v.script[0]
	v.script = v.script[1:]

	if line == silence {
		v.clock.Advance(hint)
		return "", apperr.UserTimeout(hint)
	}
	v.clock.Advance(time.Second)
	return line, nil
}

func (v *scriptedVoice) last() string {
	if len(v.prompts) == 0 {
		return ""
	}
	return v.prompts[len(v.prompts)-1]
}

type fixture struct {
	clock *testfixtures.Clock
	repo  *booking.MemoryRepository
	svc   *booking.Service
	layer *resilience.Layer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())
	repo := booking.NewMemoryRepository(clock.Now)
	svc := booking.NewService(repo, ledger.NewKeyedLocker(), config.DefaultBookingRules(), booking.WithClock(clock.Now))
	layer := resilience.NewLayer(resilience.Policy{
		MaxAttempts:      2,
		BaseDelay:        time.Millisecond,
		MaxDelay:         time.Millisecond,
		FailureThreshold: 5,
		Cooldown:         time.Minute,
	}, resilience.WithClock(clock.Now))
	return fixture{clock: clock, repo: repo, svc: svc, layer: layer}
}

func (f fixture) run(t *testing.T, booker Booker, script ...string) (Outcome, *scriptedVoice) {
	t.Helper()
	voice := &scriptedVoice{clock: f.clock, script: script}
	s := NewSession(voice, booker, f.layer, config.DefaultTimeouts(), WithClock(f.clock.Now))
	out, err := s.Run(context.Background())
	require.NoError(t, err)
	return out, voice
}

func TestSessionBooksTable(t *testing.T) {
	f := newFixture(t)

	out, voice := f.run(t, f.svc,
		"I'd like a table tomorrow at 7pm",
		"four people",
		"my name is Ada Lovelace",
		"555-123-4567",
		"yes, that's right",
	)

	require.NotNil(t, out.Booking)
	assert.Equal(t, timeout.ReasonCompleted, out.Reason)
	assert.Equal(t, conversation.StateCompleted, out.State)
	assert.Equal(t, 5, out.Turns)

	b := out.Booking
	assert.Equal(t, thursday, b.Date)
	assert.Equal(t, civil.Time{Hour: 19}, b.Time)
	assert.Equal(t, 4, b.PartySize)
	assert.Equal(t, "Ada Lovelace", b.CustomerName)
	assert.Equal(t, "5551234567", b.CustomerPhone)

	assert.Len(t, f.repo.Bookings(), 1)
	assert.Contains(t, voice.prompts[0], respond.AgentName)
	assert.Contains(t, voice.last(), "confirmed")
}

func TestSessionCorrectionDuringConfirmation(t *testing.T) {
	f := newFixture(t)

	out, voice := f.run(t, f.svc,
		"tomorrow at 7pm for 2 people",
		"this is Grace Hopper",
		"5551234567",
		"actually make it 8pm",
		"yes",
	)

	require.NotNil(t, out.Booking)
	assert.Equal(t, civil.Time{Hour: 20}, out.Booking.Time)
	assert.Contains(t, voice.prompts[len(voice.prompts)-2], "8:00 PM")
}

func TestSessionOffersAlternativesWhenFull(t *testing.T) {
	f := newFixture(t)

	var slots []ledger.Slot
	for m := 18 * 60; m <= 20*60+30; m += 30 {
		capacity := 50
		if m == 19*60 {
			capacity = 2
		}
		slots = append(slots, ledger.Slot{Date: thursday, Time: civil.Time{Hour: m / 60, Minute: m % 60}, TotalCapacity: capacity})
	}
	_, err := f.repo.InsertSlots(context.Background(), slots)
	require.NoError(t, err)

	out, voice := f.run(t, f.svc,
		"tomorrow at 7pm for 4 people",
		"7:30 pm",
		"my name is Ada Lovelace",
		"555 123 4567",
		"yes",
	)

	assert.Contains(t, voice.prompts[1], "7:30 PM")
	assert.Contains(t, voice.prompts[1], "6:30 PM")

	require.NotNil(t, out.Booking)
	assert.Equal(t, civil.Time{Hour: 19, Minute: 30}, out.Booking.Time)
}

func TestSessionRejectsOutsideHours(t *testing.T) {
	f := newFixture(t)

	out, voice := f.run(t, f.svc, "tomorrow at 11pm for 2 people")

	assert.Nil(t, out.Booking)
	assert.Equal(t, conversation.StateCollectingTime, out.State)
	assert.Contains(t, voice.prompts[1], "outside operating hours")
}

func TestSessionRejectsOversizedParty(t *testing.T) {
	f := newFixture(t)

	out, voice := f.run(t, f.svc, "tomorrow at 7pm for 12 people")

	assert.Equal(t, conversation.StateCollectingPartySize, out.State)
	assert.True(t, strings.HasPrefix(voice.prompts[1], "I'm sorry"))
}

func TestSessionTimesOutAfterReprompt(t *testing.T) {
	f := newFixture(t)

	out, voice := f.run(t, f.svc, silence, silence)

	assert.Equal(t, timeout.ReasonTimeout, out.Reason)
	require.Len(t, voice.prompts, 3)
	assert.Equal(t, timeout.RepromptMessages[0], voice.prompts[1])
	assert.Equal(t, timeout.GoodbyeMessage, voice.prompts[2])
}

func TestSessionExitPhrase(t *testing.T) {
	f := newFixture(t)

	out, voice := f.run(t, f.svc, "tomorrow at 7pm", "never mind, goodbye")

	assert.Nil(t, out.Booking)
	assert.Equal(t, timeout.ReasonExitPhrase, out.Reason)
	assert.Contains(t, voice.last(), "Thank you for calling")
	assert.Empty(t, f.repo.Bookings())
}

func TestSessionHangup(t *testing.T) {
	f := newFixture(t)

	out, _ := f.run(t, f.svc)
	assert.Equal(t, timeout.ReasonHangup, out.Reason)
}

type brokenBooker struct {
	*booking.Service
	calls int
}

func (b *brokenBooker) CreateBooking(context.Context, booking.Request) (*booking.Booking, error) {
	b.calls++
	return nil, apperr.Transient("create booking", errors.New("connection refused"))
}

func TestSessionBookingUnavailable(t *testing.T) {
	f := newFixture(t)
	booker := &brokenBooker{Service: f.svc}

	out, voice := f.run(t, booker,
		"tomorrow at 7pm for 2 people",
		"my name is Ada Lovelace",
		"5551234567",
		"yes",
	)

	assert.Nil(t, out.Booking)
	assert.Equal(t, timeout.ReasonUnavailable, out.Reason)
	assert.Equal(t, 2, booker.calls)
	assert.Contains(t, voice.last(), "trouble reaching")
}

func TestSessionDeclinedConfirmationAsksForChange(t *testing.T) {
	f := newFixture(t)

	out, voice := f.run(t, f.svc,
		"tomorrow at 7pm for 2 people",
		"my name is Ada Lovelace",
		"5551234567",
		"no",
	)

	assert.Equal(t, conversation.StateConfirming, out.State)
	assert.Equal(t, "No problem. What would you like to change?", voice.last())
}
