// Package agent runs one reservation call: it listens, extracts details,
// drives the conversation state machine and books the table once the caller
// confirms.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/conversation"
	"github.com/hackgods/voice-reservations/internal/ledger"
	"github.com/hackgods/voice-reservations/internal/nlu"
	"github.com/hackgods/voice-reservations/internal/resilience"
	"github.com/hackgods/voice-reservations/internal/respond"
	"github.com/hackgods/voice-reservations/internal/timeout"
)

// Dependency names used for breakers and logs.
const (
	DepNLU      = "nlu"
	DepBooking  = "booking"
	DepResponse = "response"
)

// Voice is the caller's side of the line. Listen waits at most hint for an
// utterance and returns an apperr UserTimeout on silence. io.EOF means the
// caller hung up.
type Voice interface {
	Prompt(ctx context.Context, text string) error
	Listen(ctx context.Context, hint time.Duration) (string, error)
}

// Booker is the booking engine as seen by a call.
type Booker interface {
	Rules() config.BookingRules
	CreateBooking(ctx context.Context, req booking.Request) (*booking.Booking, error)
	GetAvailableSlots(ctx context.Context, date civil.Date, partySize int) ([]ledger.Slot, error)
	Alternatives(ctx context.Context, key ledger.Key, partySize int) ([]ledger.Slot, error)
}

type Outcome struct {
	SessionID   string
	Booking     *booking.Booking
	State       conversation.State
	Reason      timeout.Reason
	Turns       int
	Transitions []conversation.Transition
}

type Session struct {
	id         string
	voice      Voice
	booker     Booker
	layer      *resilience.Layer
	rules      config.BookingRules
	extractors []nlu.Extractor
	responders []respond.Responder
	machine    *conversation.Machine
	supervisor *timeout.Supervisor
	now        func() time.Time
	logger     *zap.Logger

	booked *booking.Booking
	turns  int
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithExtractors puts extractors ahead of the built-in pattern extractor.
func WithExtractors(e ...nlu.Extractor) Option {
	return func(s *Session) { s.extractors = append(s.extractors, e...) }
}

// WithResponders puts responders ahead of the built-in template responder.
func WithResponders(r ...respond.Responder) Option {
	return func(s *Session) { s.responders = append(s.responders, r...) }
}

func NewSession(voice Voice, booker Booker, layer *resilience.Layer, timeouts config.Timeouts, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		voice:  voice,
		booker: booker,
		layer:  layer,
		rules:  booker.Rules(),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.Named("agent").With(zap.String("session_id", s.id))
	s.extractors = append(s.extractors, nlu.NewPatternExtractor(s.rules, s.now))
	s.responders = append(s.responders, respond.NewTemplateResponder())
	s.machine = conversation.NewMachine(s.rules, s.logger)
	s.supervisor = timeout.NewSupervisor(timeouts, s.now)
	return s
}

func (s *Session) ID() string { return s.id }

// Run holds the conversation until a booking is made, the caller leaves or
// the supervisor gives up. Only a broken voice channel or a programming error
// is returned as an error; every other ending is reported in the Outcome.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	s.supervisor.Reset()
	s.logger.Info("session started")

	if _, err := s.machine.Start(); err != nil {
		return s.outcome(), err
	}
	if err := s.say(ctx, respond.Request{Intent: respond.IntentGreeting}); err != nil {
		return s.outcome(), err
	}

	for {
		if err := ctx.Err(); err != nil {
			s.supervisor.End(timeout.ReasonHangup)
			return s.outcome(), err
		}

		d := s.supervisor.Check()
		switch d.Action {
		case timeout.ActionEnd:
			if d.Message != "" {
				_ = s.voice.Prompt(ctx, d.Message)
			}
			s.logger.Info("session ended", zap.String("reason", string(d.Reason)), zap.Int("turns", s.turns))
			return s.outcome(), nil
		case timeout.ActionReprompt:
			s.logger.Info("caller silent, reprompting", zap.Int("reprompt", d.Reprompt))
			if err := s.prompt(ctx, d.Message); err != nil {
				return s.outcome(), err
			}
		}

		utterance, err := s.voice.Listen(ctx, s.supervisor.Remaining())
		switch {
		case errors.Is(err, apperr.ErrUserTimeout):
			continue
		case errors.Is(err, io.EOF):
			s.supervisor.End(timeout.ReasonHangup)
			continue
		case err != nil:
			return s.outcome(), fmt.Errorf("listen: %w", err)
		}

		if err := s.handle(ctx, utterance); err != nil {
			return s.outcome(), err
		}
	}
}

// handle processes one utterance to completion.
func (s *Session) handle(ctx context.Context, utterance string) error {
	s.supervisor.MarkActivity()
	s.turns++
	s.logger.Debug("utterance", zap.String("text", utterance), zap.Stringer("state", s.machine.State()))

	if s.supervisor.IsExitPhrase(utterance) {
		s.supervisor.End(timeout.ReasonExitPhrase)
		return s.say(ctx, respond.Request{Intent: respond.IntentGoodbye})
	}

	confirming := s.machine.State() == conversation.StateConfirming

	ext, err := s.extract(ctx, utterance)
	if err != nil {
		return err
	}
	if ext.SpecialRequests != "" {
		s.machine.SetSpecialRequests(ext.SpecialRequests)
	}

	res, err := s.machine.Apply(ext.Updates)
	if err != nil {
		return err
	}

	if !res.Changed() && len(res.Rejected) == 0 {
		if confirming {
			return s.answer(ctx, conversation.ParseConfirmation(utterance))
		}
		s.machine.Note(utterance)
		return s.say(ctx, respond.Request{Intent: respond.IntentClarification})
	}

	if touchesSchedule(res) {
		handled, err := s.checkSchedule(ctx)
		if err != nil || handled {
			return err
		}
	}

	if len(res.Rejected) > 0 {
		return s.say(ctx, respond.Request{Intent: respond.IntentInvalid, Problem: problem(res.Rejected[0].Err)})
	}

	if s.machine.State() == conversation.StateConfirming {
		return s.say(ctx, respond.Request{Intent: respond.IntentConfirming})
	}
	return s.say(ctx, respond.Request{Intent: respond.IntentCollecting})
}

func (s *Session) extract(ctx context.Context, utterance string) (nlu.Extraction, error) {
	in := nlu.Input{
		Utterance: utterance,
		Context:   s.machine.Context(),
		Expecting: expecting(s.machine.State()),
	}

	providers := make([]resilience.Provider[nlu.Extraction], 0, len(s.extractors))
	for _, e := range s.extractors {
		e := e
		providers = append(providers, resilience.NewProvider(e.Name(), func(ctx context.Context) (nlu.Extraction, error) {
			return e.Extract(ctx, in)
		}))
	}

	ext, err := resilience.Call(ctx, s.layer, DepNLU, providers...)
	if err != nil {
		if ctx.Err() != nil {
			return nlu.Extraction{}, ctx.Err()
		}
		s.logger.Warn("extraction failed", zap.Error(err))
		return nlu.Extraction{}, nil
	}
	return ext, nil
}

// checkSchedule runs once date, time and party size are all known. It reports
// whether it already answered the caller.
func (s *Session) checkSchedule(ctx context.Context) (bool, error) {
	c := s.machine.Context()
	if c.Date == nil || c.Time == nil || c.PartySize == nil {
		return false, nil
	}

	if err := booking.CheckSchedule(s.rules, s.now(), *c.Date, *c.Time, *c.PartySize); err != nil {
		return true, s.reject(ctx, err)
	}

	key := ledger.NewKey(*c.Date, *c.Time)
	party := *c.PartySize

	slots, err := resilience.Call(ctx, s.layer, DepBooking,
		resilience.NewProvider("availability", func(ctx context.Context) ([]ledger.Slot, error) {
			return s.booker.GetAvailableSlots(ctx, key.Date, party)
		}))
	if err != nil {
		return true, s.unavailable(ctx, err)
	}
	for _, slot := range slots {
		if slot.Key() == key {
			return false, nil
		}
	}

	alts, err := resilience.Call(ctx, s.layer, DepBooking,
		resilience.NewProvider("alternatives", func(ctx context.Context) ([]ledger.Slot, error) {
			return s.booker.Alternatives(ctx, key, party)
		}))
	if err != nil {
		return true, s.unavailable(ctx, err)
	}

	s.logger.Info("requested time unavailable", zap.Stringer("slot", key), zap.Int("party_size", party), zap.Int("alternatives", len(alts)))
	if _, err := s.machine.Reopen(conversation.FieldTime); err != nil {
		return true, err
	}
	return true, s.say(ctx, respond.Request{Intent: respond.IntentNoAvailability, Alternatives: ledger.ToAlternatives(alts)})
}

func (s *Session) answer(ctx context.Context, c conversation.Confirmation) error {
	switch c {
	case conversation.ConfirmYes:
		return s.book(ctx)
	case conversation.ConfirmNo:
		if _, err := s.machine.Answer(c); err != nil {
			return err
		}
		return s.say(ctx, respond.Request{Intent: respond.IntentChange})
	default:
		return s.say(ctx, respond.Request{Intent: respond.IntentClarification})
	}
}

// book commits the confirmed request. The state machine only completes after
// the booking is stored, so a rejected booking can reopen fields.
func (s *Session) book(ctx context.Context) error {
	req := requestFrom(s.machine.Context())

	b, err := resilience.Call(ctx, s.layer, DepBooking,
		resilience.NewProvider("service", func(ctx context.Context) (*booking.Booking, error) {
			return s.booker.CreateBooking(ctx, req)
		}))
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindCapacityExceeded:
			var alts []apperr.Alternative
			if e, ok := apperr.As(err); ok {
				alts = e.Alternatives
			}
			if _, err := s.machine.Reopen(conversation.FieldTime); err != nil {
				return err
			}
			return s.say(ctx, respond.Request{Intent: respond.IntentNoAvailability, Alternatives: alts})
		case apperr.KindValidation:
			return s.reject(ctx, err)
		default:
			return s.unavailable(ctx, err)
		}
	}

	if _, err := s.machine.Answer(conversation.ConfirmYes); err != nil {
		return err
	}
	s.booked = b
	s.supervisor.End(timeout.ReasonCompleted)
	s.logger.Info("reservation booked", zap.Stringer("booking_id", b.ID), zap.String("code", b.ConfirmationCode))
	return s.say(ctx, respond.Request{Intent: respond.IntentCompleted, Booking: b})
}

// reject reopens the field a validation error names and relays the problem.
func (s *Session) reject(ctx context.Context, err error) error {
	var fields []conversation.Field
	if e, ok := apperr.As(err); ok {
		if f, ok := fieldOf(e.Field); ok {
			fields = append(fields, f)
		}
	}
	if _, rerr := s.machine.Reopen(fields...); rerr != nil {
		return rerr
	}
	return s.say(ctx, respond.Request{Intent: respond.IntentInvalid, Problem: problem(err)})
}

func (s *Session) unavailable(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Error("booking system unavailable", zap.Error(err))
	s.supervisor.End(timeout.ReasonUnavailable)
	return s.say(ctx, respond.Request{Intent: respond.IntentUnavailable})
}

func (s *Session) say(ctx context.Context, req respond.Request) error {
	req.State = s.machine.State()
	req.Context = s.machine.Context()

	providers := make([]resilience.Provider[string], 0, len(s.responders))
	for _, r := range s.responders {
		r := r
		providers = append(providers, resilience.NewProvider(r.Name(), func(ctx context.Context) (string, error) {
			return r.Respond(ctx, req)
		}))
	}

	text, err := resilience.Call(ctx, s.layer, DepResponse, providers...)
	if err != nil {
		return fmt.Errorf("respond %s: %w", req.Intent, err)
	}
	return s.prompt(ctx, text)
}

func (s *Session) prompt(ctx context.Context, text string) error {
	if err := s.voice.Prompt(ctx, text); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	s.supervisor.MarkPrompt()
	return nil
}

func (s *Session) outcome() Outcome {
	return Outcome{
		SessionID:   s.id,
		Booking:     s.booked,
		State:       s.machine.State(),
		Reason:      s.supervisor.EndReason(),
		Turns:       s.turns,
		Transitions: s.machine.History(),
	}
}

func requestFrom(c conversation.Context) booking.Request {
	req := booking.Request{
		Date:          *c.Date,
		Time:          *c.Time,
		PartySize:     *c.PartySize,
		CustomerName:  *c.Name,
		CustomerPhone: *c.Phone,
	}
	if c.SpecialRequests != "" {
		sr := c.SpecialRequests
		req.SpecialRequests = &sr
	}
	return req
}

func expecting(state conversation.State) conversation.Field {
	for _, f := range conversation.FieldOrder {
		if f.CollectingState() == state {
			return f
		}
	}
	return ""
}

func touchesSchedule(res conversation.MergeResult) bool {
	for _, list := range [][]conversation.Field{res.Filled, res.Corrected} {
		for _, f := range list {
			if f == conversation.FieldDate || f == conversation.FieldTime || f == conversation.FieldPartySize {
				return true
			}
		}
	}
	return false
}

func fieldOf(name string) (conversation.Field, bool) {
	switch name {
	case "date":
		return conversation.FieldDate, true
	case "time":
		return conversation.FieldTime, true
	case "party_size":
		return conversation.FieldPartySize, true
	case "customer_name":
		return conversation.FieldName, true
	case "customer_phone":
		return conversation.FieldPhone, true
	}
	return "", false
}

func problem(err error) string {
	if e, ok := apperr.As(err); ok && e.Msg != "" {
		return e.Msg
	}
	return ""
}
