package conversation

import (
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/config"
)

type Transition struct {
	From   State
	To     State
	Reason string
}

// Machine owns the state and context of a single conversation. It is not
// safe for concurrent use; a session processes one utterance at a time.
type Machine struct {
	rules   config.BookingRules
	logger  *zap.Logger
	state   State
	ctx     Context
	history []Transition
}

func NewMachine(rules config.BookingRules, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		rules:  rules,
		logger: logger.Named("conversation"),
		state:  StateGreeting,
	}
}

func (m *Machine) State() State { return m.state }

// Context returns a copy of the gathered details.
func (m *Machine) Context() Context { return m.ctx.Clone() }

func (m *Machine) History() []Transition {
	return append([]Transition(nil), m.history...)
}

// Start leaves the greeting for the first question.
func (m *Machine) Start() (State, error) {
	return m.advance("start")
}

// Apply merges an utterance's extracted updates and moves to the next state.
func (m *Machine) Apply(updates []Update) (MergeResult, error) {
	if m.state.Terminal() {
		_, err := Advance(m.state, m.ctx)
		return MergeResult{}, err
	}

	before := m.ctx
	merged, res := Merge(m.ctx, updates, m.rules)

	for _, f := range res.Corrected {
		m.logger.Info("context field corrected",
			zap.String("field", string(f)),
			zap.String("from", before.Value(f)),
			zap.String("to", merged.Value(f)),
			zap.Stringer("state", m.state),
		)
	}
	for _, r := range res.Rejected {
		m.logger.Debug("context update rejected",
			zap.String("field", string(r.Field)),
			zap.String("value", r.Value),
			zap.Error(r.Err),
		)
	}

	m.ctx = merged
	_, err := m.advance("merge")
	return res, err
}

// Answer applies the caller's reply to the read-back.
func (m *Machine) Answer(c Confirmation) (State, error) {
	next, err := Confirm(m.state, m.ctx, c)
	if err != nil {
		return m.state, err
	}
	m.move(next, "confirmation "+c.String())
	return next, nil
}

// Reopen clears fields that the booking engine rejected and asks for them
// again.
func (m *Machine) Reopen(fields ...Field) (State, error) {
	if m.state.Terminal() {
		return Advance(m.state, m.ctx)
	}
	m.ctx.Clear(fields...)
	return m.advance("reopen")
}

// Note records free text that is not one of the tracked fields.
func (m *Machine) Note(text string) {
	if text != "" {
		m.ctx.Notes = append(m.ctx.Notes, text)
	}
}

func (m *Machine) SetSpecialRequests(text string) {
	m.ctx.SpecialRequests = text
}

func (m *Machine) advance(reason string) (State, error) {
	next, err := Advance(m.state, m.ctx)
	if err != nil {
		return m.state, err
	}
	m.move(next, reason)
	return next, nil
}

func (m *Machine) move(next State, reason string) {
	if next == m.state {
		return
	}
	m.history = append(m.history, Transition{From: m.state, To: next, Reason: reason})
	m.logger.Debug("state transition",
		zap.Stringer("from", m.state),
		zap.Stringer("to", next),
		zap.String("reason", reason),
	)
	m.state = next
}
