// Package timeout decides when a silent caller is reprompted and when the
// call is given up on. The supervisor never blocks; it is polled before each
// wait for user input.
package timeout

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/hackgods/voice-reservations/internal/config"
)

var RepromptMessages = []string{
	"Are you still there? I haven't heard from you.",
	"I'm still here when you're ready. Just let me know if you'd like to continue.",
}

const GoodbyeMessage = "I haven't heard from you in a while. I'll end this call now, " +
	"but feel free to call back anytime to make your reservation. Goodbye!"

type Action int

const (
	ActionWait Action = iota
	ActionReprompt
	ActionEnd
)

func (a Action) String() string {
	switch a {
	case ActionReprompt:
		return "reprompt"
	case ActionEnd:
		return "end"
	default:
		return "wait"
	}
}

type Reason string

const (
	ReasonNone        Reason = ""
	ReasonTimeout     Reason = "timeout"
	ReasonAbandoned   Reason = "abandoned"
	ReasonExitPhrase  Reason = "exit_phrase"
	ReasonCompleted   Reason = "completed"
	ReasonHangup      Reason = "hangup"
	ReasonUnavailable Reason = "system_unavailable"
)

type Decision struct {
	Action   Action
	Reason   Reason
	Message  string
	Reprompt int // 1-based number of this reprompt
}

type TimeoutState struct {
	LastPromptAt   time.Time
	LastActivityAt time.Time
	RepromptCount  int
}

type Supervisor struct {
	cfg config.Timeouts
	now func() time.Time

	mu        sync.Mutex
	state     TimeoutState
	ending    bool
	endReason Reason
}

func NewSupervisor(cfg config.Timeouts, now func() time.Time) *Supervisor {
	if now == nil {
		now = time.Now
	}
	s := &Supervisor{cfg: cfg, now: now}
	s.Reset()
	return s
}

// Reset starts a new conversation: both clocks are set to now.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.state = TimeoutState{LastPromptAt: now, LastActivityAt: now}
	s.ending = false
	s.endReason = ReasonNone
}

func (s *Supervisor) State() TimeoutState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkPrompt records that the caller was just spoken to.
func (s *Supervisor) MarkPrompt() {
	s.mu.Lock()
	s.state.LastPromptAt = s.now()
	s.mu.Unlock()
}

// MarkActivity records user input. It clears the reprompt count.
func (s *Supervisor) MarkActivity() {
	s.mu.Lock()
	s.state.LastActivityAt = s.now()
	s.state.RepromptCount = 0
	s.mu.Unlock()
}

// Check decides what to do at the top of a wait for user input. A reprompt
// decision is counted, so the caller must act on it.
func (s *Supervisor) Check() Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ending {
		return s.endDecision()
	}

	now := s.now()
	if s.cfg.Abandonment > 0 && now.Sub(s.state.LastActivityAt) >= s.cfg.Abandonment {
		s.end(ReasonAbandoned)
		return s.endDecision()
	}

	if now.Sub(s.lastEvent()) < s.window() {
		return Decision{Action: ActionWait}
	}

	if s.state.RepromptCount < s.cfg.MaxReprompts {
		s.state.RepromptCount++
		n := s.state.RepromptCount
		msg := RepromptMessages[min(n, len(RepromptMessages))-1]
		return Decision{Action: ActionReprompt, Message: msg, Reprompt: n}
	}

	s.end(ReasonTimeout)
	return s.endDecision()
}

// Remaining is how long the next listen may wait before Check has something
// new to say. It never returns less than zero.
func (s *Supervisor) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	left := s.window() - now.Sub(s.lastEvent())
	if s.cfg.Abandonment > 0 {
		left = min(left, s.cfg.Abandonment-now.Sub(s.state.LastActivityAt))
	}
	return max(left, 0)
}

// End asks the conversation to stop at its next decision point.
func (s *Supervisor) End(reason Reason) {
	s.mu.Lock()
	s.end(reason)
	s.mu.Unlock()
}

func (s *Supervisor) ShouldEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ending
}

func (s *Supervisor) EndReason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// IsExitPhrase reports whether the utterance contains one of the configured
// exit phrases as whole words.
func (s *Supervisor) IsExitPhrase(utterance string) bool {
	return ContainsPhrase(utterance, s.cfg.ExitPhrases)
}

func ContainsPhrase(utterance string, phrases []string) bool {
	text := " " + normalize(utterance) + " "
	for _, p := range phrases {
		p = normalize(p)
		if p != "" && strings.Contains(text, " "+p+" ") {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return strings.Join(fields, " ")
}

func (s *Supervisor) end(reason Reason) {
	if !s.ending {
		s.ending = true
		s.endReason = reason
	}
}

func (s *Supervisor) endDecision() Decision {
	d := Decision{Action: ActionEnd, Reason: s.endReason}
	if s.endReason == ReasonTimeout || s.endReason == ReasonAbandoned {
		d.Message = GoodbyeMessage
	}
	return d
}

func (s *Supervisor) lastEvent() time.Time {
	if s.state.LastActivityAt.After(s.state.LastPromptAt) {
		return s.state.LastActivityAt
	}
	return s.state.LastPromptAt
}

func (s *Supervisor) window() time.Duration {
	if s.state.RepromptCount == 0 {
		return s.cfg.Initial
	}
	return s.cfg.Reprompt
}
