package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hackgods/voice-reservations/internal/apperr"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type Snapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// Breaker is a consecutive-failure circuit breaker. While open it rejects
// calls with a CircuitOpen error without running them. Once the cooldown has
// elapsed exactly one probe call is let through; its outcome closes or reopens
// the breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	// generation changes on every transition; outcomes of calls admitted
	// under an older generation are ignored.
	generation uint64
}

func NewBreaker(name string, threshold int, cooldown time.Duration, now func() time.Time) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, now: now}
}

// OnStateChange registers fn to be called after every transition.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Name: b.name, State: b.state, ConsecutiveFailures: b.failures, OpenedAt: b.openedAt}
}

// Execute runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(gen, err)
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		gen := b.generation
		b.mu.Unlock()
		return gen, nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return 0, apperr.CircuitOpen(b.name)
		}
		b.probing = true
		notify := b.transition(StateHalfOpen)
		gen := b.generation
		b.mu.Unlock()
		notify()
		return gen, nil

	default:
		if b.probing {
			b.mu.Unlock()
			return 0, apperr.CircuitOpen(b.name)
		}
		b.probing = true
		gen := b.generation
		b.mu.Unlock()
		return gen, nil
	}
}

func (b *Breaker) record(gen uint64, err error) {
	b.mu.Lock()

	if gen != b.generation {
		b.mu.Unlock()
		return
	}

	failed := apperr.CountsAsFailure(err)
	notify := func() {}

	switch b.state {
	case StateClosed:
		if !failed {
			if !errors.Is(err, context.Canceled) {
				b.failures = 0
			}
			break
		}
		b.failures++
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			notify = b.transition(StateOpen)
		}

	case StateHalfOpen:
		b.probing = false
		switch {
		case failed:
			b.failures++
			b.openedAt = b.now()
			notify = b.transition(StateOpen)
		case errors.Is(err, context.Canceled):
			// the caller gave up; the next call probes again
		default:
			b.failures = 0
			notify = b.transition(StateClosed)
		}
	}

	b.mu.Unlock()
	notify()
}

// transition must be called with mu held. The returned func runs the hook and
// must be called after mu is released.
func (b *Breaker) transition(to State) func() {
	from := b.state
	b.state = to
	b.generation++
	if b.onChange == nil || from == to {
		return func() {}
	}
	hook, name := b.onChange, b.name
	return func() { hook(name, from, to) }
}
