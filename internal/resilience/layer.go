package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/apperr"
)

// Provider is one entry of a fallback chain.
type Provider[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

func NewProvider[T any](name string, call func(ctx context.Context) (T, error)) Provider[T] {
	return Provider[T]{Name: name, Call: call}
}

// Layer owns one breaker per dependency/provider pair.
type Layer struct {
	policy Policy
	now    func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

type Option func(*Layer)

func WithClock(now func() time.Time) Option {
	return func(l *Layer) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Layer) { l.logger = logger.Named("resilience") }
}

func NewLayer(p Policy, opts ...Option) *Layer {
	l := &Layer{
		policy:   p,
		now:      time.Now,
		logger:   zap.NewNop(),
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Layer) Policy() Policy { return l.policy }

// Breaker returns the breaker for dependency/provider, creating it closed.
func (l *Layer) Breaker(dependency, provider string) *Breaker {
	name := dependency + "/" + provider

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.breakers[name]
	if !ok {
		b = NewBreaker(name, l.policy.FailureThreshold, l.policy.Cooldown, l.now)
		b.OnStateChange(func(name string, from, to State) {
			l.logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		})
		l.breakers[name] = b
	}
	return b
}

// Snapshots reports every breaker, sorted by name.
func (l *Layer) Snapshots() []Snapshot {
	l.mu.Lock()
	out := make([]Snapshot, 0, len(l.breakers))
	for _, b := range l.breakers {
		out = append(out, b.Snapshot())
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call tries providers in order. Each provider call passes through retry and
// then that provider's breaker. Business errors (validation, capacity, not
// found) are returned straight away; any other failure moves on to the next
// provider. When all fail the error lists every provider tried.
func Call[T any](ctx context.Context, l *Layer, dependency string, providers ...Provider[T]) (T, error) {
	var zero T
	if len(providers) == 0 {
		return zero, apperr.Invariant("resilience call", "no providers for "+dependency)
	}

	failures := make([]apperr.ProviderFailure, 0, len(providers))

	for _, p := range providers {
		breaker := l.Breaker(dependency, p.Name)

		var result T
		onRetry := func(attempt int, err error) {
			l.logger.Info("retrying transient failure",
				zap.String("breaker", breaker.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}

		err := retryNotify(ctx, l.policy, func(ctx context.Context) error {
			return breaker.Execute(ctx, func(ctx context.Context) error {
				v, err := p.Call(ctx)
				if err != nil {
					return err
				}
				result = v
				return nil
			})
		}, onRetry)

		if err == nil {
			return result, nil
		}
		if apperr.IsBusiness(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, apperr.Transient(dependency, ctx.Err())
		}

		failures = append(failures, apperr.ProviderFailure{Provider: p.Name, Err: err})
		l.logger.Warn("provider failed",
			zap.String("dependency", dependency),
			zap.String("provider", p.Name),
			zap.Error(err),
		)
	}

	return zero, apperr.Exhausted(dependency, failures)
}

// Do is Call for operations without a result.
func Do(ctx context.Context, l *Layer, dependency string, providers ...Provider[struct{}]) error {
	_, err := Call(ctx, l, dependency, providers...)
	return err
}

// Action adapts a result-less func into a Provider for Do.
func Action(name string, fn func(ctx context.Context) error) Provider[struct{}] {
	return NewProvider(name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}
