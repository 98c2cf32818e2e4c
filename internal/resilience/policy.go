// Package resilience wraps calls to external dependencies with retry, a
// circuit breaker per provider, and an ordered fallback chain, applied in that
// order.
package resilience

import (
	"time"

	"github.com/hackgods/voice-reservations/internal/config"
)

type Policy struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

func DefaultPolicy() Policy {
	return PolicyFrom(config.DefaultResilience())
}

func PolicyFrom(cfg config.Resilience) Policy {
	return Policy{
		MaxAttempts:      cfg.MaxAttempts,
		BaseDelay:        cfg.BaseDelay,
		MaxDelay:         cfg.MaxDelay,
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
	}
}
