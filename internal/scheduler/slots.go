// Package scheduler keeps the slot ledger populated ahead of time so the
// first caller of the day does not pay for slot generation.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const runTimeout = 20 * time.Second

// SlotEnsurer creates the slots of a date if none exist yet.
type SlotEnsurer interface {
	EnsureSlots(ctx context.Context, date civil.Date) (int, error)
}

type SlotGenerator struct {
	slots     SlotEnsurer
	daysAhead int
	today     func() civil.Date
	logger    *zap.Logger
}

func NewSlotGenerator(slots SlotEnsurer, daysAhead int, today func() civil.Date, logger *zap.Logger) *SlotGenerator {
	if daysAhead < 0 {
		daysAhead = 0
	}
	return &SlotGenerator{
		slots:     slots,
		daysAhead: daysAhead,
		today:     today,
		logger:    logger.Named("scheduler"),
	}
}

// RunOnce ensures slots for today and the next daysAhead days. It keeps going
// past a failing date and returns the first error.
func (g *SlotGenerator) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	today := g.today()

	var firstErr error
	created := 0
	for i := 0; i <= g.daysAhead; i++ {
		date := today.AddDays(i)
		n, err := g.slots.EnsureSlots(ctx, date)
		if err != nil {
			g.logger.Warn("slot generation failed", zap.Stringer("date", date), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("ensure slots %s: %w", date, err)
			}
			continue
		}
		created += n
	}

	g.logger.Info("slot generation complete",
		zap.Int("created", created),
		zap.Int("days", g.daysAhead+1),
		zap.Duration("took", time.Since(start)),
	)
	return created, firstErr
}

// Schedule registers RunOnce on c with the given cron spec.
func (g *SlotGenerator) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		_, _ = g.RunOnce(runCtx)
	})
	if err != nil {
		return 0, fmt.Errorf("schedule slot generation %q: %w", spec, err)
	}
	return id, nil
}
