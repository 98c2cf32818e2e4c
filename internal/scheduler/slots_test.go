package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEnsurer struct {
	dates []civil.Date
	fail  map[civil.Date]bool
}

func (f *fakeEnsurer) EnsureSlots(_ context.Context, date civil.Date) (int, error) {
	f.dates = append(f.dates, date)
	if f.fail[date] {
		return 0, errors.New("db down")
	}
	return 10, nil
}

var today = civil.Date{Year: 2025, Month: time.March, Day: 12}

func TestRunOnceCoversWindow(t *testing.T) {
	f := &fakeEnsurer{}
	g := NewSlotGenerator(f, 2, func() civil.Date { return today }, zap.NewNop())

	created, err := g.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 30, created)
	assert.Equal(t, []civil.Date{today, today.AddDays(1), today.AddDays(2)}, f.dates)
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	f := &fakeEnsurer{fail: map[civil.Date]bool{today.AddDays(1): true}}
	g := NewSlotGenerator(f, 2, func() civil.Date { return today }, zap.NewNop())

	created, err := g.RunOnce(context.Background())
	require.Error(t, err)

	assert.Equal(t, 20, created)
	assert.Len(t, f.dates, 3)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	g := NewSlotGenerator(&fakeEnsurer{}, 0, func() civil.Date { return today }, zap.NewNop())

	_, err := g.Schedule(context.Background(), cron.New(), "not a spec")
	assert.Error(t, err)

	id, err := g.Schedule(context.Background(), cron.New(), "@every 1h")
	require.NoError(t, err)
	assert.NotZero(t, id)
}
