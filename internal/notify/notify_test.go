package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/resilience"
)

func testBooking() booking.Booking {
	return booking.Booking{
		ID:               uuid.MustParse("2f1c6a2e-7d1b-4f7e-9a53-0c5d0a7b9e11"),
		ConfirmationCode: "AB12CD34",
		Date:             civil.Date{Year: 2025, Month: time.March, Day: 14},
		Time:             civil.Time{Hour: 19, Minute: 30},
		PartySize:        4,
		CustomerName:     "Maria Lopez",
		CustomerPhone:    "5551234567",
		Status:           booking.StatusConfirmed,
	}
}

func testLayer() *resilience.Layer {
	return resilience.NewLayer(resilience.Policy{
		MaxAttempts:      2,
		BaseDelay:        time.Millisecond,
		MaxDelay:         time.Millisecond,
		FailureThreshold: 5,
		Cooldown:         time.Minute,
	})
}

type recordingSender struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Notification
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestFromBooking(t *testing.T) {
	n := FromBooking(testBooking())

	assert.Equal(t, "2025-03-14", n.Date)
	assert.Equal(t, "19:30", n.Time)
	assert.Contains(t, n.Message, "Maria Lopez")
	assert.Contains(t, n.Message, "Friday, March 14")
	assert.Contains(t, n.Message, "7:30 PM")
	assert.Contains(t, n.Message, "AB12CD34")
}

func TestInlineDispatcherFallsBack(t *testing.T) {
	primary := &recordingSender{name: "sms", err: apperr.Transient("send", errors.New("gateway down"))}
	fallback := &recordingSender{name: "log"}

	d := NewInlineDispatcher(testLayer(), zap.NewNop(), primary, fallback)
	d.BookingConfirmed(context.Background(), testBooking())
	d.Wait()

	assert.Equal(t, 2, primary.count())
	assert.Equal(t, 1, fallback.count())
}

func TestInlineDispatcherSurvivesCancelledCaller(t *testing.T) {
	sender := &recordingSender{name: "log"}
	d := NewInlineDispatcher(testLayer(), zap.NewNop(), sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.BookingConfirmed(ctx, testBooking())
	d.Wait()

	assert.Equal(t, 1, sender.count())
}

func TestWebhookSender(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	var got Notification

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, srv.Client())
	n := FromBooking(testBooking())

	require.NoError(t, s.Send(context.Background(), n))
	assert.Equal(t, n.ConfirmationCode, got.ConfirmationCode)

	status.Store(http.StatusServiceUnavailable)
	err := s.Send(context.Background(), n)
	assert.True(t, apperr.IsTransient(err))

	status.Store(http.StatusBadRequest)
	err = s.Send(context.Background(), n)
	assert.ErrorIs(t, err, apperr.ErrDependency)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func TestQueueDispatcherRoundTrip(t *testing.T) {
	q := &fakeEnqueuer{}
	NewQueueDispatcher(q, zap.NewNop()).BookingConfirmed(context.Background(), testBooking())

	require.Len(t, q.tasks, 1)
	assert.Equal(t, TypeBookingConfirmation, q.tasks[0].Type())

	sender := &recordingSender{name: "log"}
	h := NewTaskHandler(testLayer(), zap.NewNop(), sender)
	require.NoError(t, h.ProcessTask(context.Background(), q.tasks[0]))

	require.Equal(t, 1, sender.count())
	assert.Equal(t, "AB12CD34", sender.sent[0].ConfirmationCode)
}

func TestQueueDispatcherSwallowsEnqueueErrors(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("redis unavailable")}
	assert.NotPanics(t, func() {
		NewQueueDispatcher(q, zap.NewNop()).BookingConfirmed(context.Background(), testBooking())
	})
}

func TestQueueDispatcherOutlivesCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := &fakeEnqueuer{}
	NewQueueDispatcher(q, zap.NewNop()).BookingConfirmed(ctx, testBooking())

	require.Len(t, q.tasks, 1)
	assert.Equal(t, TypeBookingConfirmation, q.tasks[0].Type())
}

func TestTaskHandlerSkipsRetryOnBadPayload(t *testing.T) {
	h := NewTaskHandler(testLayer(), zap.NewNop(), &recordingSender{name: "log"})

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeBookingConfirmation, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
