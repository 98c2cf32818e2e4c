package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/resilience"
)

const (
	TypeBookingConfirmation = "booking:confirmation"
	Queue                   = "notifications"
)

const (
	sendTimeout    = 30 * time.Second
	enqueueTimeout = 5 * time.Second
)

// InlineDispatcher sends in a background goroutine of the current process.
type InlineDispatcher struct {
	layer   *resilience.Layer
	senders []Sender
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewInlineDispatcher(layer *resilience.Layer, logger *zap.Logger, senders ...Sender) *InlineDispatcher {
	return &InlineDispatcher{layer: layer, senders: senders, logger: logger.Named("notify")}
}

func (d *InlineDispatcher) BookingConfirmed(ctx context.Context, b booking.Booking) {
	n := FromBooking(b)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()

		if err := deliver(ctx, d.layer, d.senders, n); err != nil {
			d.logger.Warn("confirmation not delivered", zap.Stringer("booking_id", n.BookingID), zap.Error(err))
			return
		}
		d.logger.Debug("confirmation delivered", zap.Stringer("booking_id", n.BookingID))
	}()
}

// Wait blocks until in-flight sends finish.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// Enqueuer is the part of asynq.Client the queue dispatcher uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueDispatcher hands confirmations to the worker through asynq.
type QueueDispatcher struct {
	client Enqueuer
	logger *zap.Logger
}

func NewQueueDispatcher(client Enqueuer, logger *zap.Logger) *QueueDispatcher {
	return &QueueDispatcher{client: client, logger: logger.Named("notify")}
}

func NewConfirmationTask(n Notification) (*asynq.Task, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return asynq.NewTask(TypeBookingConfirmation, payload), nil
}

func (d *QueueDispatcher) BookingConfirmed(ctx context.Context, b booking.Booking) {
	task, err := NewConfirmationTask(FromBooking(b))
	if err != nil {
		d.logger.Error("confirmation task not built", zap.Stringer("booking_id", b.ID), zap.Error(err))
		return
	}

	// the booking is already committed; a caller that went away must not drop it
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	info, err := d.client.EnqueueContext(enqueueCtx, task, asynq.Queue(Queue), asynq.MaxRetry(5), asynq.Timeout(sendTimeout))
	if err != nil {
		d.logger.Warn("confirmation not enqueued", zap.Stringer("booking_id", b.ID), zap.Error(err))
		return
	}
	d.logger.Debug("confirmation enqueued", zap.Stringer("booking_id", b.ID), zap.String("task_id", info.ID))
}

// TaskHandler processes confirmation tasks in the worker.
type TaskHandler struct {
	layer   *resilience.Layer
	senders []Sender
	logger  *zap.Logger
}

func NewTaskHandler(layer *resilience.Layer, logger *zap.Logger, senders ...Sender) *TaskHandler {
	return &TaskHandler{layer: layer, senders: senders, logger: logger.Named("notify")}
}

func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeBookingConfirmation, h)
}

func (h *TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var n Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		h.logger.Error("invalid confirmation payload", zap.Error(err))
		return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
	}

	if err := deliver(ctx, h.layer, h.senders, n); err != nil {
		h.logger.Warn("confirmation delivery failed", zap.Stringer("booking_id", n.BookingID), zap.Error(err))
		return err
	}

	h.logger.Info("confirmation delivered", zap.Stringer("booking_id", n.BookingID))
	return nil
}
