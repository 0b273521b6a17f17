package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const dispatchQueueGroup = "webhook-dispatch"

// Worker drains the dispatch subject and performs deliveries. QueueSubscribe
// keeps one consumer per message across replicas. Failed attempts under the
// cap are re-published after an exponential backoff; a periodic sweep
// re-publishes records stranded by a lost publish or a crashed worker.
type Worker struct {
	dispatcher  *Dispatcher
	store       DeliveryStore
	conn        *nats.Conn
	bus         Bus
	logger      *slog.Logger
	maxAttempts int
	backoffBase time.Duration
	sweepEvery  time.Duration
}

// NewWorker constructs a dispatch worker.
func NewWorker(dispatcher *Dispatcher, store DeliveryStore, conn *nats.Conn, bus Bus, maxAttempts int, logger *slog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Worker{
		dispatcher:  dispatcher,
		store:       store,
		conn:        conn,
		bus:         bus,
		logger:      logger,
		maxAttempts: maxAttempts,
		backoffBase: 2 * time.Second,
		sweepEvery:  time.Minute,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the
// subscription so in-flight deliveries finish.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.conn.QueueSubscribe(SubjectDispatch, dispatchQueueGroup, func(m *nats.Msg) {
		w.handle(ctx, string(m.Data))
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectDispatch, err)
	}

	w.logger.Info("webhook dispatch worker running")

	ticker := time.NewTicker(w.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("dispatch worker draining")
			return sub.Drain()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) handle(ctx context.Context, deliveryID string) {
	delivery, err := w.dispatcher.Deliver(ctx, deliveryID)
	if err != nil {
		w.logger.Error("dispatch attempt errored", "delivery_id", deliveryID, "error", err)
		return
	}
	if delivery.DispatchStatus != DispatchFailed {
		return
	}
	if delivery.Attempts >= w.maxAttempts {
		w.logger.Warn("delivery exhausted automatic retries, manual retry required",
			"delivery_id", delivery.ID, "attempts", delivery.Attempts)
		return
	}

	backoff := w.backoffBase << (delivery.Attempts - 1)
	time.AfterFunc(backoff, func() {
		if err := w.bus.Publish(SubjectDispatch, []byte(delivery.ID)); err != nil {
			w.logger.Warn("retry publish failed, sweep will pick it up", "delivery_id", delivery.ID, "error", err)
		}
	})
}

// sweep re-publishes retryable deliveries that have not moved recently.
func (w *Worker) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.sweepEvery)
	stale, err := w.store.Stale(ctx, w.maxAttempts, cutoff)
	if err != nil {
		w.logger.Error("dispatch sweep failed", "error", err)
		return
	}
	for _, d := range stale {
		if err := w.bus.Publish(SubjectDispatch, []byte(d.ID)); err != nil {
			w.logger.Warn("sweep publish failed", "delivery_id", d.ID, "error", err)
		}
	}
	if len(stale) > 0 {
		w.logger.Info("re-enqueued stale deliveries", "count", len(stale))
	}
}
