package audit

import (
	"context"
	"errors"
	"log/slog"
)

// ErrBufferFull is returned when the async buffer cannot accept an event.
var ErrBufferFull = errors.New("audit buffer full")

// Worker drains queued events into a sink so that slow sinks (the broker)
// never sit on the request path.
type Worker struct {
	sink   Sink
	inbox  chan Event
	logger *slog.Logger
}

// NewWorker creates a worker with a bounded buffer.
func NewWorker(sink Sink, buffer int, logger *slog.Logger) *Worker {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sink: sink, inbox: make(chan Event, buffer), logger: logger}
}

// Write enqueues event without blocking.
func (w *Worker) Write(_ context.Context, event Event) error {
	select {
	case w.inbox <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run forwards events until ctx is done, then flushes what is already queued.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			w.forward(ctx, event)
		}
	}
}

func (w *Worker) drain() {
	flushCtx := context.Background()
	for {
		select {
		case event := <-w.inbox:
			w.forward(flushCtx, event)
		default:
			return
		}
	}
}

func (w *Worker) forward(ctx context.Context, event Event) {
	if err := w.sink.Write(context.WithoutCancel(ctx), event); err != nil {
		w.logger.WarnContext(ctx, "audit event dropped",
			"event_id", event.ID,
			"action", event.Action,
			"error", err,
		)
	}
}
