// Package progressbus delivers progress ticks for one execution to the
// platform-comment rewriter in strict per-comment order (§5: "comment
// updates to the platform API must preserve that order even when the
// platform API is asynchronous — queue per comment id").
package progressbus

import (
	"context"
	"log/slog"
	"sync"
)

// Event is one progress tick (or the terminating success/failure tick)
// bound to the platform comment it should be rendered into.
type Event struct {
	CommentID    string
	DiscussionID string
	Message      string
	Final        bool
}

// Handler renders one Event against the platform API. Handler errors are
// logged and otherwise swallowed (§7: a progress-comment failure must
// never abort the execution it's reporting on).
type Handler func(ctx context.Context, event Event) error

// queueBufferSize bounds how many ticks for one comment can be pending
// before Publish starts blocking the caller; generous enough that a slow
// handler never has to drop a tick out of order.
const queueBufferSize = 256

// MemoryBus is an in-process, per-comment-ordered progress bus. One
// worker goroutine per active comment id pulls events off its queue and
// calls Handler sequentially, so two goroutines publishing progress for
// the same comment can never interleave or reorder at the handler.
type MemoryBus struct {
	mu      sync.Mutex
	queues  map[string]chan Event
	handler Handler
	logger  *slog.Logger
}

// NewMemoryBus builds a bus that delivers every event to handler.
func NewMemoryBus(handler Handler, logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		queues:  make(map[string]chan Event),
		handler: handler,
		logger:  logger,
	}
}

// Publish enqueues event for its comment id's worker. The worker is
// started lazily on first use and torn down after delivering a Final
// event, so idle comment ids don't leak goroutines.
func (b *MemoryBus) Publish(ctx context.Context, event Event) {
	ch := b.queueFor(event.CommentID)
	ch <- event
	if event.Final {
		b.retireQueue(event.CommentID, ch)
	}
	_ = ctx
}

func (b *MemoryBus) queueFor(commentID string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.queues[commentID]
	if !ok {
		ch = make(chan Event, queueBufferSize)
		b.queues[commentID] = ch
		go b.drain(commentID, ch)
	}
	return ch
}

// retireQueue removes the map entry for commentID once its Final event
// has been enqueued, so a later reply to the same comment id (unlikely
// but not impossible) starts a fresh worker rather than reusing a
// channel whose worker stops reading after that Final event.
func (b *MemoryBus) retireQueue(commentID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queues[commentID] == ch {
		delete(b.queues, commentID)
	}
}

func (b *MemoryBus) drain(commentID string, ch chan Event) {
	for event := range ch {
		if err := b.handler(context.Background(), event); err != nil {
			b.logger.Warn("progress handler failed", "comment_id", commentID, "error", err)
		}
		if event.Final {
			return
		}
	}
}

// Close drains no further events; in-flight worker goroutines finish
// delivering what's already queued and then exit on their own once
// their Final event (if any) passes through.
func (b *MemoryBus) Close() error {
	return nil
}
