package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Batcher coalesces notifications into arrays before delivery. A batch
// flushes when it reaches MaxBatch entries or when MaxWait elapses
// after the first entry, whichever comes first. Failed batches are
// dropped, not retried; the notifier's counters record the loss.
type Batcher struct {
	n        *Notifier
	maxBatch int
	maxWait  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending []any
	timer   *time.Timer
	closed  bool
}

func NewBatcher(n *Notifier, maxBatch int, maxWait time.Duration, logger *slog.Logger) *Batcher {
	if maxBatch < 1 {
		maxBatch = 1
	}
	if maxWait <= 0 {
		maxWait = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		n:        n,
		maxBatch: maxBatch,
		maxWait:  maxWait,
		logger:   logger,
	}
}

// Add queues one notification, flushing synchronously when the batch
// is full. Adding to a closed batcher is a no-op.
func (b *Batcher) Add(payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, payload)
	if len(b.pending) >= b.maxBatch {
		batch := b.pending
		b.pending = nil
		b.stopTimerLocked()
		b.mu.Unlock()
		b.deliver(batch)
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.maxWait, b.flushTimer)
	}
	b.mu.Unlock()
}

func (b *Batcher) flushTimer() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.timer = nil
	closed := b.closed
	b.mu.Unlock()
	if closed || len(batch) == 0 {
		return
	}
	b.deliver(batch)
}

func (b *Batcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Batcher) deliver(batch []any) {
	if err := b.n.Notify(context.Background(), batch); err != nil {
		b.logger.Warn("dropping failed batch",
			slog.String("session", b.n.ID()),
			slog.Int("size", len(batch)),
			slog.Any("error", err))
	}
}

// Close flushes any pending batch and stops the timer.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	batch := b.pending
	b.pending = nil
	b.stopTimerLocked()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.deliver(batch)
	}
}
