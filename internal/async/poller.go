package async

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MessageCounter reports how many messages the selected mailbox holds.
type MessageCounter interface {
	TotalMessageCount(ctx context.Context) (int, error)
}

// Poller watches the mailbox and queues every message from a start index onwards.
type Poller struct {
	counter  MessageCounter
	queue    Queue
	interval time.Duration
	logger   *slog.Logger

	next int
}

// NewPoller queues messages starting at the 1-based index start.
func NewPoller(counter MessageCounter, queue Queue, start int, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if start < 1 {
		start = 1
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{counter: counter, queue: queue, interval: interval, logger: logger, next: start}
}

// Next is the index the poller will queue next.
func (p *Poller) Next() int { return p.next }

// Poll queues every message that arrived since the last poll and returns how many were queued.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	total, err := p.counter.TotalMessageCount(ctx)
	if err != nil {
		return 0, err
	}
	if total < p.next-1 {
		// messages were expunged; sequence numbers have shifted under us
		p.logger.Warn("poller.mailbox_shrunk", "total", total, "next", p.next)
		p.next = total + 1
		return 0, nil
	}

	queued := 0
	for ; p.next <= total; p.next++ {
		job := Job{Index: p.next, SubmittedAt: time.Now(), TraceID: uuid.New().String()}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			return queued, err
		}
		queued++
	}
	if queued > 0 {
		p.logger.Info("poller.queued", "count", queued, "total", total)
	}
	return queued, nil
}

// Run polls immediately and then every interval until ctx is done.
// Count errors are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller.start", "next", p.next, "interval", p.interval.String())
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("poller.poll_failed", "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("poller.stop", "next", p.next)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
