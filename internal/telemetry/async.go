package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/state"
)

// DefaultQueueSize bounds the number of pending feed writes.
const DefaultQueueSize = 64

// Stats counts what happened to feed writes since startup.
type Stats struct {
	Sent       uint64
	Failed     uint64
	Dropped    uint64
	Suppressed uint64
}

// Async is a fire-and-forget Publisher. Writes are queued and drained by Run;
// while the link is not connected they are suppressed instead of sent, and
// when the queue is full they are dropped.
type Async struct {
	inner   Publisher
	link    state.Reader[logic.ConnectivityState]
	report  func(error)
	queue   chan Message
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	sent       atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
	suppressed atomic.Uint64
}

// NewAsync wraps inner. report receives the outcome of every send (nil on
// success) and may be nil.
func NewAsync(inner Publisher, link state.Reader[logic.ConnectivityState], report func(error), queueSize int, logger *zap.Logger) *Async {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	if report == nil {
		report = func(error) {}
	}
	return &Async{
		inner:   inner,
		link:    link,
		report:  report,
		queue:   make(chan Message, queueSize),
		timeout: 10 * time.Second,
		now:     time.Now,
		logger:  logger,
	}
}

// Publish enqueues a feed write and never blocks. It only returns an error
// from the context.
func (a *Async) Publish(ctx context.Context, feed Feed, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.link.Load().Online() {
		a.suppressed.Add(1)
		a.logger.Debug("telemetry suppressed while offline", zap.String("feed", string(feed)))
		return nil
	}
	select {
	case a.queue <- Message{Feed: feed, Value: value, Timestamp: a.now()}:
	default:
		a.dropped.Add(1)
		a.logger.Warn("telemetry queue full, dropping", zap.String("feed", string(feed)))
	}
	return nil
}

// PublishNow sends synchronously, bypassing the queue. Used for last-gasp
// notifications before a restart. Still suppressed while offline.
func (a *Async) PublishNow(ctx context.Context, feed Feed, value any) error {
	if !a.link.Load().Online() {
		a.suppressed.Add(1)
		return nil
	}
	return a.send(ctx, Message{Feed: feed, Value: value, Timestamp: a.now()})
}

// Run drains the queue until ctx is cancelled.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.queue:
			if !a.link.Load().Online() {
				a.suppressed.Add(1)
				continue
			}
			if err := a.send(ctx, msg); err != nil {
				a.logger.Warn("telemetry publish failed",
					zap.String("feed", string(msg.Feed)),
					zap.Error(err))
			}
		}
	}
}

func (a *Async) send(ctx context.Context, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := a.inner.Publish(sendCtx, msg.Feed, msg.Value)
	if ctx.Err() != nil {
		// Cancellation says nothing about the link.
		return err
	}
	a.report(err)
	if err != nil {
		a.failed.Add(1)
		return err
	}
	a.sent.Add(1)
	return nil
}

// Stats returns the counters.
func (a *Async) Stats() Stats {
	return Stats{
		Sent:       a.sent.Load(),
		Failed:     a.failed.Load(),
		Dropped:    a.dropped.Load(),
		Suppressed: a.suppressed.Load(),
	}
}

// Pending returns the number of queued writes.
func (a *Async) Pending() int {
	return len(a.queue)
}

// Close closes the inner transport.
func (a *Async) Close() error {
	return a.inner.Close()
}
