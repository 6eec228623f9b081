package session

import (
	"context"
	"sync"
	"time"

	"github.com/louisbranch/checkpointsync/internal/platform/timeouts"
	"go.uber.org/zap"
)

// write is one queued durable session update.
type write struct {
	op        string
	sessionID string
	run       func(context.Context) error
}

// persister applies session writes in FIFO order on a single goroutine so
// repository latency never blocks event dispatch. Failed writes are logged
// and dropped.
type persister struct {
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	queue   []write
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func newPersister(log *zap.Logger, timeout time.Duration) *persister {
	if timeout <= 0 {
		timeout = timeouts.Repository
	}
	p := &persister{
		log:     log,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.loop()
	return p
}

// enqueue schedules w. Writes after close are dropped.
func (p *persister) enqueue(w write) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.log.Warn("session write dropped after close", zap.String("op", w.op), zap.String("session_id", w.sessionID))
		return
	}
	p.queue = append(p.queue, w)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// flush blocks until every write queued before the call has run.
func (p *persister) flush(ctx context.Context) error {
	marker := make(chan struct{})
	p.enqueue(write{op: "flush", run: func(context.Context) error {
		close(marker)
		return nil
	}})
	select {
	case <-marker:
		return nil
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains pending writes and stops the loop.
func (p *persister) close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *persister) loop() {
	defer close(p.stopped)
	for {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		closed := p.closed
		p.mu.Unlock()

		for _, w := range batch {
			p.apply(w)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-p.wake:
		case <-p.done:
		}
	}
}

func (p *persister) apply(w write) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := w.run(ctx); err != nil {
		p.log.Error("session write failed",
			zap.String("op", w.op),
			zap.String("session_id", w.sessionID),
			zap.Error(err),
		)
	}
}
