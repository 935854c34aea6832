// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package realtime

import (
	"context"
	"sync"

	"github.com/tomtom215/deskline/internal/metrics"
)

// OutboundQueue is an unbounded FIFO of frames waiting for a socket writer.
// Frames enqueued while no session is connected are held until one is.
// Enqueue never blocks; Next blocks until a frame is available.
type OutboundQueue struct {
	mu     sync.Mutex
	items  []OutboundFrame
	signal chan struct{}
	closed bool
}

// NewOutboundQueue creates an empty queue.
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{signal: make(chan struct{}, 1)}
}

// Enqueue appends f to the tail of the queue.
func (q *OutboundQueue) Enqueue(f OutboundFrame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, f)
	q.mu.Unlock()

	metrics.RealtimeOutboundQueueDepth.Inc()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// TryNext pops the head frame without blocking.
func (q *OutboundQueue) TryNext() (OutboundFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	f := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	metrics.RealtimeOutboundQueueDepth.Dec()
	return f, true
}

// Next pops the head frame, waiting until one is available, ctx is done or
// the queue is closed and drained.
func (q *OutboundQueue) Next(ctx context.Context) (OutboundFrame, error) {
	for {
		if f, ok := q.TryNext(); ok {
			return f, nil
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued frames.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further frames and wakes blocked readers. Frames already
// queued can still be drained.
func (q *OutboundQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Drain removes and returns every queued frame.
func (q *OutboundQueue) Drain() []OutboundFrame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	metrics.RealtimeOutboundQueueDepth.Sub(float64(len(out)))
	return out
}
