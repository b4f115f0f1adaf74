// Package queue provides the fixed-capacity buffer between the UDP read
// loops and the worker pool. Overflow drops the newest datagram and counts
// it; the ingestion side never blocks.
package queue

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// Entry is one raw datagram waiting for a worker
type Entry struct {
	Data       []byte
	Addr       *net.UDPAddr
	ReceivedAt time.Time
	Socket     string // Identity of the receiving socket
}

// Queue is a bounded FIFO of inbound datagrams
type Queue struct {
	entries  chan Entry
	capacity int
	drops    atomic.Uint64
	closed   atomic.Bool
}

// New creates a queue with the given capacity
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		entries:  make(chan Entry, capacity),
		capacity: capacity,
	}
}

// Push enqueues an entry without blocking. When the queue is full or closed
// the entry is dropped, the drop counter incremented, and false returned.
func (q *Queue) Push(e Entry) bool {
	if q.closed.Load() {
		q.drops.Add(1)
		return false
	}
	select {
	case q.entries <- e:
		return true
	default:
		q.drops.Add(1)
		return false
	}
}

// Pop blocks until an entry is available or ctx is done. The second return
// is false when the wait was cancelled or the queue closed and drained.
func (q *Queue) Pop(ctx context.Context) (Entry, bool) {
	select {
	case e, ok := <-q.entries:
		return e, ok
	case <-ctx.Done():
		// One last non-blocking read so drains race cleanly with intake
		select {
		case e, ok := <-q.entries:
			return e, ok
		default:
			return Entry{}, false
		}
	}
}

// TryPop returns an entry if one is immediately available
func (q *Queue) TryPop() (Entry, bool) {
	select {
	case e, ok := <-q.entries:
		return e, ok
	default:
		return Entry{}, false
	}
}

// Close stops intake. Entries already queued remain readable until drained.
// Callers must stop all producers before closing.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.entries)
	}
}

// Len returns the number of queued entries
func (q *Queue) Len() int { return len(q.entries) }

// Cap returns the configured capacity
func (q *Queue) Cap() int { return q.capacity }

// Drops returns the number of datagrams dropped on overflow
func (q *Queue) Drops() uint64 { return q.drops.Load() }
