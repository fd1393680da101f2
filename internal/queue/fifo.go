// Package queue implements the bounded, mutex-guarded FIFO shared by the
// send and receive paths. It intentionally does no signaling of its own —
// pairing a mutation with an event wakeup is the owning component's job
// (internal/engine), matching the separation of concerns in the teacher's
// registry/state packages (a plain data structure, signaling layered on
// top by the caller).
package queue

import (
	"sync"

	"github.com/joshuafuller/groupcast/internal/bufferpool"
)

// FIFO is an ordered, mutex-guarded sequence of buffers.
type FIFO struct {
	mu    sync.Mutex
	items []*bufferpool.Buffer
}

// PushBack appends b to the tail of the queue and returns the new length.
func (q *FIFO) PushBack(b *bufferpool.Buffer) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, b)
	return len(q.items)
}

// PushFront re-inserts b at the head of the queue (used to preserve
// ordering when a partial drain would-blocks mid-datagram) and returns the
// new length.
func (q *FIFO) PushFront(b *bufferpool.Buffer) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = b
	return len(q.items)
}

// PopFront removes and returns the head buffer, or (nil, false) if empty.
func (q *FIFO) PopFront() (*bufferpool.Buffer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return b, true
}

// Len returns the current queue length.
func (q *FIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear empties the queue, releasing every buffer back to its pool.
func (q *FIFO) Clear() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, b := range items {
		if b != nil {
			b.Release()
		}
	}
}
