package service

import (
	"sync"

	"github.com/Strob0t/Overwatch/internal/domain/event"
)

// DefaultDebugRingSize is how many recent events the bus keeps for diagnostics.
const DefaultDebugRingSize = 100

// ring keeps the most recent events, evicting the oldest first.
type ring struct {
	mu   sync.Mutex
	buf  []event.Event
	next int
	full bool
}

func newRing(size int) *ring {
	if size < 1 {
		size = DefaultDebugRingSize
	}
	return &ring{buf: make([]event.Event, size)}
}

func (r *ring) push(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// last returns up to n events, oldest first. n <= 0 returns everything held.
func (r *ring) last(n int) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]event.Event, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := range n {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
