package engine

import (
	"context"
	"sync"

	"telemlink/pkg/protocol"
)

// History keeps the last N records for consumers that poll instead of
// subscribe, such as a UI refresh timer.
type History struct {
	mu    sync.RWMutex
	buf   []protocol.Record
	next  int
	full  bool
	total uint64
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{buf: make([]protocol.Record, size)}
}

func (h *History) Add(rec protocol.Record) {
	h.mu.Lock()
	h.buf[h.next] = rec
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	h.total++
	h.mu.Unlock()
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}

// Total counts every record ever added, including evicted ones.
func (h *History) Total() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// Snapshot returns up to n of the newest records, oldest first. n <= 0
// returns everything held.
func (h *History) Snapshot(n int) []protocol.Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.next
	if h.full {
		size = len(h.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]protocol.Record, 0, n)
	start := h.next - n
	if start < 0 {
		start += len(h.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

// Latest returns the newest record.
func (h *History) Latest() (protocol.Record, bool) {
	recs := h.Snapshot(1)
	if len(recs) == 0 {
		return protocol.Record{}, false
	}
	return recs[0], true
}

// Consume fills the history from a hub subscription until ctx ends or in
// is closed.
func (h *History) Consume(ctx context.Context, in <-chan protocol.Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			h.Add(rec)
		}
	}
}
