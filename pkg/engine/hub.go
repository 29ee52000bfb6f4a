package engine

import (
	"context"
	"sync/atomic"

	"telemlink/pkg/metrics"
	"telemlink/pkg/protocol"
)

// Hub fans decoded records out to subscribers. Every subscriber has its own
// bounded channel; a full channel drops records for that subscriber only.
type Hub struct {
	broadcast  chan protocol.Record
	register   chan chan protocol.Record
	unregister chan chan protocol.Record
	clients    map[chan protocol.Record]struct{}
	clientBuf  int

	dropped atomic.Uint64
}

type Option func(*Hub)

func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan protocol.Record, size)
		}
	}
}

func WithClientBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broadcast:  make(chan protocol.Record, 256),
		register:   make(chan chan protocol.Record),
		unregister: make(chan chan protocol.Record),
		clients:    make(map[chan protocol.Record]struct{}),
		clientBuf:  100,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case rec := <-h.broadcast:
			for ch := range h.clients {
				select {
				case ch <- rec:
				default:
					h.drop()
				}
			}
		}
	}
}

func (h *Hub) Subscribe() chan protocol.Record {
	return h.SubscribeWithBuffer(h.clientBuf)
}

func (h *Hub) SubscribeWithBuffer(size int) chan protocol.Record {
	if size <= 0 {
		size = h.clientBuf
	}
	ch := make(chan protocol.Record, size)
	h.register <- ch
	return ch
}

func (h *Hub) Unsubscribe(ch chan protocol.Record) {
	h.unregister <- ch
}

// Publish waits for room in the broadcast queue.
func (h *Hub) Publish(rec protocol.Record) {
	h.broadcast <- rec
}

// TryPublish never waits; it reports false when the broadcast queue is
// full and the record was dropped.
func (h *Hub) TryPublish(rec protocol.Record) bool {
	select {
	case h.broadcast <- rec:
		return true
	default:
		h.drop()
		return false
	}
}

func (h *Hub) drop() {
	h.dropped.Add(1)
	metrics.RecordHubDrops(1)
}

// Dropped counts records lost to full queues, hub-wide and per subscriber.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
