package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telemlink/pkg/metrics"
	"telemlink/pkg/protocol"
)

// Pipeline owns a decoder and drives it from a stream of raw chunks. The
// decoder is only ever touched from Run's goroutine.
type Pipeline struct {
	dec        *protocol.Decoder
	hub        *Hub
	logger     zerolog.Logger
	statsEvery time.Duration
	onRecords  func([]protocol.Record)

	resetReq chan chan struct{}

	mu       sync.RWMutex
	stats    protocol.Stats
	buffered int
}

type PipelineOption func(*Pipeline)

func WithLogger(logger zerolog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithStatsInterval sets how often Run logs decoder counters. Zero disables.
func WithStatsInterval(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d >= 0 {
			p.statsEvery = d
		}
	}
}

// WithRecordHook is called synchronously with every non-empty batch, before
// the records are published.
func WithRecordHook(fn func([]protocol.Record)) PipelineOption {
	return func(p *Pipeline) {
		p.onRecords = fn
	}
}

func NewPipeline(dec *protocol.Decoder, hub *Hub, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		dec:        dec,
		hub:        hub,
		logger:     zerolog.Nop(),
		statsEvery: 10 * time.Second,
		resetReq:   make(chan chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run feeds every chunk from in to the decoder until ctx ends or in is
// closed. Records go to the hub without waiting on it.
func (p *Pipeline) Run(ctx context.Context, in <-chan []byte) {
	var tick <-chan time.Time
	if p.statsEvery > 0 {
		ticker := time.NewTicker(p.statsEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	layout := p.dec.Layout().Name()
	for {
		select {
		case <-ctx.Done():
			p.logStats("decoder stopped")
			return
		case chunk, ok := <-in:
			if !ok {
				p.logStats("source closed")
				return
			}
			p.feed(layout, chunk)
		case done := <-p.resetReq:
			p.dec.Reset()
			p.mu.Lock()
			p.stats = protocol.Stats{}
			p.mu.Unlock()
			close(done)
		case <-tick:
			p.logStats("decoder stats")
		}
	}
}

func (p *Pipeline) feed(layout string, chunk []byte) {
	records := p.dec.Feed(chunk)
	cur := p.dec.Stats()

	p.mu.RLock()
	prev := p.stats
	p.mu.RUnlock()

	if d := metrics.Delta(prev, cur); d.Rejected > 0 || d.ResyncDrops > 0 {
		p.logger.Debug().
			Uint64("rejected", d.Rejected).
			Uint64("resync_drops", d.ResyncDrops).
			Uint64("dropped_bytes", d.DroppedBytes).
			Msg("frames lost")
	}

	if len(records) > 0 && p.onRecords != nil {
		p.onRecords(records)
	}
	if p.hub != nil {
		for _, rec := range records {
			p.hub.TryPublish(rec)
		}
	}

	metrics.RecordDecode(layout, prev, cur, len(chunk), p.dec.Buffered())

	p.mu.Lock()
	p.stats = cur
	p.buffered = p.dec.Buffered()
	p.mu.Unlock()
}

func (p *Pipeline) logStats(msg string) {
	st := p.Stats()
	p.logger.Info().
		Str("layout", p.dec.Layout().Name()).
		Uint64("accepted", st.Accepted).
		Uint64("rejected", st.Rejected).
		Uint64("false_headers", st.FalseHeaders).
		Uint64("resync_drops", st.ResyncDrops).
		Msg(msg)
}

// Stats is safe to call from any goroutine; it reflects the decoder as of
// the last processed chunk.
func (p *Pipeline) Stats() protocol.Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// Buffered reports decoder backlog as of the last processed chunk.
func (p *Pipeline) Buffered() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.buffered
}

// HubDropped counts records lost in the hub, whether its broadcast queue
// or a subscriber's channel was full.
func (p *Pipeline) HubDropped() uint64 {
	if p.hub == nil {
		return 0
	}
	return p.hub.Dropped()
}

// ResetStats asks Run to zero the decoder counters and waits until it has.
func (p *Pipeline) ResetStats(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case p.resetReq <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Layout names the decoder's layout.
func (p *Pipeline) Layout() string {
	return p.dec.Layout().Name()
}
