package protocol

import (
	"bytes"
	"fmt"
)

// ResyncPolicy decides what happens to the buffer when no header byte can
// be found in it at all.
type ResyncPolicy uint8

const (
	// DropBuffer discards every buffered byte and waits for fresh data
	// (on_total_resync_failure: drop_buffer). Delivery is therefore not
	// lossless: memory stays bounded by one frame plus one chunk.
	DropBuffer ResyncPolicy = iota
)

func (p ResyncPolicy) String() string {
	switch p {
	case DropBuffer:
		return "drop_buffer"
	default:
		return fmt.Sprintf("ResyncPolicy(%d)", uint8(p))
	}
}

// ParseResyncPolicy accepts the config spelling of a policy.
func ParseResyncPolicy(s string) (ResyncPolicy, error) {
	switch s {
	case "", "drop_buffer":
		return DropBuffer, nil
	default:
		return 0, fmt.Errorf("protocol: unknown resync policy %q", s)
	}
}

// Stats counts decode outcomes. Accepted and Rejected only grow until
// Reset; the remaining counters are diagnostics.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`

	FalseHeaders uint64 `json:"false_headers"`
	ResyncDrops  uint64 `json:"resync_drops"`
	DroppedBytes uint64 `json:"dropped_bytes"`
}

type Option func(*Decoder)

// WithHeader sets the two frame start bytes.
func WithHeader(h1, h2 byte) Option {
	return func(d *Decoder) {
		d.h1 = h1
		d.h2 = h2
	}
}

func WithResyncPolicy(p ResyncPolicy) Option {
	return func(d *Decoder) {
		d.policy = p
	}
}

// Decoder turns an arbitrarily chunked byte stream into records. It is not
// safe for concurrent use; one goroutine should own it.
type Decoder struct {
	layout    *FieldLayout
	frameSize int
	h1, h2    byte
	policy    ResyncPolicy

	buf   []byte
	stats Stats
}

// NewDecoder binds a layout to a frame size. frameSize counts the whole
// wire frame: header, length byte, payload and checksum.
func NewDecoder(layout *FieldLayout, frameSize int, opts ...Option) (*Decoder, error) {
	if layout == nil {
		return nil, fmt.Errorf("%w: nil layout", ErrUnknownLayout)
	}
	if frameSize <= FrameOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooSmall, frameSize)
	}
	if layout.PayloadSize() > frameSize-FrameOverhead {
		return nil, fmt.Errorf("%w: layout %s needs %d payload bytes, frame of %d holds %d",
			ErrLayoutExceedsFrame, layout.Name(), layout.PayloadSize(), frameSize, frameSize-FrameOverhead)
	}

	d := &Decoder{
		layout:    layout,
		frameSize: frameSize,
		h1:        DefaultHeader1,
		h2:        DefaultHeader2,
		policy:    DropBuffer,
		buf:       make([]byte, 0, 4*frameSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.policy != DropBuffer {
		return nil, fmt.Errorf("protocol: unknown resync policy %s", d.policy)
	}
	return d, nil
}

func (d *Decoder) Layout() *FieldLayout {
	return d.layout
}

func (d *Decoder) FrameSize() int {
	return d.frameSize
}

func (d *Decoder) Policy() ResyncPolicy {
	return d.policy
}

// Header returns the configured start bytes.
func (d *Decoder) Header() (byte, byte) {
	return d.h1, d.h2
}

// Buffered is the number of bytes waiting for the rest of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) Stats() Stats {
	return d.stats
}

// Reset zeroes the counters. Buffered bytes are kept.
func (d *Decoder) Reset() {
	d.stats = Stats{}
}

// Feed appends chunk and returns every record completed by it, in arrival
// order. Malformed input never produces an error: it is skipped and shows
// up in Stats.
func (d *Decoder) Feed(chunk []byte) []Record {
	d.buf = append(d.buf, chunk...)

	var out []Record
	pos := 0
	for {
		pending := d.buf[pos:]

		idx := bytes.IndexByte(pending, d.h1)
		if idx < 0 {
			pos = d.resync(pos)
			break
		}
		if idx > 0 {
			d.stats.DroppedBytes += uint64(idx)
			pos += idx
			pending = pending[idx:]
		}

		if len(pending) < 2 {
			break
		}
		if pending[1] != d.h2 {
			d.stats.FalseHeaders++
			d.stats.DroppedBytes++
			pos++
			continue
		}
		if len(pending) < d.frameSize {
			break
		}

		// The candidate leaves the buffer whatever the checksum says, so a
		// corrupt frame is not rescanned from its own header.
		frame := pending[:d.frameSize]
		pos += d.frameSize

		if checksum(frame[:d.frameSize-1]) != frame[d.frameSize-1] {
			d.stats.Rejected++
			continue
		}

		ts, values := d.layout.decode(frame)
		d.stats.Accepted++
		out = append(out, Record{Timestamp: ts, layout: d.layout, values: values})
	}

	d.compact(pos)
	return out
}

// resync applies the policy to a buffer tail that holds no header byte
// and returns the position scanning resumes from.
func (d *Decoder) resync(pos int) int {
	switch d.policy {
	case DropBuffer:
		if tail := len(d.buf) - pos; tail > 0 {
			d.stats.ResyncDrops++
			d.stats.DroppedBytes += uint64(tail)
		}
		return len(d.buf)
	}
	return pos
}

func (d *Decoder) compact(pos int) {
	if pos == 0 {
		return
	}
	n := copy(d.buf, d.buf[pos:])
	d.buf = d.buf[:n]
}

// checksum is the XOR of data.
func checksum(data []byte) byte {
	var c byte
	for _, b := range data {
		c ^= b
	}
	return c
}
