package protocol

import "fmt"

// Frame describes what a sender puts on the wire for one frame.
type Frame struct {
	Timestamp uint32
	Values    map[string]float64
}

// Encoder builds wire frames for a layout, the same way the flight
// computer does. Missing values encode as zero; out-of-range values
// saturate.
type Encoder struct {
	layout    *FieldLayout
	frameSize int
	h1, h2    byte
}

func NewEncoder(layout *FieldLayout, frameSize int, h1, h2 byte) (*Encoder, error) {
	if layout == nil {
		return nil, fmt.Errorf("%w: nil layout", ErrUnknownLayout)
	}
	if frameSize <= FrameOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooSmall, frameSize)
	}
	if layout.PayloadSize() > frameSize-FrameOverhead {
		return nil, fmt.Errorf("%w: layout %s in %d-byte frame", ErrLayoutExceedsFrame, layout.Name(), frameSize)
	}
	return &Encoder{layout: layout, frameSize: frameSize, h1: h1, h2: h2}, nil
}

// EncoderFor mirrors a decoder's configuration.
func EncoderFor(d *Decoder) *Encoder {
	return &Encoder{layout: d.layout, frameSize: d.frameSize, h1: d.h1, h2: d.h2}
}

// Encode returns a complete frame with checksum.
func (e *Encoder) Encode(f Frame) []byte {
	out := make([]byte, e.frameSize)
	e.EncodeInto(out, f)
	return out
}

// EncodeInto writes the frame into buf, which must hold FrameSize bytes.
func (e *Encoder) EncodeInto(buf []byte, f Frame) {
	buf = buf[:e.frameSize]
	clear(buf)
	buf[0] = e.h1
	buf[1] = e.h2
	buf[2] = byte(e.frameSize - PayloadOffset)

	for i, field := range e.layout.fields {
		start := PayloadOffset + field.Offset
		dst := buf[start : start+field.Type.Width()]
		if i == e.layout.timestamp {
			field.Type.write(dst, int64(f.Timestamp))
			continue
		}
		value, ok := f.Values[field.Name]
		if !ok {
			continue
		}
		field.Type.write(dst, field.raw(value))
	}
	buf[e.frameSize-1] = checksum(buf[:e.frameSize-1])
}

func (e *Encoder) FrameSize() int {
	return e.frameSize
}
