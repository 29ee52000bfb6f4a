package protocol

import (
	"fmt"
	"math"
	"strconv"
)

// PayloadOffset is where field offsets start: two header bytes and the
// length byte precede the payload.
const PayloadOffset = 3

// FrameOverhead counts the bytes of a frame that are not payload: header,
// length byte and trailing checksum.
const FrameOverhead = PayloadOffset + 1

// Field describes one scaled value inside the payload. The physical value
// is raw * Scale / Div; a zero Scale or Div counts as 1, so firmware
// resolutions like "degrees x 10" are written as Div: 10.
type Field struct {
	Name   string
	Offset int
	Type   FieldType
	Scale  float64
	Div    float64
}

func (f Field) scale() float64 {
	if f.Scale == 0 {
		return 1
	}
	return f.Scale
}

func (f Field) div() float64 {
	if f.Div == 0 {
		return 1
	}
	return f.Div
}

func (f Field) unscaled() bool {
	return f.scale() == 1 && f.div() == 1
}

func (f Field) physical(raw int64) float64 {
	v := float64(raw)
	if s := f.scale(); s != 1 {
		v *= s
	}
	if d := f.div(); d != 1 {
		v /= d
	}
	return v
}

func (f Field) raw(value float64) int64 {
	return int64(math.Round(value * f.div() / f.scale()))
}

func (f Field) end() int {
	return f.Offset + f.Type.Width()
}

// Repeat builds count descriptors named prefix_1..prefix_count spaced
// stride bytes apart, each divided by div.
func Repeat(prefix string, count int, offset int, stride int, typ FieldType, div float64) []Field {
	out := make([]Field, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, Field{
			Name:   prefix + "_" + strconv.Itoa(i+1),
			Offset: offset + i*stride,
			Type:   typ,
			Div:    div,
		})
	}
	return out
}

// FieldLayout maps the fixed-size payload of one protocol version to named
// values. It is immutable once built and safe to share between decoders.
type FieldLayout struct {
	name      string
	fields    []Field
	index     map[string]int
	timestamp int
	size      int
}

// NewFieldLayout validates fields and returns the layout. The timestamp
// field must be an unscaled uint32.
func NewFieldLayout(name string, timestampField string, fields ...Field) (*FieldLayout, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: layout name is empty", ErrInvalidField)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: layout %s has no fields", ErrInvalidField, name)
	}

	l := &FieldLayout{
		name:      name,
		fields:    make([]Field, 0, len(fields)),
		index:     make(map[string]int, len(fields)),
		timestamp: -1,
	}
	for _, field := range fields {
		if field.Name == "" {
			return nil, fmt.Errorf("%w: layout %s has a field with empty name", ErrInvalidField, name)
		}
		if field.Type.Width() == 0 {
			return nil, fmt.Errorf("%w: field %s", ErrUnknownFieldType, field.Name)
		}
		if field.Offset < 0 {
			return nil, fmt.Errorf("%w: field %s has negative offset %d", ErrInvalidField, field.Name, field.Offset)
		}
		if _, ok := l.index[field.Name]; ok {
			return nil, fmt.Errorf("%w: %s in layout %s", ErrDuplicateField, field.Name, name)
		}
		l.index[field.Name] = len(l.fields)
		l.fields = append(l.fields, field)
		l.size = max(l.size, field.end())
	}

	idx, ok := l.index[timestampField]
	if !ok {
		return nil, fmt.Errorf("%w: %q not found in layout %s", ErrTimestampField, timestampField, name)
	}
	ts := l.fields[idx]
	if ts.Type != Uint32 || !ts.unscaled() {
		return nil, fmt.Errorf("%w: %s must be an unscaled uint32, got %s", ErrTimestampField, ts.Name, ts.Type)
	}
	l.timestamp = idx
	return l, nil
}

// MustFieldLayout is NewFieldLayout for package-level layout tables.
func MustFieldLayout(name string, timestampField string, fields ...Field) *FieldLayout {
	l, err := NewFieldLayout(name, timestampField, fields...)
	if err != nil {
		panic(err)
	}
	return l
}

func (l *FieldLayout) Name() string {
	return l.name
}

// PayloadSize is the number of payload bytes the layout reaches into.
func (l *FieldLayout) PayloadSize() int {
	return l.size
}

func (l *FieldLayout) TimestampField() string {
	return l.fields[l.timestamp].Name
}

func (l *FieldLayout) Fields() []Field {
	return append([]Field(nil), l.fields...)
}

func (l *FieldLayout) Field(name string) (Field, bool) {
	idx, ok := l.index[name]
	if !ok {
		return Field{}, false
	}
	return l.fields[idx], true
}

// MinFrameSize is the smallest frame that can carry this layout.
func (l *FieldLayout) MinFrameSize() int {
	return l.size + FrameOverhead
}

// decode reads every field from a full candidate frame. values is indexed
// like l.fields.
func (l *FieldLayout) decode(frame []byte) (uint32, []float64) {
	values := make([]float64, len(l.fields))
	var ts uint32
	for i, field := range l.fields {
		start := PayloadOffset + field.Offset
		end := start + field.Type.Width()
		if end > len(frame)-1 {
			panic(&LayoutDefect{Layout: l.name, Field: field.Name, End: end, Frame: len(frame)})
		}
		raw := field.Type.read(frame[start:end])
		if i == l.timestamp {
			ts = uint32(raw)
		}
		values[i] = field.physical(raw)
	}
	return ts, values
}
