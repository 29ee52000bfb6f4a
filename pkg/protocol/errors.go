package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownFieldType   = errors.New("protocol: unknown field type")
	ErrInvalidField       = errors.New("protocol: invalid field")
	ErrDuplicateField     = errors.New("protocol: duplicate field name")
	ErrTimestampField     = errors.New("protocol: invalid timestamp field")
	ErrFrameTooSmall      = errors.New("protocol: frame size too small")
	ErrLayoutExceedsFrame = errors.New("protocol: layout exceeds frame payload")
	ErrUnknownLayout      = errors.New("protocol: unknown layout")
)

// LayoutDefect is the panic value raised when a field read falls outside
// a candidate frame. NewDecoder rules this out, so seeing one means the
// decoder itself is broken; it is never reported as a rejected frame.
type LayoutDefect struct {
	Layout string
	Field  string
	End    int
	Frame  int
}

func (d *LayoutDefect) Error() string {
	return fmt.Sprintf("protocol: layout %q field %s ends at byte %d of a %d-byte frame", d.Layout, d.Field, d.End, d.Frame)
}
