package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// FieldType is a little-endian integer primitive on the wire.
type FieldType uint8

const (
	Uint8 FieldType = iota + 1
	Int8
	Uint16
	Int16
	Uint32
	Int32
)

func (t FieldType) Width() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32:
		return 4
	default:
		return 0
	}
}

func (t FieldType) Signed() bool {
	return t == Int8 || t == Int16 || t == Int32
}

func (t FieldType) String() string {
	switch t {
	case Uint8:
		return "uint8_t"
	case Int8:
		return "int8_t"
	case Uint16:
		return "uint16_t"
	case Int16:
		return "int16_t"
	case Uint32:
		return "uint32_t"
	case Int32:
		return "int32_t"
	default:
		return fmt.Sprintf("FieldType(%d)", uint8(t))
	}
}

// ParseFieldType accepts C spellings as they appear in firmware headers
// ("uint16_t", "const int16_t") as well as the short Go names.
func ParseFieldType(raw string) (FieldType, error) {
	switch normalizeCType(raw) {
	case "uint8_t", "uint8", "u8":
		return Uint8, nil
	case "int8_t", "int8", "i8":
		return Int8, nil
	case "uint16_t", "uint16", "u16":
		return Uint16, nil
	case "int16_t", "int16", "i16":
		return Int16, nil
	case "uint32_t", "uint32", "u32":
		return Uint32, nil
	case "int32_t", "int32", "i32":
		return Int32, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFieldType, raw)
	}
}

// read decodes the raw integer at data[0:Width()].
func (t FieldType) read(data []byte) int64 {
	switch t {
	case Uint8:
		return int64(data[0])
	case Int8:
		return int64(int8(data[0]))
	case Uint16:
		return int64(binary.LittleEndian.Uint16(data))
	case Int16:
		return int64(int16(binary.LittleEndian.Uint16(data)))
	case Uint32:
		return int64(binary.LittleEndian.Uint32(data))
	case Int32:
		return int64(int32(binary.LittleEndian.Uint32(data)))
	default:
		return 0
	}
}

// write stores raw into data[0:Width()], saturating to the type range.
func (t FieldType) write(data []byte, raw int64) {
	lo, hi := t.limits()
	raw = max(lo, min(raw, hi))
	switch t.Width() {
	case 1:
		data[0] = byte(raw)
	case 2:
		binary.LittleEndian.PutUint16(data, uint16(raw))
	case 4:
		binary.LittleEndian.PutUint32(data, uint32(raw))
	}
}

func (t FieldType) limits() (int64, int64) {
	switch t {
	case Uint8:
		return 0, math.MaxUint8
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Uint16:
		return 0, math.MaxUint16
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Uint32:
		return 0, math.MaxUint32
	case Int32:
		return math.MinInt32, math.MaxInt32
	default:
		return 0, 0
	}
}

func normalizeCType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "\t", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	s = strings.TrimPrefix(s, "const ")
	s = strings.TrimPrefix(s, "volatile ")
	return strings.TrimSpace(s)
}
