package registers

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrMissingData = errors.New("missing data")
	ErrTruncated   = errors.New("truncated")
	ErrUnknownType = errors.New("unknown type")
	// ErrNonFinite is returned for NaN or infinite floating point registers.
	// The buffer cannot hold them, so the entry is skipped like any other bad read.
	ErrNonFinite = errors.New("non-finite value")
)

// DecodeError reports why a single map entry produced no value.
type DecodeError struct {
	Channel string
	Address uint16
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s@%d: %v", e.Channel, e.Address, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode interprets the words at offset according to typ.
// BOOL, BIT and INT are returned unscaled; the other types are multiplied by scale.
// bit selects a single bit of the word for BOOL and BIT when non-nil.
// Decode never reads outside words and never substitutes a value for missing registers
// or for floats that are NaN or infinite.
func Decode(words []uint16, offset int, typ Type, scale float64, bit *int, order Order) (float64, error) {
	width := typ.Width()
	if width == 0 {
		return 0, ErrUnknownType
	}
	if offset < 0 || offset >= len(words) {
		return 0, ErrMissingData
	}
	if offset+width > len(words) {
		return 0, ErrTruncated
	}

	w := words[offset : offset+width]
	switch typ {
	case TypeBool, TypeBit:
		v := w[0]
		if bit != nil {
			if *bit < 0 || *bit > 15 {
				return 0, fmt.Errorf("bit position %d: %w", *bit, ErrUnknownType)
			}
			return float64((v >> uint(*bit)) & 1), nil
		}
		if typ == TypeBit {
			return float64(v & 1), nil
		}
		if v != 0 {
			return 1, nil
		}
		return 0, nil
	case TypeInt:
		return float64(w[0]), nil
	case TypeUDInt:
		return float64(uint32(combine(w, order))) * scale, nil
	case TypeLReal:
		return finite(math.Float64frombits(combine(w, order)) * scale)
	case TypeFloat:
		return finite(float64(math.Float32frombits(uint32(combine(w, order)))) * scale)
	}
	return 0, ErrUnknownType
}

func finite(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNonFinite
	}
	return v, nil
}

// combine joins words into one integer, most significant word first after ordering.
func combine(w []uint16, order Order) uint64 {
	var out uint64
	n := len(w)
	for i := 0; i < n; i++ {
		idx := i
		if order.Words == LowWordFirst {
			idx = n - 1 - i
		}
		v := w[idx]
		if order.Bytes == SwappedBytes {
			v = v<<8 | v>>8
		}
		out = out<<16 | uint64(v)
	}
	return out
}

// Encode is the inverse of combine for the given width; used by simulators and tests.
func Encode(bits uint64, width int, order Order) []uint16 {
	out := make([]uint16, width)
	for i := 0; i < width; i++ {
		v := uint16(bits >> (16 * uint(width-1-i)))
		if order.Bytes == SwappedBytes {
			v = v<<8 | v>>8
		}
		idx := i
		if order.Words == LowWordFirst {
			idx = width - 1 - i
		}
		out[idx] = v
	}
	return out
}

// EncodeValue renders v as the words Decode would turn back into v (scale 1).
func EncodeValue(v float64, typ Type, order Order) []uint16 {
	switch typ {
	case TypeBool, TypeBit:
		if v != 0 {
			return []uint16{1}
		}
		return []uint16{0}
	case TypeInt:
		return []uint16{uint16(v)}
	case TypeUDInt:
		return Encode(uint64(uint32(v)), 2, order)
	case TypeLReal:
		return Encode(math.Float64bits(v), 4, order)
	default:
		return Encode(uint64(math.Float32bits(float32(v))), 2, order)
	}
}
