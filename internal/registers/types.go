package registers

import (
	"fmt"
	"strings"
)

// Type is the declared data type of a register map entry.
type Type int

const (
	TypeFloat Type = iota // 32-bit IEEE-754, the default for unrecognised tags
	TypeBool
	TypeBit
	TypeInt
	TypeUDInt
	TypeLReal
)

func (t Type) String() string {
	switch t {
	case TypeFloat:
		return "FLOAT"
	case TypeBool:
		return "BOOL"
	case TypeBit:
		return "BIT"
	case TypeInt:
		return "INT"
	case TypeUDInt:
		return "UDINT"
	case TypeLReal:
		return "LREAL"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Width is the number of 16-bit words the type occupies.
func (t Type) Width() int {
	switch t {
	case TypeBool, TypeBit, TypeInt:
		return 1
	case TypeUDInt, TypeFloat:
		return 2
	case TypeLReal:
		return 4
	default:
		return 0
	}
}

// ParseType maps a register list type tag to a Type.
// known is false when the tag was not recognised and FLOAT was assumed.
func ParseType(tag string) (t Type, known bool) {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "BOOL":
		return TypeBool, true
	case "BIT":
		return TypeBit, true
	case "INT":
		return TypeInt, true
	case "UDINT":
		return TypeUDInt, true
	case "LREAL":
		return TypeLReal, true
	case "", "FLOAT", "REAL":
		return TypeFloat, true
	default:
		return TypeFloat, false
	}
}

// WordOrder is the order of 16-bit words inside a multi-word value.
type WordOrder int

const (
	LowWordFirst WordOrder = iota
	HighWordFirst
)

// ByteOrder is the order of the two bytes inside each word.
type ByteOrder int

const (
	BigEndianBytes ByteOrder = iota
	SwappedBytes
)

// Order describes how multi-word values are laid out on a particular device.
type Order struct {
	Words WordOrder
	Bytes ByteOrder
}

// DefaultOrder is low word first with standard Modbus byte order inside each word.
var DefaultOrder = Order{Words: LowWordFirst, Bytes: BigEndianBytes}

// ParseOrder parses word_order (low_first|high_first) and byte_order (big|swap).
func ParseOrder(words, bytes string) (Order, error) {
	o := DefaultOrder
	switch strings.ToLower(strings.TrimSpace(words)) {
	case "", "low_first", "low", "cdab":
		o.Words = LowWordFirst
	case "high_first", "high", "abcd":
		o.Words = HighWordFirst
	default:
		return o, fmt.Errorf("unknown word order %q", words)
	}
	switch strings.ToLower(strings.TrimSpace(bytes)) {
	case "", "big":
		o.Bytes = BigEndianBytes
	case "swap", "swapped", "little":
		o.Bytes = SwappedBytes
	default:
		return o, fmt.Errorf("unknown byte order %q", bytes)
	}
	return o, nil
}

// Entry is one logical channel's decode rule.
type Entry struct {
	Address     uint16
	Channel     string
	Type        Type
	Scale       float64
	Bit         *int
	Description string
	Unit        string
}

// End is the first address past the entry's span.
func (e Entry) End() int {
	return int(e.Address) + e.Type.Width()
}

// Map is the read-only register map of a device.
type Map struct {
	Entries []Entry
}

// Span returns the lowest address and the number of registers needed to cover every entry.
func (m Map) Span() (base uint16, count int) {
	if len(m.Entries) == 0 {
		return 0, 0
	}
	lo := int(m.Entries[0].Address)
	hi := m.Entries[0].End()
	for _, e := range m.Entries[1:] {
		if int(e.Address) < lo {
			lo = int(e.Address)
		}
		if e.End() > hi {
			hi = e.End()
		}
	}
	return uint16(lo), hi - lo
}
