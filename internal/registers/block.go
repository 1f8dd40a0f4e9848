package registers

import (
	"time"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/model"
)

// Block is one contiguous run of holding registers fetched from the device.
type Block struct {
	Base  uint16
	Words []uint16
}

// End is the first address past the block.
func (b Block) End() int { return int(b.Base) + len(b.Words) }

// Contains reports whether addr lies inside the block.
func (b Block) Contains(addr uint16) bool {
	return addr >= b.Base && int(addr) < b.End()
}

// DecodeEntry decodes e from whichever block holds its first register.
func DecodeEntry(blocks []Block, e Entry, order Order) (float64, error) {
	for _, b := range blocks {
		if b.Contains(e.Address) {
			return Decode(b.Words, int(e.Address-b.Base), e.Type, e.Scale, e.Bit, order)
		}
	}
	return 0, ErrMissingData
}

// DecodeAll decodes every entry of m stamped with ts.
// Entries that cannot be decoded are left out of the readings and reported as *DecodeError.
func DecodeAll(m Map, blocks []Block, order Order, ts time.Time) ([]model.Reading, []error) {
	out := make([]model.Reading, 0, len(m.Entries))
	var errs []error
	for _, e := range m.Entries {
		v, err := DecodeEntry(blocks, e, order)
		if err != nil {
			errs = append(errs, &DecodeError{Channel: e.Channel, Address: e.Address, Err: err})
			continue
		}
		out = append(out, model.Reading{
			Timestamp:   ts,
			Channel:     e.Channel,
			Value:       v,
			Description: e.Description,
			Unit:        e.Unit,
		})
	}
	return out, errs
}
