package plcsim

import (
	"fmt"
	"math"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/registers"
)

// SetHoldingRegisters writes words starting at address.
func (s *Server) SetHoldingRegisters(address uint16, words ...uint16) error {
	if int(address)+len(words) > len(s.holding) {
		return fmt.Errorf("address %d+%d out of range", address, len(words))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.holding[address:], words)
	return nil
}

// HoldingRegister returns the current value at address.
func (s *Server) HoldingRegister(address uint16) uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holding[address]
}

// Fault makes every read touching [start, start+count) fail with a device
// failure exception.
func (s *Server) Fault(start uint16, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, addrRange{start: int(start), end: int(start) + count})
}

// ClearFaults removes every faulted range.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// LoadValues encodes engineering values by channel into the register image
// using the map's types and scales. Channels not in the map are an error.
func (s *Server) LoadValues(m registers.Map, order registers.Order, values map[string]float64) error {
	byChannel := make(map[string]registers.Entry, len(m.Entries))
	for _, e := range m.Entries {
		byChannel[e.Channel] = e
	}
	for ch, v := range values {
		e, ok := byChannel[ch]
		if !ok {
			return fmt.Errorf("channel %q not in register map", ch)
		}
		if e.Bit != nil {
			cur := s.HoldingRegister(e.Address)
			mask := uint16(1) << uint(*e.Bit)
			if v != 0 {
				cur |= mask
			} else {
				cur &^= mask
			}
			if err := s.SetHoldingRegisters(e.Address, cur); err != nil {
				return err
			}
			continue
		}
		raw := v
		if e.Type != registers.TypeBool && e.Type != registers.TypeBit && e.Type != registers.TypeInt && e.Scale != 0 {
			raw = v / e.Scale
		}
		if e.Type == registers.TypeUDInt {
			raw = math.Round(raw)
		}
		if err := s.SetHoldingRegisters(e.Address, registers.EncodeValue(raw, e.Type, order)...); err != nil {
			return fmt.Errorf("channel %q: %w", ch, err)
		}
	}
	return nil
}
