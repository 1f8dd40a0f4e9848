package collector

import (
	"encoding/binary"
	"fmt"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/registers"
)

// MaxChunk is the most holding registers one FC3 request may ask for.
const MaxChunk = 125

// RegisterReader reads holding registers. mb.Client satisfies it.
type RegisterReader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// ChunkError is a failed read of one chunk.
type ChunkError struct {
	Address  uint16
	Quantity uint16
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("read %d registers at %d: %v", e.Quantity, e.Address, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// ReadBlocks reads count registers from base in chunks of at most chunk.
// Consecutive successful chunks are merged into one block; a failed chunk
// leaves a hole and the following chunks are still read.
func ReadBlocks(r RegisterReader, base uint16, count, chunk int) ([]registers.Block, []error) {
	if chunk <= 0 || chunk > MaxChunk {
		chunk = MaxChunk
	}
	if limit := 0x10000 - int(base); count > limit {
		count = limit
	}

	var (
		blocks []registers.Block
		errs   []error
		open   = -1 // index of the block the next chunk may extend
	)
	for off := 0; off < count; off += chunk {
		n := min(chunk, count-off)
		addr := uint16(int(base) + off)

		data, err := r.ReadHoldingRegisters(addr, uint16(n))
		if err != nil {
			errs = append(errs, &ChunkError{Address: addr, Quantity: uint16(n), Err: err})
			open = -1
			continue
		}
		words := bytesToWords(data)
		if len(words) > n {
			words = words[:n]
		}
		if open >= 0 && blocks[open].End() == int(addr) {
			blocks[open].Words = append(blocks[open].Words, words...)
		} else {
			blocks = append(blocks, registers.Block{Base: addr, Words: words})
			open = len(blocks) - 1
		}
		if len(words) < n {
			// short reply: the rest of this chunk is unknown
			errs = append(errs, &ChunkError{Address: addr, Quantity: uint16(n),
				Err: fmt.Errorf("short reply: %d of %d registers", len(words), n)})
			open = -1
		}
	}
	return blocks, errs
}

func bytesToWords(data []byte) []uint16 {
	words := make([]uint16, len(data)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return words
}
