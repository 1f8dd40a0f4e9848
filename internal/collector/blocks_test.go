package collector

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/model"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/registers"
)

// fakeReader serves register i as value i and fails chunks starting at bad addresses.
type fakeReader struct {
	bad   map[uint16]bool
	calls []uint16
}

func (f *fakeReader) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	f.calls = append(f.calls, address)
	if f.bad[address] {
		return nil, errors.New("gateway target failed to respond")
	}
	out := make([]byte, 2*int(quantity))
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(out[2*i:], address+uint16(i))
	}
	return out, nil
}

type memSink struct{ got []model.Reading }

func (m *memSink) Append(_ context.Context, rs ...model.Reading) error {
	m.got = append(m.got, rs...)
	return nil
}

func TestReadBlocksMergesAndLeavesHoles(t *testing.T) {
	r := &fakeReader{bad: map[uint16]bool{200: true}}
	blocks, errs := ReadBlocks(r, 0, 350, 100)

	assert.Equal(t, []uint16{0, 100, 200, 300}, r.calls)
	require.Len(t, errs, 1)
	var ce *ChunkError
	require.ErrorAs(t, errs[0], &ce)
	assert.Equal(t, uint16(200), ce.Address)

	require.Len(t, blocks, 2)
	assert.Equal(t, uint16(0), blocks[0].Base)
	assert.Len(t, blocks[0].Words, 200)
	assert.Equal(t, uint16(300), blocks[1].Base)
	assert.Len(t, blocks[1].Words, 50)
	assert.Equal(t, uint16(349), blocks[1].Words[49])
}

func TestReadBlocksClampsChunk(t *testing.T) {
	r := &fakeReader{}
	blocks, errs := ReadBlocks(r, 10, 300, 500)
	assert.Empty(t, errs)
	assert.Equal(t, []uint16{10, 135, 260}, r.calls)
	require.Len(t, blocks, 1)
	assert.Len(t, blocks[0].Words, 300)
}

func TestPollOnceSkipsEntriesBehindFailedChunk(t *testing.T) {
	m := registers.Map{Entries: []registers.Entry{
		{Address: 0, Channel: "first", Type: registers.TypeInt, Scale: 1},
		{Address: 150, Channel: "mid", Type: registers.TypeInt, Scale: 1},
		{Address: 197, Channel: "pair", Type: registers.TypeUDInt, Scale: 1},
		{Address: 199, Channel: "edge", Type: registers.TypeUDInt, Scale: 1},
		{Address: 210, Channel: "hole", Type: registers.TypeInt, Scale: 1},
	}}
	sink := &memSink{}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)
	c := &Collector{Map: m, Order: registers.DefaultOrder, Sink: sink, Now: func() time.Time { return ts }}
	c.Modbus.ChunkSize = 100

	r := &fakeReader{bad: map[uint16]bool{200: true}}
	n, err := c.PollOnce(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint16{0, 100, 200}, r.calls)

	byChannel := map[string]float64{}
	for _, rd := range sink.got {
		byChannel[rd.Channel] = rd.Value
		assert.Equal(t, ts.Truncate(time.Second), rd.Timestamp)
	}
	assert.Equal(t, 0.0, byChannel["first"])
	assert.Equal(t, 150.0, byChannel["mid"])
	// low word first: 197 + 198<<16
	assert.Equal(t, float64(197+198<<16), byChannel["pair"])
	assert.NotContains(t, byChannel, "edge")
	assert.NotContains(t, byChannel, "hole")
}

func TestPollOnceNoData(t *testing.T) {
	m := registers.Map{Entries: []registers.Entry{{Address: 0, Channel: "a", Type: registers.TypeInt}}}
	c := &Collector{Map: m, Sink: &memSink{}}
	_, err := c.PollOnce(context.Background(), &fakeReader{bad: map[uint16]bool{0: true}})
	assert.ErrorIs(t, err, errNoData)
}
