package registers

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allOrders = []Order{
	{Words: LowWordFirst, Bytes: BigEndianBytes},
	{Words: HighWordFirst, Bytes: BigEndianBytes},
	{Words: LowWordFirst, Bytes: SwappedBytes},
	{Words: HighWordFirst, Bytes: SwappedBytes},
}

func TestDecodeUDIntLowWordFirst(t *testing.T) {
	v, err := Decode([]uint16{100, 0}, 0, TypeUDInt, 0.1, nil, DefaultOrder)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, v, 1e-9)

	v, err = Decode([]uint16{0, 1}, 0, TypeUDInt, 1, nil, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, 65536.0, v)

	v, err = Decode([]uint16{0, 1}, 0, TypeUDInt, 1, nil, Order{Words: HighWordFirst})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestDecodeSingleWordTypes(t *testing.T) {
	words := []uint16{0, 7, 0x0006, 1234}

	v, err := Decode(words, 0, TypeBool, 5, nil, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = Decode(words, 1, TypeBool, 5, nil, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v, "BOOL is any non-zero word and ignores scale")

	v, err = Decode(words, 2, TypeBit, 1, nil, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v, "BIT masks the least significant bit")

	bit := 2
	v, err = Decode(words, 2, TypeBit, 1, &bit, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = Decode(words, 3, TypeInt, 0.1, nil, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, 1234.0, v, "INT is never scaled")
}

func TestDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		typ Type
		v   float64
	}{
		{TypeUDInt, 123456789},
		{TypeUDInt, 4294967295},
		{TypeLReal, 1234.5678},
		{TypeLReal, -0.000125},
		{TypeFloat, 21.5},
		{TypeFloat, -3.25},
	}
	for _, order := range allOrders {
		for _, c := range cases {
			words := EncodeValue(c.v, c.typ, order)
			require.Len(t, words, c.typ.Width())
			got, err := Decode(words, 0, c.typ, 1, nil, order)
			require.NoError(t, err)
			assert.InDelta(t, c.v, got, 1e-6, "%s %v order %+v", c.typ, c.v, order)
		}
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	words := []uint16{0x4148, 0x0000, 0x1234, 0x5678}
	first, err := Decode(words, 0, TypeLReal, 2, nil, DefaultOrder)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Decode(words, 0, TypeLReal, 2, nil, DefaultOrder)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDecodeBounds(t *testing.T) {
	words := []uint16{1, 2, 3}

	_, err := Decode(words, 3, TypeInt, 1, nil, DefaultOrder)
	assert.ErrorIs(t, err, ErrMissingData)

	_, err = Decode(words, 2, TypeUDInt, 1, nil, DefaultOrder)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode(words, 0, TypeLReal, 1, nil, DefaultOrder)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode(words, 0, Type(42), 1, nil, DefaultOrder)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeAllSkipsMissing(t *testing.T) {
	m := Map{Entries: []Entry{
		{Address: 10, Channel: "counter", Type: TypeUDInt, Scale: 0.1},
		{Address: 12, Channel: "flag", Type: TypeBool, Scale: 1},
		{Address: 199, Channel: "edge", Type: TypeFloat, Scale: 1},
		{Address: 250, Channel: "far", Type: TypeInt, Scale: 1},
	}}
	blocks := []Block{{Base: 0, Words: make([]uint16, 200)}}
	blocks[0].Words[10] = 100
	blocks[0].Words[12] = 1

	readings, errs := DecodeAll(m, blocks, DefaultOrder, testTime)
	require.Len(t, readings, 2)
	assert.Equal(t, "counter", readings[0].Channel)
	assert.InDelta(t, 10.0, readings[0].Value, 1e-9)
	assert.Equal(t, "flag", readings[1].Channel)

	require.Len(t, errs, 2)
	var de *DecodeError
	require.True(t, errors.As(errs[0], &de))
	assert.Equal(t, "edge", de.Channel)
	assert.ErrorIs(t, errs[0], ErrTruncated)
	assert.ErrorIs(t, errs[1], ErrMissingData)
}

func TestDecodeRejectsNonFinite(t *testing.T) {
	for _, order := range allOrders {
		nan := Encode(uint64(math.Float32bits(float32(math.NaN()))), 2, order)
		_, err := Decode(nan, 0, TypeFloat, 1, nil, order)
		assert.ErrorIs(t, err, ErrNonFinite)

		inf := Encode(math.Float64bits(math.Inf(-1)), 4, order)
		_, err = Decode(inf, 0, TypeLReal, 1, nil, order)
		assert.ErrorIs(t, err, ErrNonFinite)
	}

	// a finite register scaled past float64 range is rejected too
	huge := Encode(math.Float64bits(math.MaxFloat64), 4, DefaultOrder)
	_, err := Decode(huge, 0, TypeLReal, 10, nil, DefaultOrder)
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestDecodeAllSkipsNaN(t *testing.T) {
	m := Map{Entries: []Entry{
		{Address: 0, Channel: "flow", Type: TypeFloat, Scale: 1},
		{Address: 2, Channel: "level", Type: TypeFloat, Scale: 1},
	}}
	words := append(
		Encode(uint64(math.Float32bits(float32(math.NaN()))), 2, DefaultOrder),
		Encode(uint64(math.Float32bits(2.5)), 2, DefaultOrder)...,
	)

	readings, errs := DecodeAll(m, []Block{{Base: 0, Words: words}}, DefaultOrder, testTime)
	require.Len(t, readings, 1)
	assert.Equal(t, "level", readings[0].Channel)
	assert.InDelta(t, 2.5, readings[0].Value, 1e-9)

	require.Len(t, errs, 1)
	var de *DecodeError
	require.True(t, errors.As(errs[0], &de))
	assert.Equal(t, "flow", de.Channel)
	assert.ErrorIs(t, errs[0], ErrNonFinite)
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultOrder, o)

	o, err = ParseOrder("high_first", "swap")
	require.NoError(t, err)
	assert.Equal(t, Order{Words: HighWordFirst, Bytes: SwappedBytes}, o)

	_, err = ParseOrder("middle", "")
	assert.Error(t, err)
}
