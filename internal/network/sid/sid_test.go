package sid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwjieok/libevlite/pkg/util/merr"
)

func TestEncodeLayout(t *testing.T) {
	id, err := Encode(0, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, ID(0x0001000000070003), id)

	id, err = Encode(MaxIndex, MaxKey, MaxSeq)
	require.NoError(t, err)
	assert.Equal(t, ID(0x00ffffffffffffff), id)
	assert.Equal(t, uint8(0), id.Reserved())
	assert.Equal(t, id, id&Mask)
}

func TestRoundTrip(t *testing.T) {
	indexes := []uint8{0, 1, 127, MaxIndex}
	keys := []int64{0, 1, 1023, 1 << 31, MaxKey}
	seqs := []uint32{0, 1, 255, 1 << 15, MaxSeq}

	for _, index := range indexes {
		for _, key := range keys {
			for _, seq := range seqs {
				id, err := Encode(index, key, seq)
				require.NoError(t, err)

				gotIndex, gotKey, gotSeq := Decode(id)
				assert.Equal(t, int(index), gotIndex)
				assert.Equal(t, uint32(key), gotKey)
				assert.Equal(t, uint16(seq), gotSeq)
				assert.True(t, id.Valid())
			}
		}
	}
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	_, err := Encode(255, 1, 1)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	_, err = Encode(0, -1, 1)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	_, err = Encode(0, MaxKey+1, 1)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	_, err = Encode(0, 1, MaxSeq+1)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	assert.Panics(t, func() { MustEncode(0, 1, MaxSeq+1) })
	assert.NotPanics(t, func() { MustEncode(0, 1, 1) })
}

func TestUnsetIndex(t *testing.T) {
	assert.Equal(t, -1, Zero.Index())
	assert.False(t, Zero.Valid())

	// 只有 key 和 seq，没有 manager 编号。
	raw := ID(5)<<keyShift | ID(9)
	index, key, seq := Decode(raw)
	assert.Equal(t, -1, index)
	assert.Equal(t, uint32(5), key)
	assert.Equal(t, uint16(9), seq)
}

func TestReservedBitsIgnoredOnDecode(t *testing.T) {
	id := MustEncode(3, 42, 17) | ID(0xab)<<resvShift
	index, key, seq := Decode(id)
	assert.Equal(t, 3, index)
	assert.Equal(t, uint32(42), key)
	assert.Equal(t, uint16(17), seq)
	assert.Equal(t, uint8(0xab), id.Reserved())
	assert.False(t, id.Valid())
}

func TestString(t *testing.T) {
	assert.Equal(t, "2:10:4", MustEncode(2, 10, 4).String())
	assert.Equal(t, "-1:0:0", Zero.String())
}
