package buffer

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func orders() []binary.ByteOrder {
	return []binary.ByteOrder{binary.BigEndian, binary.LittleEndian}
}

func TestRoundTripScalars(t *testing.T) {
	for _, order := range orders() {
		b := New(64, WithByteOrder(order))

		require.NoError(t, b.WriteInt8(-12))
		require.NoError(t, b.WriteUint8(250))
		require.NoError(t, b.WriteInt16(-1000))
		require.NoError(t, b.WriteUint16(60000))
		require.NoError(t, b.WriteInt32(-70000))
		require.NoError(t, b.WriteUint32(4000000000))
		require.NoError(t, b.WriteInt64(-9000000000000))
		require.NoError(t, b.WriteUint64(18000000000000000000))
		require.NoError(t, b.WriteBool(true))
		require.NoError(t, b.WriteBool(false))
		b.Flip()

		i8, err := b.ReadInt8()
		require.NoError(t, err)
		require.EqualValues(t, -12, i8)

		u8, err := b.ReadUint8()
		require.NoError(t, err)
		require.EqualValues(t, 250, u8)

		i16, err := b.ReadInt16()
		require.NoError(t, err)
		require.EqualValues(t, -1000, i16)

		u16, err := b.ReadUint16()
		require.NoError(t, err)
		require.EqualValues(t, 60000, u16)

		i32, err := b.ReadInt32()
		require.NoError(t, err)
		require.EqualValues(t, -70000, i32)

		u32, err := b.ReadUint32()
		require.NoError(t, err)
		require.EqualValues(t, 4000000000, u32)

		i64, err := b.ReadInt64()
		require.NoError(t, err)
		require.EqualValues(t, -9000000000000, i64)

		u64, err := b.ReadUint64()
		require.NoError(t, err)
		require.EqualValues(t, 18000000000000000000, u64)

		bo1, err := b.ReadBool()
		require.NoError(t, err)
		require.True(t, bo1)

		bo2, err := b.ReadBool()
		require.NoError(t, err)
		require.False(t, bo2)
	}
}

func TestRoundTripUTF8(t *testing.T) {
	cases := []string{"", "hello", strings.Repeat("x", 1000)}
	for _, s := range cases {
		b := New(4096)
		require.NoError(t, b.WriteUTF8(s))
		b.Flip()
		got, err := b.ReadUTF8()
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestCursorMonotonicity(t *testing.T) {
	b := New(16)
	require.NoError(t, b.WriteUint32(1))
	require.True(t, b.Position() <= b.Limit())
	require.True(t, b.Limit() <= b.Capacity())

	_, err := b.ReadUint32()
	require.NoError(t, err)
	require.True(t, b.Position() <= b.Limit())
}

func TestWriteOverflow(t *testing.T) {
	b := New(2)
	require.NoError(t, b.WriteUint8(1))
	require.NoError(t, b.WriteUint8(2))
	err := b.WriteUint8(3)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestReadUnderflow(t *testing.T) {
	b := New(4)
	require.NoError(t, b.WriteUint8(1))
	b.Flip()
	_, err := b.ReadUint8()
	require.NoError(t, err)
	_, err = b.ReadUint8()
	require.ErrorIs(t, err, ErrOverflow)
}

func TestCompactPreservesUnreadBytes(t *testing.T) {
	b := New(8)
	require.NoError(t, b.WriteBytes([]byte{1, 2, 3, 4}))
	b.Flip()
	_, err := b.ReadUint8()
	require.NoError(t, err)
	b.Compact()
	require.Equal(t, 0, b.Position())
	require.Equal(t, 3, b.Limit())
	rest := make([]byte, 3)
	require.NoError(t, b.ReadBytes(rest))
	require.Equal(t, []byte{2, 3, 4}, rest)
}

func TestCompactResetsWhenFullyConsumed(t *testing.T) {
	b := New(8)
	require.NoError(t, b.WriteUint8(9))
	b.Flip()
	_, err := b.ReadUint8()
	require.NoError(t, err)
	b.Compact()
	require.Equal(t, 0, b.Position())
	require.Equal(t, 0, b.Limit())
}

func TestSetPositionBeyondLimitFails(t *testing.T) {
	b := New(8)
	require.NoError(t, b.WriteUint8(1))
	err := b.SetPosition(5)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestSetLimitAtCapacityFails(t *testing.T) {
	b := New(8)
	err := b.SetLimit(8)
	require.ErrorIs(t, err, ErrOverflow)
}
