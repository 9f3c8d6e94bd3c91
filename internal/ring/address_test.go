package ring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddress_IsLeftOf(t *testing.T) {
	a := FromUint64(10)
	b := FromUint64(20)

	assert.True(t, a.IsLeftOf(b))
	assert.False(t, b.IsLeftOf(a))
	assert.True(t, b.IsRightOf(a))
	assert.False(t, a.IsLeftOf(a), "an address is not left of itself")
	assert.False(t, a.IsRightOf(a))
}

func TestAddress_WrapsAroundRing(t *testing.T) {
	top := FromUint64(0).Sub(5) // 2^160 - 5
	low := FromUint64(3)

	assert.True(t, top.IsLeftOf(low), "walking right from the top wraps to low addresses")
	assert.True(t, low.IsRightOf(top))
	assert.Equal(t, FromUint64(8), top.DistanceTo(low))
	assert.True(t, top.Add(5).Equal(FromUint64(0)))
}

func TestAddress_HalfRingIsNeitherSide(t *testing.T) {
	zero := FromUint64(0)
	var opposite Address
	opposite.v.Set(&half)

	assert.False(t, zero.IsLeftOf(opposite))
	assert.False(t, opposite.IsLeftOf(zero))
	assert.True(t, zero.IsLeftOf(opposite.Sub(1)))
	assert.True(t, zero.IsRightOf(opposite.Add(1)))
}

func TestParseAddress(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		h := HashAddress([]byte("alice"))
		parsed, err := ParseAddress("0x" + h.String())
		require.NoError(t, err)
		assert.True(t, h.Equal(parsed))
		assert.Len(t, h.Bytes(), AddressLength)
	})

	t.Run("ShortAndOdd", func(t *testing.T) {
		parsed, err := ParseAddress("abc")
		require.NoError(t, err)
		assert.True(t, parsed.Equal(FromUint64(0xabc)))
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, in := range []string{"", "zz", strings.Repeat("f", 41)} {
			_, err := ParseAddress(in)
			assert.ErrorIs(t, err, ErrInvalidAddress, in)
		}
	})

	t.Run("Text", func(t *testing.T) {
		var a Address
		require.NoError(t, a.UnmarshalText([]byte("ff")))
		text, err := a.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("0", 38)+"ff", string(text))
	})
}

func TestFromBytes_KeepsLowOrderBytes(t *testing.T) {
	long := append([]byte{0xde, 0xad}, make([]byte, AddressLength)...)
	long[len(long)-1] = 7

	assert.True(t, FromBytes(long).Equal(FromUint64(7)))
}

func TestHashAddresser(t *testing.T) {
	h := NewHashAddresser(2)

	a := h.Address([]byte("a"))
	assert.True(t, a.Equal(HashAddress([]byte("a"))))
	h.Address([]byte("b"))
	h.Address([]byte("c"))
	assert.Equal(t, 2, h.Len(), "cache is bounded")

	uncached := NewHashAddresser(0)
	assert.True(t, uncached.Address([]byte("a")).Equal(a))
	assert.Zero(t, uncached.Len())
}
