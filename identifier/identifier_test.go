package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  Hello World  "))
	assert.Equal(t, "", Normalize("   "))
}

func TestHashFnDeterministic(t *testing.T) {
	space := NewSpace(16)
	a := HashFn(space, Normalize("Some Title"))
	b := HashFn(space, Normalize("some title"))
	require.Equal(t, a, b, "normalization must make hashing case/space insensitive")

	c := HashFn(space, Normalize("a different title"))
	assert.NotEqual(t, a, c)
}

func TestHashFnMasksToSpace(t *testing.T) {
	space := NewSpace(8)
	id := HashFn(space, "anything")
	assert.Less(t, uint64(id), space.Size())
}

func TestWrapAddSub(t *testing.T) {
	space := NewSpace(4) // 0..15
	assert.Equal(t, Identifier(0), space.Add(15, 1))
	assert.Equal(t, Identifier(15), space.Sub(0, 1))
	assert.Equal(t, Identifier(5), space.Add(3, 2))
}

func TestClockwiseAndAbsoluteDistance(t *testing.T) {
	space := NewSpace(4) // 0..15
	assert.Equal(t, Identifier(2), space.ClockwiseDistance(14, 0))
	assert.Equal(t, Identifier(14), space.ClockwiseDistance(0, 14))
	assert.Equal(t, Identifier(2), space.AbsoluteDistance(14, 0))
	assert.Equal(t, Identifier(2), space.AbsoluteDistance(0, 14))
}

func TestInHalfOpenExclIncl(t *testing.T) {
	space := NewSpace(4)
	// (10, 2] wrapping: 11..15, 0, 1, 2 are in range; 10 and 3 are not.
	assert.False(t, space.InHalfOpenExclIncl(10, 10, 2))
	assert.True(t, space.InHalfOpenExclIncl(15, 10, 2))
	assert.True(t, space.InHalfOpenExclIncl(2, 10, 2))
	assert.False(t, space.InHalfOpenExclIncl(3, 10, 2))

	// lo == hi means the whole ring.
	assert.True(t, space.InHalfOpenExclIncl(7, 5, 5))
}

func TestInOpen(t *testing.T) {
	space := NewSpace(4)
	assert.False(t, space.InOpen(10, 10, 14))
	assert.False(t, space.InOpen(14, 10, 14))
	assert.True(t, space.InOpen(12, 10, 14))
	assert.False(t, space.InOpen(5, 5, 5))
}

func TestInClosed(t *testing.T) {
	space := NewSpace(4)
	assert.True(t, space.InClosed(10, 10, 14))
	assert.True(t, space.InClosed(14, 10, 14))
	assert.True(t, space.InClosed(12, 10, 14))
	assert.False(t, space.InClosed(15, 10, 14))
	assert.True(t, space.InClosed(9, 5, 5))
}

func TestPowerOffset(t *testing.T) {
	space := NewSpace(4)
	assert.Equal(t, Identifier(6), space.PowerOffset(2, 2)) // 2 + 2^2 = 6
	assert.Equal(t, Identifier(1), space.PowerOffset(9, 3)) // (9+8) mod 16 = 1
}
