package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(16)
	require.True(t, b.Write([]byte("hello")))
	assert.Equal(t, 5, b.Count())

	dst := make([]byte, 5)
	n := b.Peek(0, dst)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(dst))

	b.Consume(5)
	assert.Equal(t, 0, b.Count())
}

func TestWriteRefusesOnOverflow(t *testing.T) {
	b := New(4)
	require.True(t, b.Write([]byte("ab")))
	assert.False(t, b.Write([]byte("abc")), "write exceeding free space must be refused, not truncated")
	assert.Equal(t, 2, b.Count())
}

func TestWrapAroundPeek(t *testing.T) {
	b := New(8)
	require.True(t, b.Write([]byte("123456")))
	b.Consume(4) // start now at offset 4, 2 bytes valid ("56")
	require.True(t, b.Write([]byte("abcd")))
	// buffered content is now "56abcd", wrapped around the 8-byte backing array
	dst := make([]byte, 6)
	n := b.Peek(0, dst)
	assert.Equal(t, 6, n)
	assert.Equal(t, "56abcd", string(dst))
}

func TestPeekByteOutOfRange(t *testing.T) {
	b := New(4)
	_, ok := b.PeekByte(0)
	assert.False(t, ok)
	require.True(t, b.Write([]byte("x")))
	v, ok := b.PeekByte(0)
	assert.True(t, ok)
	assert.Equal(t, byte('x'), v)
}

func TestClear(t *testing.T) {
	b := New(4)
	require.True(t, b.Write([]byte("ab")))
	b.Clear()
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, 4, b.FreeSpace())
}
