package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRentReturnsAtLeastRequestedSize(t *testing.T) {
	p := NewPool(8)
	b := p.Rent(200)
	assert.Len(t, b, 200)
	assert.GreaterOrEqual(t, cap(b), 200)
}

func TestRentZeroesReusedBuffer(t *testing.T) {
	p := NewPool(8)
	b := p.Rent(64)
	for i := range b {
		b[i] = 0xFF
	}
	p.Return(b)

	b2 := p.Rent(64)
	for _, v := range b2 {
		require.Equal(t, byte(0), v)
	}
}

func TestOversizeBypassesPool(t *testing.T) {
	p := NewPool(8)
	b := p.Rent(maxBucketSize + 1)
	assert.Len(t, b, maxBucketSize+1)
	// Returning an oversize buffer must not panic even though it was never pooled.
	assert.NotPanics(t, func() { p.Return(b) })
}

func TestCeilToBucketMonotone(t *testing.T) {
	prev := 0
	for _, sz := range bucketSizes {
		assert.Greater(t, sz, prev)
		prev = sz
	}
	assert.Equal(t, maxBucketSize, bucketSizes[numBuckets-1])
}

func TestTrimClearsIdleL2(t *testing.T) {
	p := NewPool(8)
	b := p.Rent(128)
	p.Return(b)
	p.trim(0) // window 0: everything is "idle"
	bkt, _ := p.bucketFor(128)
	bkt.mu.Lock()
	l2Len := len(bkt.l2)
	bkt.mu.Unlock()
	assert.Equal(t, 0, l2Len)
}
