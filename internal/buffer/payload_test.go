package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoveEmptiesSource(t *testing.T) {
	src := Inline([]byte("hello"))
	dst := src.Move()

	assert.Equal(t, KindEmpty, src.Kind())
	assert.Equal(t, 0, src.Length())
	assert.Equal(t, "hello", string(dst.Span()))
}

func TestDisposeIdempotent(t *testing.T) {
	p := NewPool(8)
	buf := p.Rent(32)
	payload := Pooled(p, buf)

	payload.Dispose()
	assert.NotPanics(t, func() { payload.Dispose() })
	assert.Equal(t, KindEmpty, payload.Kind())
}

func TestPooledDisposeReturnsToPool(t *testing.T) {
	p := NewPool(8)
	buf := p.Rent(100)
	payload := Pooled(p, buf)
	payload.Dispose()

	again := p.Rent(100)
	assert.GreaterOrEqual(t, cap(again), 100)
}

func TestSharedDisposeDoesNotAffectOwner(t *testing.T) {
	owner := Inline([]byte("owner data"))
	view := Shared(owner.Span())
	view.Dispose()

	assert.Equal(t, "owner data", string(owner.Span()), "shared dispose must not free the backing array")
}

func TestEmptyPayloadIsZeroLength(t *testing.T) {
	e := Empty()
	assert.Equal(t, 0, e.Length())
	assert.Equal(t, KindEmpty, e.Kind())
	assert.NotPanics(t, func() { e.Dispose() })
}
