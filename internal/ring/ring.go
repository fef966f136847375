// Package ring implements the single-producer/single-consumer byte ring
// buffer each session's receive path uses to turn a TCP byte stream into
// length-delimited frames (spec §4.B). It is grounded on the teacher
// repository's receive-buffering idiom in internal/protocol (read-into-fixed-
// buffer, then slice) but generalized into a real wrap-around ring so writes
// never need to shift already-buffered bytes.
package ring

import "fmt"

// Buffer is a fixed-capacity byte ring. All operations are O(length); Write
// never truncates — callers must check FreeSpace before writing and close
// the connection on refusal, per spec.
type Buffer struct {
	buf   []byte
	start int // index of first valid byte
	n     int // number of valid bytes
}

// New allocates a ring buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Capacity returns the fixed total size of the buffer.
func (b *Buffer) Capacity() int { return len(b.buf) }

// Count returns the number of valid unread bytes currently buffered.
func (b *Buffer) Count() int { return b.n }

// FreeSpace returns how many more bytes can be written before Write refuses.
func (b *Buffer) FreeSpace() int { return len(b.buf) - b.n }

// Write appends p to the buffer. It refuses (returning false, no partial
// write) if p would not fit in the remaining free space — the caller is
// expected to close the connection with a framing error in that case.
func (b *Buffer) Write(p []byte) bool {
	if len(p) > b.FreeSpace() {
		return false
	}
	end := (b.start + b.n) % len(b.buf)
	first := copy(b.buf[end:], p)
	if first < len(p) {
		copy(b.buf[:len(p)-first], p[first:])
	}
	b.n += len(p)
	return true
}

// Peek returns up to len(dst) bytes starting at offset from the current read
// position without consuming them, handling wrap-around. It returns the
// number of bytes copied, which is min(len(dst), Count()-offset).
func (b *Buffer) Peek(offset int, dst []byte) int {
	if offset < 0 || offset >= b.n {
		return 0
	}
	avail := b.n - offset
	want := len(dst)
	if want > avail {
		want = avail
	}
	start := (b.start + offset) % len(b.buf)
	first := copy(dst[:want], b.buf[start:])
	if first < want {
		copy(dst[first:want], b.buf[:want-first])
	}
	return want
}

// PeekByte reads a single byte at offset without consuming it. ok is false
// if offset is out of the currently-buffered range.
func (b *Buffer) PeekByte(offset int) (value byte, ok bool) {
	if offset < 0 || offset >= b.n {
		return 0, false
	}
	idx := (b.start + offset) % len(b.buf)
	return b.buf[idx], true
}

// Consume discards n bytes from the front of the buffer. It panics if n
// exceeds Count — callers should only ever consume what they've already
// validated via Peek.
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.n {
		panic(fmt.Sprintf("ring: consume %d exceeds buffered count %d", n, b.n))
	}
	b.start = (b.start + n) % len(b.buf)
	b.n -= n
}

// Clear discards all buffered bytes.
func (b *Buffer) Clear() {
	b.start = 0
	b.n = 0
}
