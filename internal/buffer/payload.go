package buffer

// Kind discriminates the ownership variant a Payload currently holds.
type Kind int

const (
	KindEmpty Kind = iota
	KindInline
	KindPooled
	KindShared
)

// Payload is the polymorphic "bytes" type of spec.md §4.C: a single value
// that is either nothing, an owned inline array, a buffer rented from the
// size-classed Pool, or a non-owning window into someone else's payload.
// Exactly one of these is ever active at a time; Move transfers ownership
// and leaves the source Empty, and Dispose is safe to call any number of
// times once a payload has been emptied.
//
// The hot path (receive → dispatch → stage → reply → send) relies on Move
// to avoid a per-message allocation; never copy a Payload by value once it
// might own a pooled buffer — always Move it.
type Payload struct {
	kind Kind
	data []byte
	pool *Pool // set only for KindPooled; used by Dispose to return the buffer
}

// Empty returns the zero-length, zero-allocation payload.
func Empty() Payload { return Payload{kind: KindEmpty} }

// Inline wraps an owned byte slice. The caller gives up ownership of b to
// the returned Payload.
func Inline(b []byte) Payload {
	if len(b) == 0 {
		return Empty()
	}
	return Payload{kind: KindInline, data: b}
}

// Pooled wraps a buffer rented from p. Dispose returns it to p.
func Pooled(p *Pool, b []byte) Payload {
	if len(b) == 0 {
		return Empty()
	}
	return Payload{kind: KindPooled, data: b, pool: p}
}

// Shared returns a non-owning window into b. Dispose is a no-op for shared
// views — the owner of b is responsible for its lifetime. This is the
// mechanism for a zero-copy reply that points back into a request's payload.
func Shared(b []byte) Payload {
	if len(b) == 0 {
		return Empty()
	}
	return Payload{kind: KindShared, data: b}
}

// Kind reports which variant is currently active.
func (p *Payload) Kind() Kind { return p.kind }

// Length returns the number of bytes this payload holds.
func (p *Payload) Length() int { return len(p.data) }

// Span returns a borrowed read-only view of the payload's bytes. The
// returned slice is only valid until the next Move or Dispose call.
func (p *Payload) Span() []byte { return p.data }

// Move transfers ownership out of p into the returned Payload; p becomes
// Empty and must behave as such thereafter (Length 0, Dispose a no-op).
func (p *Payload) Move() Payload {
	out := Payload{kind: p.kind, data: p.data, pool: p.pool}
	p.kind = KindEmpty
	p.data = nil
	p.pool = nil
	return out
}

// Dispose releases any owned resources. It is a no-op for Empty and Shared
// payloads, and for a payload that has already been disposed or moved away
// — callers may call Dispose defensively without tracking whether it was
// already called.
func (p *Payload) Dispose() {
	switch p.kind {
	case KindPooled:
		if p.pool != nil {
			p.pool.Return(p.data)
		}
	case KindInline, KindShared, KindEmpty:
		// nothing owned, or nothing to free
	}
	p.kind = KindEmpty
	p.data = nil
	p.pool = nil
}
