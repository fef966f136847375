// Package reqcache implements the outstanding request/reply correlation
// table of spec.md §4.D. It is grounded on the teacher repository's
// internal/login SessionManager: a sync.Map keyed store with a periodic
// CleanExpired sweep, generalized from "account → session key" to
// "msgSeq → pending completion with a deadline".
package reqcache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Completion is whatever a waiter wants run when its request resolves —
// either by a real reply, a synthesized timeout, or a synthesized
// connection-closed packet. Exactly one of these fires per entry
// (spec.md §8 invariant 4).
type Completion func(reply any)

type entry struct {
	deadline   time.Time
	completion Completion
}

// Cache maps msgSeq to a pending completion. All operations are safe for
// concurrent use; the expected access pattern is many goroutines calling Add
// while one ticker goroutine calls CollectExpired roughly every 100ms.
type Cache struct {
	entries sync.Map // map[uint16]*entry
	seq     atomic.Uint32
}

// New constructs an empty request cache.
func New() *Cache {
	return &Cache{}
}

// NextSeq returns the next monotone sequence number, skipping 0 (0 means
// fire-and-forget on the wire). Wrap-around is fine as long as the number
// of outstanding requests stays below 65535.
func (c *Cache) NextSeq() uint16 {
	for {
		n := c.seq.Add(1)
		seq := uint16(n)
		if seq != 0 {
			return seq
		}
		// n wrapped onto a multiple of 65536, landing back on 0 — retry.
	}
}

// Add registers a pending completion for seq with the given deadline.
func (c *Cache) Add(seq uint16, deadline time.Time, completion Completion) {
	c.entries.Store(seq, &entry{deadline: deadline, completion: completion})
}

// Resolve atomically removes and returns the completion registered for seq.
// ok is false if no entry exists — the reply arrived late (after timeout) or
// for a seq never registered.
func (c *Cache) Resolve(seq uint16) (completion Completion, ok bool) {
	v, loaded := c.entries.LoadAndDelete(seq)
	if !loaded {
		return nil, false
	}
	return v.(*entry).completion, true
}

// CollectExpired atomically removes every entry whose deadline is <= now and
// returns their completions, in no particular order. The caller is expected
// to invoke each completion with a synthesized Timeout packet.
func (c *Cache) CollectExpired(now time.Time) []Completion {
	var expired []Completion
	c.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		if !e.deadline.After(now) {
			if _, loaded := c.entries.LoadAndDelete(key); loaded {
				expired = append(expired, e.completion)
			}
		}
		return true
	})
	return expired
}

// CancelAll removes every outstanding entry and returns their completions,
// for use when a connection or the whole server is shutting down; the
// caller invokes each with a synthesized error packet carrying reason.
func (c *Cache) CancelAll() []Completion {
	var all []Completion
	c.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		if _, loaded := c.entries.LoadAndDelete(key); loaded {
			all = append(all, e.completion)
		}
		return true
	})
	return all
}

// Count returns the number of currently-outstanding requests.
func (c *Cache) Count() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// ExpiryInterval is the default granularity of the expiry ticker (~100ms,
// spec.md §4.D/§5).
const ExpiryInterval = 100 * time.Millisecond

// RunExpiryLoop drains CollectExpired on a ticker until stop is closed,
// invoking each expired completion with a synthesized timeout value built by
// makeTimeout. It is meant to be run in its own goroutine for the lifetime
// of the owning server.
func (c *Cache) RunExpiryLoop(stop <-chan struct{}, makeTimeout func() any) {
	ticker := time.NewTicker(ExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			for _, completion := range c.CollectExpired(now) {
				completion(makeTimeout())
			}
		}
	}
}
