// Package buffer implements the payload container with move semantics
// (spec §4.C) and the process-global size-classed byte pool backing it.
//
// The pool is grounded on the teacher repository's internal/gameserver
// bufpool.go, which wraps a single sync.Pool per connection role
// (send/read/write) keyed by a fixed default capacity. Here that idea is
// generalized into the 53-bucket size-classed allocator spec.md requires:
// each bucket gets its own sync.Pool as the "L1" cache — Go already shards
// sync.Pool per-P, which is the idiomatic Go analogue of a per-thread local
// cache — backed by a capped global slice stack as the "L2" tier, with a
// background goroutine trimming L2 after an idle window.
package buffer

import (
	"sync"
	"time"
)

const (
	minBucketSize = 128
	maxBucketSize = 1 << 20 // 1 MiB; larger requests bypass the pool entirely
	numBuckets    = 53

	defaultL2Cap      = 4096
	defaultTrimWindow = 30 * time.Second
)

// bucketSizes holds the upper bound (inclusive) of each size class, tiered
// by doubling from 128 B to 1 MiB and subdivided so there are exactly 53
// classes (spec.md §4.C).
var bucketSizes [numBuckets]int

func init() {
	// Four quarter-step tiers per octave across the 13 octaves from 128B up
	// to 1MiB (13*4 = 52), plus 1MiB itself: 53 buckets.
	size := minBucketSize
	idx := 0
	for size < maxBucketSize {
		step := size / 4
		for i := 0; i < 4; i++ {
			bucketSizes[idx] = size + i*step
			idx++
		}
		size *= 2
	}
	bucketSizes[idx] = maxBucketSize
}

type bucket struct {
	size int
	l1   sync.Pool

	mu  sync.Mutex
	l2  [][]byte
	cap int

	lastUse int64 // unix nanos of last Put, read/written under mu
}

// Pool is the process-global size-classed byte allocator. There should be
// exactly one Pool per process (spec.md §9 "Global state"); Rent/Return are
// safe for concurrent use from any goroutine.
type Pool struct {
	buckets    [numBuckets]*bucket
	trimWindow time.Duration
	stopTrim   chan struct{}
	trimOnce   sync.Once
}

// NewPool constructs a size-classed pool. l2Cap bounds how many buffers each
// bucket's overflow tier may hold; 0 selects a sane default.
func NewPool(l2Cap int) *Pool {
	if l2Cap <= 0 {
		l2Cap = defaultL2Cap
	}
	p := &Pool{trimWindow: defaultTrimWindow, stopTrim: make(chan struct{})}
	for i, sz := range bucketSizes {
		b := &bucket{size: sz, cap: l2Cap}
		bkt := b
		b.l1.New = func() any { return make([]byte, 0, bkt.size) }
		p.buckets[i] = b
	}
	return p
}

// ceilToBucket returns the smallest bucket size >= size, or -1 if size
// exceeds the largest bucket (oversize requests bypass the pool).
func ceilToBucket(size int) int {
	for _, sz := range bucketSizes {
		if sz >= size {
			return sz
		}
	}
	return -1
}

func (p *Pool) bucketFor(size int) (*bucket, int) {
	target := ceilToBucket(size)
	if target < 0 {
		return nil, -1
	}
	for i, sz := range bucketSizes {
		if sz == target {
			return p.buckets[i], sz
		}
	}
	return nil, -1
}

// Rent returns a []byte of length size with capacity >= ceilToBucket(size).
// Oversize requests (> 1 MiB) allocate directly and are never pooled.
func (p *Pool) Rent(size int) []byte {
	b, bucketSize := p.bucketFor(size)
	if b == nil {
		return make([]byte, size)
	}
	raw := b.l1.Get().([]byte)
	if cap(raw) < bucketSize {
		raw = b.pop()
	}
	if cap(raw) < bucketSize {
		raw = make([]byte, bucketSize)
	}
	raw = raw[:size]
	clear(raw)
	return raw
}

// Return releases buf back to its size class. Buffers not originally
// produced by Rent (e.g. oversize ones) are simply dropped.
func (p *Pool) Return(buf []byte) {
	if buf == nil {
		return
	}
	b, bucketSize := p.bucketFor(cap(buf))
	if b == nil || cap(buf) < bucketSize {
		return
	}
	raw := buf[:0]
	// The capped L2 stack takes returns first; once it is full, the rest go
	// to the L1 sync.Pool, whose entries the runtime may drop at any GC.
	b.push(raw)
}

func (b *bucket) push(raw []byte) {
	b.mu.Lock()
	if len(b.l2) < b.cap {
		b.l2 = append(b.l2, raw)
		b.lastUse = nowNano()
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	// L2 full: still give the L1 sync.Pool a shot, otherwise drop.
	b.l1.Put(raw)
}

func (b *bucket) pop() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.l2)
	if n == 0 {
		return nil
	}
	raw := b.l2[n-1]
	b.l2[n-1] = nil
	b.l2 = b.l2[:n-1]
	return raw
}

// trim drops every L2 entry for buckets idle longer than window. Intended to
// be called periodically by StartTrimLoop.
func (p *Pool) trim(window time.Duration) {
	cutoff := nowNano() - window.Nanoseconds()
	for _, b := range p.buckets {
		b.mu.Lock()
		if b.lastUse < cutoff && len(b.l2) > 0 {
			b.l2 = nil
		}
		b.mu.Unlock()
	}
}

// StartTrimLoop launches the background job that trims idle L2 stacks every
// interval until Close is called. Safe to call at most once per Pool.
func (p *Pool) StartTrimLoop(interval time.Duration) {
	p.trimOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-p.stopTrim:
					return
				case <-ticker.C:
					p.trim(p.trimWindow)
				}
			}
		}()
	})
}

// Close stops the trim loop, if running. Idempotent.
func (p *Pool) Close() {
	select {
	case <-p.stopTrim:
	default:
		close(p.stopTrim)
	}
}

func nowNano() int64 { return timeNow().UnixNano() }

// timeNow is a var indirection so tests can freeze time if ever needed;
// production always uses time.Now.
var timeNow = time.Now
