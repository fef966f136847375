package stage

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many stage executions may run concurrently. Spec.md §4.E
// describes a fixed-size array of N dedicated worker threads, each owning a
// FIFO queue and a stage bound to exactly one of them by hash(stageId). Go
// goroutines are not OS threads, so literally dedicating N goroutines would
// either waste them idling or force every blocking RequestTo* call to stall
// one permanently — instead this Pool realizes the same resource bound with
// a weighted semaphore of size N: at most N stage batches are ever actively
// executing non-suspended code at once, and a stage's own per-message FIFO
// ordering is enforced independently by the Stage itself (see stage.go). A
// RequestTo* wait releases its semaphore slot for the duration of the wait
// (link.go), so a stage awaiting a reply never starves the other N-1 slots
// — matching "the worker is free to run other stages' messages in the
// meantime" from spec.md §4.E/§9.
type Pool struct {
	sem    *semaphore.Weighted
	size   int64
	logger *slog.Logger
}

// NewPool constructs a Pool with the given worker count. size<=0 selects
// runtime.NumCPU(), the default spec.md §6 suggests for PlayOption.WorkerCount.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size), logger: logger}
}

// Size reports the configured concurrency bound.
func (p *Pool) Size() int { return int(p.size) }

// Submit enqueues item on its Stage's mailbox, spawning a runner goroutine
// for that stage if one is not already draining it. item.Stage must be
// non-nil; use RunGlobal for stage-less continuations.
func (p *Pool) Submit(item WorkItem) {
	if item.Stage == nil {
		panic("stage: Submit requires a non-nil Stage; use RunGlobal for global work")
	}
	item.Stage.enqueue(item)
}

// RunGlobal runs fn under the pool's concurrency bound with no stage
// affinity — the "global continuation... runs on whichever worker is handy"
// case of spec.md §4.E.
func (p *Pool) RunGlobal(ctx context.Context, fn func()) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.logger.Warn("pool: global work dropped, context done before a slot freed", "error", err)
		return
	}
	go func() {
		defer p.sem.Release(1)
		defer recoverAndLog(p.logger, "global")
		fn()
	}()
}

// acquire/release expose the semaphore to Stage's runner loop and to Link's
// await helpers, which release their slot while blocked on a reply channel.
func (p *Pool) acquire(ctx context.Context) error { return p.sem.Acquire(ctx, 1) }
func (p *Pool) release()                          { p.sem.Release(1) }

func recoverAndLog(logger *slog.Logger, where string) {
	if r := recover(); r != nil {
		logger.Error("stage: recovered panic", "where", where, "panic", r)
	}
}
