package stage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Ticker is implemented by a Behavior that wants a fixed-timestep game loop
// in addition to its message-driven dispatch (spec.md §4.H) — a stage for a
// real-time arena drives simulation this way; a stage for, say, a matchmaking
// queue has no use for it and simply doesn't implement the interface.
type Ticker interface {
	OnTick(ctx context.Context, link *Link, delta time.Duration)
}

// maxCatchUpTicks bounds how many ticks GameLoop will replay in a single
// wakeup after the process stalls (GC pause, host oversubscription); beyond
// this it drops the backlog rather than spiraling further behind real time.
const maxCatchUpTicks = 5

// GameLoop drives one Stage's Ticker at a fixed interval using an
// accumulator, the standard fixed-timestep pattern: each wakeup adds the
// elapsed wall time to an accumulator and emits one tick per full interval
// banked, so simulation speed stays independent of scheduling jitter.
type GameLoop struct {
	stage    *Stage
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	started  atomic.Bool
}

// NewGameLoop constructs a loop for stage at the given fixed tick interval.
// stage.behavior must implement Ticker or Start panics, since a loop with
// nothing to call is a configuration error rather than something to run
// silently.
func NewGameLoop(stage *Stage, interval time.Duration) *GameLoop {
	if _, ok := stage.behavior.(Ticker); !ok {
		panic("stage: GameLoop requires a Behavior implementing Ticker")
	}
	return &GameLoop{stage: stage, interval: interval, stop: make(chan struct{})}
}

// Start launches the loop's goroutine. Calling Start twice panics.
func (g *GameLoop) Start() {
	if !g.started.CompareAndSwap(false, true) {
		panic("stage: GameLoop.Start called twice")
	}
	g.wg.Add(1)
	go g.run()
}

func (g *GameLoop) run() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	last := time.Now()
	var accumulator time.Duration

	for {
		select {
		case <-g.stop:
			return
		case now := <-ticker.C:
			accumulator += now.Sub(last)
			last = now

			banked := 0
			for accumulator >= g.interval && banked < maxCatchUpTicks {
				accumulator -= g.interval
				banked++
				g.submitTick()
			}
			if banked == maxCatchUpTicks {
				accumulator = 0 // drop the remaining backlog; see maxCatchUpTicks
			}
		}
	}
}

func (g *GameLoop) submitTick() {
	delta := g.interval
	g.stage.enqueue(WorkItem{
		Kind:  KindTick,
		Stage: g.stage,
		Fn: func(s *Stage) {
			s.behavior.(Ticker).OnTick(context.Background(), s.link, delta)
		},
	})
}

// Stop halts the loop. Idempotent; safe to call even if Start was never
// called.
func (g *GameLoop) Stop() {
	g.once.Do(func() { close(g.stop) })
	g.wg.Wait()
}
