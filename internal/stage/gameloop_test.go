package stage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ulala-x/playhouse-go/internal/packet"
)

func TestGameLoopTicksAtFixedInterval(t *testing.T) {
	pool := NewPool(2, nil)
	timers := NewTimerManager()
	go timers.Run()
	defer timers.Stop()

	var ticks atomic.Int64
	bhv := &testBehavior{onTick: func(ctx context.Context, link *Link, delta time.Duration) {
		ticks.Add(1)
	}}
	st := newTestStage(bhv, pool, timers)

	loop := NewGameLoop(st, 5*time.Millisecond)
	loop.Start()
	time.Sleep(120 * time.Millisecond)
	loop.Stop()

	got := ticks.Load()
	assert.Greater(t, got, int64(5), "expected multiple ticks in 120ms at a 5ms interval")

	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no more ticks should arrive after Stop")
}

// minimalBehavior implements Behavior but deliberately not Ticker, to
// exercise NewGameLoop's guard against wiring a loop to a stage with
// nothing to call.
type minimalBehavior struct{}

func (minimalBehavior) OnCreate(ctx context.Context, link *Link, p packet.Packet) (bool, packet.Packet) {
	return true, packet.Packet{}
}
func (minimalBehavior) OnPostCreate(ctx context.Context, link *Link)  {}
func (minimalBehavior) OnDestroy(ctx context.Context, link *Link)     {}
func (minimalBehavior) OnJoinStage(ctx context.Context, link *Link, a *Actor) bool {
	return true
}
func (minimalBehavior) OnPostJoinStage(ctx context.Context, link *Link, a *Actor) {}
func (minimalBehavior) OnDisconnect(ctx context.Context, link *Link, a *Actor)    {}
func (minimalBehavior) OnDispatch(ctx context.Context, link *Link, a *Actor, msg packet.Packet) packet.Packet {
	return packet.Packet{}
}
func (minimalBehavior) OnTimerCallback(ctx context.Context, link *Link, id TimerID, payload any) {}

func TestGameLoopStartTwicePanics(t *testing.T) {
	pool := NewPool(1, nil)
	timers := NewTimerManager()
	go timers.Run()
	defer timers.Stop()

	bhv := &testBehavior{onTick: func(ctx context.Context, link *Link, delta time.Duration) {}}
	st := newTestStage(bhv, pool, timers)

	loop := NewGameLoop(st, time.Millisecond)
	loop.Start()
	defer loop.Stop()

	assert.Panics(t, func() { loop.Start() })
}

func TestNewGameLoopPanicsWithoutTickerImplementation(t *testing.T) {
	pool := NewPool(1, nil)
	timers := NewTimerManager()
	st := newStage(1, "minimal", minimalBehavior{}, pool, timers, nil)

	assert.Panics(t, func() {
		NewGameLoop(st, time.Millisecond)
	})
}
