package stage

import (
	"context"
	"time"

	"github.com/ulala-x/playhouse-go/internal/packet"
)

// testBehavior is a fully-overridable Behavior for exercising the
// scheduler without a real game's worth of logic.
type testBehavior struct {
	onCreate          func(ctx context.Context, link *Link, p packet.Packet) (bool, packet.Packet)
	onPostCreate      func(ctx context.Context, link *Link)
	onDestroy         func(ctx context.Context, link *Link)
	onJoinStage       func(ctx context.Context, link *Link, a *Actor) bool
	onPostJoinStage   func(ctx context.Context, link *Link, a *Actor)
	onDisconnect      func(ctx context.Context, link *Link, a *Actor)
	onDispatch        func(ctx context.Context, link *Link, a *Actor, msg packet.Packet) packet.Packet
	onTimerCallback   func(ctx context.Context, link *Link, id TimerID, payload any)
	onTick            func(ctx context.Context, link *Link, delta time.Duration)
}

func (b *testBehavior) OnCreate(ctx context.Context, link *Link, p packet.Packet) (bool, packet.Packet) {
	if b.onCreate != nil {
		return b.onCreate(ctx, link, p)
	}
	return true, packet.Packet{}
}

func (b *testBehavior) OnPostCreate(ctx context.Context, link *Link) {
	if b.onPostCreate != nil {
		b.onPostCreate(ctx, link)
	}
}

func (b *testBehavior) OnDestroy(ctx context.Context, link *Link) {
	if b.onDestroy != nil {
		b.onDestroy(ctx, link)
	}
}

func (b *testBehavior) OnJoinStage(ctx context.Context, link *Link, a *Actor) bool {
	if b.onJoinStage != nil {
		return b.onJoinStage(ctx, link, a)
	}
	return true
}

func (b *testBehavior) OnPostJoinStage(ctx context.Context, link *Link, a *Actor) {
	if b.onPostJoinStage != nil {
		b.onPostJoinStage(ctx, link, a)
	}
}

func (b *testBehavior) OnDisconnect(ctx context.Context, link *Link, a *Actor) {
	if b.onDisconnect != nil {
		b.onDisconnect(ctx, link, a)
	}
}

func (b *testBehavior) OnDispatch(ctx context.Context, link *Link, a *Actor, msg packet.Packet) packet.Packet {
	if b.onDispatch != nil {
		return b.onDispatch(ctx, link, a, msg)
	}
	return packet.Packet{}
}

func (b *testBehavior) OnTimerCallback(ctx context.Context, link *Link, id TimerID, payload any) {
	if b.onTimerCallback != nil {
		b.onTimerCallback(ctx, link, id, payload)
	}
}

func (b *testBehavior) OnTick(ctx context.Context, link *Link, delta time.Duration) {
	if b.onTick != nil {
		b.onTick(ctx, link, delta)
	}
}

// noopOutbound satisfies Outbound for tests that never send anywhere.
type noopOutbound struct{}

func (noopOutbound) SendToClient(sid int64, msg packet.Packet) error                     { return nil }
func (noopOutbound) SendToStage(targetStageID int64, msg packet.Packet, seq uint16) error { return nil }
func (noopOutbound) SendToApi(serviceID uint16, msg packet.Packet, seq uint16) error      { return nil }
func (noopOutbound) SendToApiService(name string, msg packet.Packet, seq uint16) error    { return nil }
