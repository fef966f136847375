package stage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
)

// routingOutbound resolves RequestToStage/RequestToApi calls by dispatching
// them to another stage registered with the same Manager and feeding the
// handler's return value back through the shared request cache, the way
// the real mesh dispatcher resolves a reply that arrived on the wire — but
// synchronously enough for a test to assert on.
type routingOutbound struct {
	manager *Manager
	reqs    *reqcache.Cache
}

func (o *routingOutbound) SendToClient(sid int64, msg packet.Packet) error { return nil }

func (o *routingOutbound) SendToStage(targetStageID int64, msg packet.Packet, seq uint16) error {
	if seq == 0 {
		return o.manager.Dispatch(targetStageID, nil, msg, nil)
	}
	return o.manager.Dispatch(targetStageID, nil, msg, func(reply packet.Packet) {
		if completion, ok := o.reqs.Resolve(seq); ok {
			completion(reply)
		}
	})
}

func (o *routingOutbound) SendToApi(serviceID uint16, msg packet.Packet, seq uint16) error {
	return nil
}

func (o *routingOutbound) SendToApiService(name string, msg packet.Packet, seq uint16) error {
	return nil
}

// TestRequestToStageReleasesPoolSlotWhileAwaiting pins the pool to a single
// slot: if awaitReply did not release it before blocking, stage B could
// never acquire a slot to produce the reply stage A is waiting on, and this
// test would time out.
func TestRequestToStageReleasesPoolSlotWhileAwaiting(t *testing.T) {
	pool := NewPool(1, nil)
	timers := NewTimerManager()
	go timers.Run()
	defer timers.Stop()
	reqs := reqcache.New()
	outbound := &routingOutbound{reqs: reqs}
	m := NewManager(pool, timers, outbound, reqs, nil)
	outbound.manager = m

	bBehavior := &testBehavior{onDispatch: func(ctx context.Context, link *Link, a *Actor, msg packet.Packet) packet.Packet {
		return packet.Packet{MsgID: "pong", ErrorCode: 0}
	}}
	_, _, err := m.CreateStage(context.Background(), 2, "b", bBehavior, packet.Packet{})
	require.NoError(t, err)

	var got packet.Packet
	var gotErr error
	done := make(chan struct{})
	aBehavior := &testBehavior{onDispatch: func(ctx context.Context, link *Link, a *Actor, msg packet.Packet) packet.Packet {
		got, gotErr = link.RequestToStage(ctx, 2, packet.Packet{MsgID: "ping"}, time.Second)
		close(done)
		return packet.Packet{}
	}}
	_, _, err = m.CreateStage(context.Background(), 1, "a", aBehavior, packet.Packet{})
	require.NoError(t, err)

	require.NoError(t, m.Dispatch(1, nil, packet.Packet{MsgID: "kick", MsgSeq: 1}, nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RequestToStage never completed — awaitReply likely failed to free the pool slot")
	}
	require.NoError(t, gotErr)
	assert.Equal(t, "pong", got.MsgID)
}

func TestRequestToStageTimesOutWithoutAReply(t *testing.T) {
	pool := NewPool(2, nil)
	timers := NewTimerManager()
	go timers.Run()
	defer timers.Stop()
	reqs := reqcache.New()
	// Outbound that never resolves the request — simulates a dropped packet.
	outbound := &swallowOutbound{}
	m := NewManager(pool, timers, outbound, reqs, nil)

	var gotErr error
	done := make(chan struct{})
	bhv := &testBehavior{onDispatch: func(ctx context.Context, link *Link, a *Actor, msg packet.Packet) packet.Packet {
		_, gotErr = link.RequestToStage(ctx, 999, packet.Packet{MsgID: "ping"}, 20*time.Millisecond)
		close(done)
		return packet.Packet{}
	}}
	_, _, err := m.CreateStage(context.Background(), 1, "a", bhv, packet.Packet{})
	require.NoError(t, err)

	require.NoError(t, m.Dispatch(1, nil, packet.Packet{MsgSeq: 1}, nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RequestToStage never returned")
	}
	require.Error(t, gotErr)
}

type swallowOutbound struct{ mu sync.Mutex }

func (o *swallowOutbound) SendToClient(sid int64, msg packet.Packet) error { return nil }
func (o *swallowOutbound) SendToStage(targetStageID int64, msg packet.Packet, seq uint16) error {
	return nil // never resolves reqs; the caller's RequestToStage must time out on its own
}
func (o *swallowOutbound) SendToApi(serviceID uint16, msg packet.Packet, seq uint16) error {
	return nil
}
func (o *swallowOutbound) SendToApiService(name string, msg packet.Packet, seq uint16) error {
	return nil
}
