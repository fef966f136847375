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

func newTestManager(poolSize int) *Manager {
	pool := NewPool(poolSize, nil)
	timers := NewTimerManager()
	go timers.Run()
	return NewManager(pool, timers, noopOutbound{}, reqcache.New(), nil)
}

func TestCreateStageRegistersOnSuccess(t *testing.T) {
	m := newTestManager(2)
	bhv := &testBehavior{}
	ok, _, err := m.CreateStage(context.Background(), 1, "room", bhv, packet.Packet{})
	require.NoError(t, err)
	assert.True(t, ok)

	_, found := m.Get(1)
	assert.True(t, found)
	assert.Equal(t, 1, m.Count())
}

func TestCreateStageRejectedNeverRegisters(t *testing.T) {
	m := newTestManager(2)
	bhv := &testBehavior{onCreate: func(ctx context.Context, link *Link, p packet.Packet) (bool, packet.Packet) {
		return false, packet.Packet{ErrorCode: 42}
	}}
	ok, reply, err := m.CreateStage(context.Background(), 1, "room", bhv, packet.Packet{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint16(42), reply.ErrorCode)

	_, found := m.Get(1)
	assert.False(t, found)
}

func TestCreateStageDuplicateIDRejected(t *testing.T) {
	m := newTestManager(2)
	bhv := &testBehavior{}
	_, _, err := m.CreateStage(context.Background(), 1, "room", bhv, packet.Packet{})
	require.NoError(t, err)

	_, _, err = m.CreateStage(context.Background(), 1, "room", bhv, packet.Packet{})
	assert.Error(t, err)
}

func TestJoinStageSeatsAcceptedActor(t *testing.T) {
	m := newTestManager(2)
	bhv := &testBehavior{}
	_, _, err := m.CreateStage(context.Background(), 1, "room", bhv, packet.Packet{})
	require.NoError(t, err)

	actor := NewActor(100, "acct-1")
	accepted, err := m.JoinStage(context.Background(), 1, actor)
	require.NoError(t, err)
	assert.True(t, accepted)

	st, _ := m.Get(1)
	assert.Equal(t, 1, st.ActorCount())
	assert.Equal(t, ActorJoined, actor.State())
}

func TestJoinStageRejectedDoesNotSeat(t *testing.T) {
	m := newTestManager(2)
	bhv := &testBehavior{onJoinStage: func(ctx context.Context, link *Link, a *Actor) bool { return false }}
	_, _, err := m.CreateStage(context.Background(), 1, "room", bhv, packet.Packet{})
	require.NoError(t, err)

	actor := NewActor(100, "acct-1")
	accepted, err := m.JoinStage(context.Background(), 1, actor)
	require.NoError(t, err)
	assert.False(t, accepted)

	st, _ := m.Get(1)
	assert.Equal(t, 0, st.ActorCount())
}

func TestDispatchPreservesPerStageOrder(t *testing.T) {
	m := newTestManager(4)
	var mu sync.Mutex
	var order []uint16

	bhv := &testBehavior{onDispatch: func(ctx context.Context, link *Link, a *Actor, msg packet.Packet) packet.Packet {
		time.Sleep(time.Millisecond) // widen the window for a race to show up
		mu.Lock()
		order = append(order, msg.MsgSeq)
		mu.Unlock()
		return packet.Packet{}
	}}
	_, _, err := m.CreateStage(context.Background(), 1, "room", bhv, packet.Packet{})
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 1; i <= n; i++ {
		seq := uint16(i)
		err := m.Dispatch(1, nil, packet.Packet{MsgSeq: seq}, func(packet.Packet) { wg.Done() })
		require.NoError(t, err)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i, seq := range order {
		assert.Equal(t, uint16(i+1), seq, "messages for one stage must execute in submission order")
	}
}

func TestDestroyStageRunsHookAndRemoves(t *testing.T) {
	m := newTestManager(2)
	destroyed := make(chan struct{})
	bhv := &testBehavior{onDestroy: func(ctx context.Context, link *Link) { close(destroyed) }}
	_, _, err := m.CreateStage(context.Background(), 1, "room", bhv, packet.Packet{})
	require.NoError(t, err)

	err = m.DestroyStage(context.Background(), 1)
	require.NoError(t, err)

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("OnDestroy never ran")
	}
	_, found := m.Get(1)
	assert.False(t, found)
}

func TestDisconnectActorRemovesSeatAndNotifies(t *testing.T) {
	m := newTestManager(2)
	notified := make(chan int64, 1)
	bhv := &testBehavior{onDisconnect: func(ctx context.Context, link *Link, a *Actor) { notified <- a.SID }}
	_, _, err := m.CreateStage(context.Background(), 1, "room", bhv, packet.Packet{})
	require.NoError(t, err)

	actor := NewActor(7, "acct")
	_, err = m.JoinStage(context.Background(), 1, actor)
	require.NoError(t, err)

	require.NoError(t, m.DisconnectActor(context.Background(), 1, actor))

	select {
	case sid := <-notified:
		assert.Equal(t, int64(7), sid)
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect never ran")
	}

	st, _ := m.Get(1)
	assert.Eventually(t, func() bool { return st.ActorCount() == 0 }, time.Second, time.Millisecond)
}
