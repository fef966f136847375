package stage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/playerror"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
)

// Manager is the stage directory of spec.md §4.I: it owns the stageId →
// *Stage map and is the only thing allowed to create or destroy entries in
// it, running every lifecycle hook through the owning Stage's own mailbox
// so OnCreate/OnPostCreate/OnDestroy obey the same single-flight guarantee
// as ordinary message dispatch.
type Manager struct {
	pool     *Pool
	timers   *TimerManager
	outbound Outbound
	reqs     *reqcache.Cache
	logger   *slog.Logger

	mu     sync.RWMutex
	stages map[int64]*Stage
}

func NewManager(pool *Pool, timers *TimerManager, outbound Outbound, reqs *reqcache.Cache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pool:     pool,
		timers:   timers,
		outbound: outbound,
		reqs:     reqs,
		logger:   logger,
		stages:   make(map[int64]*Stage),
	}
}

// Get looks up a stage by id.
func (m *Manager) Get(stageID int64) (*Stage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stages[stageID]
	return st, ok
}

// Count reports how many stages are currently registered.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stages)
}

// CreateStage registers a new stage and runs its OnCreate/OnPostCreate
// hooks on its own mailbox before returning. The stage is registered (and
// visible to Get) while OnCreate runs; if OnCreate reports !ok it is removed
// from the registry before CreateStage returns.
func (m *Manager) CreateStage(ctx context.Context, stageID int64, typeName string, behavior Behavior, createPacket packet.Packet) (bool, packet.Packet, error) {
	m.mu.Lock()
	if _, exists := m.stages[stageID]; exists {
		m.mu.Unlock()
		return false, packet.Packet{}, playerror.New(playerror.EncodeFailed, "stage already exists")
	}
	st := newStage(stageID, typeName, behavior, m.pool, m.timers, m.logger)
	st.link.bind(m.outbound, m.reqs)
	m.stages[stageID] = st
	m.mu.Unlock()

	type result struct {
		ok    bool
		reply packet.Packet
	}
	done := make(chan result, 1)
	st.enqueue(WorkItem{
		Kind:  KindMessage,
		Stage: st,
		Fn: func(s *Stage) {
			s.setState(StageCreating)
			ok, reply := s.behavior.OnCreate(ctx, s.link, createPacket)
			if ok {
				s.setState(StageActive)
				s.behavior.OnPostCreate(ctx, s.link)
			}
			done <- result{ok, reply}
		},
	})

	res := <-done
	if !res.ok {
		m.mu.Lock()
		delete(m.stages, stageID)
		m.mu.Unlock()
	}
	return res.ok, res.reply, nil
}

// DestroyStage runs OnDestroy on stageID's own mailbox, cancels its timers,
// and removes it from the registry. Callers (the dispatcher) are
// responsible for having already stopped routing new traffic to it.
func (m *Manager) DestroyStage(ctx context.Context, stageID int64) error {
	st, ok := m.Get(stageID)
	if !ok {
		return playerror.New(playerror.StageNotFound, "stage not found")
	}
	st.setState(StageDestroying)

	done := make(chan struct{})
	st.enqueue(WorkItem{
		Kind:  KindMessage,
		Stage: st,
		Fn: func(s *Stage) {
			s.behavior.OnDestroy(ctx, s.link)
			close(done)
		},
	})
	<-done

	m.timers.CancelStage(st)
	m.mu.Lock()
	delete(m.stages, stageID)
	m.mu.Unlock()
	st.setState(StageDestroyed)
	return nil
}

// JoinStage runs OnJoinStage/OnPostJoinStage on stageID's mailbox and, if
// accepted, seats actor on the stage.
func (m *Manager) JoinStage(ctx context.Context, stageID int64, actor *Actor) (bool, error) {
	st, ok := m.Get(stageID)
	if !ok {
		return false, playerror.New(playerror.StageNotFound, "stage not found")
	}
	done := make(chan bool, 1)
	st.enqueue(WorkItem{
		Kind:  KindMessage,
		Stage: st,
		Fn: func(s *Stage) {
			accepted := s.behavior.OnJoinStage(ctx, s.link, actor)
			if accepted {
				actor.StageID = stageID
				actor.setState(ActorJoined)
				s.addActor(actor)
				s.behavior.OnPostJoinStage(ctx, s.link, actor)
			}
			done <- accepted
		},
	})
	return <-done, nil
}

// DisconnectActor notifies stageID that actor's connection dropped and
// removes its seat. Fire-and-forget from the caller's perspective: it does
// not wait for OnDisconnect to finish, since the transport-side cleanup
// does not need to block on application logic.
func (m *Manager) DisconnectActor(ctx context.Context, stageID int64, actor *Actor) error {
	st, ok := m.Get(stageID)
	if !ok {
		return playerror.New(playerror.StageNotFound, "stage not found")
	}
	st.enqueue(WorkItem{
		Kind:  KindMessage,
		Stage: st,
		Fn: func(s *Stage) {
			actor.setState(ActorDisconnected)
			s.behavior.OnDisconnect(ctx, s.link, actor)
			s.removeActor(actor.SID)
		},
	})
	return nil
}

// Dispatch delivers msg to stageID's OnDispatch for actor. onResult, if
// non-nil, receives the handler's return value — the dispatcher uses it to
// frame and send a response when msg was a request (MsgSeq != 0).
func (m *Manager) Dispatch(stageID int64, actor *Actor, msg packet.Packet, onResult func(packet.Packet)) error {
	st, ok := m.Get(stageID)
	if !ok {
		return playerror.New(playerror.StageNotFound, "stage not found")
	}
	st.enqueue(WorkItem{
		Kind:  KindMessage,
		Stage: st,
		Fn: func(s *Stage) {
			result := s.behavior.OnDispatch(context.Background(), s.link, actor, msg)
			if onResult != nil {
				onResult(result)
			}
		},
	})
	return nil
}
