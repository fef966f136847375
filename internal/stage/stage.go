package stage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ulala-x/playhouse-go/internal/packet"
)

// LifeState is a Stage's position in spec.md §4.I's lifecycle.
type LifeState int

const (
	StageUncreated LifeState = iota
	StageCreating
	StageActive
	StageDestroying
	StageDestroyed
)

func (s LifeState) String() string {
	switch s {
	case StageUncreated:
		return "Uncreated"
	case StageCreating:
		return "Creating"
	case StageActive:
		return "Active"
	case StageDestroying:
		return "Destroying"
	case StageDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// Behavior is the application-supplied logic a Stage type implements.
// Every method runs exclusively for its Stage — the runtime guarantees no
// two of these calls for the same Stage instance ever overlap, and that the
// call for message N+1 does not begin until message N (including anything
// it awaited via Link) has fully returned.
type Behavior interface {
	// OnCreate runs once, as the first item on the stage's mailbox; traffic
	// that reaches the stage meanwhile queues behind it. Returning ok=false
	// aborts creation. Manager.CreateStage returns reply to its caller either
	// way; PlayDispatcher forwards it over the mesh only for a successful
	// create and does not send it to the client on the authenticate path.
	OnCreate(ctx context.Context, link *Link, createPacket packet.Packet) (ok bool, reply packet.Packet)
	OnPostCreate(ctx context.Context, link *Link)
	OnDestroy(ctx context.Context, link *Link)

	// OnJoinStage runs before an Actor is registered with the stage;
	// returning false rejects the join.
	OnJoinStage(ctx context.Context, link *Link, actor *Actor) bool
	OnPostJoinStage(ctx context.Context, link *Link, actor *Actor)
	OnDisconnect(ctx context.Context, link *Link, actor *Actor)

	// OnDispatch handles one client/actor-scoped message.
	OnDispatch(ctx context.Context, link *Link, actor *Actor, msg packet.Packet) packet.Packet
	// OnTimerCallback handles a fired timer registered via Link.AddTimer.
	OnTimerCallback(ctx context.Context, link *Link, timerID TimerID, payload any)
}

// Stage is one unit of the engine's game-state partitioning (spec.md §4.I):
// every piece of mutable state it owns is only ever touched from inside a
// Behavior method running for this Stage, so application code written
// against it never needs its own locks.
type Stage struct {
	ID       int64
	TypeName string

	behavior Behavior
	pool     *Pool
	timers   *TimerManager
	logger   *slog.Logger

	state   LifeState
	stateMu sync.RWMutex

	actorsMu sync.RWMutex
	actors   map[int64]*Actor // keyed by Actor.SID

	// scheduling: queue is this stage's FIFO mailbox; running is true
	// whenever a runner goroutine currently owns draining it (either
	// actively executing a handler or blocked awaiting a reply inside one
	// — see Link.awaitReply for why that still counts as "running").
	mu      sync.Mutex
	queue   []WorkItem
	running bool

	link *Link
}

func newStage(id int64, typeName string, behavior Behavior, pool *Pool, timers *TimerManager, logger *slog.Logger) *Stage {
	s := &Stage{
		ID:       id,
		TypeName: typeName,
		behavior: behavior,
		pool:     pool,
		timers:   timers,
		logger:   logger,
		state:    StageUncreated,
		actors:   make(map[int64]*Actor),
	}
	s.link = newLink(s)
	return s
}

// State returns the stage's current lifecycle state.
func (s *Stage) State() LifeState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Stage) setState(v LifeState) {
	s.stateMu.Lock()
	s.state = v
	s.stateMu.Unlock()
}

// Actor looks up a joined actor by its session id.
func (s *Stage) Actor(sid int64) (*Actor, bool) {
	s.actorsMu.RLock()
	defer s.actorsMu.RUnlock()
	a, ok := s.actors[sid]
	return a, ok
}

// ActorCount reports how many actors currently hold a seat on this stage.
func (s *Stage) ActorCount() int {
	s.actorsMu.RLock()
	defer s.actorsMu.RUnlock()
	return len(s.actors)
}

func (s *Stage) addActor(a *Actor) {
	s.actorsMu.Lock()
	s.actors[a.SID] = a
	s.actorsMu.Unlock()
}

func (s *Stage) removeActor(sid int64) {
	s.actorsMu.Lock()
	delete(s.actors, sid)
	s.actorsMu.Unlock()
}

// enqueue appends item to the stage's mailbox and, if no runner goroutine
// currently owns this stage, spawns one. This is the only place queue/
// running are touched outside of runLoop itself.
func (s *Stage) enqueue(item WorkItem) {
	s.mu.Lock()
	s.queue = append(s.queue, item)
	alreadyRunning := s.running
	if !alreadyRunning {
		s.running = true
	}
	s.mu.Unlock()

	if !alreadyRunning {
		go s.runLoop()
	}
}

// runLoop drains the stage's mailbox one item at a time under the pool's
// concurrency bound, stopping only once the queue is empty. Per-stage FIFO
// plus single-flight execution is enforced simply because this is the only
// goroutine allowed to touch queue/actors/behavior state for this stage at
// any given moment — a second enqueue arriving mid-drain just appends and
// returns, trusting this same loop to pick it up.
func (s *Stage) runLoop() {
	ctx := context.Background()
	if err := s.pool.acquire(ctx); err != nil {
		s.logger.Error("stage: failed to acquire worker slot", "stageId", s.ID, "error", err)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return
	}
	defer s.pool.release()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.execute(item)
	}
}

func (s *Stage) execute(item WorkItem) {
	defer recoverAndLog(s.logger, "stage:"+s.TypeName)
	item.Fn(s)
}

// Link returns the stage's synchronization handle, used by the dispatcher
// to reach into it from outside and by the stage's own Behavior methods to
// reach out (reply, send, request, timers).
func (s *Stage) Link() *Link { return s.link }
