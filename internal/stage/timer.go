package stage

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TimerID identifies a timer registered via Link.AddTimer.
type TimerID uint64

type timerEntry struct {
	id        TimerID
	stage     *Stage
	fireAt    time.Time
	interval  time.Duration // 0 means one-shot
	payload   any
	cancelled bool
	index     int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *timerHeap) Push(x any)         { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerManager is the game-engine-wide timer service of spec.md §4.G/§4.H:
// a single min-heap ordered by fire time plus one goroutine sleeping until
// the next deadline, grounded on the standard library's container/heap the
// way most Go schedulers implement a priority timer wheel — no pack example
// ships a dedicated scheduling library, so this is the one ambient concern
// this repository leans on the standard library for (see DESIGN.md).
//
// Firing never runs a stage's callback directly on the timer goroutine: it
// submits a KindTimer WorkItem onto the owning stage's own mailbox, so the
// callback is still mutually exclusive with every other message that stage
// processes.
type TimerManager struct {
	mu   sync.Mutex
	heap timerHeap
	byID map[TimerID]*timerEntry

	nextID atomic.Uint64
	wake   chan struct{}
	stop   chan struct{}
	once   sync.Once
}

// NewTimerManager constructs an empty timer manager. Run must be started in
// its own goroutine for timers to ever fire.
func NewTimerManager() *TimerManager {
	return &TimerManager{
		byID: make(map[TimerID]*timerEntry),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Add registers a timer owned by stage, firing after delay and then, if
// interval > 0, repeating every interval thereafter until cancelled.
func (m *TimerManager) Add(stage *Stage, delay, interval time.Duration, payload any) TimerID {
	id := TimerID(m.nextID.Add(1))
	e := &timerEntry{id: id, stage: stage, fireAt: time.Now().Add(delay), interval: interval, payload: payload}

	m.mu.Lock()
	m.byID[id] = e
	heap.Push(&m.heap, e)
	m.mu.Unlock()

	m.signal()
	return id
}

// Cancel stops a timer; a no-op if it already fired (one-shot) or was
// already cancelled.
func (m *TimerManager) Cancel(id TimerID) {
	m.mu.Lock()
	if e, ok := m.byID[id]; ok {
		e.cancelled = true
		delete(m.byID, id)
	}
	m.mu.Unlock()
}

// CancelStage stops every timer owned by stage, for use on stage
// destruction.
func (m *TimerManager) CancelStage(stage *Stage) {
	m.mu.Lock()
	for id, e := range m.byID {
		if e.stage == stage {
			e.cancelled = true
			delete(m.byID, id)
		}
	}
	m.mu.Unlock()
}

func (m *TimerManager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Stop halts the Run loop. Idempotent.
func (m *TimerManager) Stop() {
	m.once.Do(func() { close(m.stop) })
}

// Run drives the timer loop until Stop is called. Meant to be launched in
// its own goroutine for the lifetime of the owning process.
func (m *TimerManager) Run() {
	for {
		m.mu.Lock()
		if len(m.heap) == 0 {
			m.mu.Unlock()
			select {
			case <-m.stop:
				return
			case <-m.wake:
				continue
			}
		}

		next := m.heap[0]
		wait := time.Until(next.fireAt)
		if wait > 0 {
			m.mu.Unlock()
			t := time.NewTimer(wait)
			select {
			case <-m.stop:
				t.Stop()
				return
			case <-m.wake:
				t.Stop()
				continue
			case <-t.C:
				continue
			}
		}

		e := heap.Pop(&m.heap).(*timerEntry)
		stillLive := !e.cancelled
		if stillLive {
			delete(m.byID, e.id)
		}
		m.mu.Unlock()

		if !stillLive {
			continue
		}

		if e.interval > 0 {
			m.mu.Lock()
			e.fireAt = e.fireAt.Add(e.interval)
			m.byID[e.id] = e
			heap.Push(&m.heap, e)
			m.mu.Unlock()
		}

		m.deliver(e)
	}
}

func (m *TimerManager) deliver(e *timerEntry) {
	e.stage.enqueue(WorkItem{
		Kind:  KindTimer,
		Stage: e.stage,
		Fn: func(s *Stage) {
			s.behavior.OnTimerCallback(context.Background(), s.link, e.id, e.payload)
		},
	})
}
