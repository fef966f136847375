package stage

import (
	"context"
	"time"

	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/playerror"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
)

// Outbound is everything a Stage needs to reach outside of itself: the
// client boundary and the inter-server mesh. It is implemented by
// internal/dispatch so that this package never imports the transport or
// mesh packages — Link only knows how to ask for bytes to be sent
// somewhere, not how the sending actually happens.
type Outbound interface {
	SendToClient(sid int64, msg packet.Packet) error
	SendToStage(targetStageID int64, msg packet.Packet, seq uint16) error
	SendToApi(serviceID uint16, msg packet.Packet, seq uint16) error
	SendToApiService(serviceName string, msg packet.Packet, seq uint16) error
}

// Link is the synchronization context of spec.md §4.F: the handle a
// Behavior method uses to reply, send, and make request/await calls back
// out into the rest of the system while the runtime keeps every call for
// this Stage single-flight.
type Link struct {
	stage    *Stage
	outbound Outbound
	reqs     *reqcache.Cache
}

func newLink(s *Stage) *Link { return &Link{stage: s} }

// bind wires the Link's outbound sender and request cache once the stage
// is registered with the dispatcher — done once, before the stage becomes
// reachable.
func (l *Link) bind(outbound Outbound, reqs *reqcache.Cache) {
	l.outbound = outbound
	l.reqs = reqs
}

// StageID is this link's owning stage's id.
func (l *Link) StageID() int64 { return l.stage.ID }

// Reply sends msg back to actor over the client boundary. Fire-and-forget;
// errors are transport-level (e.g. the connection already closed).
func (l *Link) Reply(actor *Actor, msg packet.Packet) error {
	return l.outbound.SendToClient(actor.SID, msg)
}

// SendToStage fire-and-forgets msg to another stage with no reply expected.
func (l *Link) SendToStage(targetStageID int64, msg packet.Packet) error {
	return l.outbound.SendToStage(targetStageID, msg, 0)
}

// SendToApi fire-and-forgets msg to a stateless Api instance.
func (l *Link) SendToApi(serviceID uint16, msg packet.Packet) error {
	return l.outbound.SendToApi(serviceID, msg, 0)
}

// RequestToStage sends msg to targetStageID and suspends the calling
// Behavior method until a reply arrives, timeout elapses, or ctx is
// cancelled. Suspending here releases this stage's worker-pool slot for the
// duration of the wait (see awaitReply), so other stages keep making
// progress while this one is parked.
func (l *Link) RequestToStage(ctx context.Context, targetStageID int64, msg packet.Packet, timeout time.Duration) (packet.Packet, error) {
	return l.request(ctx, timeout, func(seq uint16) error {
		return l.outbound.SendToStage(targetStageID, msg, seq)
	})
}

// RequestToApi is RequestToStage's counterpart for a specific stateless Api
// instance addressed by serviceId.
func (l *Link) RequestToApi(ctx context.Context, serviceID uint16, msg packet.Packet, timeout time.Duration) (packet.Packet, error) {
	return l.request(ctx, timeout, func(seq uint16) error {
		return l.outbound.SendToApi(serviceID, msg, seq)
	})
}

// RequestToApiService sends to any instance of a named Api service (the
// address resolver picks which one) and awaits its reply.
func (l *Link) RequestToApiService(ctx context.Context, serviceName string, msg packet.Packet, timeout time.Duration) (packet.Packet, error) {
	return l.request(ctx, timeout, func(seq uint16) error {
		return l.outbound.SendToApiService(serviceName, msg, seq)
	})
}

func (l *Link) request(ctx context.Context, timeout time.Duration, send func(seq uint16) error) (packet.Packet, error) {
	seq := l.reqs.NextSeq()
	resultCh := make(chan any, 1)
	l.reqs.Add(seq, time.Now().Add(timeout), func(v any) { resultCh <- v })

	if err := send(seq); err != nil {
		l.reqs.Resolve(seq) // undo the registration; nothing will ever complete it now
		return packet.Packet{}, err
	}

	// A deadline derived from timeout drives the wait directly, and the
	// registration is dropped on timeout, so this call does not depend on
	// the reqcache's expiry sweep (Cache.RunExpiryLoop) to time out.
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := l.awaitReply(waitCtx, resultCh)
	if err != nil {
		l.reqs.Resolve(seq) // drop the registration; a late reply becomes harmless
	}
	return reply, err
}

// awaitReply blocks the calling goroutine (which owns this stage's
// single-flight execution slot) until resultCh fires. It releases the
// stage's pool.Weighted slot for the duration of the wait and reacquires
// one before returning, so a suspended request never keeps the pool from
// making progress on other stages — see pool.go's doc comment.
func (l *Link) awaitReply(ctx context.Context, resultCh <-chan any) (packet.Packet, error) {
	l.stage.pool.release()
	defer func() {
		// Best-effort reacquire: a cancelled ctx here just means this
		// goroutine proceeds without formally holding a slot rather than
		// deadlocking the caller; the pool's bound becomes advisory for
		// the remainder of this one call in that rare case.
		_ = l.stage.pool.acquire(context.Background())
	}()

	select {
	case v := <-resultCh:
		switch r := v.(type) {
		case packet.Packet:
			return r, nil
		case error:
			return packet.Packet{}, r
		default:
			return packet.Packet{}, playerror.New(playerror.InvalidResponse, "unexpected completion value type")
		}
	case <-ctx.Done():
		return packet.Packet{}, playerror.Wrap(playerror.RequestTimeout, ctx.Err())
	}
}

// AddTimer registers a one-shot or repeating timer scoped to this stage;
// when it fires, behavior.OnTimerCallback runs as an ordinary work item on
// this stage's mailbox, so it never overlaps a message in flight.
func (l *Link) AddTimer(delay, interval time.Duration, payload any) TimerID {
	return l.stage.timers.Add(l.stage, delay, interval, payload)
}

// CancelTimer stops a previously-registered timer. A no-op if it already
// fired (for one-shot timers) or was already cancelled.
func (l *Link) CancelTimer(id TimerID) {
	l.stage.timers.Cancel(id)
}
