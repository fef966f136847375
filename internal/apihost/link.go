package apihost

import (
	"context"
	"time"

	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/playerror"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
)

// Outbound is everything an Api handler needs to reach back out into the
// mesh. Unlike stage.Outbound there is no SendToClient: Api servers have no
// client sessions of their own (spec.md §3 — clients terminate only on Play
// servers).
type Outbound interface {
	SendToStage(targetStageID int64, msg packet.Packet, seq uint16) error
	SendToApi(serviceID uint16, msg packet.Packet, seq uint16) error
	SendToApiService(serviceName string, msg packet.Packet, seq uint16) error
}

// Link is the Api-side counterpart of stage.Link (spec.md §4.N): the handle
// a handler method uses to call back out and optionally await a reply.
// Unlike stage.Link, awaiting here never needs to release a worker-pool
// slot — Api handlers already run one per ordinary goroutine (spec.md
// §4.L: "handlers run concurrently; there is no per-account serialization
// on Api servers"), so RequestTo* just blocks the calling goroutine.
type Link struct {
	outbound Outbound
	reqs     *reqcache.Cache
}

func NewLink(outbound Outbound, reqs *reqcache.Cache) *Link {
	return &Link{outbound: outbound, reqs: reqs}
}

func (l *Link) SendToStage(targetStageID int64, msg packet.Packet) error {
	return l.outbound.SendToStage(targetStageID, msg, 0)
}

func (l *Link) SendToApi(serviceID uint16, msg packet.Packet) error {
	return l.outbound.SendToApi(serviceID, msg, 0)
}

func (l *Link) RequestToStage(ctx context.Context, targetStageID int64, msg packet.Packet, timeout time.Duration) (packet.Packet, error) {
	return l.request(ctx, timeout, func(seq uint16) error {
		return l.outbound.SendToStage(targetStageID, msg, seq)
	})
}

func (l *Link) RequestToApi(ctx context.Context, serviceID uint16, msg packet.Packet, timeout time.Duration) (packet.Packet, error) {
	return l.request(ctx, timeout, func(seq uint16) error {
		return l.outbound.SendToApi(serviceID, msg, seq)
	})
}

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
		l.reqs.Resolve(seq)
		return packet.Packet{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

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
	case <-waitCtx.Done():
		l.reqs.Resolve(seq)
		return packet.Packet{}, playerror.Wrap(playerror.RequestTimeout, waitCtx.Err())
	}
}
