package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/playerror"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
	"github.com/ulala-x/playhouse-go/internal/stage"
	"github.com/ulala-x/playhouse-go/internal/transport"
)

// PlayConfig holds the per-deployment options spec.md §6 lists for a Play
// process that this dispatcher needs directly.
type PlayConfig struct {
	ServerID          string
	ServiceID         uint16
	DefaultStageType  string
	AuthenticateMsgID string
	// CreateStageMsgID marks a message, addressed to a stageId this process
	// has never seen, as a request to create that stage (using
	// DefaultStageType) rather than an error. spec.md §4.L describes the
	// create-on-miss behavior but its wire header carries no dedicated
	// "this is a create" flag or stage-type field (payload schemas are
	// opaque by design, §3 Non-goals), so — like AuthenticateMsgID — this
	// is a reserved, configured message id rather than inferred from the
	// header alone.
	CreateStageMsgID string
	RequestTimeout    time.Duration
}

// PlayDispatcher is the Play half of spec.md §4.L: it implements
// transport.Accepter for the client boundary, stage.Outbound for what a
// Stage's Link can reach, and handles inbound mesh traffic for replies and
// Api pushes addressed back to one of its stages.
type PlayDispatcher struct {
	cfg      PlayConfig
	mgr      *stage.Manager
	mesh     MeshSender
	reqs     *reqcache.Cache
	resolver AddressResolver
	factory  StageFactory
	auth     Authenticator
	logger   *slog.Logger

	nextSID atomic.Int64

	mu       sync.RWMutex
	sessions map[int64]*transport.Session
	actors   map[int64]*stage.Actor
}

func NewPlayDispatcher(cfg PlayConfig, mgr *stage.Manager, mh MeshSender, reqs *reqcache.Cache, resolver AddressResolver, factory StageFactory, auth Authenticator, logger *slog.Logger) *PlayDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &PlayDispatcher{
		cfg: cfg, mgr: mgr, mesh: mh, reqs: reqs, resolver: resolver, factory: factory, auth: auth, logger: logger,
		sessions: make(map[int64]*transport.Session),
		actors:   make(map[int64]*stage.Actor),
	}
}

// --- transport.Accepter ---

func (d *PlayDispatcher) NextSID() int64 { return d.nextSID.Add(1) }

// SessionCount reports how many client sessions are currently tracked, for
// the read-only stats surface.
func (d *PlayDispatcher) SessionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

func (d *PlayDispatcher) OnAccept(s *transport.Session) {
	d.mu.Lock()
	d.sessions[s.SID] = s
	d.mu.Unlock()
	s.OnClose = d.onSessionClosed
}

func (d *PlayDispatcher) onSessionClosed(s *transport.Session) {
	d.mu.Lock()
	delete(d.sessions, s.SID)
	actor := d.actors[s.SID]
	delete(d.actors, s.SID)
	d.mu.Unlock()

	if actor == nil {
		return
	}
	if stageID, ok := s.StageID(); ok {
		_ = d.mgr.DisconnectActor(context.Background(), stageID, actor)
	}
}

// OnMessage handles one decoded client request, applying the pre-auth
// gate of spec.md §4.J before any message reaches a stage.
func (d *PlayDispatcher) OnMessage(s *transport.Session, p packet.Packet) {
	if p.MsgID == packet.MsgIDHeartBeat {
		return // the wire sets a fresh read deadline before every read; nothing to reply.
	}

	if s.State() == transport.StateConnected {
		d.handleAuthenticate(s, p)
		return
	}

	d.mu.RLock()
	actor := d.actors[s.SID]
	d.mu.RUnlock()
	if actor == nil {
		s.CloseAsync()
		return
	}
	stageID, ok := s.StageID()
	if !ok {
		s.CloseAsync()
		return
	}

	err := d.mgr.Dispatch(stageID, actor, p, func(reply packet.Packet) {
		if p.IsRequest() {
			reply.MsgSeq = p.MsgSeq
			_ = s.Send(reply)
		}
	})
	if err != nil && p.IsRequest() {
		_ = s.Send(packet.Packet{MsgID: packet.MsgIDTimeout, MsgSeq: p.MsgSeq, ErrorCode: uint16(playerror.CodeOf(err))})
	}
}

func (d *PlayDispatcher) handleAuthenticate(s *transport.Session, p packet.Packet) {
	if p.MsgID != d.cfg.AuthenticateMsgID {
		d.logger.Warn("dispatch: pre-auth message rejected", "sid", s.SID, "msgId", p.MsgID)
		s.CloseAsync()
		return
	}
	accountID, stageID, ok := d.auth.Authenticate(p)
	if !ok {
		s.CloseAsync()
		return
	}

	actor := stage.NewActor(s.SID, accountID)
	accepted, err := d.mgr.JoinStage(context.Background(), stageID, actor)
	if err != nil && d.factory != nil {
		behavior, hasType := d.factory.NewBehavior(d.cfg.DefaultStageType)
		if hasType {
			created, _, createErr := d.mgr.CreateStage(context.Background(), stageID, d.cfg.DefaultStageType, behavior, p)
			if createErr == nil && created {
				if d.resolver != nil {
					d.resolver.RegisterStageOwner(stageID, d.cfg.ServerID)
				}
				accepted, err = d.mgr.JoinStage(context.Background(), stageID, actor)
			}
		}
	}
	if err != nil || !accepted {
		s.CloseAsync()
		return
	}

	s.Authenticate(accountID)
	s.SetStageID(stageID)
	d.mu.Lock()
	d.actors[s.SID] = actor
	d.mu.Unlock()
}

// --- stage.Outbound ---

func (d *PlayDispatcher) SendToClient(sid int64, msg packet.Packet) error {
	d.mu.RLock()
	s, ok := d.sessions[sid]
	d.mu.RUnlock()
	if !ok {
		return playerror.New(playerror.ConnectionClosed, "client session not found")
	}
	return s.Send(msg)
}

// SendToStage delivers msg to a stage local to this process. spec.md's
// Link API never passes a serverId alongside a target stageId, so
// stage-to-stage addressing is necessarily local to one Play process; the
// mesh only carries Api traffic (see SendToApi/SendToApiService).
func (d *PlayDispatcher) SendToStage(targetStageID int64, msg packet.Packet, seq uint16) error {
	msg.MsgSeq = seq
	return d.mgr.Dispatch(targetStageID, nil, msg, func(reply packet.Packet) {
		if seq == 0 {
			return
		}
		if completion, ok := d.reqs.Resolve(seq); ok {
			reply.MsgSeq = seq
			completion(reply)
		}
	})
}

func (d *PlayDispatcher) SendToApi(serviceID uint16, msg packet.Packet, seq uint16) error {
	serverID, ok := d.resolver.ResolveServiceID(serviceID)
	if !ok {
		return playerror.New(playerror.ConnectionClosed, "no connected peer for serviceId")
	}
	return d.sendOverMesh(serverID, serviceID, msg, seq)
}

func (d *PlayDispatcher) SendToApiService(serviceName string, msg packet.Packet, seq uint16) error {
	serverID, serviceID, ok := d.resolver.SelectService(serviceName)
	if !ok {
		return playerror.New(playerror.ConnectionClosed, "no connected peer for api service")
	}
	return d.sendOverMesh(serverID, serviceID, msg, seq)
}

func (d *PlayDispatcher) sendOverMesh(targetServerID string, serviceID uint16, msg packet.Packet, seq uint16) error {
	rp := packet.NewBorrowed(packet.RouteHeader{
		MsgSeq:     seq,
		ServiceID:  serviceID,
		ServerType: packet.ServerTypeApi,
		MsgID:      msg.MsgID,
		From:       d.cfg.ServerID,
		StageID:    msg.StageID,
		SID:        0,
	}, msg.Payload)
	return d.mesh.Send(targetServerID, rp)
}

// --- mesh.Handler ---

// HandleRoutePacket processes one inbound RoutePacket: a reply resolves a
// pending request; anything else is routed to the stage it names, creating
// the stage first if the message carries CreateStageMsgID and the stage
// doesn't exist yet.
func (d *PlayDispatcher) HandleRoutePacket(rp *packet.RoutePacket) {
	defer rp.Dispose()
	h := rp.Header

	if h.IsReply && h.MsgSeq != 0 {
		if completion, ok := d.reqs.Resolve(h.MsgSeq); ok {
			completion(packet.Packet{MsgID: h.MsgID, MsgSeq: h.MsgSeq, StageID: h.StageID, ErrorCode: h.ErrorCode, Payload: rp.Payload})
		}
		return
	}

	msg := packet.Packet{MsgID: h.MsgID, MsgSeq: h.MsgSeq, StageID: h.StageID, Payload: rp.Payload}
	err := d.mgr.Dispatch(h.StageID, nil, msg, func(reply packet.Packet) {
		if h.MsgSeq != 0 {
			d.replyOverMesh(h, reply, playerror.Success)
		}
	})
	if err == nil {
		return
	}

	if playerror.CodeOf(err) == playerror.StageNotFound && h.MsgID == d.cfg.CreateStageMsgID && d.factory != nil {
		if behavior, ok := d.factory.NewBehavior(d.cfg.DefaultStageType); ok {
			created, createReply, createErr := d.mgr.CreateStage(context.Background(), h.StageID, d.cfg.DefaultStageType, behavior, msg)
			if createErr == nil && created {
				if d.resolver != nil {
					d.resolver.RegisterStageOwner(h.StageID, d.cfg.ServerID)
				}
				if h.MsgSeq != 0 {
					d.replyOverMesh(h, createReply, playerror.Success)
				}
				return
			}
		}
	}

	if h.MsgSeq != 0 {
		d.replyOverMesh(h, packet.Packet{}, playerror.CodeOf(err))
	}
}

func (d *PlayDispatcher) replyOverMesh(h packet.RouteHeader, reply packet.Packet, code playerror.Code) {
	rp := packet.NewBorrowed(packet.RouteHeader{
		MsgSeq:     h.MsgSeq,
		ServiceID:  d.cfg.ServiceID,
		ServerType: packet.ServerTypePlay,
		MsgID:      reply.MsgID,
		From:       d.cfg.ServerID,
		StageID:    h.StageID,
		ErrorCode:  uint16(code),
		IsReply:    true,
	}, reply.Payload)
	if err := d.mesh.Send(h.From, rp); err != nil {
		d.logger.Warn("dispatch: mesh reply failed", "target", h.From, "error", err)
	}
}
