package dispatch

import (
	"context"
	"log/slog"

	"github.com/ulala-x/playhouse-go/internal/apihost"
	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/playerror"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
)

// ApiConfig holds the options an Api process's dispatcher needs.
type ApiConfig struct {
	ServerID  string
	ServiceID uint16
}

// ApiDispatcher is the Api half of spec.md §4.L: stateless, mesh-only,
// handlers run concurrently with no per-account serialization.
type ApiDispatcher struct {
	cfg      ApiConfig
	mesh     MeshSender
	host     *apihost.Host
	reqs     *reqcache.Cache
	resolver AddressResolver
	logger   *slog.Logger
}

func NewApiDispatcher(cfg ApiConfig, mh MeshSender, host *apihost.Host, reqs *reqcache.Cache, resolver AddressResolver, logger *slog.Logger) *ApiDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApiDispatcher{cfg: cfg, mesh: mh, host: host, reqs: reqs, resolver: resolver, logger: logger}
}

// --- apihost.Outbound, used by the Link handed to every invoked handler ---

func (d *ApiDispatcher) SendToStage(targetStageID int64, msg packet.Packet, seq uint16) error {
	serverID, ok := d.resolver.ResolveStageOwner(targetStageID)
	if !ok {
		return playerror.New(playerror.ConnectionClosed, "no connected peer owns stageId")
	}
	rp := packet.NewBorrowed(packet.RouteHeader{
		MsgSeq: seq, ServiceID: d.cfg.ServiceID, ServerType: packet.ServerTypeApi,
		MsgID: msg.MsgID, From: d.cfg.ServerID, StageID: targetStageID,
	}, msg.Payload)
	return d.mesh.Send(serverID, rp)
}

func (d *ApiDispatcher) SendToApi(serviceID uint16, msg packet.Packet, seq uint16) error {
	serverID, ok := d.resolver.ResolveServiceID(serviceID)
	if !ok {
		return playerror.New(playerror.ConnectionClosed, "no connected peer for serviceId")
	}
	return d.send(serverID, serviceID, msg, seq)
}

func (d *ApiDispatcher) SendToApiService(serviceName string, msg packet.Packet, seq uint16) error {
	serverID, serviceID, ok := d.resolver.SelectService(serviceName)
	if !ok {
		return playerror.New(playerror.ConnectionClosed, "no connected peer for api service")
	}
	return d.send(serverID, serviceID, msg, seq)
}

func (d *ApiDispatcher) send(serverID string, serviceID uint16, msg packet.Packet, seq uint16) error {
	rp := packet.NewBorrowed(packet.RouteHeader{
		MsgSeq: seq, ServiceID: serviceID, ServerType: packet.ServerTypeApi,
		MsgID: msg.MsgID, From: d.cfg.ServerID, StageID: msg.StageID,
	}, msg.Payload)
	return d.mesh.Send(serverID, rp)
}

// --- mesh.Handler ---

// HandleRoutePacket resolves replies against the request cache and routes
// everything else to the registered handler for header.msgId, replying
// HandlerNotFound if nothing claims it.
func (d *ApiDispatcher) HandleRoutePacket(rp *packet.RoutePacket) {
	defer rp.Dispose()
	h := rp.Header

	if h.IsReply && h.MsgSeq != 0 {
		if completion, ok := d.reqs.Resolve(h.MsgSeq); ok {
			completion(packet.Packet{MsgID: h.MsgID, MsgSeq: h.MsgSeq, StageID: h.StageID, ErrorCode: h.ErrorCode, Payload: rp.Payload})
		}
		return
	}

	msg := packet.Packet{MsgID: h.MsgID, MsgSeq: h.MsgSeq, StageID: h.StageID, Payload: rp.Payload}
	link := apihost.NewLink(d, d.reqs)

	// Handlers run concurrently and with no per-account serialization
	// (spec.md §4.L): each invocation gets its own goroutine rather than
	// sharing a mailbox the way stage dispatch does.
	go func() {
		reply, handled := d.host.Invoke(context.Background(), h.MsgID, msg, link)
		if h.MsgSeq == 0 {
			return
		}
		code := playerror.Success
		if !handled {
			code = playerror.HandlerNotFound
		}
		d.replyOverMesh(h, reply, code)
	}()
}

func (d *ApiDispatcher) replyOverMesh(h packet.RouteHeader, reply packet.Packet, code playerror.Code) {
	rp := packet.NewBorrowed(packet.RouteHeader{
		MsgSeq:     h.MsgSeq,
		ServiceID:  d.cfg.ServiceID,
		ServerType: packet.ServerTypeApi,
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
