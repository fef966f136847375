// Package dispatch implements the two dispatcher flavors of spec.md §4.L:
// the Play dispatcher (client boundary + inter-server mesh, routing into
// internal/stage's per-stage mailboxes) and the Api dispatcher (mesh only,
// routing into internal/apihost's reflection-based handler table). Both
// share the same "resolve a reply against the request cache, otherwise
// route by msgId/stageId" discipline.
package dispatch

import (
	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/stage"
)

// AddressResolver is what a dispatcher needs from the address resolver /
// server-info center (spec.md §4.M) to reach another server over the mesh.
// internal/discovery implements it; this package only depends on the
// interface to avoid an import cycle (discovery needs to dial through
// internal/mesh, which dispatch also uses, but discovery has no reason to
// import dispatch).
type AddressResolver interface {
	// ResolveServiceID picks a connected peer hosting serviceID, if any.
	ResolveServiceID(serviceID uint16) (serverID string, ok bool)
	// SelectService picks a connected peer for the named Api service group
	// by the group's configured selection policy (RoundRobin/Weighted).
	SelectService(serviceName string) (serverID string, serviceID uint16, ok bool)
	// ResolveStageOwner picks the Play server hosting stageID, for an Api
	// handler that needs to reach back into a stage. Play's own
	// PlayDispatcher never calls this to SEND: a stage's Link API carries
	// no serverId alongside a target stageId, so stage-to-stage sends from
	// a Stage are necessarily local (see play.go's SendToStage comment).
	// PlayDispatcher calls RegisterStageOwner on its own resolver each time
	// it creates a stage; it never calls UnregisterStageOwner. The directory
	// is in-memory and per process: nothing propagates it to other servers.
	ResolveStageOwner(stageID int64) (serverID string, ok bool)
	RegisterStageOwner(stageID int64, serverID string)
	UnregisterStageOwner(stageID int64)
}

// MeshSender is the slice of internal/mesh.Mesh both dispatchers need: send
// one RoutePacket to a named peer. Kept as an interface (rather than a
// direct *mesh.Mesh field) so tests can exercise dispatch routing logic
// without a real ROUTER socket.
type MeshSender interface {
	Send(targetServerID string, rp *packet.RoutePacket) error
}

// StageFactory constructs a fresh stage.Behavior for a registered stage
// type name. Used when a create-stage message arrives for a stageId this
// process has never seen.
type StageFactory interface {
	NewBehavior(typeName string) (stage.Behavior, bool)
}

// OutboundRef breaks the construction cycle between stage.Manager (which
// needs a stage.Outbound at construction time) and PlayDispatcher (which
// needs the Manager first): construct one, pass it to stage.NewManager,
// build the PlayDispatcher, then set Outbound to the result.
type OutboundRef struct {
	Outbound stage.Outbound
}

func (r *OutboundRef) SendToClient(sid int64, msg packet.Packet) error {
	return r.Outbound.SendToClient(sid, msg)
}

func (r *OutboundRef) SendToStage(targetStageID int64, msg packet.Packet, seq uint16) error {
	return r.Outbound.SendToStage(targetStageID, msg, seq)
}

func (r *OutboundRef) SendToApi(serviceID uint16, msg packet.Packet, seq uint16) error {
	return r.Outbound.SendToApi(serviceID, msg, seq)
}

func (r *OutboundRef) SendToApiService(serviceName string, msg packet.Packet, seq uint16) error {
	return r.Outbound.SendToApiService(serviceName, msg, seq)
}

// Authenticator validates the opaque payload of the first message a new
// client session sends and extracts the identity/target it carries.
// spec.md deliberately leaves per-message payload schemas opaque (§3
// Non-goals), so this is the extension point an application supplies
// instead of this package guessing a wire format.
type Authenticator interface {
	Authenticate(msg packet.Packet) (accountID string, stageID int64, ok bool)
}
