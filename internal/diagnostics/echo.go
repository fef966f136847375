// Package diagnostics is the built-in echo mode SPEC_FULL.md §"Supplemented
// features" calls for: an Authenticator and StageFactory that accept any
// client, create a single trivial stage per account, and echo every
// message's payload straight back. It exists to smoke-test a freshly
// deployed Play server with no application code wired in yet; production
// deployments supply their own Authenticator/StageFactory and leave this
// disabled (config.Play.DiagnosticEchoEnabled defaults to false).
package diagnostics

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/stage"
)

// EchoStageType is the type name Factory registers.
const EchoStageType = "diagnostic-echo"

// Authenticator treats the request payload itself as the accountID and
// derives a stable stageID by hashing it, so repeated connections from the
// same diagnostic client land on the same stage.
type Authenticator struct{}

func (Authenticator) Authenticate(msg packet.Packet) (accountID string, stageID int64, ok bool) {
	if len(msg.Payload) == 0 {
		return "", 0, false
	}
	accountID = string(msg.Payload)
	h := fnv.New64a()
	_, _ = h.Write(msg.Payload)
	stageID = int64(h.Sum64() >> 1) // keep it positive; sign has no meaning here
	return accountID, stageID, true
}

// Factory hands out EchoBehavior for EchoStageType and nothing else.
type Factory struct{}

func (Factory) NewBehavior(typeName string) (stage.Behavior, bool) {
	if typeName != EchoStageType {
		return nil, false
	}
	return Behavior{}, true
}

// Behavior implements stage.Behavior by echoing every dispatched message's
// payload back to its sender unchanged, and accepting every create/join.
type Behavior struct{}

func (Behavior) OnCreate(_ context.Context, _ *stage.Link, createPacket packet.Packet) (bool, packet.Packet) {
	return true, packet.Packet{MsgID: "EchoCreated", Payload: createPacket.Payload}
}

func (Behavior) OnPostCreate(_ context.Context, _ *stage.Link) {}

func (Behavior) OnDestroy(_ context.Context, _ *stage.Link) {}

func (Behavior) OnJoinStage(_ context.Context, _ *stage.Link, _ *stage.Actor) bool { return true }

func (Behavior) OnPostJoinStage(_ context.Context, _ *stage.Link, _ *stage.Actor) {}

func (Behavior) OnDisconnect(_ context.Context, _ *stage.Link, _ *stage.Actor) {}

func (Behavior) OnDispatch(_ context.Context, _ *stage.Link, _ *stage.Actor, msg packet.Packet) packet.Packet {
	return packet.Packet{MsgID: fmt.Sprintf("%sEcho", msg.MsgID), Payload: msg.Payload}
}

func (Behavior) OnTimerCallback(_ context.Context, _ *stage.Link, _ stage.TimerID, _ any) {}
