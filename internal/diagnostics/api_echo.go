package diagnostics

import (
	"context"

	"github.com/ulala-x/playhouse-go/internal/apihost"
	"github.com/ulala-x/playhouse-go/internal/packet"
)

// ApiEchoController is the built-in Api handler for diagnostic echo mode: it
// registers "Echo" and replies with the request payload unchanged.
type ApiEchoController struct{}

func (ApiEchoController) Handles(r *apihost.Registrar) {
	r.Register("Echo", "HandleEcho")
}

func (ApiEchoController) HandleEcho(_ context.Context, msg packet.Packet, _ *apihost.Link) packet.Packet {
	return packet.Packet{MsgID: "EchoReply", Payload: msg.Payload}
}
