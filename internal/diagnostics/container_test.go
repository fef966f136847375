package diagnostics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/internal/apihost"
	"github.com/ulala-x/playhouse-go/internal/packet"
)

func TestContainerConstructsRegisteredController(t *testing.T) {
	host := apihost.NewHost(Container{}, nil)
	require.NoError(t, host.Register(ApiEchoController{}))

	reply, handled := host.Invoke(context.Background(), "Echo", packet.Packet{MsgID: "Echo", Payload: []byte("hi")}, nil)
	require.True(t, handled)
	assert.Equal(t, "EchoReply", reply.MsgID)
	assert.Equal(t, []byte("hi"), reply.Payload)
}
