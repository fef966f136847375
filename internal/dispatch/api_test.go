package dispatch

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulala-x/playhouse-go/internal/apihost"
	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/playerror"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
)

type noopScope struct{ disposed bool }

func (s *noopScope) Dispose() { s.disposed = true }

type fakeContainer struct{}

func (fakeContainer) NewScope() apihost.Scope { return &noopScope{} }

func (fakeContainer) New(scope apihost.Scope, t reflect.Type) (apihost.Controller, error) {
	v := reflect.New(t.Elem())
	return v.Interface().(apihost.Controller), nil
}

type echoAPIController struct{}

func (echoAPIController) Handles(r *apihost.Registrar) {
	r.Register("Echo", "HandleEcho")
}

func (*echoAPIController) HandleEcho(ctx context.Context, p packet.Packet, link *apihost.Link) packet.Packet {
	return packet.Packet{MsgID: "Echoed", Payload: p.Payload}
}

func TestApiDispatcherInvokesRegisteredHandlerAndRepliesOverMesh(t *testing.T) {
	host := apihost.NewHost(fakeContainer{}, nil)
	require.NoError(t, host.Register(&echoAPIController{}))

	m := &fakeMesh{}
	reqs := reqcache.New()
	resolver := newFakeResolver()
	d := NewApiDispatcher(ApiConfig{ServerID: "api-1", ServiceID: 1}, m, host, reqs, resolver, nil)

	rp := packet.NewBorrowed(packet.RouteHeader{
		MsgSeq: 7, MsgID: "Echo", From: "play-1", StageID: 42,
	}, []byte("hi"))
	d.HandleRoutePacket(rp)

	require.Eventually(t, func() bool { return len(m.sent) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "play-1", m.sent[0].target)
	assert.True(t, m.sent[0].rp.Header.IsReply)
	assert.Equal(t, uint16(7), m.sent[0].rp.Header.MsgSeq)
	assert.Equal(t, uint16(playerror.Success), m.sent[0].rp.Header.ErrorCode)
}

func TestApiDispatcherRepliesHandlerNotFoundForUnknownMsgID(t *testing.T) {
	host := apihost.NewHost(fakeContainer{}, nil)
	m := &fakeMesh{}
	reqs := reqcache.New()
	resolver := newFakeResolver()
	d := NewApiDispatcher(ApiConfig{ServerID: "api-1", ServiceID: 1}, m, host, reqs, resolver, nil)

	rp := packet.NewBorrowed(packet.RouteHeader{MsgSeq: 3, MsgID: "NoSuchHandler", From: "play-1"}, nil)
	d.HandleRoutePacket(rp)

	require.Eventually(t, func() bool { return len(m.sent) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, uint16(playerror.HandlerNotFound), m.sent[0].rp.Header.ErrorCode)
}

func TestApiDispatcherResolvesReplyWithoutInvokingHost(t *testing.T) {
	host := apihost.NewHost(fakeContainer{}, nil)
	m := &fakeMesh{}
	reqs := reqcache.New()
	resolver := newFakeResolver()
	d := NewApiDispatcher(ApiConfig{ServerID: "api-1", ServiceID: 1}, m, host, reqs, resolver, nil)

	seq := reqs.NextSeq()
	resolved := make(chan packet.Packet, 1)
	reqs.Add(seq, time.Now().Add(time.Second), func(v any) { resolved <- v.(packet.Packet) })

	rp := packet.NewBorrowed(packet.RouteHeader{MsgSeq: seq, IsReply: true, MsgID: "Reply"}, []byte("ok"))
	d.HandleRoutePacket(rp)

	select {
	case p := <-resolved:
		assert.Equal(t, "Reply", p.MsgID)
	case <-time.After(time.Second):
		t.Fatal("reply never resolved")
	}
	assert.Empty(t, m.sent)
}

func TestApiDispatcherSendToStageResolvesOwnerThenSendsOverMesh(t *testing.T) {
	host := apihost.NewHost(fakeContainer{}, nil)
	m := &fakeMesh{}
	reqs := reqcache.New()
	resolver := newFakeResolver()
	resolver.RegisterStageOwner(42, "play-7")
	d := NewApiDispatcher(ApiConfig{ServerID: "api-1", ServiceID: 1}, m, host, reqs, resolver, nil)

	err := d.SendToStage(42, packet.Packet{MsgID: "Push"}, 0)
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.Equal(t, "play-7", m.sent[0].target)
}

func TestApiDispatcherSendToStageFailsWhenOwnerUnknown(t *testing.T) {
	host := apihost.NewHost(fakeContainer{}, nil)
	m := &fakeMesh{}
	reqs := reqcache.New()
	resolver := newFakeResolver()
	d := NewApiDispatcher(ApiConfig{ServerID: "api-1", ServiceID: 1}, m, host, reqs, resolver, nil)

	err := d.SendToStage(99, packet.Packet{MsgID: "Push"}, 0)
	require.Error(t, err)
	assert.Empty(t, m.sent)
}
