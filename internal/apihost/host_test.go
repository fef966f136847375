package apihost

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
)

type noopScope struct{ disposed bool }

func (s *noopScope) Dispose() { s.disposed = true }

type echoController struct{ scopeID int }

func (c *echoController) Handles(r *Registrar) {
	r.Register("Echo", "HandleEcho")
	r.Register("Boom", "HandleBoom")
}

func (c *echoController) HandleEcho(ctx context.Context, p packet.Packet, link *Link) packet.Packet {
	return packet.Packet{MsgID: "EchoReply", Payload: p.Payload}
}

func (c *echoController) HandleBoom(ctx context.Context, p packet.Packet, link *Link) packet.Packet {
	panic("should never be invoked by these tests")
}

type badSignatureController struct{}

func (c *badSignatureController) Handles(r *Registrar) {
	r.Register("Bad", "WrongShape")
}

func (c *badSignatureController) WrongShape(p packet.Packet) string { return "" }

type fakeContainer struct {
	scopes []*noopScope
	newFn  func(t reflect.Type) (Controller, error)
}

func (f *fakeContainer) NewScope() Scope {
	s := &noopScope{}
	f.scopes = append(f.scopes, s)
	return s
}

func (f *fakeContainer) New(scope Scope, t reflect.Type) (Controller, error) {
	if f.newFn != nil {
		return f.newFn(t)
	}
	return reflect.New(t.Elem()).Interface().(Controller), nil
}

func TestRegisterAndInvokeDispatchesToMatchedMethod(t *testing.T) {
	c := &fakeContainer{}
	h := NewHost(c, nil)
	require.NoError(t, h.Register(&echoController{}))

	link := NewLink(nil, nil)
	reply, handled := h.Invoke(context.Background(), "Echo", packet.Packet{Payload: []byte("hi")}, link)
	assert.True(t, handled)
	assert.Equal(t, "EchoReply", reply.MsgID)
	assert.Equal(t, []byte("hi"), reply.Payload)
	assert.Len(t, c.scopes, 1)
	assert.True(t, c.scopes[0].disposed)
}

func TestInvokeUnknownMsgIDReturnsNotHandled(t *testing.T) {
	h := NewHost(&fakeContainer{}, nil)
	_, handled := h.Invoke(context.Background(), "Nope", packet.Packet{}, NewLink(nil, nil))
	assert.False(t, handled)
}

func TestRegisterDuplicateMsgIDFails(t *testing.T) {
	h := NewHost(&fakeContainer{}, nil)
	require.NoError(t, h.Register(&echoController{}))
	err := h.Register(&echoController{})
	require.Error(t, err)
}

func TestRegisterRejectsWrongMethodSignature(t *testing.T) {
	h := NewHost(&fakeContainer{}, nil)
	err := h.Register(&badSignatureController{})
	require.Error(t, err)
}

func TestLinkRequestToStageTimesOutWithoutAReply(t *testing.T) {
	reqs := reqcache.New()
	link := NewLink(swallowOutbound{}, reqs)
	_, err := link.RequestToStage(context.Background(), 1, packet.Packet{MsgID: "X"}, 20*time.Millisecond)
	require.Error(t, err)
}

type swallowOutbound struct{}

func (swallowOutbound) SendToStage(int64, packet.Packet, uint16) error    { return nil }
func (swallowOutbound) SendToApi(uint16, packet.Packet, uint16) error     { return nil }
func (swallowOutbound) SendToApiService(string, packet.Packet, uint16) error { return nil }
