package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/testutil"
)

type recordingAccepter struct {
	nextSID  atomic.Int64
	accepted chan *Session
	messages chan packet.Packet
}

func newRecordingAccepter() *recordingAccepter {
	return &recordingAccepter{accepted: make(chan *Session, 4), messages: make(chan packet.Packet, 4)}
}

func (a *recordingAccepter) NextSID() int64 { return a.nextSID.Add(1) }
func (a *recordingAccepter) OnAccept(s *Session) { a.accepted <- s }
func (a *recordingAccepter) OnMessage(s *Session, p packet.Packet) { a.messages <- p }

func TestTCPServerAcceptsAndDecodes(t *testing.T) {
	ln, _ := testutil.ListenTCP(t)

	accepter := newRecordingAccepter()
	srv := &TCPServer{Accepter: accepter}

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan struct{})
	go func() {
		srv.Serve(ctx, ln)
		close(serveDone)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	enc, err := packet.EncodeRequest(packet.Packet{MsgID: "Hi", MsgSeq: 1}, true, packet.MaxBodySize)
	require.NoError(t, err)
	_, err = conn.Write(enc)
	require.NoError(t, err)

	select {
	case <-accepter.accepted:
	case <-time.After(time.Second):
		t.Fatal("connection never reached OnAccept")
	}
	select {
	case p := <-accepter.messages:
		assert.Equal(t, "Hi", p.MsgID)
	case <-time.After(time.Second):
		t.Fatal("message never reached OnMessage")
	}

	// Close the client side first so the per-connection goroutine's blocking
	// read unblocks on its own — Serve's shutdown only closes the listener,
	// it does not forcibly interrupt connections already being served,
	// matching the teacher's own Serve/acceptLoop shutdown shape.
	conn.Close()
	cancel()
	select {
	case <-serveDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve never returned after cancellation")
	}
}

func TestWSServerUpgradesAndExchanges(t *testing.T) {
	accepter := newRecordingAccepter()
	srv := &WSServer{Path: "/ws", Accepter: accepter}

	// Exercise the upgrade handler directly through an httptest server,
	// since binding WSServer.Run's own http.Server to a fixed port isn't
	// necessary to prove the upgrade path works.
	ts := httptest.NewServer(http.HandlerFunc(srv.handleUpgrade))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	enc, err := packet.EncodeRequest(packet.Packet{MsgID: "Ping", MsgSeq: 3}, false, packet.MaxBodySize)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, enc))

	select {
	case p := <-accepter.messages:
		assert.Equal(t, "Ping", p.MsgID)
	case <-time.After(time.Second):
		t.Fatal("message never reached OnMessage over websocket")
	}
}
