package transport

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulala-x/playhouse-go/internal/packet"
)

func pipeSessions(t *testing.T, opts Options) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	s := NewSession(1, server, opts, nil)
	t.Cleanup(func() { s.Close(); client.Close() })
	return s, client
}

func readLengthPrefixed(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var lenBuf [4]byte
	_, err := readFull(conn, lenBuf[:])
	require.NoError(t, err)
	n := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	_, err = readFull(conn, body)
	require.NoError(t, err)
	return body
}

func TestSessionSendWritePumpRoundTrip(t *testing.T) {
	s, client := pipeSessions(t, Options{})
	go s.WritePump()

	require.NoError(t, s.Send(packet.Packet{MsgID: "Hello", MsgSeq: 1, Payload: []byte("world")}))

	body := readLengthPrefixed(t, client)
	resp, err := packet.DecodeResponse(body, packet.MaxBodySize)
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.MsgID)
	assert.Equal(t, []byte("world"), resp.Payload)
}

func TestSessionReadLoopDecodesRequests(t *testing.T) {
	s, client := pipeSessions(t, Options{})

	received := make(chan packet.Packet, 1)
	done := make(chan struct{})
	go func() {
		s.ReadLoop(func(sess *Session, p packet.Packet) { received <- p })
		close(done)
	}()

	enc, err := packet.EncodeRequest(packet.Packet{MsgID: "Ping", MsgSeq: 7, StageID: 42}, true, packet.MaxBodySize)
	require.NoError(t, err)
	_, err = client.Write(enc)
	require.NoError(t, err)

	select {
	case p := <-received:
		assert.Equal(t, "Ping", p.MsgID)
		assert.Equal(t, uint16(7), p.MsgSeq)
		assert.Equal(t, int64(42), p.StageID)
	case <-time.After(time.Second):
		t.Fatal("ReadLoop never delivered the decoded request")
	}
}

func TestSessionReadLoopAssemblesFrameSplitAcrossReads(t *testing.T) {
	s, client := pipeSessions(t, Options{})

	received := make(chan packet.Packet, 1)
	done := make(chan struct{})
	go func() {
		s.ReadLoop(func(sess *Session, p packet.Packet) { received <- p })
		close(done)
	}()

	enc, err := packet.EncodeRequest(packet.Packet{MsgID: "Ping", MsgSeq: 9, Payload: []byte("hello")}, true, packet.MaxBodySize)
	require.NoError(t, err)

	// Write the 4-byte length prefix and the body in separate writes, the
	// way a real TCP stream can deliver a frame split across reads — the
	// ring buffer backing tcpWire.ReadFrame must still assemble it whole.
	_, err = client.Write(enc[:4])
	require.NoError(t, err)
	_, err = client.Write(enc[4:])
	require.NoError(t, err)

	select {
	case p := <-received:
		assert.Equal(t, "Ping", p.MsgID)
		assert.Equal(t, []byte("hello"), p.Payload)
	case <-time.After(time.Second):
		t.Fatal("ReadLoop never delivered the frame split across reads")
	}
}

func TestReadLoopClosesSessionOnUndecodableFrame(t *testing.T) {
	s, client := pipeSessions(t, Options{})

	done := make(chan struct{})
	go func() {
		s.ReadLoop(func(sess *Session, p packet.Packet) {})
		close(done)
	}()

	// MsgIdLen byte of 0 is rejected by DecodeRequest ("MsgIdLen is 0").
	badFrame := []byte{0}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(badFrame)))
	_, err := client.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = client.Write(badFrame)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReadLoop never returned after an undecodable frame")
	}
	assert.Equal(t, StateClosed, s.State())
}

func TestSendQueueFullDisconnectsSlowClient(t *testing.T) {
	s, _ := pipeSessions(t, Options{SendQueueSize: 1})
	// No WritePump running, so the queue never drains.
	require.NoError(t, s.Send(packet.Packet{MsgID: "A"}))
	err := s.Send(packet.Packet{MsgID: "B"})
	require.Error(t, err)
	assert.Equal(t, StateClosed, s.State())
}

func TestCloseRunsOnCloseExactlyOnce(t *testing.T) {
	s, _ := pipeSessions(t, Options{})
	calls := 0
	s.OnClose = func(*Session) { calls++ }
	s.Close()
	s.Close()
	s.CloseAsync()
	assert.Equal(t, 1, calls)
}

func TestAuthenticateSetsAccountIDAndState(t *testing.T) {
	s, _ := pipeSessions(t, Options{})
	assert.Equal(t, StateConnected, s.State())
	s.Authenticate("acct-1")
	assert.Equal(t, "acct-1", s.AccountID())
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestStageIDRoundTrip(t *testing.T) {
	s, _ := pipeSessions(t, Options{})
	_, ok := s.StageID()
	assert.False(t, ok)

	s.SetStageID(99)
	id, ok := s.StageID()
	assert.True(t, ok)
	assert.Equal(t, int64(99), id)

	s.ClearStageID()
	_, ok = s.StageID()
	assert.False(t, ok)
}
