// Package transport implements the client-boundary session layer of
// spec.md §4.J: a per-connection Session with an async write queue, framed
// read loop, and graceful-close bookkeeping, over either raw TCP or
// WebSocket. It is grounded on the teacher repository's
// internal/gameserver.GameClient: a buffered sendCh drained by a dedicated
// writePump goroutine using net.Buffers batching, generalized from L2's
// blowfish-encrypted frames to this core's length-prefixed/WS-native
// framing with LZ4 compression in place of encryption.
package transport

import (
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ulala-x/playhouse-go/internal/ring"
)

// Wire is the minimum a Session needs from its underlying connection: read
// one framed message's body, write one or more already-framed messages,
// and close. tcpWire and wsWire are the two implementations.
type Wire interface {
	// ReadFrame blocks until one complete frame body is available (the
	// length prefix, for TCP, or the frame boundary, for WS, is already
	// stripped) or returns an error once the connection is unusable.
	ReadFrame() ([]byte, error)
	// WriteFrames writes one or more already-encoded frames, batching via
	// writev where the underlying transport supports it.
	WriteFrames(frames [][]byte) error
	Close() error
	RemoteAddr() string
}

// tcpWire frames over a raw net.Conn using the 4-byte little-endian length
// prefix internal/packet expects, buffered through a ring.Buffer the way
// the teacher reads off its connections.
type tcpWire struct {
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxBodySize  int
	ring         *ring.Buffer // one buffer per connection, per spec
	readBuf      []byte       // scratch for a single conn.Read call
}

func newTCPWire(conn net.Conn, readTimeout, writeTimeout time.Duration, maxBodySize int) *tcpWire {
	return &tcpWire{
		conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		maxBodySize:  maxBodySize,
		ring:         ring.New(maxBodySize + 4),
		readBuf:      make([]byte, 4096),
	}
}

func (w *tcpWire) RemoteAddr() string { return w.conn.RemoteAddr().String() }

func (w *tcpWire) Close() error { return w.conn.Close() }

// ReadFrame assembles one length-prefixed frame out of the connection's ring
// buffer: once count >= 4, the 4-byte length prefix gives ContentSize, and
// once count >= 4+ContentSize the body is peeked out and consumed.
func (w *tcpWire) ReadFrame() ([]byte, error) {
	for w.ring.Count() < 4 {
		if err := w.fill(); err != nil {
			return nil, err
		}
	}
	var lenBuf [4]byte
	w.ring.Peek(0, lenBuf[:])
	n := int(lenBuf[0]) | int(lenBuf[1])<<8 | int(lenBuf[2])<<16 | int(lenBuf[3])<<24
	if n < 0 || n > w.maxBodySize {
		return nil, errFrameTooLarge
	}
	for w.ring.Count() < 4+n {
		if err := w.fill(); err != nil {
			return nil, err
		}
	}
	w.ring.Consume(4)
	body := make([]byte, n)
	w.ring.Peek(0, body)
	w.ring.Consume(n)
	return body, nil
}

// fill reads at most one chunk off the connection into the ring, capped to
// the ring's remaining free space so Write can never refuse.
func (w *tcpWire) fill() error {
	if w.readTimeout > 0 {
		if err := w.conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
			return err
		}
	}
	free := w.ring.FreeSpace()
	if free == 0 {
		return errFrameTooLarge
	}
	readLen := len(w.readBuf)
	if free < readLen {
		readLen = free
	}
	n, err := w.conn.Read(w.readBuf[:readLen])
	if n > 0 {
		w.ring.Write(w.readBuf[:n])
	}
	return err
}

func (w *tcpWire) WriteFrames(frames [][]byte) error {
	if w.writeTimeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
			return err
		}
	}
	if len(frames) == 1 {
		_, err := w.conn.Write(frames[0])
		return err
	}
	buffers := make(net.Buffers, len(frames))
	for i, f := range frames {
		buffers[i] = f
	}
	_, err := buffers.WriteTo(w.conn)
	return err
}

func readFull(conn net.Conn, dst []byte) (int, error) {
	total := 0
	for total < len(dst) {
		n, err := conn.Read(dst[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// wsWire frames over a gorilla/websocket connection, where each WS message
// already is one frame — no length prefix needed.
type wsWire struct {
	conn         *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newWSWire(conn *websocket.Conn, readTimeout, writeTimeout time.Duration) *wsWire {
	return &wsWire{conn: conn, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

func (w *wsWire) RemoteAddr() string { return w.conn.RemoteAddr().String() }

func (w *wsWire) Close() error { return w.conn.Close() }

func (w *wsWire) ReadFrame() ([]byte, error) {
	if w.readTimeout > 0 {
		if err := w.conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
			return nil, err
		}
	}
	_, body, err := w.conn.ReadMessage()
	return body, err
}

func (w *wsWire) WriteFrames(frames [][]byte) error {
	if w.writeTimeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
			return err
		}
	}
	for _, f := range frames {
		if err := w.conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
			return err
		}
	}
	return nil
}
