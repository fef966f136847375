package transport

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ulala-x/playhouse-go/internal/buffer"
	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/playerror"
)

var errFrameTooLarge = playerror.New(playerror.DecodeFailed, "frame exceeds configured max body size")

// defaultPool is the process-wide size-classed allocator backing every
// Session's reply encoding when its Options don't supply one explicitly
// (spec.md §9 "Global state": one Pool per process).
var defaultPool = buffer.NewPool(0)

// State is a Session's connection lifecycle (spec.md §4.J).
type State int32

const (
	StateConnected State = iota
	StateAuthenticated
	StateClosed
)

const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
	defaultReadTimeout   = 120 * time.Second
)

// Options configures a Session's queueing and timeout behavior. Zero values
// select the defaults above.
type Options struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	ReadTimeout   time.Duration
	MaxBodySize   int
	// Pool rents/returns the byte buffers backing every encoded reply. Nil
	// selects the package-wide defaultPool.
	Pool *buffer.Pool
}

func (o Options) withDefaults() Options {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.MaxBodySize <= 0 {
		o.MaxBodySize = packet.MaxBodySize
	}
	if o.Pool == nil {
		o.Pool = defaultPool
	}
	return o
}

// Session is one client connection (spec.md §4.J): a Wire plus an async
// write queue drained by its own goroutine, the same separation the
// teacher's GameClient/writePump pair uses so a slow reader never backs up
// a handler's Send call.
type Session struct {
	SID int64

	wire    Wire
	opts    Options
	logger  *slog.Logger
	includeLength bool // true for TCP (length-prefixed), false for WS (self-framed)

	state atomic.Int32

	mu        sync.Mutex
	accountID string
	stageID   int64
	hasStage  bool

	sendCh    chan buffer.Payload
	closeCh   chan struct{}
	closeOnce sync.Once

	// OnClose is invoked exactly once, by the first Close/CloseAsync call,
	// after the wire is closed and the send queue drained; it does not wait
	// for the read and write goroutines to return. Callers use it to clean
	// up stage/actor bookkeeping.
	OnClose func(*Session)
}

// NewSession wraps a raw TCP connection.
func NewSession(sid int64, conn net.Conn, opts Options, logger *slog.Logger) *Session {
	opts = opts.withDefaults()
	return newSession(sid, newTCPWire(conn, opts.ReadTimeout, opts.WriteTimeout, opts.MaxBodySize), opts, true, logger)
}

// NewWSSession wraps a gorilla/websocket connection.
func NewWSSession(sid int64, conn *websocket.Conn, opts Options, logger *slog.Logger) *Session {
	opts = opts.withDefaults()
	return newSession(sid, newWSWire(conn, opts.ReadTimeout, opts.WriteTimeout), opts, false, logger)
}

func newSession(sid int64, wire Wire, opts Options, includeLength bool, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		SID:           sid,
		wire:          wire,
		opts:          opts,
		logger:        logger,
		includeLength: includeLength,
		sendCh:        make(chan buffer.Payload, opts.SendQueueSize),
		closeCh:       make(chan struct{}),
	}
	s.state.Store(int32(StateConnected))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(v State) { s.state.Store(int32(v)) }

// AccountID returns the account bound to this session after authentication,
// or "" before that.
func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// Authenticate binds accountID to this session and marks it authenticated.
func (s *Session) Authenticate(accountID string) {
	s.mu.Lock()
	s.accountID = accountID
	s.mu.Unlock()
	s.setState(StateAuthenticated)
}

// StageID returns the stage this session is currently joined to, if any.
func (s *Session) StageID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stageID, s.hasStage
}

// SetStageID records which stage this session has joined; clear with
// ClearStageID on disconnect or stage transfer.
func (s *Session) SetStageID(stageID int64) {
	s.mu.Lock()
	s.stageID, s.hasStage = stageID, true
	s.mu.Unlock()
}

func (s *Session) ClearStageID() {
	s.mu.Lock()
	s.hasStage = false
	s.mu.Unlock()
}

func (s *Session) RemoteAddr() string { return s.wire.RemoteAddr() }

// Send encodes and queues a response packet for async delivery.
// Non-blocking: a full queue means a slow client, and — matching the
// teacher's posture — triggers disconnection rather than backing up
// memory indefinitely.
func (s *Session) Send(p packet.Packet) error {
	frame, err := s.encode(p)
	if err != nil {
		return err
	}
	select {
	case s.sendCh <- frame:
		return nil
	default:
		frame.Dispose()
		s.logger.Warn("transport: send queue full, disconnecting slow client", "sid", s.SID, "remote", s.RemoteAddr())
		s.CloseAsync()
		return playerror.New(playerror.BufferOverflow, "send queue full")
	}
}

// SendSync queues p, blocking up to timeout for room in the queue.
func (s *Session) SendSync(p packet.Packet, timeout time.Duration) error {
	frame, err := s.encode(p)
	if err != nil {
		return err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.sendCh <- frame:
		return nil
	case <-timer.C:
		frame.Dispose()
		return playerror.New(playerror.RequestTimeout, "send queue full past deadline")
	case <-s.closeCh:
		frame.Dispose()
		return playerror.New(playerror.ConnectionClosed, "session closed")
	}
}

// encode rents the reply's frame buffer from s.opts.Pool rather than allocating a
// fresh slice per message; the returned buffer.Payload is owned by the
// caller until it reaches WritePump (or is dropped before being queued),
// whichever disposes it exactly once.
func (s *Session) encode(p packet.Packet) (buffer.Payload, error) {
	payload, originalSize := packet.MaybeCompress(p.Payload)
	p.Payload = payload
	return packet.EncodeResponsePooled(s.opts.Pool, p, originalSize, s.includeLength, s.opts.MaxBodySize)
}

// ReadLoop blocks reading frames off the wire and invoking onMessage for
// each decoded request, until the connection errors or Close is called.
// Meant to be run in its own goroutine; returns (and triggers cleanup) when
// the connection ends.
func (s *Session) ReadLoop(onMessage func(*Session, packet.Packet)) {
	defer s.Close()
	for {
		body, err := s.wire.ReadFrame()
		if err != nil {
			return
		}
		p, err := packet.DecodeRequest(body, s.opts.MaxBodySize)
		if err != nil {
			s.logger.Warn("transport: closing session on undecodable frame", "sid", s.SID, "error", err)
			return
		}
		onMessage(s, p)
	}
}

// WritePump drains sendCh, batching whatever is already queued into one
// WriteFrames call the way the teacher's writePump batches via
// net.Buffers — until Close fires.
func (s *Session) WritePump() {
	payloads := make([]buffer.Payload, 0, 16)
	frames := make([][]byte, 0, 16)
	for {
		select {
		case payload, ok := <-s.sendCh:
			if !ok {
				return
			}
			payloads = payloads[:0]
			frames = frames[:0]
			payloads = append(payloads, payload)
			frames = append(frames, payload.Span())
			queued := len(s.sendCh)
			for i := 0; i < queued; i++ {
				next := <-s.sendCh
				payloads = append(payloads, next)
				frames = append(frames, next.Span())
			}
			err := s.wire.WriteFrames(frames)
			for i := range payloads {
				payloads[i].Dispose()
			}
			if err != nil {
				s.logger.Warn("transport: write failed", "sid", s.SID, "error", err)
				s.Close()
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// CloseAsync signals the write pump to stop without blocking the caller,
// and runs OnClose exactly once regardless of how many goroutines call
// Close/CloseAsync concurrently.
func (s *Session) CloseAsync() {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.closeCh)
		_ = s.wire.Close()
		s.drainSendQueue()
		if s.OnClose != nil {
			s.OnClose(s)
		}
	})
}

// drainSendQueue disposes every payload left queued in sendCh once the
// session is closing, so a connection that dies with replies still
// in-flight still returns their buffers to the pool exactly once.
func (s *Session) drainSendQueue() {
	for {
		select {
		case payload := <-s.sendCh:
			payload.Dispose()
		default:
			return
		}
	}
}

// Close is an alias for CloseAsync kept for readability at call sites that
// are not specifically emphasizing the non-blocking aspect.
func (s *Session) Close() error {
	s.CloseAsync()
	return nil
}
