// Package mesh implements the inter-server routing fabric of spec.md §4.K:
// one zmq4 ROUTER socket per process, identified by serverId, that both
// binds at a local endpoint and dials every known peer (including itself)
// using the peer's serverId as the routing identity. This is the pack's one
// out-of-pack dependency (see DESIGN.md) — no example repository implements
// identity-routed message sockets, and zmq4 is the standard pure-Go library
// for exactly this ROUTER/DEALER socket shape.
package mesh

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/go-zeromq/zmq4"
	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/playerror"
)

// defaultSendQueueSize mirrors spec.md §4.K's default send high-water mark.
const defaultSendQueueSize = 1000

// Handler receives a decoded RoutePacket pulled off the mesh's single
// receiver goroutine (spec.md §5: "a single receive loop per inter-server
// router socket").
type Handler func(*packet.RoutePacket)

type sendJob struct {
	target string
	frames [][]byte
	result chan error
}

// Mesh is one process's edge into the inter-server mesh: a single zmq4
// ROUTER socket, a bounded outbound queue drained by one writer goroutine,
// and one reader goroutine decoding inbound multipart frames into
// RoutePackets. The single-writer-goroutine-over-a-channel shape mirrors
// internal/transport's Session/WritePump split, generalized from a per-
// connection send queue to a per-process one.
type Mesh struct {
	selfID      string
	sock        zmq4.Socket
	logger      *slog.Logger
	maxBodySize int

	mu    sync.RWMutex
	peers map[string]string // serverId -> endpoint, for edges we have dialed

	sendCh chan sendJob
	done   chan struct{}
}

// New binds a ROUTER socket at bindEndpoint under identity selfID. Call
// Connect(selfID, bindEndpoint) afterward to complete the required
// self-connection (spec.md §4.K: "a server must connect to itself").
func New(ctx context.Context, selfID, bindEndpoint string, maxBodySize int, logger *slog.Logger) (*Mesh, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sock := zmq4.NewRouter(ctx, zmq4.WithID(zmq4.SocketIdentity(selfID)))
	if err := sock.Listen(bindEndpoint); err != nil {
		return nil, playerror.Wrap(playerror.ConnectionFailed, err)
	}
	m := &Mesh{
		selfID:      selfID,
		sock:        sock,
		logger:      logger,
		maxBodySize: maxBodySize,
		peers:       make(map[string]string),
		sendCh:      make(chan sendJob, defaultSendQueueSize),
		done:        make(chan struct{}),
	}
	go m.writeLoop()
	return m, nil
}

// Connect dials endpoint under the routing identity peerID. Idempotent:
// dialing an already-known peer again is a no-op, which is what lets a
// reconnecting peer's fresh Dial seamlessly take over delivery for its
// identity (the "router-handover" behavior spec.md §4.K calls for) — zmq4's
// pure-Go ROUTER implementation already routes outbound sends to the most
// recently established connection for a given identity, so no explicit
// handover option is needed here.
func (m *Mesh) Connect(peerID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[peerID]; ok {
		return nil
	}
	if err := m.sock.Dial(endpoint); err != nil {
		return playerror.Wrap(playerror.ConnectionFailed, err)
	}
	m.peers[peerID] = endpoint
	m.logger.Info("mesh: connected peer", "self", m.selfID, "peer", peerID, "endpoint", endpoint)
	return nil
}

// Disconnect removes peerID from this mesh's send directory. zmq4's Socket
// interface has no per-endpoint disconnect call, so this is a soft
// disconnect: subsequent Send calls to peerID fail fast with
// ConnectionClosed instead of being handed to a connection the address
// resolver no longer trusts; the underlying transport connection is left
// to the peer process's own lifecycle (it naturally drops when that
// process exits, and Connect re-establishes it if the peer returns).
func (m *Mesh) Disconnect(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[peerID]; ok {
		delete(m.peers, peerID)
		m.logger.Info("mesh: disconnected peer", "self", m.selfID, "peer", peerID)
	}
}

// Connected reports whether peerID currently has a dialed edge.
func (m *Mesh) Connected(peerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.peers[peerID]
	return ok
}

// Send frames and queues a RoutePacket addressed to targetServerID. It
// returns ConnectionClosed if the target is not in this mesh's peer
// directory, EncodeFailed if the header can't be serialized, and
// BufferOverflow if the send queue is at its high-water mark.
func (m *Mesh) Send(targetServerID string, rp *packet.RoutePacket) error {
	if !m.Connected(targetServerID) {
		return playerror.New(playerror.ConnectionClosed, "mesh: target server not connected: "+targetServerID)
	}
	header, err := packet.EncodeHeader(rp.Header)
	if err != nil {
		return playerror.Wrap(playerror.EncodeFailed, err)
	}
	job := sendJob{
		target: targetServerID,
		frames: [][]byte{[]byte(targetServerID), header, rp.Payload},
		result: make(chan error, 1),
	}
	select {
	case m.sendCh <- job:
	default:
		return playerror.New(playerror.BufferOverflow, "mesh: send queue full")
	}
	return <-job.result
}

func (m *Mesh) writeLoop() {
	for {
		select {
		case job := <-m.sendCh:
			msg := zmq4.NewMsgFrom(job.frames...)
			err := m.sock.Send(msg)
			if err != nil {
				m.logger.Warn("mesh: send failed", "self", m.selfID, "target", job.target, "error", err)
				job.result <- playerror.Wrap(playerror.ConnectionFailed, err)
			} else {
				job.result <- nil
			}
		case <-m.done:
			return
		}
	}
}

// Run pulls multipart frames off the ROUTER socket and invokes handler for
// each decoded RoutePacket, until ctx is done or a receive fails with
// context.Canceled; other receive errors are logged and skipped. This is
// spec.md §4.K's single receiver thread per process: it overwrites
// header.from with the on-wire identity frame before the RoutePacket ever
// reaches handler, so a peer can never spoof another server's identity.
func (m *Mesh) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg, err := m.sock.Recv()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			m.logger.Warn("mesh: receive failed", "self", m.selfID, "error", err)
			continue
		}
		if len(msg.Frames) < 3 {
			m.logger.Warn("mesh: dropping short multipart frame", "self", m.selfID, "frames", len(msg.Frames))
			continue
		}
		senderIdentity := string(msg.Frames[0])
		rp, err := decodeFrames(msg.Frames[1], msg.Frames[2], senderIdentity, m.maxBodySize)
		if err != nil {
			m.logger.Warn("mesh: dropping undecodable route packet", "self", m.selfID, "sender", senderIdentity, "error", err)
			continue
		}
		handler(rp)
	}
}

func decodeFrames(headerFrame, payloadFrame []byte, senderIdentity string, maxBodySize int) (*packet.RoutePacket, error) {
	header, err := packet.DecodeHeader(headerFrame, senderIdentity)
	if err != nil {
		return nil, err
	}
	if len(payloadFrame) > maxBodySize {
		return nil, playerror.New(playerror.DecodeFailed, "mesh: payload exceeds max body size")
	}
	return packet.NewBorrowed(header, payloadFrame), nil
}

// Close stops the write loop and closes the underlying socket.
func (m *Mesh) Close() error {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	return m.sock.Close()
}
