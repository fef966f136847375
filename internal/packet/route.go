package packet

import (
	"encoding/binary"

	"github.com/ulala-x/playhouse-go/internal/playerror"
)

// ServerType discriminates Play vs Api servers on the mesh (spec.md §3, §9
// open question 3 — ServiceID is never collapsed with ServerType here).
type ServerType uint8

const (
	ServerTypePlay ServerType = 1
	ServerTypeApi  ServerType = 2
)

// RouteHeader carries the structured routing metadata of spec.md §3/§4.A.
// It is the "protobuf-equivalent" record: encoded here with plain
// encoding/binary rather than a protobuf runtime, since no example in this
// codebase's lineage pulls in a protobuf library for anything other than
// application message bodies (which are explicitly out of this core's
// scope) — see DESIGN.md.
type RouteHeader struct {
	MsgSeq     uint16
	ServiceID  uint16
	ServerType ServerType
	MsgID      string
	From       string // sender's serverId; overwritten on receive, never trusted from the wire
	StageID    int64
	AccountID  string
	SID        int64 // sessionId
	ErrorCode  uint16
	IsReply    bool
}

// EncodeHeader serializes a RouteHeader to bytes.
func EncodeHeader(h RouteHeader) ([]byte, error) {
	if len(h.MsgID) > MaxMsgIdLen {
		return nil, playerror.New(playerror.EncodeFailed, "msgId too long")
	}
	buf := make([]byte, 0, 64+len(h.MsgID)+len(h.From)+len(h.AccountID))
	buf = binary.LittleEndian.AppendUint16(buf, h.MsgSeq)
	buf = binary.LittleEndian.AppendUint16(buf, h.ServiceID)
	buf = append(buf, byte(h.ServerType))
	buf = appendString(buf, h.MsgID)
	buf = appendString(buf, h.From)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.StageID))
	buf = appendString(buf, h.AccountID)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.SID))
	buf = binary.LittleEndian.AppendUint16(buf, h.ErrorCode)
	if h.IsReply {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf, nil
}

// DecodeHeader parses a RouteHeader. senderIdentity is the on-wire router
// identity frame supplied by the socket layer; it always overwrites
// whatever From the payload itself carried, so a peer can never spoof
// another server's identity (spec.md §4.A).
func DecodeHeader(buf []byte, senderIdentity string) (RouteHeader, error) {
	var h RouteHeader
	r := byteReader{buf: buf}

	h.MsgSeq = r.uint16()
	h.ServiceID = r.uint16()
	h.ServerType = ServerType(r.byte())
	h.MsgID = r.string()
	_ = r.string() // on-wire From is discarded; see senderIdentity above
	h.StageID = int64(r.uint64())
	h.AccountID = r.string()
	h.SID = int64(r.uint64())
	h.ErrorCode = r.uint16()
	h.IsReply = r.byte() != 0

	if r.err != nil {
		return RouteHeader{}, playerror.Wrap(playerror.DecodeFailed, r.err)
	}
	h.From = senderIdentity
	return h, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

type byteReader struct {
	buf []byte
	off int
	err error
}

func (r *byteReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = playerror.New(playerror.DecodeFailed, "route header truncated")
		return false
	}
	return true
}

func (r *byteReader) byte() byte {
	if !r.need(1) {
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *byteReader) uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *byteReader) uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *byteReader) string() string {
	n := int(r.uint16())
	if !r.need(n) {
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

// RoutePacket is the inter-server envelope of spec.md §3: a header plus an
// opaque payload that is either owned (own-and-free) or borrowed
// (shared, no-free). Its lifecycle ends with exactly one Dispose.
type RoutePacket struct {
	Header  RouteHeader
	Payload []byte
	owned   bool
	free    func([]byte)
}

// NewOwned builds a RoutePacket that owns payload; free is called exactly
// once by Dispose (typically returning the buffer to a buffer.Pool).
func NewOwned(h RouteHeader, payload []byte, free func([]byte)) *RoutePacket {
	return &RoutePacket{Header: h, Payload: payload, owned: true, free: free}
}

// NewBorrowed builds a RoutePacket whose payload it does not own; Dispose is
// a no-op for it.
func NewBorrowed(h RouteHeader, payload []byte) *RoutePacket {
	return &RoutePacket{Header: h, Payload: payload, owned: false}
}

// Dispose returns an owned payload to its pool. Safe to call more than
// once; subsequent calls are no-ops.
func (rp *RoutePacket) Dispose() {
	if rp.owned && rp.free != nil {
		rp.free(rp.Payload)
	}
	rp.owned = false
	rp.free = nil
	rp.Payload = nil
}

// EncodeRoutePacket frames a RoutePacket as
// [HeaderSize:int32][HeaderBytes][PayloadBytes] for the mesh wire.
func EncodeRoutePacket(rp *RoutePacket) ([]byte, error) {
	hdr, err := EncodeHeader(rp.Header)
	if err != nil {
		return nil, err
	}
	if len(hdr) > MaxBodySize {
		return nil, playerror.New(playerror.EncodeFailed, "header exceeds max body size")
	}
	out := make([]byte, 4+len(hdr)+len(rp.Payload))
	binary.LittleEndian.PutUint32(out, uint32(len(hdr)))
	copy(out[4:], hdr)
	copy(out[4+len(hdr):], rp.Payload)
	return out, nil
}

// DecodeRoutePacket parses the mesh wire layout. The payload slice aliases
// buf — callers that need to retain it past buf's lifetime must copy it
// into an owned buffer.Payload first.
func DecodeRoutePacket(buf []byte, senderIdentity string, maxBodySize int) (*RoutePacket, error) {
	if len(buf) < 4 {
		return nil, playerror.New(playerror.DecodeFailed, "route packet shorter than header size field")
	}
	headerSize := int(binary.LittleEndian.Uint32(buf))
	if headerSize < 0 || headerSize > maxBodySize {
		return nil, playerror.New(playerror.DecodeFailed, "header size out of range")
	}
	if len(buf) < 4+headerSize {
		return nil, playerror.New(playerror.DecodeFailed, "route packet shorter than declared header")
	}
	header, err := DecodeHeader(buf[4:4+headerSize], senderIdentity)
	if err != nil {
		return nil, err
	}
	payload := buf[4+headerSize:]
	if len(payload) > maxBodySize {
		return nil, playerror.New(playerror.DecodeFailed, "payload exceeds max body size")
	}
	return NewBorrowed(header, payload), nil
}
