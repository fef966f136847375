// Package packet implements the client-boundary wire framing of spec.md
// §4.A: the length-prefixed request/response layout and its validation
// rules. It is grounded on the teacher repository's internal/protocol
// package (length header + payload read/write against a reusable buffer)
// generalized from L2's encrypted-blowfish framing to PlayHouse's
// msgId/msgSeq/stageId layout with LZ4 response compression in place of
// encryption.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/ulala-x/playhouse-go/internal/buffer"
	"github.com/ulala-x/playhouse-go/internal/playerror"
)

// MaxBodySize is the default ceiling on ContentSize/HeaderSize/payload
// length (2 MiB), overridable per deployment.
const MaxBodySize = 2 * 1024 * 1024

// MaxMsgIdLen is the largest value MsgIdLen may carry (it is a uint8).
const MaxMsgIdLen = 255

// Reserved message ids (spec.md §6).
const (
	MsgIDHeartBeat = "@Heart@Beat@"
	MsgIDDebug     = "@Debug@"
	MsgIDTimeout   = "@Timeout@"
)

// Packet is the client-facing value of spec.md §3: the already-materialized
// bytes needed to encode/decode one frame. internal/transport.Session wraps
// the encoded frame itself in a buffer.Payload rented from a buffer.Pool for
// the reply path (see EncodeResponsePooled), so a reply never needs a fresh
// per-message allocation.
type Packet struct {
	MsgID     string
	MsgSeq    uint16
	StageID   int64
	ErrorCode uint16 // response-only; 0 on requests
	Payload   []byte
}

// IsRequest reports whether this packet expects a reply.
func (p Packet) IsRequest() bool { return p.MsgSeq != 0 }

func validateMsgID(msgID string) error {
	if len(msgID) == 0 || len(msgID) > MaxMsgIdLen {
		return playerror.New(playerror.DecodeFailed, fmt.Sprintf("msgId length %d out of range [1,%d]", len(msgID), MaxMsgIdLen))
	}
	return nil
}

// EncodeRequest writes the client→server framing: for TCP, maxBodySize
// governs the ContentSize check and the leading 4-byte length is included;
// for WebSocket the caller omits the length prefix by passing
// includeLength=false (the transport frame is already self-delimited).
func EncodeRequest(p Packet, includeLength bool, maxBodySize int) ([]byte, error) {
	if err := validateMsgID(p.MsgID); err != nil {
		return nil, err
	}
	if len(p.Payload) > maxBodySize {
		return nil, playerror.New(playerror.EncodeFailed, fmt.Sprintf("payload %d exceeds max %d", len(p.Payload), maxBodySize))
	}

	body := make([]byte, 0, 1+len(p.MsgID)+2+8+len(p.Payload))
	body = append(body, byte(len(p.MsgID)))
	body = append(body, p.MsgID...)
	body = binary.LittleEndian.AppendUint16(body, p.MsgSeq)
	body = binary.LittleEndian.AppendUint64(body, uint64(p.StageID))
	body = append(body, p.Payload...)

	if !includeLength {
		return body, nil
	}
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// DecodeRequest parses a client→server frame body (without the leading
// ContentSize, which the caller has already stripped via the ring buffer or
// the WS frame boundary).
func DecodeRequest(body []byte, maxBodySize int) (Packet, error) {
	if len(body) < 1 {
		return Packet{}, playerror.New(playerror.DecodeFailed, "empty frame")
	}
	msgIDLen := int(body[0])
	if msgIDLen == 0 {
		return Packet{}, playerror.New(playerror.DecodeFailed, "MsgIdLen is 0")
	}
	off := 1
	if len(body) < off+msgIDLen+2+8 {
		return Packet{}, playerror.New(playerror.DecodeFailed, "frame shorter than declared header")
	}
	msgID := string(body[off : off+msgIDLen])
	off += msgIDLen
	msgSeq := binary.LittleEndian.Uint16(body[off:])
	off += 2
	stageID := int64(binary.LittleEndian.Uint64(body[off:]))
	off += 8
	payload := body[off:]
	if len(payload) > maxBodySize {
		return Packet{}, playerror.New(playerror.DecodeFailed, fmt.Sprintf("payload %d exceeds max %d", len(payload), maxBodySize))
	}
	if err := validateMsgID(msgID); err != nil {
		return Packet{}, err
	}
	return Packet{MsgID: msgID, MsgSeq: msgSeq, StageID: stageID, Payload: payload}, nil
}

// EncodeResponse writes the server→client framing: request layout plus
// ErrorCode and the compression tail (OriginalSize + possibly-compressed
// Payload). Compression itself is handled by the caller (internal/transport)
// via MaybeCompress in compress.go; EncodeResponse just lays down whatever payload and
// originalSize it is given.
func EncodeResponse(p Packet, originalSize int, includeLength bool, maxBodySize int) ([]byte, error) {
	if err := validateMsgID(p.MsgID); err != nil {
		return nil, err
	}
	if originalSize < 0 {
		return nil, playerror.New(playerror.EncodeFailed, "negative originalSize")
	}
	if len(p.Payload) > maxBodySize {
		return nil, playerror.New(playerror.EncodeFailed, fmt.Sprintf("payload %d exceeds max %d", len(p.Payload), maxBodySize))
	}

	body := make([]byte, 0, 1+len(p.MsgID)+2+8+2+4+len(p.Payload))
	body = append(body, byte(len(p.MsgID)))
	body = append(body, p.MsgID...)
	body = binary.LittleEndian.AppendUint16(body, p.MsgSeq)
	body = binary.LittleEndian.AppendUint64(body, uint64(p.StageID))
	body = binary.LittleEndian.AppendUint16(body, p.ErrorCode)
	body = binary.LittleEndian.AppendUint32(body, uint32(originalSize))
	body = append(body, p.Payload...)

	if !includeLength {
		return body, nil
	}
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// EncodeResponsePooled is EncodeResponse's pool-backed counterpart for the
// session send/reply path (spec.md §4.J): instead of allocating a fresh
// slice per reply, it rents the output buffer from pool and returns it as a
// buffer.Payload that the caller must Dispose exactly once (returning the
// buffer to pool) after the write completes.
func EncodeResponsePooled(pool *buffer.Pool, p Packet, originalSize int, includeLength bool, maxBodySize int) (buffer.Payload, error) {
	if err := validateMsgID(p.MsgID); err != nil {
		return buffer.Payload{}, err
	}
	if originalSize < 0 {
		return buffer.Payload{}, playerror.New(playerror.EncodeFailed, "negative originalSize")
	}
	if len(p.Payload) > maxBodySize {
		return buffer.Payload{}, playerror.New(playerror.EncodeFailed, fmt.Sprintf("payload %d exceeds max %d", len(p.Payload), maxBodySize))
	}

	bodyLen := 1 + len(p.MsgID) + 2 + 8 + 2 + 4 + len(p.Payload)
	total := bodyLen
	if includeLength {
		total += 4
	}
	out := pool.Rent(total)

	off := 0
	if includeLength {
		binary.LittleEndian.PutUint32(out, uint32(bodyLen))
		off = 4
	}
	out[off] = byte(len(p.MsgID))
	off++
	off += copy(out[off:], p.MsgID)
	binary.LittleEndian.PutUint16(out[off:], p.MsgSeq)
	off += 2
	binary.LittleEndian.PutUint64(out[off:], uint64(p.StageID))
	off += 8
	binary.LittleEndian.PutUint16(out[off:], p.ErrorCode)
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(originalSize))
	off += 4
	copy(out[off:], p.Payload)

	return buffer.Pooled(pool, out), nil
}

// DecodedResponse is the result of decoding a server→client frame: Payload
// has already been decompressed to OriginalSize bytes when OriginalSize > 0.
type DecodedResponse struct {
	Packet
	OriginalSize int
}

// DecodeResponse parses a server→client frame body (ContentSize already
// stripped by the caller) and decompresses the payload if OriginalSize > 0.
func DecodeResponse(body []byte, maxBodySize int) (DecodedResponse, error) {
	if len(body) < 1 {
		return DecodedResponse{}, playerror.New(playerror.DecodeFailed, "empty frame")
	}
	msgIDLen := int(body[0])
	if msgIDLen == 0 {
		return DecodedResponse{}, playerror.New(playerror.DecodeFailed, "MsgIdLen is 0")
	}
	off := 1
	if len(body) < off+msgIDLen+2+8+2+4 {
		return DecodedResponse{}, playerror.New(playerror.DecodeFailed, "frame shorter than declared header")
	}
	msgID := string(body[off : off+msgIDLen])
	off += msgIDLen
	msgSeq := binary.LittleEndian.Uint16(body[off:])
	off += 2
	stageID := int64(binary.LittleEndian.Uint64(body[off:]))
	off += 8
	errorCode := binary.LittleEndian.Uint16(body[off:])
	off += 2
	originalSize := int32(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	if originalSize < 0 {
		return DecodedResponse{}, playerror.New(playerror.DecodeFailed, "negative originalSize")
	}
	payload := body[off:]
	if len(payload) > maxBodySize {
		return DecodedResponse{}, playerror.New(playerror.DecodeFailed, fmt.Sprintf("payload %d exceeds max %d", len(payload), maxBodySize))
	}
	if err := validateMsgID(msgID); err != nil {
		return DecodedResponse{}, err
	}

	out := DecodedResponse{
		Packet: Packet{MsgID: msgID, MsgSeq: msgSeq, StageID: stageID, ErrorCode: errorCode, Payload: payload},
		OriginalSize: int(originalSize),
	}
	if originalSize > 0 {
		decompressed, err := Decompress(payload, int(originalSize))
		if err != nil {
			return DecodedResponse{}, playerror.Wrap(playerror.DecodeFailed, err)
		}
		out.Payload = decompressed
	}
	return out, nil
}
