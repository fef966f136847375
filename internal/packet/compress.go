package packet

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

// CompressionThreshold is the minimum payload length (bytes) before
// compression is even attempted (spec.md §4.A default 512).
const CompressionThreshold = 512

// CompressionRatio is the maximum fraction (compressed/original) for which a
// compressed payload is worth sending instead of the original (default 90%).
const CompressionRatio = 0.90

// MaybeCompress applies LZ4 compression when payload is larger than
// CompressionThreshold and the compressed size beats CompressionRatio of the
// original; otherwise it returns the payload unchanged with originalSize 0,
// meaning "not compressed" per the wire contract.
func MaybeCompress(payload []byte) (out []byte, originalSize int) {
	if len(payload) <= CompressionThreshold {
		return payload, 0
	}
	compressed, err := Compress(payload)
	if err != nil {
		return payload, 0
	}
	if float64(len(compressed)) >= float64(len(payload))*CompressionRatio {
		return payload, 0
	}
	return compressed, len(payload)
}

// Compress LZ4-compresses src.
func Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress LZ4-decompresses src, expecting exactly originalSize bytes of
// output.
func Decompress(src []byte, originalSize int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out := make([]byte, originalSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
