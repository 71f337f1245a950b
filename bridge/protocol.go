// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm applied to a
// frame payload. The tag is the first byte of every frame header.
// These values are protocol constants — changing them breaks client
// compatibility.
type CompressionTag uint8

const (
	// CompressionNone indicates an uncompressed payload. Always used
	// for payloads below the writer's threshold; small envelopes
	// (parameter sets, pings) dominate bridge traffic and are not
	// worth the CPU.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 indicates LZ4 block compression. The low-latency
	// choice for deployments pushing large binary payloads at high
	// frequency.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd indicates zstd compression at the default level.
	// Better ratios for the text-heavy payloads (node info trees,
	// script sources) that make up most large envelopes.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseCompressionTag parses a compression tag from its string
// representation (as it appears in config files).
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// frameHeaderLength is the fixed size of a frame header: 1 byte
// compression tag + 4 bytes uncompressed payload length + 4 bytes wire
// payload length (both big-endian uint32). The two lengths are equal
// for uncompressed frames.
const frameHeaderLength = 9

// maxPayloadLength is the maximum allowed uncompressed payload size.
// 10 MB matches the message cap the bridge has always advertised to
// clients; a full node-info dump of a heavy scene stays well under it.
const maxPayloadLength = 10 * 1024 * 1024

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("bridge: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("bridge: zstd decoder initialization failed: " + err.Error())
	}
}

// FrameWriter writes length-prefixed frames, compressing payloads that
// exceed the configured threshold. The zero value writes uncompressed
// frames. FrameWriter is not safe for concurrent use; each session
// serializes writes through its outbound queue.
type FrameWriter struct {
	// Compression is the tag applied to payloads at or above
	// Threshold. CompressionNone disables compression entirely.
	Compression CompressionTag

	// Threshold is the minimum payload size in bytes for compression.
	// Zero compresses everything when Compression is set.
	Threshold int
}

// WriteFrame writes one framed payload to w.
func (fw *FrameWriter) WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxPayloadLength {
		return fmt.Errorf("payload length %d exceeds maximum %d", len(payload), maxPayloadLength)
	}

	tag := CompressionNone
	wire := payload
	if fw.Compression != CompressionNone && len(payload) >= fw.Threshold {
		compressed, ok := compressPayload(payload, fw.Compression)
		if ok {
			tag = fw.Compression
			wire = compressed
		}
		// Incompressible payloads go out unchanged under tag none.
	}

	var header [frameHeaderLength]byte
	header[0] = byte(tag)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[5:9], uint32(len(wire)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(wire); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one framed payload from r, decompressing if needed.
// Returns the uncompressed payload. Any error other than a clean EOF
// before the first header byte means the stream framing can no longer
// be trusted and the connection must be closed.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	tag := CompressionTag(header[0])
	uncompressedLength := binary.BigEndian.Uint32(header[1:5])
	wireLength := binary.BigEndian.Uint32(header[5:9])

	if uncompressedLength > maxPayloadLength {
		return nil, fmt.Errorf("payload length %d exceeds maximum %d", uncompressedLength, maxPayloadLength)
	}
	if wireLength > maxPayloadLength {
		return nil, fmt.Errorf("wire payload length %d exceeds maximum %d", wireLength, maxPayloadLength)
	}
	if tag == CompressionNone && wireLength != uncompressedLength {
		return nil, fmt.Errorf("uncompressed frame declares mismatched lengths %d and %d", uncompressedLength, wireLength)
	}

	wire := make([]byte, wireLength)
	if _, err := io.ReadFull(r, wire); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return decompressPayload(wire, tag, int(uncompressedLength))
}

// compressPayload compresses data with the given algorithm. Returns
// ok=false when the result would not be smaller than the input, in
// which case the caller sends the original bytes uncompressed.
func compressPayload(data []byte, tag CompressionTag) ([]byte, bool) {
	switch tag {
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil || written == 0 || written >= len(data) {
			return nil, false
		}
		return destination[:written], true

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, false
		}
		return compressed, true

	default:
		return nil, false
	}
}

// decompressPayload reverses compressPayload. The uncompressed size
// comes from the frame header and is verified against the actual
// output.
func decompressPayload(wire []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return wire, nil

	case CompressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(wire, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil

	case CompressionZstd:
		destination, err := zstdDecoder.DecodeAll(wire, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(destination) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(destination), uncompressedSize)
		}
		return destination, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", uint8(tag))
	}
}
