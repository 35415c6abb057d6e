package flat

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block compression of persisted sections.
type Compression uint8

const (
	// CompressionNone stores sections uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast decode, hot data).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD block compression (better ratio, cold data).
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// Block format: [uncompressedSize uint32][compressedSize uint32][data...].
// compressedSize == 0 means the data is stored uncompressed (incompressible
// input or CompressionNone).
const blockHeaderSize = 8

func compressBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte

	switch c {
	case CompressionNone:
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n] // n == 0 means incompressible
	case CompressionZSTD:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		compressed = enc.EncodeAll(data, nil)
		enc.Close()
	default:
		return nil, fmt.Errorf("flat: unsupported compression %d", c)
	}

	// Store uncompressed when compression does not pay for itself.
	if len(compressed) == 0 || len(compressed) >= len(data) {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

func decompressBlock(block []byte, c Compression) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, fmt.Errorf("flat: block too short")
	}
	plainSize := binary.LittleEndian.Uint32(block[0:])
	compSize := binary.LittleEndian.Uint32(block[4:])
	payload := block[blockHeaderSize:]

	if compSize == 0 {
		if uint32(len(payload)) != plainSize {
			return nil, fmt.Errorf("flat: stored block size mismatch")
		}
		return payload, nil
	}
	if uint32(len(payload)) != compSize {
		return nil, fmt.Errorf("flat: compressed block size mismatch")
	}

	switch c {
	case CompressionLZ4:
		out := make([]byte, plainSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, err
		}
		return out[:n], nil
	case CompressionZSTD:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(payload, make([]byte, 0, plainSize))
	default:
		return nil, fmt.Errorf("flat: compressed block with compression %q", c)
	}
}
