package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"hash/crc32"
)

// crc32cTable is pre-computed for the CRC32-Castagnoli polynomial.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
// Uses hardware acceleration when available (SSE4.2, ARM CRC).
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// NewCRC32C returns a new CRC32-Castagnoli hash.Hash32.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}

// Content computes the SHA-256 content hash of data, hex-encoded.
//
// CRC32C is used for detecting accidental storage corruption; content
// identity (staleness comparison across rebuilds) needs a collision-resistant
// digest, so document hashes use SHA-256.
func Content(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
