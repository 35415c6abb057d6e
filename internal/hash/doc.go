// Package hash provides hashing utilities for data integrity and content identity.
//
// CRC32-Castagnoli (CRC32C) is used for all file-section checksums: it is
// hardware-accelerated on x86 (SSE4.2) and ARM (CRC extension) and detects
// all single-bit, double-bit and odd-bit errors. CRC32C is NOT
// cryptographically secure and is only meant to catch accidental corruption.
//
// SHA-256 is used for document content hashes, where staleness decisions
// depend on collision resistance.
package hash
