package util

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/crc32"
)

// Checksum utilities for data integrity validation.
// Content identity (entities, message payloads) uses SHA-256 hex digests;
// wire frame trailers use CRC32 (IEEE polynomial) for fast verification.

var (
	// crc32Table is precomputed for better performance
	crc32Table = crc32.MakeTable(crc32.IEEE)
)

// ContentChecksum computes the SHA-256 hex digest of the given data
func ContentChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MessageChecksum computes the checksum of a message as hash(payload || id)
func MessageChecksum(payload []byte, messageID string) string {
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(messageID))
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeCRC32 computes a CRC32 checksum for the given data
func ComputeCRC32(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// AppendCRC32 appends a 4-byte little-endian CRC32 trailer to the data
// Format: [data][checksum (4 bytes)]
func AppendCRC32(data []byte) []byte {
	checksum := ComputeCRC32(data)
	result := make([]byte, len(data)+4)
	copy(result, data)
	result[len(data)] = byte(checksum)
	result[len(data)+1] = byte(checksum >> 8)
	result[len(data)+2] = byte(checksum >> 16)
	result[len(data)+3] = byte(checksum >> 24)
	return result
}

// ValidateAndStripCRC32 validates the trailer and returns data without it.
// Returns (data, valid) where valid indicates the checksum was correct.
func ValidateAndStripCRC32(dataWithChecksum []byte) ([]byte, bool) {
	if len(dataWithChecksum) < 4 {
		return nil, false
	}

	dataLen := len(dataWithChecksum) - 4
	data := dataWithChecksum[:dataLen]
	expected := uint32(dataWithChecksum[dataLen]) |
		uint32(dataWithChecksum[dataLen+1])<<8 |
		uint32(dataWithChecksum[dataLen+2])<<16 |
		uint32(dataWithChecksum[dataLen+3])<<24

	return data, ComputeCRC32(data) == expected
}
