package tables

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

const checksumPrefix = "sha256:"

// ComputeChecksum computes a SHA256 checksum for the given data.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return checksumPrefix + hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
func VerifyChecksum(data []byte, expected string) bool {
	actual := ComputeChecksum(data)
	return actual == expected
}

// NewHasher returns a streaming hasher whose sum is rendered by FormatChecksum.
func NewHasher() hash.Hash {
	return sha256.New()
}

// FormatChecksum renders a streaming hasher's sum in ComputeChecksum form.
func FormatChecksum(h hash.Hash) string {
	return checksumPrefix + hex.EncodeToString(h.Sum(nil))
}

// ChecksumHex strips the algorithm prefix. Object metadata stores the bare hex.
func ChecksumHex(checksum string) string {
	return strings.TrimPrefix(checksum, checksumPrefix)
}
