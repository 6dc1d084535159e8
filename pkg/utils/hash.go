package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// SumSHA256 returns the SHA-256 checksum of the provided data.
func SumSHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HexSHA256 returns the lowercase hex SHA-256 digest of data.
func HexSHA256(data []byte) string {
	sum := SumSHA256(data)
	return hex.EncodeToString(sum[:])
}
