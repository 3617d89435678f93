package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier, optionally namespaced with a prefix
// such as "pir" or "qst".
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewToken returns a 64-character random token for refresh sessions.
func NewToken() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
