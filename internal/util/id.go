package util

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NowMs returns the current time as integer milliseconds since the Unix
// epoch, the timestamp representation used on documents and portal sync
// state.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
