package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
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

// NewProjectID builds a time-prefixed project id. The millisecond prefix
// keeps ids unique per user and lexicographically time-ordered.
func NewProjectID(slug string, now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), slug)
}
