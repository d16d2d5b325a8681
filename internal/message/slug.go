package message

import (
	"github.com/google/uuid"
)

const (
	slugAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	slugLength   = 12

	// Bytes at or above this are rejected so every character is equally
	// likely: 224 is the largest multiple of len(slugAlphabet) below 256.
	slugByteLimit = 256 - 256%len(slugAlphabet)
)

// NewSlug returns an opaque, URL-safe identifier drawn from random UUIDs.
// Look-alike characters (0/O, 1/l/I) are excluded.
func NewSlug() string {
	return newSlug(func() [16]byte { return uuid.New() })
}

func newSlug(entropy func() [16]byte) string {
	out := make([]byte, 0, slugLength)
	for len(out) < slugLength {
		id := entropy()
		for i, b := range id {
			// Bytes 6 and 8 carry the fixed version and variant bits.
			if i == 6 || i == 8 || int(b) >= slugByteLimit {
				continue
			}
			out = append(out, slugAlphabet[int(b)%len(slugAlphabet)])
			if len(out) == slugLength {
				break
			}
		}
	}
	return string(out)
}
