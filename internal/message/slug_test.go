package message

import (
	"strings"
	"testing"
)

func TestNewSlug(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		slug := NewSlug()
		if len(slug) != slugLength {
			t.Fatalf("slug %q has length %d", slug, len(slug))
		}
		if strings.ContainsAny(slug, "0O1lI") {
			t.Fatalf("slug %q contains a look-alike character", slug)
		}
		if seen[slug] {
			t.Fatalf("duplicate slug %q", slug)
		}
		seen[slug] = true
	}
}

func TestNewSlugSkipsFixedAndBiasedBytes(t *testing.T) {
	var counting [16]byte
	for i := range counting {
		counting[i] = byte(i)
	}
	var rejected [16]byte
	for i := range rejected {
		rejected[i] = byte(slugByteLimit + i%(256-slugByteLimit))
	}

	calls := 0
	slug := newSlug(func() [16]byte {
		calls++
		if calls == 1 {
			return rejected
		}
		return counting
	})

	want := string([]byte{
		slugAlphabet[0], slugAlphabet[1], slugAlphabet[2], slugAlphabet[3], slugAlphabet[4], slugAlphabet[5],
		slugAlphabet[7], slugAlphabet[9], slugAlphabet[10], slugAlphabet[11], slugAlphabet[12], slugAlphabet[13],
	})
	if slug != want {
		t.Fatalf("newSlug() = %q, want %q", slug, want)
	}
	if calls != 2 {
		t.Fatalf("expected the rejected UUID to be discarded, used %d UUIDs", calls)
	}
}
