// Package utils provides utility functions for the request orchestrator.
//
// This file implements the fast, non-cryptographic digests used to build
// request keys. Digests only need to be stable and cheap: a collision can
// make two requests share a cache entry or an in-flight call, it never
// grants access to anything.
//
// Design Notes:
//   - xxhash64 for Authorization values and request bodies (fast, good distribution)
//   - djb2 kept for short strings where a 32-bit value is enough
//   - Digests are rendered as fixed-width lowercase hex so keys sort and compare cleanly
//   - Nothing here performs I/O or allocates beyond the output string
package utils

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// EmptyDigest is returned for empty input so "no body" and "no auth" are
// visibly distinct from any real digest.
const EmptyDigest = "0"

// Digest returns the xxhash64 of b as 16 hex characters.
// Returns EmptyDigest for empty input.
//
// Performance: ~20ns for short headers, ~1GB/s for large bodies.
func Digest(b []byte) string {
	if len(b) == 0 {
		return EmptyDigest
	}
	return formatHex64(xxhash.Sum64(b))
}

// DigestString is Digest for strings without an intermediate copy.
func DigestString(s string) string {
	if s == "" {
		return EmptyDigest
	}
	return formatHex64(xxhash.Sum64String(s))
}

// Djb2 computes the classic djb2 hash (hash*33 + c) over s.
func Djb2(s string) uint32 {
	var hash uint32 = 5381
	for i := 0; i < len(s); i++ {
		hash = hash*33 + uint32(s[i])
	}
	return hash
}

// Djb2Hex returns Djb2 rendered as base-16.
func Djb2Hex(s string) string {
	if s == "" {
		return EmptyDigest
	}
	return strconv.FormatUint(uint64(Djb2(s)), 16)
}

func formatHex64(v uint64) string {
	const digits = "0123456789abcdef"
	var buf [16]byte
	for i := 15; i >= 0; i-- {
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[:])
}
