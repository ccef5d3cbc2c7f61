// Package integrity provides an opt-in, debug-mode boundary-tag checksum:
// a way to assert when a corrupt boundary tag is observed during
// navigation, without release builds paying for the check. Checker is
// that assertion, disabled unless a caller explicitly constructs one.
package integrity

import "golang.org/x/crypto/blake2b"

// Digest is a truncated blake2b sum over a block's size and state fields.
type Digest [16]byte

// Checker computes and verifies Digests for block headers.
type Checker struct{}

// NewChecker constructs a Checker. It holds no state; it exists so callers
// can gate the feature behind a typed value instead of a bare bool, and so
// a future implementation could add a keyed checksum without changing call
// sites.
func NewChecker() *Checker { return &Checker{} }

// Sum computes the digest for a block of the given size and state.
func (c *Checker) Sum(size uintptr, state uint8) Digest {
	var buf [9]byte

	for i := 0; i < 8; i++ {
		buf[i] = byte(size >> (8 * i))
	}

	buf[8] = state

	full := blake2b.Sum256(buf[:])

	var d Digest

	copy(d[:], full[:16])

	return d
}

// Verify reports whether want matches the digest recomputed for size/state.
func (c *Checker) Verify(size uintptr, state uint8, want Digest) bool {
	return c.Sum(size, state) == want
}
