// Package identifier implements the modular identifier-space arithmetic
// shared by the Chord and Pastry overlays: normalization of record keys,
// a stable hash into an m-bit ring, and the clockwise/interval helpers
// both protocols route with.
package identifier

import (
	"encoding/binary"
	"strings"

	"golang.org/x/crypto/ripemd160"
)

// Identifier is a point in a modular [0, 2^m) space. It is used both
// for NodeIds and for hashed record keys.
type Identifier uint64

// Space describes an m-bit identifier space, 8 <= M <= 64.
type Space struct {
	M uint
}

// NewSpace builds a Space for the given bit width.
func NewSpace(m uint) Space {
	return Space{M: m}
}

// mask returns the bitmask selecting the low M bits.
func (s Space) mask() uint64 {
	if s.M >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << s.M) - 1
}

// Size returns 2^M.
func (s Space) Size() uint64 {
	if s.M >= 64 {
		return 0 // 2^64 overflows uint64; callers treat 0 as "full range"
	}
	return uint64(1) << s.M
}

// Wrap reduces x modulo 2^M.
func (s Space) Wrap(x uint64) Identifier {
	return Identifier(x & s.mask())
}

// Add returns (a + b) mod 2^M.
func (s Space) Add(a, b Identifier) Identifier {
	return s.Wrap(uint64(a) + uint64(b))
}

// Sub returns (a - b) mod 2^M.
func (s Space) Sub(a, b Identifier) Identifier {
	return s.Wrap(uint64(a) - uint64(b) + s.Size())
}

// PowerOffset returns (base + 2^i) mod 2^M, used to build Chord finger
// start points.
func (s Space) PowerOffset(base Identifier, i uint) Identifier {
	return s.Add(base, Identifier(uint64(1)<<i))
}

// ClockwiseDistance returns (b - a) mod 2^M, the number of steps walking
// clockwise from a to b.
func (s Space) ClockwiseDistance(a, b Identifier) Identifier {
	return s.Sub(b, a)
}

// AbsoluteDistance returns min(ClockwiseDistance(a,b), ClockwiseDistance(b,a)),
// the numeric "closeness" Pastry's owner rule uses.
func (s Space) AbsoluteDistance(a, b Identifier) Identifier {
	d1 := s.ClockwiseDistance(a, b)
	d2 := s.ClockwiseDistance(b, a)
	if d1 < d2 {
		return d1
	}
	return d2
}

// InHalfOpenExclIncl reports whether x lies in the half-open interval
// (lo, hi] walking clockwise, the canonical Chord tie-break (spec §4.4).
// When lo == hi the interval is the whole ring.
func (s Space) InHalfOpenExclIncl(x, lo, hi Identifier) bool {
	if lo == hi {
		return true
	}
	distX := s.ClockwiseDistance(lo, x)
	distHi := s.ClockwiseDistance(lo, hi)
	return distX > 0 && distX <= distHi
}

// InOpen reports whether x lies strictly between lo and hi walking
// clockwise, i.e. in (lo, hi).
func (s Space) InOpen(x, lo, hi Identifier) bool {
	if lo == hi {
		return x != lo
	}
	distX := s.ClockwiseDistance(lo, x)
	distHi := s.ClockwiseDistance(lo, hi)
	return distX > 0 && distX < distHi
}

// InClosed reports whether x lies in [lo, hi] walking clockwise from lo
// through hi, inclusive of both ends. When lo == hi the interval is
// treated as the whole ring.
func (s Space) InClosed(x, lo, hi Identifier) bool {
	if lo == hi {
		return true
	}
	distX := s.ClockwiseDistance(lo, x)
	distHi := s.ClockwiseDistance(lo, hi)
	return distX <= distHi
}

// Normalize lowercases and trims whitespace from a record's key field,
// per spec §3: normalized_key = lower(strip(title)).
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// HashFn hashes a normalized string into the identifier space using the
// low M bits of a RIPEMD-160 digest of its UTF-8 bytes (spec §4.1: "the
// low m bits of a stable 160-bit cryptographic hash").
func HashFn(space Space, normalized string) Identifier {
	h := ripemd160.New()
	_, _ = h.Write([]byte(normalized)) // hash.Hash.Write never errors
	sum := h.Sum(nil)

	// Take the low 8 bytes of the digest, then mask to M bits.
	low8 := sum[len(sum)-8:]
	v := binary.BigEndian.Uint64(low8)
	return space.Wrap(v)
}
