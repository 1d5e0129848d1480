package game

import (
	"encoding/binary"
	"fmt"
)

// Hash128 is a 128-bit hash used for position identity and
// transposition keys. Collisions are treated as astronomically rare.
type Hash128 struct {
	Hi uint64
	Lo uint64
}

func (h Hash128) Xor(other Hash128) Hash128 {
	return Hash128{Hi: h.Hi ^ other.Hi, Lo: h.Lo ^ other.Lo}
}

func (h Hash128) IsZero() bool {
	return h.Hi == 0 && h.Lo == 0
}

func (h Hash128) String() string {
	return fmt.Sprintf("%016X%016X", h.Hi, h.Lo)
}

// splitmix64 step, used to derive deterministic zobrist values without
// carrying a precomputed table around.
func mix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// MixedHash128 derives a deterministic 128-bit hash from a seed and a
// small tuple of values.
func MixedHash128(seed uint64, vals ...uint64) Hash128 {
	hi := mix64(seed)
	lo := mix64(seed ^ 0xd6e8feb86659fd93)
	for _, v := range vals {
		hi = mix64(hi ^ v)
		lo = mix64(lo ^ mix64(v))
	}
	return Hash128{Hi: hi, Lo: lo}
}

// Bytes returns the big-endian encoding, used when hashing into
// other keyed structures.
func (h Hash128) Bytes() []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], h.Hi)
	binary.BigEndian.PutUint64(b[8:16], h.Lo)
	return b[:]
}
