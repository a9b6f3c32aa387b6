// Package seedrand provides the reproducible shuffle used to pick and order questions.
//
// The pipeline is pinned: the seed string is hashed with 32-bit FNV-1a over its UTF-8
// bytes, and the hash seeds a mulberry32 generator. Any change here reshuffles every
// running session, so the golden tests must keep passing.
package seedrand

import (
	"hash/fnv"
	"strings"
)

// Hash32 returns the FNV-1a 32-bit hash of key.
func Hash32(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

// Key joins seed components with ':' (e.g. "sessionId:tagId").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Rand is a mulberry32 generator. It is not safe for concurrent use.
type Rand struct {
	state uint32
}

// New seeds a generator from a seed string.
func New(seed string) *Rand {
	return &Rand{state: Hash32(seed)}
}

// Float64 returns the next value in [0, 1).
func (r *Rand) Float64() float64 {
	r.state += 0x6D2B79F5
	t := r.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return float64(t^(t>>14)) / 4294967296
}

// Shuffle permutes items in place with Fisher-Yates driven by the seed.
func Shuffle[T any](seed string, items []T) {
	r := New(seed)
	for i := len(items) - 1; i > 0; i-- {
		j := int(r.Float64() * float64(i+1))
		items[i], items[j] = items[j], items[i]
	}
}

// Shuffled returns a shuffled copy, leaving items untouched.
func Shuffled[T any](seed string, items []T) []T {
	out := append([]T(nil), items...)
	Shuffle(seed, out)
	return out
}
