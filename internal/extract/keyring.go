package extract

import (
	"strings"
	"sync/atomic"
)

// KeyRing rotates across multiple provider API keys round-robin so a
// single key's quota does not throttle the whole pipeline. Safe for
// concurrent use.
type KeyRing struct {
	keys []string
	next atomic.Uint64
}

// NewKeyRing builds a ring from the non-empty keys, preserving order.
func NewKeyRing(keys ...string) *KeyRing {
	ring := &KeyRing{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			ring.keys = append(ring.keys, k)
		}
	}
	return ring
}

// Next returns the next key in rotation, or "" for an empty ring.
func (r *KeyRing) Next() string {
	if len(r.keys) == 0 {
		return ""
	}
	n := r.next.Add(1) - 1
	return r.keys[n%uint64(len(r.keys))]
}

// Len returns the number of keys in the ring.
func (r *KeyRing) Len() int {
	return len(r.keys)
}

// Keys returns a copy of the ring's keys.
func (r *KeyRing) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}
