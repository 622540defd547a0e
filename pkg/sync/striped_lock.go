package sync

import (
	base "sync"

	"github.com/spaolacci/murmur3"
)

// StripedLock consistently maps a key space onto a fixed set of locks. It
// bounds the memory footprint of fine grained locking while still allowing
// concurrent access across unrelated keys.
type StripedLock struct {
	locks []base.RWMutex
}

// NewStripedLock returns a new StripedLock with a static number of stripes.
func NewStripedLock(stripes uint) *StripedLock {
	if stripes == 0 {
		stripes = 1
	}

	return &StripedLock{
		locks: make([]base.RWMutex, stripes),
	}
}

// Get gets the lock for a key. The same key always maps to the same lock,
// but unrelated keys may share one.
func (l *StripedLock) Get(key []byte) *base.RWMutex {
	return &l.locks[murmur3.Sum64(key)%uint64(len(l.locks))]
}
