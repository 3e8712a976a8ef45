package graph

import (
	"errors"
	"sync/atomic"
)

// Slot holds the single active graph. Readers load a sealed store and keep
// using it for the rest of their operation; a concurrent Publish never
// changes what they see.
type Slot struct {
	active atomic.Pointer[Store]
}

// Load returns the active graph or nil when nothing was published yet.
func (s *Slot) Load() *Store {
	return s.active.Load()
}

// Publish makes g the active graph and returns the one it replaced.
func (s *Slot) Publish(g *Store) (*Store, error) {
	if g == nil {
		return nil, errors.New("cannot publish a nil graph")
	}
	if !g.Sealed() {
		return nil, errors.New("cannot publish an unsealed graph")
	}
	return s.active.Swap(g), nil
}
