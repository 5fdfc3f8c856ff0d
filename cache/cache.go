// Package cache keeps the most recent rendered map in memory.
package cache

import (
	"sync"

	"github.com/JiscSD/lightning-observation-map/render"
)

// Store holds at most one artifact. It is written by a single writer, the
// refresh scheduler, and read by any number of request handlers.
type Store struct {
	artifact *render.Artifact
	sync.RWMutex
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Get returns the current artifact or nil if none has been stored yet.
// Artifacts are never modified after Set, callers must not modify them either.
func (s *Store) Get() *render.Artifact {
	s.RLock()
	defer s.RUnlock()
	return s.artifact
}

// Set replaces the stored artifact as a whole. A nil artifact is ignored so
// that an empty render never blanks the store.
func (s *Store) Set(a *render.Artifact) {
	if a == nil {
		return
	}
	s.Lock()
	s.artifact = a
	s.Unlock()
}
