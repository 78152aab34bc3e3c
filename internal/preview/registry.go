// Package preview keeps the revocable handles a session hands out for displaying
// original and processed artifacts.
package preview

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Ref is an opaque, revocable handle to in-memory bytes.
type Ref string

const refPrefix = "blob:"

// IsZero reports whether the ref was never allocated.
func (r Ref) IsZero() bool { return r == "" }

// Valid reports whether s has the shape of a ref issued by a Registry.
func Valid(s string) bool {
	if !strings.HasPrefix(s, refPrefix) {
		return false
	}
	_, err := uuid.Parse(strings.TrimPrefix(s, refPrefix))
	return err == nil
}

type entry struct {
	data     []byte
	mimeType string
}

// Stats counts registry activity. Allocated always equals Revoked plus Live.
type Stats struct {
	Allocated int `json:"allocated"`
	Revoked   int `json:"revoked"`
	Live      int `json:"live"`
}

// Registry owns every ref allocated for one session. All allocation and
// revocation goes through it so Dispose can release everything exactly once.
type Registry struct {
	mu        sync.RWMutex
	live      map[Ref]entry
	allocated int
	revoked   int
	disposed  bool
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[Ref]entry)}
}

// Allocate stores data and returns a fresh ref. After Dispose it returns the zero ref.
func (r *Registry) Allocate(data []byte, mimeType string) Ref {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return ""
	}
	ref := Ref(refPrefix + uuid.NewString())
	r.live[ref] = entry{data: data, mimeType: mimeType}
	r.allocated++
	return ref
}

// Open returns the bytes behind a live ref.
func (r *Registry) Open(ref Ref) ([]byte, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.live[ref]
	if !ok {
		return nil, "", false
	}
	return e.data, e.mimeType, true
}

// Revoke releases ref. Revoking an unknown or already revoked ref is a no-op
// and reports false.
func (r *Registry) Revoke(ref Ref) bool {
	if ref.IsZero() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live[ref]; !ok {
		return false
	}
	delete(r.live, ref)
	r.revoked++
	return true
}

// RevokeAll releases every live ref and returns how many were released.
// The registry stays usable.
func (r *Registry) RevokeAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeAllLocked()
}

// Dispose revokes every live ref and refuses further allocations.
func (r *Registry) Dispose() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.revokeAllLocked()
	r.disposed = true
	return n
}

func (r *Registry) revokeAllLocked() int {
	n := len(r.live)
	for ref := range r.live {
		delete(r.live, ref)
	}
	r.revoked += n
	return n
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Allocated: r.allocated, Revoked: r.revoked, Live: len(r.live)}
}
