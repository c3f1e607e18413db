package resource

import "sync"

// Scope owns the handles minted through it. Release revokes all of them;
// calling Release again is a no-op.
type Scope struct {
	reg *Registry

	mu       sync.Mutex
	handles  []*Handle
	released bool
}

// Mint stores data in the registry and returns a handle owned by the scope.
// Minting after Release panics: it would leak a handle nobody revokes.
func (s *Scope) Mint(name string, data []byte) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		panic("resource: mint on released scope")
	}
	h := s.reg.mint(name, data)
	s.handles = append(s.handles, h)
	return h
}

// Handles returns the handles minted so far.
func (s *Scope) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// Release revokes every handle minted through the scope.
func (s *Scope) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	for _, h := range s.handles {
		// Handles are only revoked here, so an error means a bug elsewhere.
		_ = s.reg.Revoke(h)
	}
	s.handles = nil
}

// Released reports whether Release has run.
func (s *Scope) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
