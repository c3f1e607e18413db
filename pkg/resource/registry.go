// Package resource manages ephemeral, revocable handles for in-memory blobs.
//
// A Registry mints handles addressable by a blob: URL. Handles are always
// minted through a Scope, and releasing the scope revokes every handle it
// minted exactly once.
package resource

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"
)

// Scheme is the URL prefix of every handle locator.
const Scheme = "blob:"

const origin = "showcase"

var (
	// ErrNotFound is returned when a locator names no live handle.
	ErrNotFound = errors.New("resource not found")
	// ErrRevoked is returned when revoking a handle twice.
	ErrRevoked = errors.New("resource already revoked")
)

var handleURL = regexp.MustCompile(`^blob:.*/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// IsHandleURL reports whether s has the canonical shape of a handle URL.
func IsHandleURL(s string) bool {
	return handleURL.MatchString(s)
}

// Handle is a reference to a blob held by a Registry.
type Handle struct {
	ID   string
	URL  string
	Name string
	Size int
}

// Registry holds the blobs behind live handles. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	minted  int
	revoked int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{blobs: make(map[string][]byte)}
}

// Scope opens a new acquisition scope on the registry.
func (r *Registry) Scope() *Scope {
	return &Scope{reg: r}
}

// Within runs fn with a fresh scope and releases it when fn returns,
// whether fn succeeds, fails or panics.
func (r *Registry) Within(fn func(s *Scope) error) error {
	s := r.Scope()
	defer s.Release()
	return fn(s)
}

func (r *Registry) mint(name string, data []byte) *Handle {
	id := uuid.NewString()
	h := &Handle{
		ID:   id,
		URL:  Scheme + origin + "/" + id,
		Name: name,
		Size: len(data),
	}
	r.mu.Lock()
	r.blobs[h.URL] = data
	r.minted++
	r.mu.Unlock()
	return h
}

// Revoke releases the blob behind h.
func (r *Registry) Revoke(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blobs[h.URL]; !ok {
		return fmt.Errorf("revoke %s: %w", h.URL, ErrRevoked)
	}
	delete(r.blobs, h.URL)
	r.revoked++
	return nil
}

// Live returns the number of handles not yet revoked.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

// Counts returns how many handles were minted and revoked over the
// registry's lifetime.
func (r *Registry) Counts() (minted, revoked int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minted, r.revoked
}

// Fetch returns the bytes a locator points at. It understands handle URLs
// and data: URIs.
func (r *Registry) Fetch(locator string) ([]byte, error) {
	if IsDataURI(locator) {
		return DecodeDataURI(locator)
	}
	r.mu.Lock()
	data, ok := r.blobs[locator]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fetch %q: %w", locator, ErrNotFound)
	}
	return data, nil
}
