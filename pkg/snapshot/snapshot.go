// Package snapshot records the original materials and transforms of a
// loaded model so that user edits can be undone exactly.
package snapshot

import (
	"sync"

	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
)

// Materials remembers the material list of each mesh it has seen.
// The zero value is ready to use.
type Materials struct {
	mu    sync.Mutex
	saved map[*models.Mesh][]models.Material
}

// CaptureOnce records mesh's materials unless they were already recorded.
// It reports whether a snapshot was taken.
func (s *Materials) CaptureOnce(mesh *models.Mesh) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.saved[mesh]; ok {
		return false
	}
	if s.saved == nil {
		s.saved = make(map[*models.Mesh][]models.Material)
	}
	s.saved[mesh] = append([]models.Material(nil), mesh.Materials...)
	return true
}

// CaptureTree captures every mesh under root and returns how many were new.
func (s *Materials) CaptureTree(root *models.Node) int {
	n := 0
	for _, m := range root.Meshes() {
		if s.CaptureOnce(m) {
			n++
		}
	}
	return n
}

// Restore writes the recorded materials back onto mesh. It does nothing
// for a mesh that was never captured.
func (s *Materials) Restore(mesh *models.Mesh) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved, ok := s.saved[mesh]
	if !ok {
		return false
	}
	mesh.Materials = append(mesh.Materials[:0:0], saved...)
	return true
}

// RestoreTree restores every captured mesh under root.
func (s *Materials) RestoreTree(root *models.Node) int {
	n := 0
	for _, m := range root.Meshes() {
		if s.Restore(m) {
			n++
		}
	}
	return n
}

// Len returns the number of captured meshes.
func (s *Materials) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// Transform is a node's local position, rotation and scale.
type Transform struct {
	Position math3d.Vec3
	Rotation math3d.Quat
	Scale    math3d.Vec3
}

// TransformOf reads n's local transform.
func TransformOf(n *models.Node) Transform {
	return Transform{Position: n.Position, Rotation: n.Rotation, Scale: n.Scale}
}

// Apply writes t onto n.
func (t Transform) Apply(n *models.Node) {
	n.Position, n.Rotation, n.Scale = t.Position, t.Rotation, t.Scale
}

// Transforms remembers the transform of each node it has seen.
// The zero value is ready to use.
type Transforms struct {
	mu    sync.Mutex
	saved map[*models.Node]Transform
}

// CaptureOnce records n's transform unless it was already recorded.
func (s *Transforms) CaptureOnce(n *models.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.saved[n]; ok {
		return false
	}
	if s.saved == nil {
		s.saved = make(map[*models.Node]Transform)
	}
	s.saved[n] = TransformOf(n)
	return true
}

// Restore writes the recorded transform back onto n.
func (s *Transforms) Restore(n *models.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.saved[n]
	if !ok {
		return false
	}
	t.Apply(n)
	return true
}

// Get returns the recorded transform of n.
func (s *Transforms) Get(n *models.Node) (Transform, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.saved[n]
	return t, ok
}
