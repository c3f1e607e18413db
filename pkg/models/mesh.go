// Package models provides the format-neutral scene graph that every
// format adapter produces: nodes, meshes, materials and textures.
package models

import (
	"fmt"

	"github.com/taigrr/showcase/pkg/math3d"
)

// Mesh is an indexed triangle list. Faces refer to Vertices and, through
// Face.Material, to Materials.
type Mesh struct {
	Name      string
	Vertices  []MeshVertex
	Faces     []Face
	Materials []Material

	// Box is the object-space bounding box as of the last UpdateBounds.
	Box math3d.Box3
}

type MeshVertex struct {
	Position math3d.Vec3
	Normal   math3d.Vec3
	UV       math3d.Vec2
}

// Face is one triangle. Material is an index into Mesh.Materials; -1
// leaves the face to the renderer's fallback material.
type Face struct {
	V        [3]int
	Material int
}

func NewMesh(name string) *Mesh {
	return &Mesh{Name: name, Box: math3d.EmptyBox3()}
}

// Finish prepares a freshly decoded mesh for display: smooth normals are
// generated when the source carried none, and Box is refreshed.
func (m *Mesh) Finish() {
	if !m.HasNormals() {
		m.SmoothNormals()
	}
	m.UpdateBounds()
}

func (m *Mesh) UpdateBounds() {
	m.Box = m.Bounds(math3d.Identity())
}

// Bounds returns the box around every vertex after applying mat.
func (m *Mesh) Bounds(mat math3d.Mat4) math3d.Box3 {
	box := math3d.EmptyBox3()
	for _, v := range m.Vertices {
		box = box.ExpandByPoint(mat.MulVec3(v.Position))
	}
	return box
}

func (m *Mesh) VertexCount() int   { return len(m.Vertices) }
func (m *Mesh) TriangleCount() int { return len(m.Faces) }
func (m *Mesh) MaterialCount() int { return len(m.Materials) }

// HasNormals reports whether any vertex carries a usable normal.
func (m *Mesh) HasNormals() bool {
	for _, v := range m.Vertices {
		if v.Normal.LenSq() > 1e-6 {
			return true
		}
	}
	return false
}

// SmoothNormals replaces every vertex normal with the area-weighted mean
// of the faces that share it. Faces with out-of-range indices are skipped.
func (m *Mesh) SmoothNormals() {
	sums := make([]math3d.Vec3, len(m.Vertices))
	for _, f := range m.Faces {
		if !m.inRange(f) {
			continue
		}
		a, b, c := m.Vertices[f.V[0]].Position, m.Vertices[f.V[1]].Position, m.Vertices[f.V[2]].Position
		// The cross product's length is twice the face area.
		n := b.Sub(a).Cross(c.Sub(a))
		for _, i := range f.V {
			sums[i] = sums[i].Add(n)
		}
	}
	for i, n := range sums {
		m.Vertices[i].Normal = n.Normalize()
	}
}

func (m *Mesh) inRange(f Face) bool {
	for _, i := range f.V {
		if i < 0 || i >= len(m.Vertices) {
			return false
		}
	}
	return true
}

// Validate reports the first face that points past the vertex list.
func (m *Mesh) Validate() error {
	for i, f := range m.Faces {
		if !m.inRange(f) {
			return fmt.Errorf("mesh %q: face %d references %v with %d vertices", m.Name, i, f.V, len(m.Vertices))
		}
	}
	return nil
}

// Clone copies the mesh so edits to the copy never reach the original.
func (m *Mesh) Clone() *Mesh {
	c := *m
	c.Vertices = append([]MeshVertex(nil), m.Vertices...)
	c.Faces = append([]Face(nil), m.Faces...)
	c.Materials = append([]Material(nil), m.Materials...)
	return &c
}

// The accessors below let the renderer walk a mesh without knowing its
// layout.

func (m *Mesh) Vertex(i int) MeshVertex { return m.Vertices[i] }

func (m *Mesh) Face(i int) [3]int { return m.Faces[i].V }

// FaceMaterial returns the material of face i, or nil when the face has
// none or its index is out of range.
func (m *Mesh) FaceMaterial(i int) *Material {
	idx := m.Faces[i].Material
	if idx < 0 || idx >= len(m.Materials) {
		return nil
	}
	return &m.Materials[idx]
}

func (m *Mesh) BoundingBox() math3d.Box3 { return m.Box }
