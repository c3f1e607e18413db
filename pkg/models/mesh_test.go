package models

import (
	"math"
	"testing"

	"github.com/taigrr/showcase/pkg/math3d"
)

func triangle() *Mesh {
	m := NewMesh("tri")
	m.Vertices = []MeshVertex{
		{Position: math3d.V3(0, 0, 0)},
		{Position: math3d.V3(2, 0, 0)},
		{Position: math3d.V3(0, 3, 0)},
	}
	m.Faces = []Face{{V: [3]int{0, 1, 2}, Material: -1}}
	return m
}

func TestMeshFinish(t *testing.T) {
	m := triangle()
	if m.HasNormals() {
		t.Fatal("Expected a fresh mesh to have no normals")
	}
	m.Finish()

	for i, v := range m.Vertices {
		if v.Normal != math3d.V3(0, 0, 1) {
			t.Errorf("Vertex %d: expected +Z normal, got %v", i, v.Normal)
		}
	}
	if m.Box.Min != math3d.V3(0, 0, 0) || m.Box.Max != math3d.V3(2, 3, 0) {
		t.Errorf("Expected box (0,0,0)..(2,3,0), got %v..%v", m.Box.Min, m.Box.Max)
	}
	if m.BoundingBox() != m.Box {
		t.Errorf("Expected BoundingBox to return Box")
	}
}

func TestMeshFinishKeepsAuthoredNormals(t *testing.T) {
	m := triangle()
	m.Vertices[0].Normal = math3d.V3(1, 0, 0)
	m.Finish()
	if m.Vertices[0].Normal != math3d.V3(1, 0, 0) {
		t.Errorf("Expected authored normal to survive, got %v", m.Vertices[0].Normal)
	}
}

func TestSmoothNormalsWeightsByArea(t *testing.T) {
	// A small face tilted up and a large face lying flat share vertex 0.
	m := NewMesh("fan")
	m.Vertices = []MeshVertex{
		{Position: math3d.V3(0, 0, 0)},
		{Position: math3d.V3(10, 0, 0)},
		{Position: math3d.V3(0, 10, 0)},
		{Position: math3d.V3(0, -1, 0)},
		{Position: math3d.V3(0, 0, 1)},
	}
	m.Faces = []Face{
		{V: [3]int{0, 1, 2}},
		{V: [3]int{0, 3, 4}},
		{V: [3]int{0, 9, 1}},
	}
	m.SmoothNormals()

	n := m.Vertices[0].Normal
	if math.Abs(n.Len()-1) > 1e-9 {
		t.Errorf("Expected unit normal, got length %f", n.Len())
	}
	if n.Z < 0.99 {
		t.Errorf("Expected the large face to dominate, got %v", n)
	}
	if err := m.Validate(); err == nil {
		t.Errorf("Expected Validate to flag the out-of-range face")
	}
}

func TestMeshFaceMaterial(t *testing.T) {
	m := NewMesh("mixed")
	m.Materials = []Material{{Name: "red"}, {Name: "green"}}
	m.Faces = []Face{{Material: 1}, {Material: -1}, {Material: 7}}

	if got := m.FaceMaterial(0); got == nil || got.Name != "green" {
		t.Errorf("Expected green for face 0, got %v", got)
	}
	for _, i := range []int{1, 2} {
		if got := m.FaceMaterial(i); got != nil {
			t.Errorf("Expected no material for face %d, got %v", i, got)
		}
	}
}

func TestMeshClone(t *testing.T) {
	m := triangle()
	m.Materials = []Material{{Name: "a"}}
	m.Finish()

	c := m.Clone()
	c.Materials[0].Name = "b"
	c.Vertices[0].Position = math3d.V3(9, 9, 9)
	c.Faces[0].Material = 0

	if m.Materials[0].Name != "a" || m.Vertices[0].Position != math3d.Zero3() || m.Faces[0].Material != -1 {
		t.Errorf("Expected the original to be untouched by edits to the clone")
	}
	if c.Box != m.Box || c.Name != m.Name {
		t.Errorf("Expected clone to keep name and bounds")
	}
	if c.TriangleCount() != 1 || c.VertexCount() != 3 || c.MaterialCount() != 1 {
		t.Errorf("Expected counts 1/3/1, got %d/%d/%d", c.TriangleCount(), c.VertexCount(), c.MaterialCount())
	}
}

func TestMeshBoundsUnderTransform(t *testing.T) {
	m := triangle()
	box := m.Bounds(math3d.Translate(math3d.V3(0, 0, 5)))
	if box.Min.Z != 5 || box.Max.Z != 5 || box.Max.X != 2 {
		t.Errorf("Expected box shifted to z=5, got %v..%v", box.Min, box.Max)
	}
	if !NewMesh("empty").Bounds(math3d.Identity()).IsEmpty() {
		t.Errorf("Expected empty mesh to have an empty box")
	}
}
