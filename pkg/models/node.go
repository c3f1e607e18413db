package models

import (
	"github.com/taigrr/showcase/pkg/math3d"
)

// Node is a transform in the scene graph, optionally carrying a mesh.
type Node struct {
	Name     string
	Position math3d.Vec3
	Rotation math3d.Quat
	Scale    math3d.Vec3
	Mesh     *Mesh
	Children []*Node
}

// NewNode creates a node with an identity transform.
func NewNode(name string) *Node {
	return &Node{
		Name:     name,
		Rotation: math3d.IdentityQuat(),
		Scale:    math3d.One3(),
	}
}

// NewMeshNode wraps a mesh in a fresh node.
func NewMeshNode(mesh *Mesh) *Node {
	n := NewNode(mesh.Name)
	n.Mesh = mesh
	return n
}

// Add appends children to the node.
func (n *Node) Add(children ...*Node) {
	n.Children = append(n.Children, children...)
}

// Matrix returns the node's local transform.
func (n *Node) Matrix() math3d.Mat4 {
	return math3d.Compose(n.Position, n.Rotation, n.Scale)
}

// SetMatrix replaces the local transform with the decomposition of m.
func (n *Node) SetMatrix(m math3d.Mat4) {
	n.Position, n.Rotation, n.Scale = m.Decompose()
}

// Walk visits n and its descendants depth-first, passing each node's
// transform relative to parent. Returning false from fn skips the
// node's children.
func (n *Node) Walk(parent math3d.Mat4, fn func(node *Node, world math3d.Mat4) bool) {
	world := parent.Mul(n.Matrix())
	if !fn(n, world) {
		return
	}
	for _, c := range n.Children {
		c.Walk(world, fn)
	}
}

// Meshes returns every distinct mesh in the subtree in traversal order.
func (n *Node) Meshes() []*Mesh {
	var out []*Mesh
	seen := make(map[*Mesh]bool)
	n.Walk(math3d.Identity(), func(node *Node, _ math3d.Mat4) bool {
		if node.Mesh != nil && !seen[node.Mesh] {
			seen[node.Mesh] = true
			out = append(out, node.Mesh)
		}
		return true
	})
	return out
}

// Find returns the first node in the subtree with the given name.
func (n *Node) Find(name string) *Node {
	var found *Node
	n.Walk(math3d.Identity(), func(node *Node, _ math3d.Mat4) bool {
		if found != nil {
			return false
		}
		if node.Name == name {
			found = node
			return false
		}
		return true
	})
	return found
}

// WorldBounds returns the bounding box of the subtree including n's own
// transform.
func WorldBounds(n *Node) math3d.Box3 {
	return subtreeBounds(n, math3d.Identity(), true)
}

// LocalBounds returns the bounding box of the subtree with n's own
// transform treated as identity, i.e. in n's parent-independent frame.
func LocalBounds(n *Node) math3d.Box3 {
	return subtreeBounds(n, math3d.Identity(), false)
}

func subtreeBounds(n *Node, parent math3d.Mat4, includeSelf bool) math3d.Box3 {
	box := math3d.EmptyBox3()
	self := parent
	if includeSelf {
		self = parent.Mul(n.Matrix())
	}
	if n.Mesh != nil {
		box = box.Union(n.Mesh.Bounds(self))
	}
	for _, c := range n.Children {
		c.Walk(self, func(node *Node, world math3d.Mat4) bool {
			if node.Mesh != nil {
				box = box.Union(node.Mesh.Bounds(world))
			}
			return true
		})
	}
	return box
}

// Stats summarizes the contents of a subtree.
type Stats struct {
	Nodes     int `yaml:"nodes"`
	Meshes    int `yaml:"meshes"`
	Vertices  int `yaml:"vertices"`
	Triangles int `yaml:"triangles"`
	Materials int `yaml:"materials"`
}

// Stats counts nodes, distinct meshes and their geometry.
func (n *Node) Stats() Stats {
	var s Stats
	n.Walk(math3d.Identity(), func(*Node, math3d.Mat4) bool {
		s.Nodes++
		return true
	})
	for _, m := range n.Meshes() {
		s.Meshes++
		s.Vertices += m.VertexCount()
		s.Triangles += m.TriangleCount()
		s.Materials += m.MaterialCount()
	}
	return s
}
