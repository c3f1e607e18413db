package models

import (
	"github.com/taigrr/showcase/pkg/math3d"
)

// Placeholder colors.
const (
	ErrorColor       = "#ef4444"
	UnsupportedColor = "#94a3b8"
)

// loadingColors maps a lower-case extension to the color of the cube shown
// while that format is loading.
var loadingColors = map[string]string{
	"stl":  "#94a3b8",
	"obj":  "#94a3b8",
	"gltf": "#94a3b8",
	"glb":  "#94a3b8",
	"zip":  "#3b82f6",
	"fbx":  "#8b5cf6",
	"dae":  "#38bdf8",
	"3ds":  "#f472b6",
}

// ErrorPlaceholder returns the solid red cube shown after a fatal load error.
func ErrorPlaceholder() *Node {
	mat := Material{
		Name:        "error",
		Shading:     ShadingStandard,
		BaseColor:   mustColor(ErrorColor),
		Roughness:   1,
		DoubleSided: true,
	}
	return placeholder("error-placeholder", 1, mat)
}

// UnsupportedPlaceholder returns the translucent cube shown for formats
// that cannot be decoded at all.
func UnsupportedPlaceholder() *Node {
	c := mustColor(UnsupportedColor)
	c[3] = 0.7
	mat := Material{
		Name:        "unsupported",
		Shading:     ShadingStandard,
		BaseColor:   c,
		Roughness:   1,
		DoubleSided: true,
		Transparent: true,
	}
	return placeholder("unsupported-placeholder", 2, mat)
}

// LoadingPlaceholder returns a small cube tinted for the given extension.
func LoadingPlaceholder(ext string) *Node {
	hex, ok := loadingColors[ext]
	if !ok {
		hex = UnsupportedColor
	}
	mat := Material{
		Name:        "loading",
		Shading:     ShadingStandard,
		BaseColor:   mustColor(hex),
		Roughness:   1,
		DoubleSided: true,
	}
	return placeholder("loading-placeholder", 1, mat)
}

func placeholder(name string, size float64, mat Material) *Node {
	cube := NewCube(name, size)
	cube.Materials = []Material{mat}
	root := NewNode(name)
	root.Add(NewMeshNode(cube))
	return root
}

// NewCube builds an axis-aligned cube centered at the origin with outward
// facing normals and counter-clockwise winding. Every face uses material 0.
func NewCube(name string, size float64) *Mesh {
	h := size / 2
	sides := []struct {
		n    math3d.Vec3
		u, v math3d.Vec3
	}{
		{math3d.V3(0, 0, 1), math3d.V3(1, 0, 0), math3d.V3(0, 1, 0)},
		{math3d.V3(0, 0, -1), math3d.V3(-1, 0, 0), math3d.V3(0, 1, 0)},
		{math3d.V3(1, 0, 0), math3d.V3(0, 0, -1), math3d.V3(0, 1, 0)},
		{math3d.V3(-1, 0, 0), math3d.V3(0, 0, 1), math3d.V3(0, 1, 0)},
		{math3d.V3(0, 1, 0), math3d.V3(1, 0, 0), math3d.V3(0, 0, -1)},
		{math3d.V3(0, -1, 0), math3d.V3(1, 0, 0), math3d.V3(0, 0, 1)},
	}

	mesh := NewMesh(name)
	for _, s := range sides {
		base := len(mesh.Vertices)
		c := s.n.Scale(h)
		corners := [4][2]float64{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
		for _, k := range corners {
			p := c.Add(s.u.Scale(k[0] * h)).Add(s.v.Scale(k[1] * h))
			mesh.Vertices = append(mesh.Vertices, MeshVertex{
				Position: p,
				Normal:   s.n,
				UV:       math3d.V2((k[0]+1)/2, (k[1]+1)/2),
			})
		}
		mesh.Faces = append(mesh.Faces,
			Face{V: [3]int{base, base + 1, base + 2}},
			Face{V: [3]int{base, base + 2, base + 3}},
		)
	}
	mesh.UpdateBounds()
	return mesh
}
