package render

import (
	"image/color"

	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
)

// MeshRenderer is the geometry the renderer consumes. *models.Mesh
// implements it.
type MeshRenderer interface {
	VertexCount() int
	TriangleCount() int
	Vertex(i int) models.MeshVertex
	Face(i int) [3]int
	FaceMaterial(i int) *models.Material
	BoundingBox() math3d.Box3
}

var _ MeshRenderer = (*models.Mesh)(nil)

// Stats counts the work done by the last Render call.
type Stats struct {
	Meshes    int
	Culled    int // meshes outside the view frustum
	Triangles int
	BackFaces int
}

// Renderer draws scene graphs into a framebuffer.
type Renderer struct {
	Camera     *Camera
	Light      Light
	Background color.RGBA
	Stats      Stats

	// DisableBackfaceCulling draws back faces of single-sided materials.
	DisableBackfaceCulling bool

	fb       *Framebuffer
	raster   *Rasterizer
	textures map[*models.Texture]*Texture
	used     map[*models.Texture]bool

	clip   []math3d.Vec4
	world  []math3d.Vec3
	normal []math3d.Vec3
}

// NewRenderer creates a renderer with a width x height pixel framebuffer.
func NewRenderer(width, height int) *Renderer {
	fb := NewFramebuffer(width, height)
	return &Renderer{
		Camera:     NewCamera(),
		Light:      DefaultLight(),
		Background: RGB(30, 30, 40),
		fb:         fb,
		raster:     NewRasterizer(fb),
		textures:   make(map[*models.Texture]*Texture),
		used:       make(map[*models.Texture]bool),
	}
}

// Framebuffer returns the target of the most recent Render.
func (r *Renderer) Framebuffer() *Framebuffer {
	return r.fb
}

// Resize reallocates the framebuffer when the dimensions change.
func (r *Renderer) Resize(width, height int) {
	if width == r.fb.Width && height == r.fb.Height {
		return
	}
	r.fb = NewFramebuffer(width, height)
	r.raster.SetFramebuffer(r.fb)
}

type drawItem struct {
	mesh  MeshRenderer
	world math3d.Mat4
}

// Render clears the framebuffer and draws every mesh under root. Opaque
// faces are drawn first with depth writes, then transparent faces are
// blended over them.
func (r *Renderer) Render(root *models.Node) *Framebuffer {
	r.Stats = Stats{}
	r.fb.Clear(r.Background)
	r.raster.ClearDepth()
	if r.fb.Height > 0 {
		r.Camera.SetAspectRatio(float64(r.fb.Width) / float64(r.fb.Height))
	}
	if root == nil {
		return r.fb
	}

	frustum := r.Camera.Frustum()
	var items []drawItem
	root.Walk(math3d.Identity(), func(n *models.Node, world math3d.Mat4) bool {
		if n.Mesh == nil || len(n.Mesh.Faces) == 0 {
			return true
		}
		r.Stats.Meshes++
		if !frustum.IntersectsBox(n.Mesh.BoundingBox().Transform(world)) {
			r.Stats.Culled++
			return true
		}
		items = append(items, drawItem{mesh: n.Mesh, world: world})
		return true
	})

	clear(r.used)
	for _, it := range items {
		r.DrawMesh(it.mesh, it.world, false)
	}
	for _, it := range items {
		r.DrawMesh(it.mesh, it.world, true)
	}
	for k := range r.textures {
		if !r.used[k] {
			delete(r.textures, k)
		}
	}
	return r.fb
}

// FrameNode points the camera at the world bounds of root.
func (r *Renderer) FrameNode(root *models.Node) {
	if r.fb.Height > 0 {
		r.Camera.SetAspectRatio(float64(r.fb.Width) / float64(r.fb.Height))
	}
	r.Camera.Frame(models.WorldBounds(root))
}

var fallbackMaterial = models.DefaultMaterial()

// DrawMesh draws the faces of mesh whose material transparency matches
// transparent. Front faces wind counter-clockwise.
func (r *Renderer) DrawMesh(mesh MeshRenderer, world math3d.Mat4, transparent bool) {
	vp := r.Camera.ViewProjectionMatrix()
	normalMat := world
	if world.Determinant() != 0 {
		normalMat = world.Inverse().Transpose()
	}

	n := mesh.VertexCount()
	r.clip = resize(r.clip, n)
	r.world = resize(r.world, n)
	r.normal = resize(r.normal, n)
	for i := range n {
		v := mesh.Vertex(i)
		wp := world.MulVec3(v.Position)
		nrm := v.Normal
		r.world[i] = wp
		r.clip[i] = vp.MulVec4(math3d.V4FromV3(wp, 1))
		if nrm.LenSq() > 0 {
			nrm = normalMat.MulVec3Dir(nrm).Normalize()
		}
		r.normal[i] = nrm
	}

	w, h := float64(r.fb.Width), float64(r.fb.Height)
	for f := range mesh.TriangleCount() {
		m := mesh.FaceMaterial(f)
		if m == nil {
			m = &fallbackMaterial
		}
		if m.Transparent != transparent {
			continue
		}
		idx := mesh.Face(f)
		if !validFace(idx, n) {
			continue
		}

		var sv [3]screenVertex
		behind := false
		for k, vi := range idx {
			c := r.clip[vi]
			if c.W <= 1e-9 {
				behind = true
				break
			}
			iw := 1 / c.W
			sv[k].X = (c.X*iw + 1) * 0.5 * w
			sv[k].Y = (1 - c.Y*iw) * 0.5 * h
			sv[k].Z = c.Z * iw
			sv[k].InvW = iw
		}
		if behind {
			continue
		}

		front := signedArea(sv[0], sv[1], sv[2]) < 0
		if !front && !m.DoubleSided && !r.DisableBackfaceCulling {
			r.Stats.BackFaces++
			continue
		}
		r.Stats.Triangles++

		if m.Wireframe {
			line := m.RGBA()
			line.A = 255
			for k := range 3 {
				a, b := sv[k], sv[(k+1)%3]
				r.fb.DrawLine(int(a.X), int(a.Y), int(b.X), int(b.Y), line)
			}
			continue
		}

		p0, p1, p2 := r.world[idx[0]], r.world[idx[1]], r.world[idx[2]]
		faceNormal := p1.Sub(p0).Cross(p2.Sub(p0)).Normalize()
		for k, vi := range idx {
			nrm := r.normal[vi]
			if nrm.LenSq() == 0 {
				nrm = faceNormal
			}
			if !front {
				nrm = nrm.Negate()
			}
			toEye := r.Camera.Position.Sub(r.world[vi]).Normalize()
			sv[k].lit = illuminate(m, r.Light, nrm, toEye)
			uv := mesh.Vertex(vi).UV
			sv[k].U = uv.X * sv[k].InvW
			sv[k].V = uv.Y * sv[k].InvW
		}

		r.raster.fill(sv, &surface{base: m.BaseColor, tex: r.texture(m), blend: transparent})
	}
}

func validFace(idx [3]int, n int) bool {
	for _, i := range idx {
		if i < 0 || i >= n {
			return false
		}
	}
	return true
}

// texture returns the sampler for m's texture, converting it on first
// use. Fallback textures are skipped so the base color shows through.
func (r *Renderer) texture(m *models.Material) *Texture {
	t := m.Texture
	if t == nil || t.Fallback || t.Image == nil {
		return nil
	}
	r.used[t] = true
	if tex, ok := r.textures[t]; ok {
		return tex
	}
	tex := TextureFromImage(t.Image)
	r.textures[t] = tex
	return tex
}

func resize[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}
