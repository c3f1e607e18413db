package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
)

var background = RGB(0, 0, 0)

func newTestRenderer(width, height int) *Renderer {
	r := NewRenderer(width, height)
	r.Background = background
	r.Camera = testCamera()
	r.Light = Light{Direction: math3d.V3(0, 0, 1), Ambient: 0.3}
	return r
}

func basic(c [4]float64) models.Material {
	return models.Material{Shading: models.ShadingBasic, BaseColor: c}
}

// quad builds a square in the z plane facing +Z with counter-clockwise faces.
func quad(name string, z, half float64, mat models.Material) *models.Mesh {
	m := models.NewMesh(name)
	n := math3d.V3(0, 0, 1)
	for _, p := range [][2]float64{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}} {
		m.Vertices = append(m.Vertices, models.MeshVertex{
			Position: math3d.V3(p[0]*half, p[1]*half, z),
			Normal:   n,
			UV:       math3d.V2((p[0]+1)/2, (p[1]+1)/2),
		})
	}
	m.Faces = []models.Face{{V: [3]int{0, 1, 2}}, {V: [3]int{0, 2, 3}}}
	m.Materials = []models.Material{mat}
	m.UpdateBounds()
	return m
}

func scene(meshes ...*models.Mesh) *models.Node {
	root := models.NewNode("root")
	for _, m := range meshes {
		root.Add(models.NewMeshNode(m))
	}
	return root
}

func center(fb *Framebuffer) color.RGBA {
	return fb.Pixel(fb.Width/2, fb.Height/2)
}

func closeColor(a, b color.RGBA, tol int) bool {
	d := func(x, y uint8) bool { return abs(int(x)-int(y)) <= tol }
	return d(a.R, b.R) && d(a.G, b.G) && d(a.B, b.B)
}

func TestSignedAreaWinding(t *testing.T) {
	cam := testCamera()
	var sv [3]screenVertex
	for i, p := range []math3d.Vec3{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 0, Y: 1}} {
		x, y, _, ok := cam.WorldToScreen(p, 100, 100)
		if !ok {
			t.Fatalf("vertex %d not visible", i)
		}
		sv[i] = screenVertex{X: x, Y: y}
	}
	if a := signedArea(sv[0], sv[1], sv[2]); a >= 0 {
		t.Errorf("Expected negative screen area for CCW triangle, got %v", a)
	}
}

func TestFillBothWindings(t *testing.T) {
	count := func(sv [3]screenVertex) int {
		fb := NewFramebuffer(20, 20)
		r := NewRasterizer(fb)
		r.fill(sv, &surface{base: [4]float64{1, 1, 1, 1}})
		n := 0
		for _, p := range fb.Pixels {
			if p.A != 0 {
				n++
			}
		}
		return n
	}
	a := screenVertex{X: 2, Y: 2, lit: lighting{diffuse: 1}}
	b := screenVertex{X: 18, Y: 2, lit: lighting{diffuse: 1}}
	c := screenVertex{X: 2, Y: 18, lit: lighting{diffuse: 1}}

	cw, ccw := count([3]screenVertex{a, b, c}), count([3]screenVertex{a, c, b})
	if cw == 0 || cw != ccw {
		t.Errorf("Expected equal non-zero coverage, got %d and %d", cw, ccw)
	}
	if degenerate := count([3]screenVertex{a, a, b}); degenerate != 0 {
		t.Errorf("Expected degenerate triangle to draw nothing, drew %d", degenerate)
	}
}

func TestRenderBasicColor(t *testing.T) {
	r := newTestRenderer(40, 40)
	fb := r.Render(scene(quad("red", 0, 1, basic([4]float64{1, 0, 0, 1}))))

	if got := center(fb); got != RGB(255, 0, 0) {
		t.Errorf("center = %v, want red", got)
	}
	if got := fb.Pixel(0, 0); got != background {
		t.Errorf("corner = %v, want background", got)
	}
	if r.Stats.Meshes != 1 || r.Stats.Triangles != 2 {
		t.Errorf("unexpected stats %+v", r.Stats)
	}
}

func TestRenderNilRoot(t *testing.T) {
	r := newTestRenderer(8, 8)
	fb := r.Render(nil)
	for _, p := range fb.Pixels {
		if p != background {
			t.Fatalf("Expected cleared framebuffer, found %v", p)
		}
	}
}

func TestBackfaceCulling(t *testing.T) {
	back := quad("back", 0, 1, basic([4]float64{0, 1, 0, 1}))
	for i := range back.Faces {
		v := back.Faces[i].V
		back.Faces[i].V = [3]int{v[0], v[2], v[1]}
	}

	r := newTestRenderer(40, 40)
	fb := r.Render(scene(back))
	if got := center(fb); got != background {
		t.Errorf("single-sided back face drawn: %v", got)
	}
	if r.Stats.BackFaces != 2 {
		t.Errorf("BackFaces = %d, want 2", r.Stats.BackFaces)
	}

	back.Materials[0].DoubleSided = true
	fb = r.Render(scene(back))
	if got := center(fb); got != RGB(0, 255, 0) {
		t.Errorf("double-sided back face = %v, want green", got)
	}

	back.Materials[0].DoubleSided = false
	r.DisableBackfaceCulling = true
	fb = r.Render(scene(back))
	if got := center(fb); got != RGB(0, 255, 0) {
		t.Errorf("culling disabled = %v, want green", got)
	}
}

func TestDepthOrdering(t *testing.T) {
	near := quad("near", 1, 1, basic([4]float64{0, 1, 0, 1}))
	far := quad("far", -1, 2, basic([4]float64{1, 0, 0, 1}))

	for _, order := range [][]*models.Mesh{{near, far}, {far, near}} {
		r := newTestRenderer(40, 40)
		fb := r.Render(scene(order...))
		if got := center(fb); got != RGB(0, 255, 0) {
			t.Errorf("order %s,%s: center = %v, want near quad", order[0].Name, order[1].Name, got)
		}
	}
}

func TestFrustumCullsMesh(t *testing.T) {
	root := models.NewNode("root")
	n := models.NewMeshNode(quad("away", 0, 1, basic([4]float64{1, 1, 1, 1})))
	n.Position = math3d.V3(1000, 0, 0)
	root.Add(n)

	r := newTestRenderer(20, 20)
	r.Render(root)
	if r.Stats.Culled != 1 || r.Stats.Triangles != 0 {
		t.Errorf("unexpected stats %+v", r.Stats)
	}
}

func TestTransparentBlend(t *testing.T) {
	glass := basic([4]float64{1, 0, 0, 0.5})
	glass.Transparent = true

	r := newTestRenderer(40, 40)
	fb := r.Render(scene(
		quad("glass", 1, 1, glass),
		quad("wall", -1, 2, basic([4]float64{0, 0, 1, 1})),
	))
	if got := center(fb); !closeColor(got, RGB(128, 0, 127), 1) {
		t.Errorf("center = %v, want red over blue", got)
	}
}

func TestTransparentBehindOpaqueIsHidden(t *testing.T) {
	glass := basic([4]float64{1, 0, 0, 0.5})
	glass.Transparent = true

	r := newTestRenderer(40, 40)
	fb := r.Render(scene(
		quad("glass", -1, 1, glass),
		quad("wall", 1, 2, basic([4]float64{0, 0, 1, 1})),
	))
	if got := center(fb); got != RGB(0, 0, 255) {
		t.Errorf("center = %v, want opaque wall", got)
	}
}

func TestTextureModulatesBaseColor(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{0, 255, 0, 255})

	mat := basic([4]float64{1, 1, 1, 1})
	mat.Texture = &models.Texture{Name: "green", Image: img}

	r := newTestRenderer(40, 40)
	fb := r.Render(scene(quad("textured", 0, 1, mat)))
	if got := center(fb); got != RGB(0, 255, 0) {
		t.Errorf("center = %v, want texture green", got)
	}
	if len(r.textures) != 1 {
		t.Errorf("texture cache size = %d, want 1", len(r.textures))
	}

	r.Render(scene(quad("plain", 0, 1, basic([4]float64{1, 1, 1, 1}))))
	if len(r.textures) != 0 {
		t.Errorf("Expected unused texture to be evicted, cache has %d", len(r.textures))
	}
}

func TestFallbackTextureShowsBaseColor(t *testing.T) {
	mat := basic([4]float64{1, 0, 0, 1})
	mat.Texture = models.FallbackTexture("missing.png")

	r := newTestRenderer(40, 40)
	fb := r.Render(scene(quad("fallback", 0, 1, mat)))
	if got := center(fb); got != RGB(255, 0, 0) {
		t.Errorf("center = %v, want base red", got)
	}
}

func TestLambertFacesLight(t *testing.T) {
	mat := models.Material{Shading: models.ShadingLambert, BaseColor: [4]float64{1, 1, 1, 1}}

	r := newTestRenderer(40, 40)
	lit := center(r.Render(scene(quad("lit", 0, 1, mat))))
	if lit != RGB(255, 255, 255) {
		t.Errorf("lit = %v, want white", lit)
	}

	r.Light.Direction = math3d.V3(0, 0, -1)
	dark := center(r.Render(scene(quad("dark", 0, 1, mat))))
	if dark != RGB(77, 77, 77) {
		t.Errorf("unlit = %v, want ambient only", dark)
	}
}

func TestSpecularHighlights(t *testing.T) {
	for _, mat := range []models.Material{
		{Shading: models.ShadingPhong, BaseColor: [4]float64{0.2, 0.2, 0.2, 1}, Shininess: 10},
		{Shading: models.ShadingStandard, BaseColor: [4]float64{0.2, 0.2, 0.2, 1}, Metallic: 1, Roughness: 0.2},
	} {
		r := newTestRenderer(40, 40)
		got := center(r.Render(scene(quad("shiny", 0, 1, mat))))
		if got.R <= 51 {
			t.Errorf("%s: center = %v, want highlight above diffuse", mat.Shading, got)
		}
	}
}

func TestWireframe(t *testing.T) {
	mat := basic([4]float64{1, 1, 0, 1})
	mat.Wireframe = true

	r := newTestRenderer(40, 40)
	fb := r.Render(scene(models.NewCube("cube", 2)))
	filled := 0
	for _, p := range fb.Pixels {
		if p != background {
			filled++
		}
	}

	cube := models.NewCube("wire", 2)
	cube.Materials = []models.Material{mat}
	fb = r.Render(scene(cube))
	lines := 0
	for _, p := range fb.Pixels {
		if p == RGB(255, 255, 0) {
			lines++
		}
	}
	if lines == 0 || lines >= filled {
		t.Errorf("Expected sparse edges, got %d line pixels vs %d filled", lines, filled)
	}
}

// mockMesh implements MeshRenderer for testing.
type mockMesh struct {
	vertices []math3d.Vec3
	faces    [][3]int
}

func (m *mockMesh) VertexCount() int                  { return len(m.vertices) }
func (m *mockMesh) TriangleCount() int                { return len(m.faces) }
func (m *mockMesh) Face(i int) [3]int                 { return m.faces[i] }
func (m *mockMesh) FaceMaterial(int) *models.Material { return nil }
func (m *mockMesh) Vertex(i int) models.MeshVertex {
	return models.MeshVertex{Position: m.vertices[i]}
}
func (m *mockMesh) BoundingBox() math3d.Box3 {
	return math3d.Box3{Min: math3d.V3(-1, -1, 0), Max: math3d.V3(1, 1, 0)}
}

func TestDrawMeshWithoutMaterials(t *testing.T) {
	mesh := &mockMesh{
		vertices: []math3d.Vec3{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}},
		faces:    [][3]int{{0, 1, 2}, {0, 2, 3}, {0, 2, 9}},
	}

	r := newTestRenderer(40, 40)
	r.Render(nil)
	r.DrawMesh(mesh, math3d.Identity(), false)

	got := center(r.Framebuffer())
	if got == background {
		t.Fatal("Expected fallback material to be drawn")
	}
	// Face normals stand in for missing vertex normals, so the slate
	// fallback is lit head-on.
	want := models.DefaultMaterial().RGBA()
	if got.B <= got.R || !closeColor(got, want, 40) {
		t.Errorf("center = %v, want near %v", got, want)
	}
}

func TestFrameNode(t *testing.T) {
	root := models.NewNode("root")
	n := models.NewMeshNode(models.NewCube("cube", 2))
	n.Position = math3d.V3(5, 5, 5)
	root.Add(n)

	r := NewRenderer(80, 40)
	r.FrameNode(root)
	x, y, _, ok := r.Camera.WorldToScreen(math3d.V3(5, 5, 5), 80, 40)
	if !ok || math.Abs(x-40) > 1 || math.Abs(y-20) > 1 {
		t.Errorf("cube center projects to (%v, %v, %v), want screen center", x, y, ok)
	}

	r.Render(root)
	if r.Stats.Culled != 0 || r.Stats.Triangles == 0 {
		t.Errorf("framed cube not drawn: %+v", r.Stats)
	}
	if x, _, _, ok := r.Camera.WorldToScreen(math3d.V3(6, 6, 6), 80, 40); !ok || x < 0 || x > 80 {
		t.Error("Expected cube corner to stay in view")
	}
}

func TestResize(t *testing.T) {
	r := NewRenderer(10, 10)
	r.Resize(30, 20)
	fb := r.Render(scene(quad("q", 0, 1, basic([4]float64{1, 1, 1, 1}))))
	if fb.Width != 30 || fb.Height != 20 || len(r.raster.zbuffer) != 600 {
		t.Errorf("resize not applied: %dx%d, depth %d", fb.Width, fb.Height, len(r.raster.zbuffer))
	}
	if math.Abs(r.Camera.AspectRatio-1.5) > 1e-9 {
		t.Errorf("aspect = %v, want 1.5", r.Camera.AspectRatio)
	}
}

func TestTextureSample(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 2))
	img.Set(0, 0, color.NRGBA{255, 0, 0, 255})
	img.Set(0, 1, color.NRGBA{0, 0, 255, 255})
	tex := TextureFromImage(img)
	tex.FilterMode = FilterNearest

	tests := []struct {
		name string
		u, v float64
		want color.RGBA
	}{
		{"top row is high v", 0.5, 0.9, RGB(255, 0, 0)},
		{"bottom row is low v", 0.5, 0.1, RGB(0, 0, 255)},
		{"repeat wraps", 0.5, 1.9, RGB(255, 0, 0)},
		{"negative wraps", 0.5, -0.9, RGB(0, 0, 255)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tex.Sample(tc.u, tc.v); got != tc.want {
				t.Errorf("Sample(%v, %v) = %v, want %v", tc.u, tc.v, got, tc.want)
			}
		})
	}

	tex.WrapV = WrapClamp
	if got := tex.Sample(0.5, 5); got != RGB(255, 0, 0) {
		t.Errorf("clamped sample = %v, want top row", got)
	}
}

func TestTextureFromEmptyImage(t *testing.T) {
	tex := TextureFromImage(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	if got := tex.Sample(0.3, 0.7); got != RGB(255, 255, 255) {
		t.Errorf("empty image sample = %v, want white", got)
	}
}

func TestFramebufferBlend(t *testing.T) {
	fb := NewFramebuffer(1, 1)
	fb.Clear(RGB(0, 0, 255))
	fb.Blend(0, 0, color.RGBA{255, 0, 0, 128})
	if got := fb.Pixel(0, 0); !closeColor(got, RGB(128, 0, 127), 1) || got.A != 255 {
		t.Errorf("blend = %v", got)
	}
	fb.Blend(5, 5, RGB(1, 2, 3))
}

func TestDrawLine(t *testing.T) {
	fb := NewFramebuffer(10, 10)
	fb.DrawLine(1, 1, 8, 5, RGB(255, 255, 255))
	for _, p := range [][2]int{{1, 1}, {8, 5}} {
		if fb.Pixel(p[0], p[1]) != RGB(255, 255, 255) {
			t.Errorf("endpoint %v not drawn", p)
		}
	}
}

func TestEncodePNG(t *testing.T) {
	fb := NewFramebuffer(4, 3)
	fb.Clear(RGB(10, 20, 30))
	var buf bytes.Buffer
	if err := fb.EncodePNG(&buf); err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Errorf("bounds = %v", b)
	}
	r, g, b, _ := img.At(3, 2).RGBA()
	if r>>8 != 10 || g>>8 != 20 || b>>8 != 30 {
		t.Errorf("pixel = %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestStringHalfBlocks(t *testing.T) {
	fb := NewFramebuffer(3, 4)
	fb.Clear(RGB(200, 0, 0))
	out := fb.String()
	if n := strings.Count(out, halfBlock); n != 6 {
		t.Errorf("Expected 6 half blocks for 3x4 pixels, got %d", n)
	}
	if lines := strings.Count(strings.TrimRight(out, "\n"), "\n") + 1; lines != 2 {
		t.Errorf("Expected 2 rows, got %d", lines)
	}
}

func BenchmarkRenderCube(b *testing.B) {
	r := newTestRenderer(160, 90)
	root := scene(models.NewCube("cube", 3))
	root.Rotation = math3d.QuatFromEuler(0.4, 0.6, 0)
	for b.Loop() {
		r.Render(root)
	}
}
