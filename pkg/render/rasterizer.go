package render

import (
	"image/color"
	"math"
)

// screenVertex is a projected vertex ready for scan conversion.
type screenVertex struct {
	X, Y float64 // pixels, Y down
	Z    float64 // NDC depth, -1 near to 1 far
	InvW float64 // 1 / clip W, for perspective-correct UVs
	U, V float64 // texture coordinates pre-multiplied by InvW
	lit  lighting
}

// surface describes how one triangle's fragments are colored.
type surface struct {
	base  [4]float64 // straight RGBA, 0-1
	tex   *Texture
	blend bool
}

// Rasterizer fills triangles into a framebuffer with depth testing.
type Rasterizer struct {
	fb      *Framebuffer
	zbuffer []float64
}

func NewRasterizer(fb *Framebuffer) *Rasterizer {
	r := &Rasterizer{}
	r.SetFramebuffer(fb)
	return r
}

// SetFramebuffer retargets the rasterizer, reallocating depth if needed.
func (r *Rasterizer) SetFramebuffer(fb *Framebuffer) {
	r.fb = fb
	if n := fb.Width * fb.Height; cap(r.zbuffer) < n {
		r.zbuffer = make([]float64, n)
	} else {
		r.zbuffer = r.zbuffer[:n]
	}
	r.ClearDepth()
}

func (r *Rasterizer) ClearDepth() {
	inf := math.Inf(1)
	for i := range r.zbuffer {
		r.zbuffer[i] = inf
	}
}

// edgeCoeffs returns A, B, C with A*x + B*y + C equal to the cross product
// of (x1-x0, y1-y0) and (x-x0, y-y0).
func edgeCoeffs(x0, y0, x1, y1 float64) (a, b, c float64) {
	return y0 - y1, x1 - x0, x0*y1 - x1*y0
}

// signedArea is twice the signed screen-space area of the triangle.
// Counter-clockwise triangles in NDC come out negative because screen Y
// points down.
func signedArea(a, b, c screenVertex) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// fill scan-converts a triangle of either winding with incremental edge
// functions evaluated at pixel centers.
func (r *Rasterizer) fill(sv [3]screenVertex, s *surface) {
	area := signedArea(sv[0], sv[1], sv[2])
	if area == 0 {
		return
	}
	if area < 0 {
		sv[1], sv[2] = sv[2], sv[1]
		area = -area
	}
	w, h := r.fb.Width, r.fb.Height

	minX := max(0, int(math.Floor(min(sv[0].X, sv[1].X, sv[2].X))))
	maxX := min(w-1, int(math.Ceil(max(sv[0].X, sv[1].X, sv[2].X))))
	minY := max(0, int(math.Floor(min(sv[0].Y, sv[1].Y, sv[2].Y))))
	maxY := min(h-1, int(math.Ceil(max(sv[0].Y, sv[1].Y, sv[2].Y))))
	if minX > maxX || minY > maxY {
		return
	}

	a0, b0, c0 := edgeCoeffs(sv[1].X, sv[1].Y, sv[2].X, sv[2].Y)
	a1, b1, c1 := edgeCoeffs(sv[2].X, sv[2].Y, sv[0].X, sv[0].Y)
	a2, b2, c2 := edgeCoeffs(sv[0].X, sv[0].Y, sv[1].X, sv[1].Y)
	inv := 1 / area

	px, py := float64(minX)+0.5, float64(minY)+0.5
	row0 := a0*px + b0*py + c0
	row1 := a1*px + b1*py + c1
	row2 := a2*px + b2*py + c2

	for y := minY; y <= maxY; y++ {
		e0, e1, e2 := row0, row1, row2
		for x := minX; x <= maxX; x++ {
			if e0 >= 0 && e1 >= 0 && e2 >= 0 {
				r.shade(x, y, e0*inv, e1*inv, e2*inv, &sv, s)
			}
			e0 += a0
			e1 += a1
			e2 += a2
		}
		row0 += b0
		row1 += b1
		row2 += b2
	}
}

func (r *Rasterizer) shade(x, y int, l0, l1, l2 float64, sv *[3]screenVertex, s *surface) {
	idx := y*r.fb.Width + x
	z := l0*sv[0].Z + l1*sv[1].Z + l2*sv[2].Z
	if z < -1 || z > 1 || z >= r.zbuffer[idx] {
		return
	}

	cr, cg, cb, ca := s.base[0], s.base[1], s.base[2], s.base[3]
	if s.tex != nil {
		iw := l0*sv[0].InvW + l1*sv[1].InvW + l2*sv[2].InvW
		u := (l0*sv[0].U + l1*sv[1].U + l2*sv[2].U) / iw
		v := (l0*sv[0].V + l1*sv[1].V + l2*sv[2].V) / iw
		t := s.tex.Sample(u, v)
		cr *= float64(t.R) / 255
		cg *= float64(t.G) / 255
		cb *= float64(t.B) / 255
		ca *= float64(t.A) / 255
	}

	diffuse := l0*sv[0].lit.diffuse + l1*sv[1].lit.diffuse + l2*sv[2].lit.diffuse
	spec := l0*sv[0].lit.specular + l1*sv[1].lit.specular + l2*sv[2].lit.specular
	c := color.RGBA{
		R: channel(cr*diffuse + spec),
		G: channel(cg*diffuse + spec),
		B: channel(cb*diffuse + spec),
		A: 255,
	}

	if s.blend {
		if ca <= 0 {
			return
		}
		c.A = channel(ca)
		r.fb.Pixels[idx] = over(c, r.fb.Pixels[idx])
		return
	}
	r.fb.Pixels[idx] = c
	r.zbuffer[idx] = z
}

func channel(v float64) uint8 {
	return uint8(clamp01(v)*255 + 0.5)
}
