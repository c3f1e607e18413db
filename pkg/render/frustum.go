package render

import "github.com/taigrr/showcase/pkg/math3d"

// Plane holds the points p with Normal·p + D = 0. Points on the side the
// normal faces have positive distance.
type Plane struct {
	Normal math3d.Vec3
	D      float64
}

func (p *Plane) normalize() {
	if l := p.Normal.Len(); l > 0 {
		p.Normal = p.Normal.Scale(1 / l)
		p.D /= l
	}
}

func (p Plane) Distance(point math3d.Vec3) float64 {
	return p.Normal.Dot(point) + p.D
}

// Frustum is the volume a camera sees, bounded by six planes whose
// normals point inward.
type Frustum struct {
	Planes [6]Plane
}

// FrustumFromMatrix extracts the clip planes of a view-projection matrix.
// Each plane is the w row plus or minus one of the x, y and z rows.
func FrustumFromMatrix(m math3d.Mat4) Frustum {
	row := func(r int) math3d.Vec4 {
		return math3d.V4(m[r], m[r+4], m[r+8], m[r+12])
	}
	w := row(3)
	var f Frustum
	for axis := range 3 {
		a := row(axis)
		for side, sign := range [2]float64{1, -1} {
			f.Planes[axis*2+side] = Plane{
				Normal: math3d.V3(w.X+sign*a.X, w.Y+sign*a.Y, w.Z+sign*a.Z),
				D:      w.W + sign*a.W,
			}
		}
	}
	for i := range f.Planes {
		f.Planes[i].normalize()
	}
	return f
}

// IntersectsBox reports whether box may overlap the frustum. A box is
// rejected only when its corner furthest along some plane normal is still
// outside that plane; large boxes near the frustum edges can pass
// without touching it.
func (f Frustum) IntersectsBox(box math3d.Box3) bool {
	if box.IsEmpty() {
		return false
	}
	for _, p := range f.Planes {
		far := box.Min
		if p.Normal.X >= 0 {
			far.X = box.Max.X
		}
		if p.Normal.Y >= 0 {
			far.Y = box.Max.Y
		}
		if p.Normal.Z >= 0 {
			far.Z = box.Max.Z
		}
		if p.Distance(far) < 0 {
			return false
		}
	}
	return true
}

func (f Frustum) ContainsPoint(p math3d.Vec3) bool {
	for _, pl := range f.Planes {
		if pl.Distance(p) < 0 {
			return false
		}
	}
	return true
}
