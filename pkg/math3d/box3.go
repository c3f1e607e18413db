package math3d

import "math"

// Box3 is an axis-aligned bounding box. The zero value is not empty;
// start from EmptyBox3 when accumulating points.
type Box3 struct {
	Min, Max Vec3
}

// EmptyBox3 returns a box that contains nothing.
func EmptyBox3() Box3 {
	inf := math.Inf(1)
	return Box3{
		Min: Vec3{inf, inf, inf},
		Max: Vec3{-inf, -inf, -inf},
	}
}

// IsEmpty reports whether the box contains no points.
func (b Box3) IsEmpty() bool {
	return b.Max.X < b.Min.X || b.Max.Y < b.Min.Y || b.Max.Z < b.Min.Z
}

// ExpandByPoint grows the box to include p.
func (b Box3) ExpandByPoint(p Vec3) Box3 {
	return Box3{Min: b.Min.Min(p), Max: b.Max.Max(p)}
}

// Union returns the smallest box containing both boxes.
func (b Box3) Union(o Box3) Box3 {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return Box3{Min: b.Min.Min(o.Min), Max: b.Max.Max(o.Max)}
}

// Size returns the box extents. An empty box has zero size.
func (b Box3) Size() Vec3 {
	if b.IsEmpty() {
		return Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// Center returns the box midpoint. An empty box is centered at the origin.
func (b Box3) Center() Vec3 {
	if b.IsEmpty() {
		return Vec3{}
	}
	return b.Min.Add(b.Max).Scale(0.5)
}

// MaxDim returns the largest of the three extents.
func (b Box3) MaxDim() float64 {
	s := b.Size()
	return math.Max(s.X, math.Max(s.Y, s.Z))
}

// Transform returns the axis-aligned box enclosing the eight transformed
// corners of b.
func (b Box3) Transform(m Mat4) Box3 {
	if b.IsEmpty() {
		return b
	}
	out := EmptyBox3()
	for i := range 8 {
		c := Vec3{b.Min.X, b.Min.Y, b.Min.Z}
		if i&1 != 0 {
			c.X = b.Max.X
		}
		if i&2 != 0 {
			c.Y = b.Max.Y
		}
		if i&4 != 0 {
			c.Z = b.Max.Z
		}
		out = out.ExpandByPoint(m.MulVec3(c))
	}
	return out
}
