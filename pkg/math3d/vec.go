// Package math3d holds the vector, matrix, quaternion and box types shared
// by the loaders, the scene graph and the renderer.
//
// Matrices are column-major and right-handed; cameras look down -Z.
package math3d

import "math"

// Vec2 is a texture coordinate or any other pair.
type Vec2 struct {
	X, Y float64
}

func V2(x, y float64) Vec2 { return Vec2{X: x, Y: y} }

func (a Vec2) Add(b Vec2) Vec2 { return Vec2{X: a.X + b.X, Y: a.Y + b.Y} }

func (a Vec2) Sub(b Vec2) Vec2 { return Vec2{X: a.X - b.X, Y: a.Y - b.Y} }

func (a Vec2) Scale(s float64) Vec2 { return Vec2{X: a.X * s, Y: a.Y * s} }

func (a Vec2) Dot(b Vec2) float64 { return a.X*b.X + a.Y*b.Y }

func (a Vec2) Len() float64 { return math.Hypot(a.X, a.Y) }

// Vec3 is a point, direction or per-axis scale.
type Vec3 struct {
	X, Y, Z float64
}

func V3(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func Zero3() Vec3 { return Vec3{} }

// One3 is the identity scale.
func One3() Vec3 { return Vec3{X: 1, Y: 1, Z: 1} }

// Up is +Y, the up axis of every normalized scene.
func Up() Vec3 { return Vec3{Y: 1} }

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z} }

func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z} }

// Mul multiplies component by component.
func (a Vec3) Mul(b Vec3) Vec3 { return Vec3{X: a.X * b.X, Y: a.Y * b.Y, Z: a.Z * b.Z} }

func (a Vec3) Scale(s float64) Vec3 { return Vec3{X: a.X * s, Y: a.Y * s, Z: a.Z * s} }

func (a Vec3) Negate() Vec3 { return Vec3{X: -a.X, Y: -a.Y, Z: -a.Z} }

func (a Vec3) Dot(b Vec3) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

func (a Vec3) LenSq() float64 { return a.Dot(a) }

func (a Vec3) Len() float64 { return math.Sqrt(a.LenSq()) }

func (a Vec3) Distance(b Vec3) float64 { return a.Sub(b).Len() }

// Normalize returns a unit vector, or the zero vector for zero input.
func (a Vec3) Normalize() Vec3 {
	l := a.Len()
	if l == 0 {
		return Vec3{}
	}
	return a.Scale(1 / l)
}

func (a Vec3) Min(b Vec3) Vec3 {
	return Vec3{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)}
}

func (a Vec3) Max(b Vec3) Vec3 {
	return Vec3{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)}
}

// IsFinite reports whether no component is NaN or infinite.
func (a Vec3) IsFinite() bool {
	for _, c := range [3]float64{a.X, a.Y, a.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Vec4 is a homogeneous point in clip space.
type Vec4 struct {
	X, Y, Z, W float64
}

func V4(x, y, z, w float64) Vec4 { return Vec4{X: x, Y: y, Z: z, W: w} }

// V4FromV3 extends v with w: 1 for points, 0 for directions.
func V4FromV3(v Vec3, w float64) Vec4 { return Vec4{X: v.X, Y: v.Y, Z: v.Z, W: w} }

// PerspectiveDivide maps a clip-space point to normalized device
// coordinates. A zero W leaves the point as is.
func (v Vec4) PerspectiveDivide() Vec3 {
	if v.W == 0 {
		return Vec3{X: v.X, Y: v.Y, Z: v.Z}
	}
	inv := 1 / v.W
	return Vec3{X: v.X * inv, Y: v.Y * inv, Z: v.Z * inv}
}
