package math3d

import "math"

// Mat4 is a 4x4 matrix stored column by column, so m[12], m[13] and
// m[14] hold the translation of an affine transform.
type Mat4 [16]float64

func Identity() Mat4 {
	return Mat4{0: 1, 5: 1, 10: 1, 15: 1}
}

func Translate(v Vec3) Mat4 {
	m := Identity()
	m[12], m[13], m[14] = v.X, v.Y, v.Z
	return m
}

func Scale(v Vec3) Mat4 {
	return Mat4{0: v.X, 5: v.Y, 10: v.Z, 15: 1}
}

// FromRowMajor reads sixteen values listed row by row, the order used by
// COLLADA <matrix> elements.
func FromRowMajor(v [16]float64) Mat4 {
	var m Mat4
	for i, x := range v {
		row, col := i/4, i%4
		m[col*4+row] = x
	}
	return m
}

// LookAt builds a view matrix for an eye at eye facing target.
func LookAt(eye, target, up Vec3) Mat4 {
	fwd := target.Sub(eye).Normalize()
	right := fwd.Cross(up).Normalize()
	camUp := right.Cross(fwd)
	return Mat4{
		right.X, camUp.X, -fwd.X, 0,
		right.Y, camUp.Y, -fwd.Y, 0,
		right.Z, camUp.Z, -fwd.Z, 0,
		-right.Dot(eye), -camUp.Dot(eye), fwd.Dot(eye), 1,
	}
}

// Perspective maps view space into clip space with a vertical field of
// view fovy in radians. Depth lands in [-1, 1] between near and far.
func Perspective(fovy, aspect, near, far float64) Mat4 {
	f := 1 / math.Tan(fovy/2)
	depth := near - far
	return Mat4{
		0:  f / aspect,
		5:  f,
		10: (far + near) / depth,
		11: -1,
		14: 2 * far * near / depth,
	}
}

// Mul returns m*n, which applies n first.
func (m Mat4) Mul(n Mat4) Mat4 {
	var out Mat4
	for c := 0; c < 16; c += 4 {
		for r := range 4 {
			out[c+r] = m[r]*n[c] + m[4+r]*n[c+1] + m[8+r]*n[c+2] + m[12+r]*n[c+3]
		}
	}
	return out
}

// MulVec3 transforms a point, dividing by w when the matrix is projective.
func (m Mat4) MulVec3(v Vec3) Vec3 {
	p := m.MulVec4(V4FromV3(v, 1))
	if p.W == 0 || p.W == 1 {
		return Vec3{X: p.X, Y: p.Y, Z: p.Z}
	}
	return p.PerspectiveDivide()
}

// MulVec3Dir transforms a direction, ignoring translation.
func (m Mat4) MulVec3Dir(v Vec3) Vec3 {
	return Vec3{
		X: m[0]*v.X + m[4]*v.Y + m[8]*v.Z,
		Y: m[1]*v.X + m[5]*v.Y + m[9]*v.Z,
		Z: m[2]*v.X + m[6]*v.Y + m[10]*v.Z,
	}
}

func (m Mat4) MulVec4(v Vec4) Vec4 {
	return Vec4{
		X: m[0]*v.X + m[4]*v.Y + m[8]*v.Z + m[12]*v.W,
		Y: m[1]*v.X + m[5]*v.Y + m[9]*v.Z + m[13]*v.W,
		Z: m[2]*v.X + m[6]*v.Y + m[10]*v.Z + m[14]*v.W,
		W: m[3]*v.X + m[7]*v.Y + m[11]*v.Z + m[15]*v.W,
	}
}

func (m Mat4) Transpose() Mat4 {
	var t Mat4
	for c := range 4 {
		for r := range 4 {
			t[r*4+c] = m[c*4+r]
		}
	}
	return t
}

// minors holds the 2x2 determinants of the top two and bottom two rows,
// shared by Determinant and Inverse.
type minors struct {
	s0, s1, s2, s3, s4, s5 float64
	c0, c1, c2, c3, c4, c5 float64
}

// at reads row r, column c.
func (m Mat4) at(r, c int) float64 { return m[c*4+r] }

func (m Mat4) minors() minors {
	a := func(r, c int) float64 { return m.at(r, c) }
	return minors{
		s0: a(0, 0)*a(1, 1) - a(1, 0)*a(0, 1),
		s1: a(0, 0)*a(1, 2) - a(1, 0)*a(0, 2),
		s2: a(0, 0)*a(1, 3) - a(1, 0)*a(0, 3),
		s3: a(0, 1)*a(1, 2) - a(1, 1)*a(0, 2),
		s4: a(0, 1)*a(1, 3) - a(1, 1)*a(0, 3),
		s5: a(0, 2)*a(1, 3) - a(1, 2)*a(0, 3),
		c5: a(2, 2)*a(3, 3) - a(3, 2)*a(2, 3),
		c4: a(2, 1)*a(3, 3) - a(3, 1)*a(2, 3),
		c3: a(2, 1)*a(3, 2) - a(3, 1)*a(2, 2),
		c2: a(2, 0)*a(3, 3) - a(3, 0)*a(2, 3),
		c1: a(2, 0)*a(3, 2) - a(3, 0)*a(2, 2),
		c0: a(2, 0)*a(3, 1) - a(3, 0)*a(2, 1),
	}
}

func (k minors) det() float64 {
	return k.s0*k.c5 - k.s1*k.c4 + k.s2*k.c3 + k.s3*k.c2 - k.s4*k.c1 + k.s5*k.c0
}

func (m Mat4) Determinant() float64 { return m.minors().det() }

// Inverse returns the inverse of m, or the identity when m is singular.
func (m Mat4) Inverse() Mat4 {
	k := m.minors()
	det := k.det()
	if det == 0 {
		return Identity()
	}
	a := func(r, c int) float64 { return m.at(r, c) }
	rows := [4][4]float64{
		{
			a(1, 1)*k.c5 - a(1, 2)*k.c4 + a(1, 3)*k.c3,
			-a(0, 1)*k.c5 + a(0, 2)*k.c4 - a(0, 3)*k.c3,
			a(3, 1)*k.s5 - a(3, 2)*k.s4 + a(3, 3)*k.s3,
			-a(2, 1)*k.s5 + a(2, 2)*k.s4 - a(2, 3)*k.s3,
		},
		{
			-a(1, 0)*k.c5 + a(1, 2)*k.c2 - a(1, 3)*k.c1,
			a(0, 0)*k.c5 - a(0, 2)*k.c2 + a(0, 3)*k.c1,
			-a(3, 0)*k.s5 + a(3, 2)*k.s2 - a(3, 3)*k.s1,
			a(2, 0)*k.s5 - a(2, 2)*k.s2 + a(2, 3)*k.s1,
		},
		{
			a(1, 0)*k.c4 - a(1, 1)*k.c2 + a(1, 3)*k.c0,
			-a(0, 0)*k.c4 + a(0, 1)*k.c2 - a(0, 3)*k.c0,
			a(3, 0)*k.s4 - a(3, 1)*k.s2 + a(3, 3)*k.s0,
			-a(2, 0)*k.s4 + a(2, 1)*k.s2 - a(2, 3)*k.s0,
		},
		{
			-a(1, 0)*k.c3 + a(1, 1)*k.c1 - a(1, 2)*k.c0,
			a(0, 0)*k.c3 - a(0, 1)*k.c1 + a(0, 2)*k.c0,
			-a(3, 0)*k.s3 + a(3, 1)*k.s1 - a(3, 2)*k.s0,
			a(2, 0)*k.s3 - a(2, 1)*k.s1 + a(2, 2)*k.s0,
		},
	}
	var inv Mat4
	for r, row := range rows {
		for c, x := range row {
			inv[c*4+r] = x / det
		}
	}
	return inv
}

func (m Mat4) Translation() Vec3 { return Vec3{X: m[12], Y: m[13], Z: m[14]} }

// Compose builds the transform that scales, then rotates, then translates.
func Compose(position Vec3, rotation Quat, scale Vec3) Mat4 {
	m := rotation.Mat4()
	for i, s := range [3]float64{scale.X, scale.Y, scale.Z} {
		for r := range 3 {
			m[i*4+r] *= s
		}
	}
	m[12], m[13], m[14] = position.X, position.Y, position.Z
	return m
}

// Decompose splits an affine transform back into the parts Compose takes.
// A mirrored basis shows up as a negative X scale.
func (m Mat4) Decompose() (position Vec3, rotation Quat, scale Vec3) {
	var s [3]float64
	basis := m
	for i := range 3 {
		s[i] = Vec3{X: m[i*4], Y: m[i*4+1], Z: m[i*4+2]}.Len()
	}
	if m.Determinant() < 0 {
		s[0] = -s[0]
	}
	for i := range 3 {
		if s[i] == 0 {
			continue
		}
		for r := range 3 {
			basis[i*4+r] /= s[i]
		}
	}
	basis[12], basis[13], basis[14] = 0, 0, 0
	return m.Translation(), QuatFromMat4(basis), Vec3{X: s[0], Y: s[1], Z: s[2]}
}
