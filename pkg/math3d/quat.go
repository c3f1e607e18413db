package math3d

import "math"

// Quat is a rotation quaternion. The zero value is not a valid rotation;
// use IdentityQuat.
type Quat struct {
	X, Y, Z, W float64
}

// IdentityQuat returns the identity rotation.
func IdentityQuat() Quat {
	return Quat{W: 1}
}

// QuatFromAxisAngle returns a rotation of angle radians around axis.
func QuatFromAxisAngle(axis Vec3, angle float64) Quat {
	a := axis.Normalize()
	s := math.Sin(angle / 2)
	return Quat{a.X * s, a.Y * s, a.Z * s, math.Cos(angle / 2)}
}

// QuatFromEuler returns the rotation for intrinsic X, then Y, then Z
// angles in radians.
func QuatFromEuler(x, y, z float64) Quat {
	c1, s1 := math.Cos(x/2), math.Sin(x/2)
	c2, s2 := math.Cos(y/2), math.Sin(y/2)
	c3, s3 := math.Cos(z/2), math.Sin(z/2)
	return Quat{
		X: s1*c2*c3 + c1*s2*s3,
		Y: c1*s2*c3 - s1*c2*s3,
		Z: c1*c2*s3 + s1*s2*c3,
		W: c1*c2*c3 - s1*s2*s3,
	}
}

// Mul returns the Hamilton product q * r (r applied first).
func (q Quat) Mul(r Quat) Quat {
	return Quat{
		X: q.X*r.W + q.W*r.X + q.Y*r.Z - q.Z*r.Y,
		Y: q.Y*r.W + q.W*r.Y + q.Z*r.X - q.X*r.Z,
		Z: q.Z*r.W + q.W*r.Z + q.X*r.Y - q.Y*r.X,
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
	}
}

// Len returns the quaternion norm.
func (q Quat) Len() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Normalize returns a unit quaternion. A zero quaternion becomes identity.
func (q Quat) Normalize() Quat {
	l := q.Len()
	if l == 0 {
		return IdentityQuat()
	}
	return Quat{q.X / l, q.Y / l, q.Z / l, q.W / l}
}

// Mat4 returns the rotation matrix for q.
func (q Quat) Mat4() Mat4 {
	x2, y2, z2 := q.X+q.X, q.Y+q.Y, q.Z+q.Z
	xx, xy, xz := q.X*x2, q.X*y2, q.X*z2
	yy, yz, zz := q.Y*y2, q.Y*z2, q.Z*z2
	wx, wy, wz := q.W*x2, q.W*y2, q.W*z2

	return Mat4{
		1 - (yy + zz), xy + wz, xz - wy, 0,
		xy - wz, 1 - (xx + zz), yz + wx, 0,
		xz + wy, yz - wx, 1 - (xx + yy), 0,
		0, 0, 0, 1,
	}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	return q.Mat4().MulVec3Dir(v)
}

// QuatFromMat4 extracts the rotation from a pure rotation matrix.
func QuatFromMat4(m Mat4) Quat {
	m11, m12, m13 := m[0], m[4], m[8]
	m21, m22, m23 := m[1], m[5], m[9]
	m31, m32, m33 := m[2], m[6], m[10]

	trace := m11 + m22 + m33
	var q Quat
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = Quat{(m32 - m23) * s, (m13 - m31) * s, (m21 - m12) * s, 0.25 / s}
	case m11 > m22 && m11 > m33:
		s := 2 * math.Sqrt(1+m11-m22-m33)
		q = Quat{0.25 * s, (m12 + m21) / s, (m13 + m31) / s, (m32 - m23) / s}
	case m22 > m33:
		s := 2 * math.Sqrt(1+m22-m11-m33)
		q = Quat{(m12 + m21) / s, 0.25 * s, (m23 + m32) / s, (m13 - m31) / s}
	default:
		s := 2 * math.Sqrt(1+m33-m11-m22)
		q = Quat{(m13 + m31) / s, (m23 + m32) / s, 0.25 * s, (m21 - m12) / s}
	}
	return q.Normalize()
}
