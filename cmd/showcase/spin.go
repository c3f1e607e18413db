package main

import (
	"math"

	"github.com/charmbracelet/harmonica"

	"github.com/taigrr/showcase/pkg/math3d"
)

// Spin is the free rotation of the displayed model. Angle and Velocity
// hold pitch, yaw and roll in X, Y and Z. Each frame the angle advances
// by the velocity, and the velocity relaxes to zero on a critically
// damped spring.
type Spin struct {
	Angle    math3d.Vec3
	Velocity math3d.Vec3

	accel  math3d.Vec3
	spring harmonica.Spring
}

func NewSpin(fps int) *Spin {
	// Angular frequency 4 settles in well under a second.
	return &Spin{spring: harmonica.NewSpring(harmonica.FPS(max(fps, 1)), 4, 1)}
}

// Step advances one frame.
func (s *Spin) Step() {
	s.Angle = s.Angle.Add(s.Velocity)
	s.Velocity.X, s.accel.X = s.spring.Update(s.Velocity.X, s.accel.X, 0)
	s.Velocity.Y, s.accel.Y = s.spring.Update(s.Velocity.Y, s.accel.Y, 0)
	s.Velocity.Z, s.accel.Z = s.spring.Update(s.Velocity.Z, s.accel.Z, 0)
}

// Push adds an angular impulse in radians per frame.
func (s *Spin) Push(impulse math3d.Vec3) {
	s.Velocity = s.Velocity.Add(impulse)
}

func (s *Spin) Reset() {
	s.Angle, s.Velocity, s.accel = math3d.Vec3{}, math3d.Vec3{}, math3d.Vec3{}
}

// Moving reports whether any axis is still turning noticeably.
func (s *Spin) Moving() bool {
	v := s.Velocity
	return math.Max(math.Abs(v.X), math.Max(math.Abs(v.Y), math.Abs(v.Z))) > 1e-4
}

func (s *Spin) Orientation() math3d.Quat {
	return math3d.QuatFromEuler(s.Angle.X, s.Angle.Y, s.Angle.Z)
}
