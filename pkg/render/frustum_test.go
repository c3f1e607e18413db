package render

import (
	"math"
	"testing"

	"github.com/taigrr/showcase/pkg/math3d"
)

func TestPlaneDistance(t *testing.T) {
	plane := Plane{Normal: math3d.V3(0, 0, 1), D: 0}

	tests := []struct {
		name     string
		point    math3d.Vec3
		expected float64
	}{
		{"origin", math3d.V3(0, 0, 0), 0},
		{"in front", math3d.V3(0, 0, 5), 5},
		{"behind", math3d.V3(0, 0, -3), -3},
		{"offset XY", math3d.V3(10, -5, 2), 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if d := plane.Distance(tc.point); math.Abs(d-tc.expected) > 1e-9 {
				t.Errorf("got %v, want %v", d, tc.expected)
			}
		})
	}
}

func TestPlaneNormalize(t *testing.T) {
	plane := Plane{Normal: math3d.V3(0, 3, 4), D: 10}
	plane.normalize()

	if l := plane.Normal.Len(); math.Abs(l-1) > 1e-9 {
		t.Errorf("normal length = %v, want 1", l)
	}
	if math.Abs(plane.D-2) > 1e-9 {
		t.Errorf("D = %v, want 2", plane.D)
	}

	zero := Plane{D: 3}
	zero.normalize()
	if zero.D != 3 {
		t.Errorf("degenerate plane changed: %+v", zero)
	}
}

func testCamera() *Camera {
	cam := NewCamera()
	cam.SetPosition(math3d.V3(0, 0, 10))
	cam.LookAt(math3d.Zero3())
	cam.SetClipPlanes(0.1, 100)
	return cam
}

func TestFrustumContainsPoint(t *testing.T) {
	f := testCamera().Frustum()

	tests := []struct {
		name  string
		point math3d.Vec3
		want  bool
	}{
		{"origin", math3d.V3(0, 0, 0), true},
		{"behind camera", math3d.V3(0, 0, 20), false},
		{"beyond far plane", math3d.V3(0, 0, -200), false},
		{"far left", math3d.V3(-100, 0, 0), false},
		{"far above", math3d.V3(0, 100, 0), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.ContainsPoint(tc.point); got != tc.want {
				t.Errorf("ContainsPoint(%v) = %v, want %v", tc.point, got, tc.want)
			}
		})
	}
}

func TestFrustumIntersectsBox(t *testing.T) {
	f := testCamera().Frustum()
	box := func(min, max math3d.Vec3) math3d.Box3 { return math3d.Box3{Min: min, Max: max} }

	tests := []struct {
		name string
		box  math3d.Box3
		want bool
	}{
		{"at origin", box(math3d.V3(-1, -1, -1), math3d.V3(1, 1, 1)), true},
		{"behind camera", box(math3d.V3(-1, -1, 15), math3d.V3(1, 1, 17)), false},
		{"straddles left edge", box(math3d.V3(-50, -1, -1), math3d.V3(0, 1, 1)), true},
		{"far right", box(math3d.V3(100, -1, -1), math3d.V3(102, 1, 1)), false},
		{"encloses camera", box(math3d.V3(-500, -500, -500), math3d.V3(500, 500, 500)), true},
		{"empty", math3d.EmptyBox3(), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.IntersectsBox(tc.box); got != tc.want {
				t.Errorf("IntersectsBox = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFrustumFollowsCamera(t *testing.T) {
	cam := testCamera()
	cam.SetPosition(math3d.V3(10, 0, 0))
	f := cam.Frustum()

	if !f.ContainsPoint(math3d.V3(0, 0, 0)) {
		t.Error("Expected origin in view after moving camera to +X")
	}
	if f.ContainsPoint(math3d.V3(20, 0, 0)) {
		t.Error("Expected point behind the moved camera to be outside")
	}
}

func BenchmarkFrustumIntersectsBox(b *testing.B) {
	f := testCamera().Frustum()
	box := math3d.Box3{Min: math3d.V3(-1, -1, -1), Max: math3d.V3(1, 1, 1)}
	for b.Loop() {
		_ = f.IntersectsBox(box)
	}
}
