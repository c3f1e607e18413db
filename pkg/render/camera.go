package render

import (
	"math"

	"github.com/taigrr/showcase/pkg/math3d"
)

// Camera is a perspective camera aimed at Target. Edit it through the
// setters so the cached view-projection matrix stays current.
type Camera struct {
	Position math3d.Vec3
	Target   math3d.Vec3
	Up       math3d.Vec3

	FOV         float64 // vertical, radians
	AspectRatio float64 // width / height
	Near, Far   float64

	vp    math3d.Mat4
	stale bool
}

// NewCamera returns a camera ten units up the +Z axis looking at the origin.
func NewCamera() *Camera {
	return &Camera{
		Position:    math3d.V3(0, 0, 10),
		Up:          math3d.Up(),
		FOV:         math.Pi / 4,
		AspectRatio: 1,
		Near:        0.1,
		Far:         1000,
		stale:       true,
	}
}

func (c *Camera) SetPosition(pos math3d.Vec3) {
	c.Position, c.stale = pos, true
}

func (c *Camera) LookAt(target math3d.Vec3) {
	c.Target, c.stale = target, true
}

// SetAspectRatio ignores non-positive ratios.
func (c *Camera) SetAspectRatio(aspect float64) {
	if aspect > 0 {
		c.AspectRatio, c.stale = aspect, true
	}
}

func (c *Camera) SetClipPlanes(near, far float64) {
	c.Near, c.Far, c.stale = near, far, true
}

// Forward is the unit direction from Position to Target.
func (c *Camera) Forward() math3d.Vec3 {
	return c.Target.Sub(c.Position).Normalize()
}

// Frame keeps the view direction and backs the camera away from the
// center of box until the sphere around it fits the narrower field of
// view. The clip planes are fitted to that sphere. An empty box is a
// no-op.
func (c *Camera) Frame(box math3d.Box3) {
	if box.IsEmpty() {
		return
	}
	radius := box.Size().Len() / 2
	if radius == 0 {
		radius = 1
	}
	half := c.FOV / 2
	if c.AspectRatio < 1 {
		half = math.Atan(math.Tan(half) * c.AspectRatio)
	}
	dist := radius / math.Sin(half)

	dir := c.Forward()
	if dir.LenSq() == 0 {
		dir = math3d.V3(0, 0, -1)
	}
	center := box.Center()
	c.LookAt(center)
	c.SetPosition(center.Sub(dir.Scale(dist)))
	c.SetClipPlanes(math.Max(dist-2*radius, dist/100), dist+2*radius)
}

// ViewProjectionMatrix returns projection * view, rebuilding it only
// after the camera changed.
func (c *Camera) ViewProjectionMatrix() math3d.Mat4 {
	if c.stale {
		view := math3d.LookAt(c.Position, c.Target, c.Up)
		proj := math3d.Perspective(c.FOV, c.AspectRatio, c.Near, c.Far)
		c.vp = proj.Mul(view)
		c.stale = false
	}
	return c.vp
}

func (c *Camera) Frustum() Frustum {
	return FrustumFromMatrix(c.ViewProjectionMatrix())
}

// WorldToScreen projects p into a width x height viewport with y growing
// downward. ok is false when p is behind the camera or outside the clip
// volume.
func (c *Camera) WorldToScreen(p math3d.Vec3, width, height int) (x, y, depth float64, ok bool) {
	clip := c.ViewProjectionMatrix().MulVec4(math3d.V4FromV3(p, 1))
	if clip.W <= 0 {
		return 0, 0, 0, false
	}
	ndc := clip.PerspectiveDivide()
	for _, v := range [3]float64{ndc.X, ndc.Y, ndc.Z} {
		if v < -1 || v > 1 {
			return 0, 0, 0, false
		}
	}
	x = (ndc.X + 1) / 2 * float64(width)
	y = (1 - ndc.Y) / 2 * float64(height)
	return x, y, ndc.Z, true
}
