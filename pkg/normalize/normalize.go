// Package normalize centers a scene graph on the origin and scales it to a
// fixed size, independent of the units and placement of the source file.
package normalize

import (
	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
)

// DefaultTarget is the edge length of the largest bounding box dimension
// after normalization.
const DefaultTarget = 5.0

// Result describes what Normalize did.
type Result struct {
	Scale  float64     `yaml:"scale"`
	Offset math3d.Vec3 `yaml:"offset"`
	// Bounds is the subtree's box before normalization.
	Bounds math3d.Box3 `yaml:"-"`
}

// Normalize sets root's position and scale so that its subtree is centered
// on the origin and its largest extent equals target. Root's previous
// transform is ignored, so calling it again yields the same result.
// A subtree with no extent keeps scale 1, and one whose bounds are not
// finite is left unscaled at the origin.
func Normalize(root *models.Node, target float64) Result {
	if target <= 0 {
		target = DefaultTarget
	}
	bounds := models.LocalBounds(root)
	if !bounds.Min.IsFinite() || !bounds.Max.IsFinite() {
		root.Position = math3d.Zero3()
		root.Scale = math3d.One3()
		return Result{Scale: 1, Bounds: bounds}
	}
	scale := 1.0
	if d := bounds.MaxDim(); d > 0 {
		scale = target / d
	}
	offset := bounds.Center().Scale(-scale)

	root.Position = offset
	root.Scale = math3d.V3(scale, scale, scale)
	return Result{Scale: scale, Offset: offset, Bounds: bounds}
}
