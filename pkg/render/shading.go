package render

import (
	"math"

	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
)

// Light is a single directional light plus a constant ambient term.
type Light struct {
	// Direction points from the surface toward the light.
	Direction math3d.Vec3
	Ambient   float64
}

// DefaultLight shines from the upper front right.
func DefaultLight() Light {
	return Light{Direction: math3d.V3(0.5, 1, 0.8).Normalize(), Ambient: 0.3}
}

// lighting holds per-vertex light terms. Diffuse scales the surface
// color and specular is added as white.
type lighting struct {
	diffuse  float64
	specular float64
}

// illuminate evaluates the material's shading model at a surface point
// with unit normal n seen from unit direction toEye.
func illuminate(m *models.Material, l Light, n, toEye math3d.Vec3) lighting {
	if m.Shading == models.ShadingBasic || m.Wireframe {
		return lighting{diffuse: 1}
	}
	ndl := math.Max(0, n.Dot(l.Direction))
	lit := lighting{diffuse: l.Ambient + (1-l.Ambient)*ndl}

	switch m.Shading {
	case models.ShadingPhong:
		if ndl > 0 {
			shininess := m.Shininess
			if shininess <= 0 {
				shininess = 30
			}
			r := n.Scale(2 * ndl).Sub(l.Direction)
			lit.specular = 0.5 * math.Pow(math.Max(0, r.Dot(toEye)), shininess)
		}
	case models.ShadingStandard:
		// Metals lose diffuse response; smooth surfaces gain a tighter
		// Blinn-Phong highlight.
		lit.diffuse = l.Ambient + (1-l.Ambient)*ndl*(1-0.5*m.Metallic)
		if ndl > 0 {
			r := clamp01(m.Roughness)
			exp := math.Min(256, math.Max(1, 2/(r*r*r*r+1e-4)-2))
			h := l.Direction.Add(toEye).Normalize()
			strength := (0.04 + 0.96*m.Metallic) * (1 - r)
			lit.specular = strength * math.Pow(math.Max(0, n.Dot(h)), exp)
		}
	}
	return lit
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
