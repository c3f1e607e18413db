package models

import (
	"fmt"
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Shading selects the lighting model a material is drawn with.
type Shading int

const (
	ShadingStandard Shading = iota // metal/roughness
	ShadingBasic                   // unlit
	ShadingPhong
	ShadingLambert
)

func (s Shading) String() string {
	switch s {
	case ShadingBasic:
		return "basic"
	case ShadingPhong:
		return "phong"
	case ShadingLambert:
		return "lambert"
	default:
		return "standard"
	}
}

// Material describes how a surface looks. It is a plain value: copying it
// yields an independent material, and two materials are equal when all
// fields are equal. Texture is shared and never mutated after load.
type Material struct {
	Name        string
	Shading     Shading
	BaseColor   [4]float64 // RGBA in 0-1 range
	Metallic    float64    // 0 = dielectric, 1 = metal
	Roughness   float64    // 0 = smooth, 1 = rough
	Shininess   float64    // phong exponent
	DoubleSided bool
	Transparent bool
	Wireframe   bool
	Texture     *Texture
}

// HasTexture reports whether the material samples a texture.
func (m Material) HasTexture() bool {
	return m.Texture != nil
}

// Opacity returns the alpha channel of the base color.
func (m Material) Opacity() float64 {
	return m.BaseColor[3]
}

// RGBA returns the base color as 8-bit RGBA.
func (m Material) RGBA() color.RGBA {
	return color.RGBA{
		R: unit8(m.BaseColor[0]),
		G: unit8(m.BaseColor[1]),
		B: unit8(m.BaseColor[2]),
		A: unit8(m.BaseColor[3]),
	}
}

func unit8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

// Texture is a decoded image referenced by materials.
type Texture struct {
	Name  string
	MIME  string
	Image image.Image
	// Fallback marks the transparent stand-in used when the real image
	// could not be resolved or decoded.
	Fallback bool
}

// FallbackTexture returns a fresh 1x1 fully transparent texture.
func FallbackTexture(name string) *Texture {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	return &Texture{Name: name, MIME: "image/png", Image: img, Fallback: true}
}

// ParseColor parses a "#rrggbb" hex string into opaque RGBA components.
func ParseColor(hex string) ([4]float64, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return [4]float64{}, fmt.Errorf("parse color %q: %w", hex, err)
	}
	return [4]float64{c.R, c.G, c.B, 1}, nil
}

func mustColor(hex string) [4]float64 {
	c, err := ParseColor(hex)
	if err != nil {
		panic(err)
	}
	return c
}

// Default appearance values.
const (
	DefaultColor     = "#64748b"
	DefaultMetalness = 0.1
	DefaultRoughness = 0.6
)

// DefaultMaterial returns the neutral double-sided material assigned to
// meshes that arrive without a usable one.
func DefaultMaterial() Material {
	return Material{
		Name:        "default",
		Shading:     ShadingStandard,
		BaseColor:   mustColor(DefaultColor),
		Metallic:    DefaultMetalness,
		Roughness:   DefaultRoughness,
		DoubleSided: true,
	}
}

// Override describes a whole-model material chosen by the user.
type Override struct {
	Shading   Shading
	Wireframe bool
	Color     [4]float64
	Metalness float64
	Roughness float64
}

// Material builds the concrete material for an override.
func (o Override) Material() Material {
	m := Material{
		Name:        "override-" + o.Shading.String(),
		Shading:     o.Shading,
		BaseColor:   o.Color,
		DoubleSided: true,
		Wireframe:   o.Wireframe,
	}
	switch o.Shading {
	case ShadingStandard:
		m.Metallic = o.Metalness
		m.Roughness = o.Roughness
	case ShadingPhong:
		m.Shininess = 100
	}
	if o.Wireframe {
		m.Name = "override-wireframe"
		m.Shading = ShadingBasic
	}
	return m
}

// Presets lists the override styles in cycling order.
var Presets = []Override{
	{Shading: ShadingStandard, Metalness: DefaultMetalness, Roughness: DefaultRoughness},
	{Shading: ShadingBasic},
	{Shading: ShadingPhong},
	{Shading: ShadingLambert},
	{Shading: ShadingBasic, Wireframe: true},
}
