package models

import (
	"image/color"
	"testing"
)

func TestMaterialRGBA(t *testing.T) {
	tests := []struct {
		name string
		in   [4]float64
		want color.RGBA
	}{
		{"opaque white", [4]float64{1, 1, 1, 1}, color.RGBA{255, 255, 255, 255}},
		{"rounds to nearest", [4]float64{0.5, 0.2, 0, 1}, color.RGBA{128, 51, 0, 255}},
		{"clamps out of range", [4]float64{-1, 2, 0, 0.5}, color.RGBA{0, 255, 0, 128}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := Material{BaseColor: tc.in}
			if got := m.RGBA(); got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
			if m.Opacity() != tc.in[3] {
				t.Errorf("Expected opacity %v, got %v", tc.in[3], m.Opacity())
			}
		})
	}
}

func TestMaterialIsAValue(t *testing.T) {
	a := DefaultMaterial()
	b := a
	if a != b {
		t.Errorf("Expected copies to compare equal")
	}
	b.BaseColor[0] = 1
	b.Wireframe = true
	if a == b || a.BaseColor[0] == 1 || a.Wireframe {
		t.Errorf("Expected edits to a copy to leave the original alone")
	}
	if a.HasTexture() {
		t.Errorf("Expected default material to be untextured")
	}
}

func TestDefaultMaterial(t *testing.T) {
	m := DefaultMaterial()
	if !m.DoubleSided {
		t.Errorf("Expected default material to be double-sided")
	}
	if m.Metallic != DefaultMetalness || m.Roughness != DefaultRoughness {
		t.Errorf("Expected metalness %v roughness %v, got %v %v", DefaultMetalness, DefaultRoughness, m.Metallic, m.Roughness)
	}
	if got := m.RGBA(); got != (color.RGBA{0x64, 0x74, 0x8b, 0xff}) {
		t.Errorf("Expected #64748b, got %v", got)
	}
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#ff0000")
	if err != nil {
		t.Fatalf("Expected valid color, got %v", err)
	}
	if c != [4]float64{1, 0, 0, 1} {
		t.Errorf("Expected opaque red, got %v", c)
	}
	if _, err := ParseColor("not-a-color"); err == nil {
		t.Errorf("Expected error for invalid hex color")
	}
}

func TestOverridePresets(t *testing.T) {
	white := [4]float64{1, 1, 1, 1}
	for _, p := range Presets {
		p.Color = white
		m := p.Material()
		if !m.DoubleSided {
			t.Errorf("Expected override %s to be double-sided", m.Name)
		}
		if m.BaseColor != white {
			t.Errorf("Expected override %s to carry the chosen color", m.Name)
		}
	}
	wire := Override{Shading: ShadingPhong, Wireframe: true, Color: white}.Material()
	if !wire.Wireframe || wire.Shading != ShadingBasic {
		t.Errorf("Expected wireframe override to be unlit wireframe, got %+v", wire)
	}
	phong := Override{Shading: ShadingPhong, Color: white}.Material()
	if phong.Shininess != 100 {
		t.Errorf("Expected phong shininess 100, got %v", phong.Shininess)
	}
}

func TestFallbackTexture(t *testing.T) {
	tex := FallbackTexture("missing.png")
	if !tex.Fallback {
		t.Errorf("Expected Fallback flag")
	}
	if _, _, _, a := tex.Image.At(0, 0).RGBA(); a != 0 {
		t.Errorf("Expected transparent pixel, got alpha %d", a)
	}
}
