package main

import (
	"context"
	"io"
	"math"
	"testing"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taigrr/showcase/internal/fixture"
	"github.com/taigrr/showcase/pkg/config"
	"github.com/taigrr/showcase/pkg/ingest"
	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
	"github.com/taigrr/showcase/pkg/render"
)

func newTestViewer(t *testing.T) *viewer {
	t.Helper()
	cfg := config.Default()
	a := &app{cfg: cfg, logger: log.New(io.Discard)}
	sess := a.newSession()
	t.Cleanup(sess.Close)

	v := &viewer{
		sess:     sess,
		renderer: render.NewRenderer(40, 40),
		spin:     NewSpin(60),
		hud:      NewHUD("tri.glb"),
		loading:  models.LoadingPlaceholder("glb"),
		preset:   -1,
		base:     cfg.DefaultMaterial(),
		zoom:     1,
		needFit:  true,
		width:    40,
		height:   20,
	}
	_, err := sess.Load(context.Background(), ingest.NewSourceFile("tri.glb", fixture.TriangleGLB()), ingest.Callbacks{})
	require.NoError(t, err)
	return v
}

func key(s string) uv.KeyPressEvent {
	r := []rune(s)[0]
	return uv.KeyPressEvent{Code: r, Text: s}
}

func TestViewerCyclesPresets(t *testing.T) {
	v := newTestViewer(t)

	for i, want := range models.Presets {
		assert.False(t, v.handle(key("c")))
		got, ok := v.sess.Override()
		require.True(t, ok)
		assert.Equal(t, want.Wireframe, got.Wireframe, "preset %d", i)
		assert.Equal(t, want.Shading, got.Shading, "preset %d", i)
	}
	assert.False(t, v.handle(key("c")))
	assert.Equal(t, 0, v.preset, "cycling wraps around")
	assert.Equal(t, "standard", v.status())

	v.handle(key("m"))
	_, ok := v.sess.Override()
	assert.False(t, ok)
	assert.Equal(t, "original", v.status())
}

func TestViewerPresetUsesConfiguredMaterial(t *testing.T) {
	v := newTestViewer(t)
	v.handle(key("c"))

	got, ok := v.sess.Override()
	require.True(t, ok)
	assert.Equal(t, v.base.BaseColor, got.BaseColor)
	assert.Equal(t, v.base.Metallic, got.Metallic)
	assert.Equal(t, v.base.Roughness, got.Roughness)
}

func TestViewerToggleWireframe(t *testing.T) {
	v := newTestViewer(t)

	v.handle(key("x"))
	got, ok := v.sess.Override()
	require.True(t, ok)
	assert.True(t, got.Wireframe)
	assert.Equal(t, "wireframe", v.status())

	v.handle(key("x"))
	_, ok = v.sess.Override()
	assert.False(t, ok)
}

func TestViewerQuit(t *testing.T) {
	v := newTestViewer(t)
	assert.True(t, v.handle(uv.KeyPressEvent{Code: uv.KeyEscape}))
	assert.True(t, v.handle(uv.KeyPressEvent{Code: 'c', Mod: uv.ModCtrl}))
}

func TestViewerLightMode(t *testing.T) {
	v := newTestViewer(t)
	before := v.renderer.Light.Direction

	v.handle(key("l"))
	require.True(t, v.lightMode)

	// Escape leaves light mode without quitting or moving the light.
	assert.False(t, v.handle(uv.KeyPressEvent{Code: uv.KeyEscape}))
	assert.False(t, v.lightMode)
	assert.Equal(t, before, v.renderer.Light.Direction)

	v.handle(key("l"))
	v.handle(uv.MouseMotionEvent{X: 20, Y: 10})
	v.handle(uv.MouseClickEvent{X: 20, Y: 10, Button: uv.MouseLeft})
	assert.False(t, v.lightMode)
	assert.InDelta(t, 1, v.renderer.Light.Direction.Z, 1e-9)
}

func TestViewerDragSpins(t *testing.T) {
	v := newTestViewer(t)

	v.handle(uv.MouseClickEvent{X: 5, Y: 5, Button: uv.MouseLeft})
	v.handle(uv.MouseMotionEvent{X: 15, Y: 5, Button: uv.MouseLeft})
	v.handle(uv.MouseReleaseEvent{X: 15, Y: 5, Button: uv.MouseLeft})
	assert.InDelta(t, 0.3, v.spin.Velocity.Y, 1e-9)

	// Motion without a held button does nothing.
	v.handle(uv.MouseMotionEvent{X: 30, Y: 5})
	assert.InDelta(t, 0.3, v.spin.Velocity.Y, 1e-9)
}

func TestViewerZoomClamps(t *testing.T) {
	v := newTestViewer(t)
	v.scene()

	for range 100 {
		v.handle(uv.MouseWheelEvent{Button: uv.MouseWheelUp})
	}
	assert.InDelta(t, minZoom, v.zoom, 1e-9)
	cam := v.renderer.Camera
	assert.InDelta(t, v.dist*minZoom, cam.Position.Distance(cam.Target), 1e-6)

	for range 100 {
		v.handle(key("-"))
	}
	assert.InDelta(t, maxZoom, v.zoom, 1e-9)

	v.handle(key("r"))
	assert.Equal(t, 1.0, v.zoom)
}

func TestViewerResize(t *testing.T) {
	v := newTestViewer(t)
	v.handle(uv.WindowSizeEvent{Width: 100, Height: 30})
	assert.True(t, v.resized)
	assert.Equal(t, 100, v.width)
	assert.Equal(t, 30, v.height)
}

func TestViewerScene(t *testing.T) {
	v := newTestViewer(t)
	m := v.sess.Current()
	require.NotNil(t, m)

	v.spin.Angle.Y = math.Pi / 2
	root := v.scene()
	assert.Same(t, m.Wrapper, root)
	assert.False(t, v.needFit)
	assert.Same(t, m, v.attached)
	// The spin was reset when the model was first attached.
	assert.Equal(t, math3d.QuatFromEuler(0, 0, 0), root.Rotation)

	v.spin.Angle.Y = math.Pi / 6
	v.scene()
	assert.Equal(t, math3d.QuatFromEuler(0, math.Pi/6, 0), root.Rotation)

	fb := v.renderer.Render(root)
	assert.Positive(t, v.renderer.Stats.Triangles)
	assert.Equal(t, 40, fb.Width)
}

func TestScreenToLightDir(t *testing.T) {
	tests := []struct {
		name string
		x, y int
		want math3d.Vec3
	}{
		{"center faces viewer", 50, 25, math3d.V3(0, 0, 1)},
		{"right edge", 100, 25, math3d.V3(1, 0, 0)},
		{"top edge", 50, 0, math3d.V3(0, 1, 0)},
		{"corner clamps to rim", 0, 50, math3d.V3(-1, -1, 0).Normalize()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := screenToLightDir(tc.x, tc.y, 100, 50)
			assert.InDelta(t, tc.want.X, got.X, 1e-9)
			assert.InDelta(t, tc.want.Y, got.Y, 1e-9)
			assert.InDelta(t, tc.want.Z, got.Z, 1e-9)
		})
	}

	assert.Equal(t, render.DefaultLight().Direction, screenToLightDir(1, 1, 0, 0))
}

func TestHUDLines(t *testing.T) {
	h := NewHUD("part.stl")
	h.SetProgress(40, "Parsing")

	top, bottom := h.Lines(120, "original", false)
	assert.Contains(t, top, "part.stl")
	assert.Contains(t, top, "40%")
	assert.Contains(t, bottom, "material: original")

	h.SetError("File is too large")
	_, bottom = h.Lines(120, "original", false)
	assert.Contains(t, bottom, "File is too large")

	h.Toggle()
	top, bottom = h.Lines(120, "original", false)
	assert.Empty(t, top)
	assert.Empty(t, bottom)

	// Light mode shows even with the HUD hidden.
	_, bottom = h.Lines(120, "original", true)
	assert.Contains(t, bottom, "LIGHT MODE")
}

func TestSpread(t *testing.T) {
	assert.Equal(t, "a  b  c", spread(7, "a", "b", "c"))
	assert.Equal(t, "ab", spread(2, "a", "middle", "b"))
}
