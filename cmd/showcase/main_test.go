package main

import (
	"bytes"
	"context"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/taigrr/showcase/internal/fixture"
)

// run executes the root command in an empty working directory and
// returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestInspectYAML(t *testing.T) {
	stl := writeFile(t, "part.stl", fixture.BinarySTL())
	glb := writeFile(t, "tri.glb", fixture.TriangleGLB())
	bad := writeFile(t, "broken.obj", []byte("v 0 0\nf 1 2 3\n"))

	out, err := run(t, "inspect", "-o", "yaml", stl, glb, bad)
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &raw))
	require.Len(t, raw, 3)

	assert.Equal(t, "stl", raw[0]["format"])
	assert.Equal(t, "glb", raw[1]["format"])
	assert.NotEmpty(t, raw[1]["digest"])

	stats, ok := raw[1]["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, stats["triangles"])

	norm, ok := raw[1]["normalization"].(map[string]any)
	require.True(t, ok)
	assert.NotZero(t, norm["scale"])
}

func TestInspectText(t *testing.T) {
	path := writeFile(t, "tri.glb", fixture.TriangleGLB())

	out, err := run(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "tri.glb")
	assert.Contains(t, out, "triangles")
	assert.Contains(t, out, "glb")
}

func TestInspectReportsFailures(t *testing.T) {
	missing := writeFile(t, "scene.gltf", fixture.TriangleGLTF(fixture.GLTFOptions{BufferURI: "scene.bin"}))

	out, err := run(t, "inspect", "-o", "yaml", missing)
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &raw))
	require.Len(t, raw, 1)
	assert.Contains(t, raw[0]["error"], "GLB")
	assert.Nil(t, raw[0]["normalization"], "placeholders are not normalized")
}

func TestInspectCBOR(t *testing.T) {
	path := writeFile(t, "part.stl", fixture.BinarySTL())

	out, err := run(t, "inspect", "-o", "cbor", path)
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, cbor.Unmarshal([]byte(out), &raw))
	require.Len(t, raw, 1)
	assert.Equal(t, "stl", raw[0]["Format"])
	assert.Equal(t, path, raw[0]["File"])
}

func TestInspectRejectsUnknownOutput(t *testing.T) {
	path := writeFile(t, "part.stl", fixture.BinarySTL())
	_, err := run(t, "inspect", "-o", "json", path)
	assert.ErrorContains(t, err, "unknown output format")
}

func TestRenderPNG(t *testing.T) {
	path := writeFile(t, "part.stl", fixture.BinarySTL())
	dst := filepath.Join(t.TempDir(), "frame.png")

	_, err := run(t, "render", path, "--png", dst, "--width", "40", "--height", "30")
	require.NoError(t, err)

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())

	// Something other than the background was drawn.
	bg := color.RGBAModel.Convert(img.At(0, 0))
	drawn := false
	for y := range 30 {
		for x := range 40 {
			if color.RGBAModel.Convert(img.At(x, y)) != bg {
				drawn = true
			}
		}
	}
	assert.True(t, drawn)
}

func TestRenderTerminal(t *testing.T) {
	path := writeFile(t, "tri.glb", fixture.TriangleGLB())

	out, err := run(t, "render", path, "--width", "20", "--height", "10", "--shading", "basic")
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(strings.TrimRight(out, "\n"), "\n")+1)
	assert.Contains(t, out, "▀")
}

func TestRenderFlags(t *testing.T) {
	path := writeFile(t, "part.stl", fixture.BinarySTL())

	_, err := run(t, "render", path, "--shading", "toon")
	assert.ErrorContains(t, err, "unknown shading")

	_, err = run(t, "render", path, "--width", "0")
	assert.ErrorContains(t, err, "invalid frame size")

	_, err = run(t, "render", filepath.Join(t.TempDir(), "nope.stl"))
	assert.Error(t, err)
}

func TestUnpack(t *testing.T) {
	zip := writeFile(t, "pkg.zip", fixture.Zip(
		fixture.Entry{Name: "scene.gltf", Data: fixture.TriangleGLTF(fixture.GLTFOptions{BufferURI: "scene.bin", ImageURI: "tex.png"})},
		fixture.Entry{Name: "scene.bin", Data: fixture.TriangleBin()},
		fixture.Entry{Name: "tex.png", Data: fixture.PNG(2, 2, color.NRGBA{R: 255, A: 255})},
		fixture.Entry{Name: "README.txt", Data: []byte("hello")},
	))

	out, err := run(t, "unpack", "-o", "yaml", zip)
	require.NoError(t, err)

	var report UnpackReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.True(t, report.Summary.ManifestPresent)
	assert.Equal(t, 1, report.Summary.Buffers)
	assert.Equal(t, 1, report.Summary.Textures)
	assert.Equal(t, 1, report.Summary.Others)

	classes := map[string]string{}
	for _, e := range report.Entries {
		classes[e.Path] = e.Class
	}
	assert.Equal(t, map[string]string{
		"scene.gltf": "manifest",
		"scene.bin":  "buffer",
		"tex.png":    "texture",
		"README.txt": "other",
	}, classes)
}

func TestUnpackWithoutManifest(t *testing.T) {
	zip := writeFile(t, "pkg.zip", fixture.Zip(
		fixture.Entry{Name: "scene.bin", Data: fixture.TriangleBin()},
	))

	out, err := run(t, "unpack", zip)
	require.NoError(t, err)
	assert.Contains(t, out, "no .gltf file found")
	assert.Contains(t, out, "buffer")
}

func TestUnknownConfigFile(t *testing.T) {
	path := writeFile(t, "part.stl", fixture.BinarySTL())
	_, err := run(t, "inspect", path, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
