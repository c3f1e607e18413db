package ingest

import (
	"context"
	"encoding/base64"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taigrr/showcase/internal/fixture"
	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
	"github.com/taigrr/showcase/pkg/resource"
)

// recorder collects every callback of a load.
type recorder struct {
	percents []int
	statuses []string
	loads    []*Model
	errs     []*Error
	// onError runs inside OnError, before the load returns.
	onError func(*Error)
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(p int, s string) {
			r.percents = append(r.percents, p)
			r.statuses = append(r.statuses, s)
		},
		OnLoad: func(m *Model) { r.loads = append(r.loads, m) },
		OnError: func(e *Error) {
			r.errs = append(r.errs, e)
			if r.onError != nil {
				r.onError(e)
			}
		},
	}
}

func newSession(t *testing.T, cfg Config) (*Session, *resource.Registry) {
	t.Helper()
	reg := resource.NewRegistry()
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	s := NewSession(reg, cfg)
	t.Cleanup(s.Close)
	return s, reg
}

func loadWith(t *testing.T, s *Session, name string, data []byte) (*recorder, *Model, error) {
	t.Helper()
	r := &recorder{}
	m, err := s.Load(context.Background(), NewSourceFile(name, data), r.callbacks())
	return r, m, err
}

func requireKind(t *testing.T, r *recorder, kind Kind) *Error {
	t.Helper()
	require.Empty(t, r.loads)
	require.Len(t, r.errs, 1)
	assert.Equal(t, kind, r.errs[0].Kind, r.errs[0].Error())
	return r.errs[0]
}

func TestLoadEmptyFile(t *testing.T) {
	s, _ := newSession(t, Config{})
	r, m, err := loadWith(t, s, "empty.stl", nil)
	require.Error(t, err)
	e := requireKind(t, r, KindEmptyFile)
	assert.Equal(t, "File is empty", e.Msg)

	require.NotNil(t, m)
	assert.Equal(t, PlaceholderError, m.Placeholder)
	assert.Same(t, m, s.Current())
	assert.Same(t, e, m.Err)
}

func TestLoadFileTooLarge(t *testing.T) {
	s, _ := newSession(t, Config{MaxFileSize: 1024 * 1024})
	r, _, _ := loadWith(t, s, "big.stl", make([]byte, 1024*1024*3/2))
	e := requireKind(t, r, KindFileTooLarge)
	assert.Equal(t, "File too large: 1.5MB. Maximum size is 1MB.", e.Msg)
}

func TestCheckSizeDefaultLimit(t *testing.T) {
	assert.NoError(t, checkSize(DefaultMaxFileSize, DefaultMaxFileSize))
	err := checkSize(150*1024*1024, DefaultMaxFileSize)
	require.Error(t, err)
	assert.Equal(t, "File too large: 150.0MB. Maximum size is 100MB.", err.Error())
}

func TestLoadGLBEndToEnd(t *testing.T) {
	s, reg := newSession(t, Config{})
	r, m, err := loadWith(t, s, "Triangle.GLB", fixture.TriangleGLB())
	require.NoError(t, err)

	require.Len(t, r.loads, 1)
	assert.Empty(t, r.errs)
	assert.Same(t, m, r.loads[0])
	assert.Equal(t, FormatGLB, m.Format)
	assert.Equal(t, PlaceholderNone, m.Placeholder)

	require.NotEmpty(t, r.percents)
	assert.Equal(t, 0, r.percents[0])
	assert.Equal(t, 100, r.percents[len(r.percents)-1])
	assert.Equal(t, "Model loaded", r.statuses[len(r.statuses)-1])
	assert.IsNonDecreasing(t, r.percents)
	assert.Contains(t, r.statuses, "Normalizing")

	// The triangle is 1x2, so its height maps to the target size.
	assert.InDelta(t, 2.5, m.Normalization.Scale, 1e-9)
	world := models.WorldBounds(m.Wrapper)
	assert.InDelta(t, 5, world.MaxDim(), 1e-9)
	assert.InDelta(t, 0, world.Center().Len(), 1e-9)

	mats := m.Root.Meshes()[0].Materials
	require.Len(t, mats, 1)
	assert.Equal(t, "red", mats[0].Name)
	assert.True(t, mats[0].DoubleSided)

	assert.Zero(t, reg.Live())
	assert.Len(t, m.Digest, 64)
}

func TestLoadSingleGLTFMissingBuffer(t *testing.T) {
	s, reg := newSession(t, Config{})
	manifest := fixture.TriangleGLTF(fixture.GLTFOptions{BufferURI: "scene.bin"})
	r, _, _ := loadWith(t, s, "scene.gltf", manifest)
	e := requireKind(t, r, KindMissingBuffer)
	assert.Equal(t, "GLTF file references external binary files (.bin) that are not available. Use GLB format for single-file uploads.", e.Msg)
	assert.Zero(t, reg.Live())
}

func TestLoadArchiveMissingBufferRevokesHandles(t *testing.T) {
	s, reg := newSession(t, Config{})
	data := fixture.Zip(
		fixture.Entry{Name: "model/scene.gltf", Data: fixture.TriangleGLTF(fixture.GLTFOptions{BufferURI: "scene.bin"})},
		fixture.Entry{Name: "model/albedo.png", Data: fixture.PNG(1, 1, color.NRGBA{255, 255, 255, 255})},
	)
	live := -1
	r := &recorder{onError: func(*Error) { live = reg.Live() }}
	_, err := s.Load(context.Background(), NewSourceFile("bundle.zip", data), r.callbacks())
	require.Error(t, err)

	e := requireKind(t, r, KindMissingBuffer)
	assert.Equal(t, "MissingRequiredBuffer", e.Kind.String())
	assert.Zero(t, live, "handles must be revoked before OnError")
	minted, revoked := reg.Counts()
	assert.Equal(t, 2, minted)
	assert.Equal(t, minted, revoked)
}

func TestLoadArchiveMissingTextureFallsBack(t *testing.T) {
	s, reg := newSession(t, Config{})
	data := fixture.Zip(
		fixture.Entry{Name: "scene.gltf", Data: fixture.TriangleGLTF(fixture.GLTFOptions{
			BufferURI: "scene.bin", ImageURI: "textures/missing.png",
		})},
		fixture.Entry{Name: "scene.bin", Data: fixture.TriangleBin()},
	)
	r, m, err := loadWith(t, s, "bundle.zip", data)
	require.NoError(t, err)
	require.Len(t, r.loads, 1)

	tex := m.Root.Meshes()[0].Materials[0].Texture
	require.NotNil(t, tex)
	assert.True(t, tex.Fallback)
	assert.Len(t, m.Warnings, 1)
	require.NotNil(t, m.Package)
	assert.True(t, m.Package.ManifestPresent)
	assert.Equal(t, 1, m.Package.Buffers)
	assert.Contains(t, r.statuses, "Extracting archive")
	assert.Zero(t, reg.Live())
}

func TestLoadSingleFileMissingTextureFallsBack(t *testing.T) {
	s, reg := newSession(t, Config{})
	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(fixture.TriangleBin())
	data := fixture.TriangleGLTF(fixture.GLTFOptions{BufferURI: uri, ImageURI: "albedo.png"})

	r, m, err := loadWith(t, s, "scene.gltf", data)
	require.NoError(t, err)
	require.Len(t, r.loads, 1)
	assert.Empty(t, r.errs)
	assert.Nil(t, m.Err)

	tex := m.Root.Meshes()[0].Materials[0].Texture
	require.NotNil(t, tex)
	assert.True(t, tex.Fallback)
	require.Len(t, m.Warnings, 1)
	assert.Contains(t, m.Warnings[0], "albedo.png")
	assert.Zero(t, reg.Live())
}

func TestLoadArchiveManifestOnlyAdvisory(t *testing.T) {
	s, _ := newSession(t, Config{})
	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(fixture.TriangleBin())
	data := fixture.Zip(fixture.Entry{Name: "scene.gltf", Data: fixture.TriangleGLTF(fixture.GLTFOptions{BufferURI: uri})})

	r, m, err := loadWith(t, s, "bundle.zip", data)
	require.NoError(t, err)
	require.Len(t, r.loads, 1)
	require.Len(t, m.Advisories, 1)
	assert.Contains(t, m.Advisories[0], "GLB")
}

func TestLoadArchiveFailures(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		kind Kind
	}{
		{"no manifest", fixture.Zip(fixture.Entry{Name: "scene.bin", Data: fixture.TriangleBin()}), KindNoManifest},
		{"not a zip", []byte("PK but not really a zip file"), KindArchiveCorrupt},
		{"truncated", fixture.Zip(fixture.Entry{Name: "scene.gltf", Data: []byte("{}")})[:30], KindArchiveCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, reg := newSession(t, Config{})
			r, _, _ := loadWith(t, s, "bundle.zip", tt.data)
			requireKind(t, r, tt.kind)
			assert.Zero(t, reg.Live())
		})
	}
}

func TestLoadNoManifestMessage(t *testing.T) {
	s, _ := newSession(t, Config{})
	r, _, _ := loadWith(t, s, "bundle.zip", fixture.Zip(fixture.Entry{Name: "readme.txt", Data: []byte("hi")}))
	e := requireKind(t, r, KindNoManifest)
	assert.Equal(t, "No GLTF file found in ZIP archive", e.Msg)
}

func TestLoadDecodeFailure(t *testing.T) {
	s, _ := newSession(t, Config{})
	r, _, _ := loadWith(t, s, "broken.stl", []byte("not an stl at all"))
	e := requireKind(t, r, KindDecodeFailed)
	assert.True(t, strings.HasPrefix(e.Msg, "Failed to load STL file: "), e.Msg)
}

func TestLoadUnsupportedIsNotAnError(t *testing.T) {
	for _, name := range []string{"part.step", "mesh.vtk", "notes.txt"} {
		t.Run(name, func(t *testing.T) {
			s, _ := newSession(t, Config{})
			r, m, err := loadWith(t, s, name, []byte("solid"))
			require.NoError(t, err)
			assert.Empty(t, r.errs)
			require.Len(t, r.loads, 1)
			assert.Equal(t, FormatUnsupported, m.Format)
			assert.Equal(t, PlaceholderUnsupported, m.Placeholder)
			assert.InDelta(t, 2, models.WorldBounds(m.Root).MaxDim(), 1e-9)
		})
	}
}

func TestLoadEveryFormat(t *testing.T) {
	inputs := map[string][]byte{
		"a.stl": fixture.BinarySTL(),
		"a.obj": []byte(fixture.OBJ),
		"a.glb": fixture.TriangleGLB(),
		"a.fbx": fixture.FBX(),
		"a.dae": fixture.DAE(),
		"a.3ds": fixture.TDS(),
		"a.zip": fixture.Zip(
			fixture.Entry{Name: "a.gltf", Data: fixture.TriangleGLTF(fixture.GLTFOptions{BufferURI: "a.bin"})},
			fixture.Entry{Name: "a.bin", Data: fixture.TriangleBin()},
		),
	}
	def := DefaultConfig().Default
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			s, reg := newSession(t, Config{})
			r, m, err := loadWith(t, s, name, data)
			require.NoError(t, err)
			require.Len(t, r.loads, 1)
			assert.InDelta(t, DefaultConfig().TargetSize, models.WorldBounds(m.Wrapper).MaxDim(), 1e-6)
			assert.Zero(t, reg.Live())

			for _, mesh := range m.Root.Meshes() {
				require.NotEmpty(t, mesh.Materials)
				for _, f := range mesh.Faces {
					require.Less(t, f.Material, len(mesh.Materials))
					require.GreaterOrEqual(t, f.Material, 0)
				}
				if m.Format == FormatSTL || m.Format == FormatOBJ {
					assert.Equal(t, []models.Material{def}, mesh.Materials)
				}
				for _, mat := range mesh.Materials {
					assert.True(t, mat.DoubleSided)
				}
			}
		})
	}
}

func TestResetTransform(t *testing.T) {
	s, _ := newSession(t, Config{})
	s.ResetTransform() // no model yet

	_, m, err := loadWith(t, s, "a.glb", fixture.TriangleGLB())
	require.NoError(t, err)
	want := *m.Wrapper

	m.Wrapper.Position = math3d.V3(3, 3, 3)
	m.Wrapper.Rotation = math3d.QuatFromEuler(0.3, 0.2, 0.1)
	m.Wrapper.Scale = math3d.V3(2, 2, 2)
	s.ResetTransform()
	s.ResetTransform()
	assert.Equal(t, want.Position, m.Wrapper.Position)
	assert.Equal(t, want.Rotation, m.Wrapper.Rotation)
	assert.Equal(t, want.Scale, m.Wrapper.Scale)
}

func TestMaterialOverrideAndReset(t *testing.T) {
	s, _ := newSession(t, Config{})
	s.ResetMaterials() // no model yet

	_, m, err := loadWith(t, s, "a.fbx", fixture.FBX())
	require.NoError(t, err)
	mesh := m.Root.Meshes()[0]
	original := append([]models.Material(nil), mesh.Materials...)

	override := models.Presets[2]
	override.Color = [4]float64{0, 1, 0, 1}
	s.ApplyMaterial(override.Material())
	for _, mat := range mesh.Materials {
		assert.Equal(t, override.Material(), mat)
	}
	got, ok := s.Override()
	require.True(t, ok)
	assert.Equal(t, models.ShadingPhong, got.Shading)

	s.ResetMaterials()
	assert.Equal(t, original, mesh.Materials)
	_, ok = s.Override()
	assert.False(t, ok)
}

func TestOverrideSurvivesNextLoad(t *testing.T) {
	s, _ := newSession(t, Config{})
	_, _, err := loadWith(t, s, "a.glb", fixture.TriangleGLB())
	require.NoError(t, err)

	wire := models.Presets[4].Material()
	s.ApplyMaterial(wire)

	_, m, err := loadWith(t, s, "b.dae", fixture.DAE())
	require.NoError(t, err)
	mesh := m.Root.Meshes()[0]
	assert.Equal(t, []models.Material{wire}, mesh.Materials)

	// The snapshot was taken before the override went on.
	s.ClearOverride()
	assert.Equal(t, "red", mesh.Materials[0].Name)
}

func TestSupersededLoadIsSilent(t *testing.T) {
	s, reg := newSession(t, Config{})
	archive := fixture.Zip(
		fixture.Entry{Name: "a.gltf", Data: fixture.TriangleGLTF(fixture.GLTFOptions{BufferURI: "a.bin"})},
		fixture.Entry{Name: "a.bin", Data: fixture.TriangleBin()},
	)

	var second *recorder
	first := &recorder{}
	cb := first.callbacks()
	onProgress := cb.OnProgress
	cb.OnProgress = func(p int, status string) {
		onProgress(p, status)
		if status == "Extracting archive" && second == nil {
			second, _, _ = loadWith(t, s, "b.glb", fixture.TriangleGLB())
		}
	}

	m, err := s.Load(context.Background(), NewSourceFile("a.zip", archive), cb)
	assert.Nil(t, m)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.Empty(t, first.loads)
	assert.Empty(t, first.errs)
	assert.NotContains(t, first.percents, 100)

	require.NotNil(t, second)
	require.Len(t, second.loads, 1)
	assert.Same(t, second.loads[0], s.Current())
	assert.Zero(t, reg.Live())
}

func TestLoadCancelledByCaller(t *testing.T) {
	s, reg := newSession(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &recorder{}
	_, err := s.Load(ctx, NewSourceFile("a.fbx", fixture.FBX()), r.callbacks())
	assert.True(t, IsCancelled(err))
	assert.Empty(t, r.loads)
	assert.Empty(t, r.errs)
	assert.Nil(t, s.Current())
	assert.Zero(t, reg.Live())
}

func TestClosedSessionRejectsLoads(t *testing.T) {
	s, _ := newSession(t, Config{})
	s.Close()
	_, err := s.Load(context.Background(), NewSourceFile("a.glb", fixture.TriangleGLB()), Callbacks{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatch(t *testing.T) {
	tests := map[string]Format{
		"a.stl": FormatSTL, "a.OBJ": FormatOBJ, "a.gltf": FormatGLTF, "a.glb": FormatGLB,
		"a.fbx": FormatFBX, "a.dae": FormatCollada, "a.3DS": Format3DS, "a.zip": FormatArchive,
		"a.step": FormatUnsupported, "a.stp": FormatUnsupported, "a.vtk": FormatUnsupported,
		"a.msh": FormatUnsupported, "a": FormatUnsupported, "a.blend": FormatUnsupported,
	}
	for name, want := range tests {
		assert.Equal(t, want, Dispatch(NewSourceFile(name, []byte{1})), name)
	}
	for _, ext := range []string{"vtk", "stp", "step", "msh"} {
		assert.True(t, IsDeferred(ext), ext)
	}
	assert.False(t, IsDeferred("stl"))
	for f := FormatSTL; f <= FormatArchive; f++ {
		_, ok := handlers[f]
		assert.True(t, ok, f.String())
	}
}

func TestReadSource(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, size int) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))
		return p
	}

	src, err := ReadSource(write("Model.STL", 84), 0)
	require.NoError(t, err)
	assert.Equal(t, "Model.STL", src.Name())
	assert.Equal(t, "stl", src.Ext())
	assert.EqualValues(t, 84, src.Size())

	_, err = ReadSource(write("empty.obj", 0), 0)
	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindEmptyFile, le.Kind)

	_, err = ReadSource(write("big.obj", 2048), 1024)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindFileTooLarge, le.Kind)

	_, err = ReadSource(filepath.Join(dir, "nope.glb"), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDigest(t *testing.T) {
	a := NewSourceFile("a.stl", []byte("abc"))
	b := NewSourceFile("b.stl", []byte("abc"))
	c := NewSourceFile("c.stl", []byte("abd"))
	assert.Equal(t, a.Digest(), b.Digest())
	assert.NotEqual(t, a.Digest(), c.Digest())
	assert.Len(t, a.Digest(), 64)
}
