package formats

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/h2non/filetype"
	"github.com/qmuntal/gltf"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/taigrr/showcase/pkg/archive"
	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
	"github.com/taigrr/showcase/pkg/resource"
)

// GLTF loads glTF 2.0 documents, both the JSON form and GLB. External
// buffers and images are looked up through Options.Resolver and never
// read from disk.
type GLTF struct{}

func (GLTF) Format() string { return FormatGLTF }

// Load decodes a glTF or GLB document.
func (g GLTF) Load(ctx context.Context, data []byte, opts Options) (*models.Node, error) {
	fsys := &resolverFS{opts: opts}
	doc := new(gltf.Document)
	opts.progress(0, "Parsing glTF")
	if err := gltf.NewDecoderFS(bytes.NewReader(data), fsys).Decode(doc); err != nil {
		if rerr := fsys.failure(); rerr != nil {
			return nil, bufferError(rerr)
		}
		return nil, parseError(FormatGLTF, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := loadBuffers(doc, fsys); err != nil {
		return nil, bufferError(err)
	}

	l := &gltfLoader{doc: doc, opts: opts, textures: make(map[int]*models.Texture)}
	meshes := make([]*models.Mesh, len(doc.Meshes))
	for i, m := range doc.Meshes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mesh, err := l.mesh(m)
		if err != nil {
			return nil, parseError(FormatGLTF, fmt.Errorf("mesh %d %q: %w", i, m.Name, err))
		}
		meshes[i] = mesh
		opts.progress(float64(i+1)/float64(len(doc.Meshes))*0.9, "Processing meshes")
	}

	root := models.NewNode(opts.Name)
	l.state = make(map[int]nodeState, len(doc.Nodes))
	for _, idx := range l.sceneRoots() {
		n, err := l.node(ctx, idx, meshes)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, parseError(FormatGLTF, err)
		}
		if n != nil {
			root.Add(n)
		}
	}
	if len(doc.Scenes) == 0 && len(doc.Nodes) == 0 {
		// Geometry without any node still deserves to be shown.
		for _, m := range meshes {
			if m != nil {
				root.Add(models.NewMeshNode(m))
			}
		}
	}
	opts.progress(1, "Scene assembled")
	return root, nil
}

func bufferError(err error) error {
	reason := ReasonParse
	if errors.Is(err, archive.ErrMissingBuffer) {
		reason = ReasonMissingBuffer
	}
	return &DecodeError{Format: FormatGLTF, Reason: reason, Err: err}
}

// loadBuffers fills any external buffer the decoder left empty.
func loadBuffers(doc *gltf.Document, fsys *resolverFS) error {
	for i, b := range doc.Buffers {
		if len(b.Data) > 0 || b.URI == "" || b.IsEmbeddedResource() {
			continue
		}
		data, err := fsys.ReadFile(b.URI)
		if err != nil {
			return fmt.Errorf("buffer %d: %w", i, err)
		}
		b.Data = data
	}
	return nil
}

// resolverFS presents the resolver as a file system so the decoder can
// pull external buffers through it. The first failure is kept because the
// decoder may wrap or replace it.
type resolverFS struct {
	opts Options

	mu  sync.Mutex
	err error
}

func (r *resolverFS) ReadFile(name string) ([]byte, error) {
	data, err := r.read(name)
	if err != nil {
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
	}
	return data, err
}

func (r *resolverFS) read(name string) ([]byte, error) {
	ref := name
	if unescaped, err := url.PathUnescape(name); err == nil {
		ref = unescaped
	}
	if r.opts.Resolver == nil || r.opts.Fetch == nil {
		return nil, fmt.Errorf("%w: %s", archive.ErrMissingBuffer, ref)
	}
	locator, err := r.opts.Resolver.Resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := r.opts.Fetch(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", archive.ErrMissingBuffer, ref, err)
	}
	return data, nil
}

func (r *resolverFS) Open(name string) (fs.File, error) {
	data, err := r.ReadFile(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &memFile{name: name, r: bytes.NewReader(data), size: int64(len(data))}, nil
}

func (r *resolverFS) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

type memFile struct {
	name string
	r    *bytes.Reader
	size int64
}

func (f *memFile) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *memFile) Close() error               { return nil }
func (f *memFile) Stat() (fs.FileInfo, error) { return memInfo{f.name, f.size}, nil }

type memInfo struct {
	name string
	size int64
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) Mode() fs.FileMode  { return 0o444 }
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return false }
func (i memInfo) Sys() any           { return nil }

type gltfLoader struct {
	doc      *gltf.Document
	opts     Options
	textures map[int]*models.Texture
	state    map[int]nodeState
}

type nodeState int

const (
	nodeUnseen nodeState = iota
	nodeOnPath
	nodeBuilt
)

func (l *gltfLoader) sceneRoots() []int {
	doc := l.doc
	if len(doc.Scenes) > 0 {
		idx := 0
		if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
			idx = *doc.Scene
		}
		return doc.Scenes[idx].Nodes
	}
	// No scenes: every node that is nobody's child is a root.
	child := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			child[c] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !child[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

var identityColumns = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// node builds the subtree rooted at node idx. Each node is built at most
// once: a node reached again from one of its own descendants is a cycle
// and fails the load, any other repeat reference is dropped.
func (l *gltfLoader) node(ctx context.Context, idx int, meshes []*models.Mesh) (*models.Node, error) {
	if idx < 0 || idx >= len(l.doc.Nodes) {
		return nil, nil
	}
	switch l.state[idx] {
	case nodeOnPath:
		return nil, fmt.Errorf("node %d is its own ancestor", idx)
	case nodeBuilt:
		l.opts.warn("glTF node %d has more than one parent; extra references ignored", idx)
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.state[idx] = nodeOnPath
	defer func() { l.state[idx] = nodeBuilt }()

	src := l.doc.Nodes[idx]
	n := models.NewNode(src.Name)

	if m := src.MatrixOrDefault(); m != identityColumns {
		n.SetMatrix(math3d.Mat4(m))
	} else {
		t := src.TranslationOrDefault()
		r := src.RotationOrDefault()
		s := src.ScaleOrDefault()
		n.Position = math3d.V3(t[0], t[1], t[2])
		n.Rotation = math3d.Quat{X: r[0], Y: r[1], Z: r[2], W: r[3]}
		n.Scale = math3d.V3(s[0], s[1], s[2])
	}

	if src.Mesh != nil && *src.Mesh >= 0 && *src.Mesh < len(meshes) {
		n.Mesh = meshes[*src.Mesh]
	}
	for _, c := range src.Children {
		child, err := l.node(ctx, c, meshes)
		if err != nil {
			return nil, err
		}
		if child != nil {
			n.Add(child)
		}
	}
	return n, nil
}

// mesh converts a glTF mesh into one models.Mesh whose faces index the
// mesh-local material list.
func (l *gltfLoader) mesh(m *gltf.Mesh) (*models.Mesh, error) {
	mesh := models.NewMesh(m.Name)
	local := make(map[int]int)

	for _, prim := range m.Primitives {
		if !isTriangleMode(prim.Mode) {
			continue
		}
		posIdx, ok := prim.Attributes[gltf.POSITION]
		if !ok {
			continue
		}
		positions, err := l.readVec3(posIdx)
		if err != nil {
			return nil, fmt.Errorf("read positions: %w", err)
		}

		var normals []math3d.Vec3
		if idx, ok := prim.Attributes[gltf.NORMAL]; ok {
			if normals, err = l.readVec3(idx); err != nil {
				return nil, fmt.Errorf("read normals: %w", err)
			}
		}
		var uvs []math3d.Vec2
		if idx, ok := prim.Attributes[gltf.TEXCOORD_0]; ok {
			if uvs, err = l.readVec2(idx); err != nil {
				return nil, fmt.Errorf("read uvs: %w", err)
			}
		}

		matIdx := -1
		if prim.Material != nil {
			gi := *prim.Material
			if li, ok := local[gi]; ok {
				matIdx = li
			} else if gi >= 0 && gi < len(l.doc.Materials) {
				mesh.Materials = append(mesh.Materials, l.material(l.doc.Materials[gi]))
				matIdx = len(mesh.Materials) - 1
				local[gi] = matIdx
			}
		}

		base := len(mesh.Vertices)
		for i, p := range positions {
			v := models.MeshVertex{Position: p}
			if i < len(normals) {
				v.Normal = normals[i]
			}
			if i < len(uvs) {
				// glTF puts V=0 at the top of the image.
				v.UV = math3d.V2(uvs[i].X, 1-uvs[i].Y)
			}
			mesh.Vertices = append(mesh.Vertices, v)
		}

		var indices []int
		if prim.Indices != nil {
			if indices, err = l.readIndices(*prim.Indices); err != nil {
				return nil, fmt.Errorf("read indices: %w", err)
			}
		} else {
			indices = make([]int, len(positions))
			for i := range indices {
				indices[i] = i
			}
		}
		for _, tri := range triangulate(prim.Mode, indices) {
			if tri[0] >= len(positions) || tri[1] >= len(positions) || tri[2] >= len(positions) {
				return nil, fmt.Errorf("index out of range for %d vertices", len(positions))
			}
			mesh.Faces = append(mesh.Faces, models.Face{
				V:        [3]int{base + tri[0], base + tri[1], base + tri[2]},
				Material: matIdx,
			})
		}
	}

	mesh.Finish()
	return mesh, nil
}

func isTriangleMode(mode gltf.PrimitiveMode) bool {
	switch mode {
	case gltf.PrimitiveTriangles, gltf.PrimitiveTriangleStrip, gltf.PrimitiveTriangleFan:
		return true
	}
	return false
}

// triangulate expands an index list into triangles for the given mode.
func triangulate(mode gltf.PrimitiveMode, idx []int) [][3]int {
	var out [][3]int
	switch mode {
	case gltf.PrimitiveTriangleStrip:
		for i := 0; i+2 < len(idx); i++ {
			if i%2 == 0 {
				out = append(out, [3]int{idx[i], idx[i+1], idx[i+2]})
			} else {
				out = append(out, [3]int{idx[i+1], idx[i], idx[i+2]})
			}
		}
	case gltf.PrimitiveTriangleFan:
		for i := 1; i+1 < len(idx); i++ {
			out = append(out, [3]int{idx[0], idx[i], idx[i+1]})
		}
	default:
		for i := 0; i+2 < len(idx); i += 3 {
			out = append(out, [3]int{idx[i], idx[i+1], idx[i+2]})
		}
	}
	return out
}

func (l *gltfLoader) material(src *gltf.Material) models.Material {
	mat := models.Material{
		Name:        src.Name,
		Shading:     models.ShadingStandard,
		BaseColor:   [4]float64{1, 1, 1, 1},
		Metallic:    1,
		Roughness:   1,
		DoubleSided: src.DoubleSided,
		Transparent: src.AlphaMode == gltf.AlphaBlend,
	}
	if pbr := src.PBRMetallicRoughness; pbr != nil {
		mat.BaseColor = pbr.BaseColorFactorOrDefault()
		mat.Metallic = pbr.MetallicFactorOrDefault()
		mat.Roughness = pbr.RoughnessFactorOrDefault()
		if pbr.BaseColorTexture != nil {
			mat.Texture = l.texture(pbr.BaseColorTexture.Index)
		}
	}
	return mat
}

// texture returns the decoded image behind a glTF texture index. Anything
// that cannot be found or decoded becomes the transparent fallback.
func (l *gltfLoader) texture(texIdx int) *models.Texture {
	if tex, ok := l.textures[texIdx]; ok {
		return tex
	}
	tex := l.decodeTexture(texIdx)
	l.textures[texIdx] = tex
	return tex
}

func (l *gltfLoader) decodeTexture(texIdx int) *models.Texture {
	doc := l.doc
	if texIdx < 0 || texIdx >= len(doc.Textures) || doc.Textures[texIdx].Source == nil ||
		*doc.Textures[texIdx].Source < 0 || *doc.Textures[texIdx].Source >= len(doc.Images) {
		l.opts.warn("texture %d has no image", texIdx)
		return models.FallbackTexture(fmt.Sprintf("texture-%d", texIdx))
	}
	img := doc.Images[*doc.Textures[texIdx].Source]
	name := img.Name
	if name == "" {
		name = img.URI
	}
	if name == "" {
		name = fmt.Sprintf("image-%d", *doc.Textures[texIdx].Source)
	}

	data, err := l.imageBytes(img)
	if err != nil {
		l.opts.warn("texture %s unavailable, using transparent fallback: %v", name, err)
		return models.FallbackTexture(name)
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil && cfg.Width*cfg.Height > maxTexturePixels {
		l.opts.warn("texture %s is %dx%d, using transparent fallback", name, cfg.Width, cfg.Height)
		return models.FallbackTexture(name)
	}
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		l.opts.warn("texture %s could not be decoded, using transparent fallback: %v", name, err)
		return models.FallbackTexture(name)
	}
	mime := img.MimeType
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		mime = kind.MIME.Value
	}
	return &models.Texture{Name: name, MIME: mime, Image: decoded}
}

// maxTexturePixels bounds the decoded size of a single texture.
const maxTexturePixels = 8192 * 8192

var errFallbackImage = errors.New("image reference not found")

func (l *gltfLoader) imageBytes(img *gltf.Image) ([]byte, error) {
	if img.BufferView != nil {
		bv, buf, err := l.view(*img.BufferView)
		if err != nil {
			return nil, err
		}
		return span(buf, bv.ByteOffset, bv.ByteLength)
	}
	if img.URI == "" {
		return nil, errFallbackImage
	}
	if resource.IsDataURI(img.URI) {
		return resource.DecodeDataURI(img.URI)
	}
	if l.opts.Resolver == nil || l.opts.Fetch == nil {
		return nil, errFallbackImage
	}
	ref := img.URI
	if unescaped, err := url.PathUnescape(ref); err == nil {
		ref = unescaped
	}
	locator, err := l.opts.Resolver.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if locator == resource.TransparentPixel {
		return nil, errFallbackImage
	}
	return l.opts.Fetch(locator)
}

func (l *gltfLoader) view(idx int) (*gltf.BufferView, []byte, error) {
	if idx < 0 || idx >= len(l.doc.BufferViews) {
		return nil, nil, fmt.Errorf("buffer view %d out of range", idx)
	}
	bv := l.doc.BufferViews[idx]
	if bv.Buffer < 0 || bv.Buffer >= len(l.doc.Buffers) {
		return nil, nil, fmt.Errorf("buffer %d out of range", bv.Buffer)
	}
	data := l.doc.Buffers[bv.Buffer].Data
	if data == nil {
		return nil, nil, fmt.Errorf("buffer %d has no data", bv.Buffer)
	}
	return bv, data, nil
}

func (l *gltfLoader) accessor(idx int) (*gltf.Accessor, error) {
	if idx < 0 || idx >= len(l.doc.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", idx)
	}
	return l.doc.Accessors[idx], nil
}

// maxDetachedBytes caps accessors with no buffer view, which read as
// zeros and so are sized only by their declared count.
const maxDetachedBytes = 4 << 20

// readVec3 reads a float VEC3 accessor.
func (l *gltfLoader) readVec3(idx int) ([]math3d.Vec3, error) {
	a, err := l.accessor(idx)
	if err != nil {
		return nil, err
	}
	if a.Type != gltf.AccessorVec3 || a.ComponentType != gltf.ComponentFloat {
		return nil, fmt.Errorf("expected float VEC3, got %v/%v", a.Type, a.ComponentType)
	}
	return readElements(l, a, 12, func(b []byte) math3d.Vec3 {
		return math3d.V3(f32(b), f32(b[4:]), f32(b[8:]))
	})
}

// readVec2 reads a float VEC2 accessor.
func (l *gltfLoader) readVec2(idx int) ([]math3d.Vec2, error) {
	a, err := l.accessor(idx)
	if err != nil {
		return nil, err
	}
	if a.Type != gltf.AccessorVec2 || a.ComponentType != gltf.ComponentFloat {
		return nil, fmt.Errorf("expected float VEC2, got %v/%v", a.Type, a.ComponentType)
	}
	return readElements(l, a, 8, func(b []byte) math3d.Vec2 {
		return math3d.V2(f32(b), f32(b[4:]))
	})
}

// readIndices reads an unsigned SCALAR accessor.
func (l *gltfLoader) readIndices(idx int) ([]int, error) {
	a, err := l.accessor(idx)
	if err != nil {
		return nil, err
	}
	if a.Type != gltf.AccessorScalar {
		return nil, fmt.Errorf("expected SCALAR indices, got %v", a.Type)
	}
	switch a.ComponentType {
	case gltf.ComponentUbyte:
		return readElements(l, a, 1, func(b []byte) int { return int(b[0]) })
	case gltf.ComponentUshort:
		return readElements(l, a, 2, func(b []byte) int { return int(binary.LittleEndian.Uint16(b)) })
	case gltf.ComponentUint:
		return readElements(l, a, 4, func(b []byte) int { return int(binary.LittleEndian.Uint32(b)) })
	default:
		return nil, fmt.Errorf("unsupported index component type %v", a.ComponentType)
	}
}

// readElements decodes every element of an accessor. The declared count
// is checked against the backing view before anything is allocated. An
// accessor with no buffer view reads as zeros.
func readElements[T any](l *gltfLoader, a *gltf.Accessor, size int, decode func([]byte) T) ([]T, error) {
	view, stride, err := l.elements(a, size)
	if err != nil {
		return nil, err
	}
	out := make([]T, a.Count)
	if view == nil {
		zero := decode(make([]byte, size))
		for i := range out {
			out[i] = zero
		}
		return out, nil
	}
	for i := range out {
		off := a.ByteOffset + i*stride
		out[i] = decode(view[off : off+size])
	}
	return out, nil
}

// elements validates an accessor's layout and returns its buffer view
// and element stride. A nil view means the accessor has no buffer view.
func (l *gltfLoader) elements(a *gltf.Accessor, size int) ([]byte, int, error) {
	if a.Count < 0 {
		return nil, 0, fmt.Errorf("accessor count %d is negative", a.Count)
	}
	if a.BufferView == nil {
		if a.Count > maxDetachedBytes/size {
			return nil, 0, fmt.Errorf("accessor without buffer view declares %d elements", a.Count)
		}
		return nil, size, nil
	}
	bv, buf, err := l.view(*a.BufferView)
	if err != nil {
		return nil, 0, err
	}
	view, err := span(buf, bv.ByteOffset, bv.ByteLength)
	if err != nil {
		return nil, 0, err
	}
	stride := bv.ByteStride
	switch {
	case stride == 0:
		stride = size
	case stride < size || stride > 252:
		return nil, 0, fmt.Errorf("byte stride %d invalid for %d byte elements", stride, size)
	}
	if a.ByteOffset < 0 {
		return nil, 0, fmt.Errorf("accessor byte offset %d is negative", a.ByteOffset)
	}
	if a.Count == 0 {
		return view, stride, nil
	}
	room := len(view) - a.ByteOffset - size
	if room < 0 || a.Count-1 > room/stride {
		return nil, 0, fmt.Errorf("accessor of %d elements overruns a %d byte view: %w", a.Count, len(view), errTruncated)
	}
	return view, stride, nil
}

func span(buf []byte, offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset > len(buf) || length > len(buf)-offset {
		return nil, fmt.Errorf("range %d+%d outside %d byte buffer: %w", offset, length, len(buf), errTruncated)
	}
	return buf[offset : offset+length], nil
}

func f32(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}
