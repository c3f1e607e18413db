package formats

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
)

// FBX loads binary Autodesk FBX files: geometry, model transforms,
// material colors and the connection graph between them.
type FBX struct{}

func (FBX) Format() string { return FormatFBX }

var fbxMagic = []byte("Kaydara FBX Binary  \x00")

const (
	fbxHeaderSize = 27
	// fbxWideVersion is the first version with 64-bit record offsets.
	fbxWideVersion = 7500
	// maxFBXArrayBytes bounds a single inflated property array.
	maxFBXArrayBytes = 1 << 29
)

// fbxNode is one record of the FBX node tree.
type fbxNode struct {
	name     string
	props    []any
	children []*fbxNode
}

func (n *fbxNode) child(name string) *fbxNode {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *fbxNode) all(name string) []*fbxNode {
	if n == nil {
		return nil
	}
	var out []*fbxNode
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (n *fbxNode) prop(i int) any {
	if n == nil || i >= len(n.props) {
		return nil
	}
	return n.props[i]
}

// fbxReader walks the binary record stream.
type fbxReader struct {
	data []byte
	pos  int
	wide bool
}

func (r *fbxReader) next(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *fbxReader) u32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *fbxReader) offset() (uint64, error) {
	if !r.wide {
		v, err := r.u32()
		return uint64(v), err
	}
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// record reads one node. A nil node with no error is the null record
// that terminates a nested list.
func (r *fbxReader) record(depth int) (*fbxNode, error) {
	if depth > 64 {
		return nil, errors.New("records nested too deeply")
	}
	end, err := r.offset()
	if err != nil {
		return nil, err
	}
	numProps, err := r.offset()
	if err != nil {
		return nil, err
	}
	if _, err := r.offset(); err != nil { // property list length
		return nil, err
	}
	nameLen, err := r.next(1)
	if err != nil {
		return nil, err
	}
	name, err := r.next(int(nameLen[0]))
	if err != nil {
		return nil, err
	}
	if end == 0 {
		return nil, nil
	}
	if end > uint64(len(r.data)) || end < uint64(r.pos) {
		return nil, fmt.Errorf("record %q ends at %d: %w", name, end, errTruncated)
	}

	n := &fbxNode{name: string(name)}
	for range numProps {
		p, err := r.property()
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", n.name, err)
		}
		n.props = append(n.props, p)
	}
	for uint64(r.pos) < end {
		c, err := r.record(depth + 1)
		if err != nil {
			return nil, err
		}
		if c == nil {
			break
		}
		n.children = append(n.children, c)
	}
	r.pos = int(end)
	return n, nil
}

func (r *fbxReader) property() (any, error) {
	t, err := r.next(1)
	if err != nil {
		return nil, err
	}
	switch t[0] {
	case 'Y':
		b, err := r.next(2)
		if err != nil {
			return nil, err
		}
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case 'C':
		b, err := r.next(1)
		if err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case 'I':
		v, err := r.u32()
		return int64(int32(v)), err
	case 'F':
		v, err := r.u32()
		return float64(math.Float32frombits(v)), err
	case 'D':
		b, err := r.next(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case 'L':
		b, err := r.next(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	case 'S', 'R':
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		b, err := r.next(int(n))
		if err != nil {
			return nil, err
		}
		if t[0] == 'S' {
			return string(b), nil
		}
		return b, nil
	case 'f', 'd', 'l', 'i', 'b':
		return r.array(t[0])
	}
	return nil, fmt.Errorf("unknown property type %q", t[0])
}

// array reads a typed array, inflating it when zlib encoded. Integer
// arrays come back as []int64, float arrays as []float64.
func (r *fbxReader) array(kind byte) (any, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	encoding, err := r.u32()
	if err != nil {
		return nil, err
	}
	size, err := r.u32()
	if err != nil {
		return nil, err
	}
	payload, err := r.next(int(size))
	if err != nil {
		return nil, err
	}

	elem := map[byte]int{'f': 4, 'd': 8, 'l': 8, 'i': 4, 'b': 1}[kind]
	want := uint64(count) * uint64(elem)
	if want > maxFBXArrayBytes {
		return nil, fmt.Errorf("array of %d bytes exceeds limit", want)
	}
	raw := payload
	switch encoding {
	case 0:
	case 1:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("inflate array: %w", err)
		}
		raw = make([]byte, want)
		_, err = io.ReadFull(zr, raw)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("inflate array: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown array encoding %d", encoding)
	}
	if uint64(len(raw)) < want {
		return nil, fmt.Errorf("array: %w", errTruncated)
	}

	switch kind {
	case 'f', 'd':
		out := make([]float64, count)
		for i := range out {
			if kind == 'f' {
				out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
			} else {
				out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
			}
		}
		return out, nil
	case 'b':
		out := make([]int64, count)
		for i := range out {
			if raw[i] != 0 {
				out[i] = 1
			}
		}
		return out, nil
	default:
		out := make([]int64, count)
		for i := range out {
			if kind == 'i' {
				out[i] = int64(int32(binary.LittleEndian.Uint32(raw[i*4:])))
			} else {
				out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
			}
		}
		return out, nil
	}
}

func parseFBX(data []byte) ([]*fbxNode, uint32, error) {
	if len(data) < fbxHeaderSize || !bytes.HasPrefix(data, fbxMagic) {
		return nil, 0, errors.New("missing binary FBX header")
	}
	version := binary.LittleEndian.Uint32(data[23:])
	r := &fbxReader{data: data, pos: fbxHeaderSize, wide: version >= fbxWideVersion}
	var top []*fbxNode
	for r.pos < len(data) {
		n, err := r.record(0)
		if err != nil {
			return nil, version, err
		}
		if n == nil {
			break
		}
		top = append(top, n)
	}
	return top, version, nil
}

func isASCIIFBX(data []byte) bool {
	head := data[:min(len(data), 1024)]
	return bytes.Contains(head, []byte("FBXHeaderExtension")) || bytes.HasPrefix(head, []byte("; FBX"))
}

// fbxScene collects the objects and connections of a file.
type fbxScene struct {
	geometries map[int64]*fbxNode
	models     map[int64]*fbxNode
	materials  map[int64]*fbxNode
	// parents maps a child object id to its parent ids in file order.
	parents  map[int64][]int64
	children map[int64][]int64
}

// Load decodes a binary FBX file. ASCII FBX is reported as an
// unsupported variant.
func (FBX) Load(ctx context.Context, data []byte, opts Options) (*models.Node, error) {
	if !bytes.HasPrefix(data, fbxMagic) && isASCIIFBX(data) {
		return nil, &DecodeError{Format: FormatFBX, Reason: ReasonUnsupportedVariant, Err: errors.New("ASCII FBX is not supported")}
	}
	top, version, err := parseFBX(data)
	if err != nil {
		return nil, parseError(FormatFBX, err)
	}
	opts.logger().Debug("fbx parsed", "file", opts.Name, "version", version, "records", len(top))
	opts.progress(0.4, "Parsed FBX records")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sc := &fbxScene{
		geometries: make(map[int64]*fbxNode),
		models:     make(map[int64]*fbxNode),
		materials:  make(map[int64]*fbxNode),
		parents:    make(map[int64][]int64),
		children:   make(map[int64][]int64),
	}
	for _, n := range top {
		switch n.name {
		case "Objects":
			for _, o := range n.children {
				id, ok := o.prop(0).(int64)
				if !ok {
					continue
				}
				switch o.name {
				case "Geometry":
					sc.geometries[id] = o
				case "Model":
					sc.models[id] = o
				case "Material":
					sc.materials[id] = o
				}
			}
		case "Connections":
			for _, c := range n.all("C") {
				kind, _ := c.prop(0).(string)
				child, ok1 := c.prop(1).(int64)
				parent, ok2 := c.prop(2).(int64)
				if kind != "OO" || !ok1 || !ok2 {
					continue
				}
				sc.parents[child] = append(sc.parents[child], parent)
				sc.children[parent] = append(sc.children[parent], child)
			}
		}
	}

	root := models.NewNode(opts.Name)
	built := make(map[int64]*models.Node)
	var ids []int64
	for _, n := range top {
		if n.name != "Objects" {
			continue
		}
		for _, o := range n.children {
			if id, ok := o.prop(0).(int64); ok && o.name == "Model" {
				ids = append(ids, id)
			}
		}
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node, err := sc.model(id, built)
		if err != nil {
			return nil, parseError(FormatFBX, err)
		}
		opts.progress(0.4+0.6*float64(i+1)/float64(len(ids)), "Building FBX models")
		if sc.modelParent(id) == 0 {
			root.Add(node)
		}
	}
	if len(root.Meshes()) == 0 {
		return nil, parseError(FormatFBX, errors.New("no mesh geometry"))
	}
	return root, nil
}

// modelParent returns the id of the model this model hangs under, or 0
// for the scene root.
func (sc *fbxScene) modelParent(id int64) int64 {
	for _, p := range sc.parents[id] {
		if _, ok := sc.models[p]; ok {
			return p
		}
	}
	return 0
}

func (sc *fbxScene) model(id int64, built map[int64]*models.Node) (*models.Node, error) {
	if n, ok := built[id]; ok {
		return n, nil
	}
	src := sc.models[id]
	name, _ := src.prop(1).(string)
	node := models.NewNode(fbxName(name))
	built[id] = node

	applyLcl(node, src.child("Properties70"))

	var mats []models.Material
	var geom *fbxNode
	for _, c := range sc.children[id] {
		if g, ok := sc.geometries[c]; ok && geom == nil {
			geom = g
		}
		if m, ok := sc.materials[c]; ok {
			mats = append(mats, fbxMaterial(m))
		}
	}
	if geom != nil {
		mesh, err := fbxMesh(fbxName(name), geom, mats)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", node.Name, err)
		}
		if len(mesh.Faces) > 0 {
			node.Mesh = mesh
		}
	}

	for _, c := range sc.children[id] {
		if _, ok := sc.models[c]; !ok || sc.modelParent(c) != id {
			continue
		}
		child, err := sc.model(c, built)
		if err != nil {
			return nil, err
		}
		node.Add(child)
	}
	return node, nil
}

// fbxName strips the class suffix binary files append to object names.
func fbxName(s string) string {
	if i := strings.Index(s, "\x00\x01"); i >= 0 {
		return s[:i]
	}
	return strings.TrimPrefix(s, "Model::")
}

// properties returns the numeric values of every P record keyed by name.
func properties(p70 *fbxNode) map[string][]float64 {
	out := make(map[string][]float64)
	if p70 == nil {
		return out
	}
	for _, p := range p70.all("P") {
		name, _ := p.prop(0).(string)
		var vals []float64
		for _, v := range p.props[min(4, len(p.props)):] {
			switch x := v.(type) {
			case float64:
				vals = append(vals, x)
			case int64:
				vals = append(vals, float64(x))
			}
		}
		out[name] = vals
	}
	return out
}

func applyLcl(node *models.Node, p70 *fbxNode) {
	props := properties(p70)
	if t := props["Lcl Translation"]; len(t) == 3 {
		node.Position = math3d.V3(t[0], t[1], t[2])
	}
	if r := props["Lcl Rotation"]; len(r) == 3 {
		rad := math.Pi / 180
		qx := math3d.QuatFromAxisAngle(math3d.V3(1, 0, 0), r[0]*rad)
		qy := math3d.QuatFromAxisAngle(math3d.V3(0, 1, 0), r[1]*rad)
		qz := math3d.QuatFromAxisAngle(math3d.V3(0, 0, 1), r[2]*rad)
		// Default FBX rotation order XYZ applies X first.
		node.Rotation = qz.Mul(qy).Mul(qx)
	}
	if s := props["Lcl Scaling"]; len(s) == 3 {
		node.Scale = math3d.V3(s[0], s[1], s[2])
	}
}

func fbxMaterial(n *fbxNode) models.Material {
	name, _ := n.prop(1).(string)
	mat := models.Material{
		Name:      fbxName(name),
		Shading:   models.ShadingPhong,
		BaseColor: [4]float64{0.8, 0.8, 0.8, 1},
		Shininess: 30,
	}
	props := properties(n.child("Properties70"))
	for _, key := range []string{"DiffuseColor", "Diffuse"} {
		if c := props[key]; len(c) == 3 {
			mat.BaseColor[0], mat.BaseColor[1], mat.BaseColor[2] = c[0], c[1], c[2]
			break
		}
	}
	if o := props["Opacity"]; len(o) == 1 && o[0] < 1 {
		mat.BaseColor[3] = o[0]
		mat.Transparent = true
	}
	if s := props["Shininess"]; len(s) == 1 {
		mat.Shininess = s[0]
	}
	return mat
}

// fbxLayer maps polygon-vertex positions to indices into a layer's
// direct array according to its mapping and reference modes.
type fbxLayer struct {
	mapping string
	direct  bool
	index   []int64
}

func newLayer(n *fbxNode, indexName string) fbxLayer {
	mapping, _ := n.child("MappingInformationType").prop(0).(string)
	ref, _ := n.child("ReferenceInformationType").prop(0).(string)
	l := fbxLayer{mapping: mapping, direct: ref == "Direct"}
	if idx, ok := n.child(indexName).prop(0).([]int64); ok && !l.direct {
		l.index = idx
	} else {
		l.direct = true
	}
	return l
}

// at returns the element index for polygon vertex pv of polygon poly
// whose control point is cp, or -1.
func (l fbxLayer) at(pv, cp, poly int) int {
	var i int
	switch l.mapping {
	case "ByPolygonVertex":
		i = pv
	case "ByVertex", "ByVertice", "ByControlPoint":
		i = cp
	case "ByPolygon":
		i = poly
	case "AllSame":
		i = 0
	default:
		return -1
	}
	if l.direct {
		return i
	}
	if i < 0 || i >= len(l.index) {
		return -1
	}
	return int(l.index[i])
}

func fbxMesh(name string, geom *fbxNode, mats []models.Material) (*models.Mesh, error) {
	verts, _ := geom.child("Vertices").prop(0).([]float64)
	polys, _ := geom.child("PolygonVertexIndex").prop(0).([]int64)
	if len(verts)%3 != 0 {
		return nil, errors.New("vertex array length is not a multiple of 3")
	}
	nverts := len(verts) / 3

	var (
		normals, uvs       []float64
		normLayer, uvLayer fbxLayer
		matIdx             []int64
		matLayer           fbxLayer
	)
	if ln := geom.child("LayerElementNormal"); ln != nil {
		normals, _ = ln.child("Normals").prop(0).([]float64)
		normLayer = newLayer(ln, "NormalsIndex")
	}
	if lu := geom.child("LayerElementUV"); lu != nil {
		uvs, _ = lu.child("UV").prop(0).([]float64)
		uvLayer = newLayer(lu, "UVIndex")
	}
	if lm := geom.child("LayerElementMaterial"); lm != nil {
		matIdx, _ = lm.child("Materials").prop(0).([]int64)
		matLayer = fbxLayer{direct: true}
		matLayer.mapping, _ = lm.child("MappingInformationType").prop(0).(string)
	}

	mesh := models.NewMesh(name)
	mesh.Materials = mats

	var polygon []int
	pv, poly := 0, 0
	for _, raw := range polys {
		cp := int(raw)
		last := raw < 0
		if last {
			cp = int(^raw)
		}
		if cp < 0 || cp >= nverts {
			return nil, fmt.Errorf("polygon vertex %d out of range", cp)
		}
		v := models.MeshVertex{Position: math3d.V3(verts[cp*3], verts[cp*3+1], verts[cp*3+2])}
		if i := normLayer.at(pv, cp, poly); i >= 0 && i*3+2 < len(normals) {
			v.Normal = math3d.V3(normals[i*3], normals[i*3+1], normals[i*3+2])
		}
		if i := uvLayer.at(pv, cp, poly); i >= 0 && i*2+1 < len(uvs) {
			v.UV = math3d.V2(uvs[i*2], uvs[i*2+1])
		}
		mesh.Vertices = append(mesh.Vertices, v)
		polygon = append(polygon, len(mesh.Vertices)-1)
		pv++

		if !last {
			continue
		}
		mat := -1
		if matIdx == nil && len(mats) > 0 {
			mat = 0
		} else if i := matLayer.at(pv, cp, poly); i >= 0 && i < len(matIdx) {
			if m := int(matIdx[i]); m < len(mats) {
				mat = m
			}
		}
		for k := 1; k+1 < len(polygon); k++ {
			mesh.Faces = append(mesh.Faces, models.Face{V: [3]int{polygon[0], polygon[k], polygon[k+1]}, Material: mat})
		}
		polygon = polygon[:0]
		poly++
	}
	mesh.Finish()
	return mesh, nil
}
