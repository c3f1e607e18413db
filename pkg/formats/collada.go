package formats

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
)

// Collada loads COLLADA 1.4/1.5 (.dae) documents: the default visual
// scene with its geometry instances and effect colors.
type Collada struct{}

func (Collada) Format() string { return FormatCollada }

type daeDocument struct {
	XMLName    xml.Name        `xml:"COLLADA"`
	Asset      daeAsset        `xml:"asset"`
	Effects    []daeEffect     `xml:"library_effects>effect"`
	Materials  []daeMaterial   `xml:"library_materials>material"`
	Geometries []daeGeometry   `xml:"library_geometries>geometry"`
	Scenes     []daeVisualNode `xml:"library_visual_scenes>visual_scene"`
	Scene      struct {
		Visual struct {
			URL string `xml:"url,attr"`
		} `xml:"instance_visual_scene"`
	} `xml:"scene"`
}

type daeAsset struct {
	Unit struct {
		Meter string `xml:"meter,attr"`
	} `xml:"unit"`
	UpAxis string `xml:"up_axis"`
}

type daeEffect struct {
	ID        string `xml:"id,attr"`
	Technique struct {
		Phong    *daeShader `xml:"phong"`
		Blinn    *daeShader `xml:"blinn"`
		Lambert  *daeShader `xml:"lambert"`
		Constant *daeShader `xml:"constant"`
	} `xml:"profile_COMMON>technique"`
	DoubleSided string `xml:"extra>technique>double_sided"`
}

type daeShader struct {
	Diffuse struct {
		Color   string `xml:"color"`
		Texture *struct {
			Texture string `xml:"texture,attr"`
		} `xml:"texture"`
	} `xml:"diffuse"`
	Emission struct {
		Color string `xml:"color"`
	} `xml:"emission"`
	Shininess    string `xml:"shininess>float"`
	Transparency string `xml:"transparency>float"`
}

type daeMaterial struct {
	ID     string `xml:"id,attr"`
	Name   string `xml:"name,attr"`
	Effect struct {
		URL string `xml:"url,attr"`
	} `xml:"instance_effect"`
}

type daeGeometry struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
	Mesh *struct {
		Sources   []daeSource    `xml:"source"`
		Vertices  daeVertices    `xml:"vertices"`
		Triangles []daePrimitive `xml:"triangles"`
		Polylists []daePrimitive `xml:"polylist"`
		Polygons  []daePrimitive `xml:"polygons"`
	} `xml:"mesh"`
}

type daeSource struct {
	ID       string `xml:"id,attr"`
	Floats   string `xml:"float_array"`
	Accessor struct {
		Stride int `xml:"stride,attr"`
	} `xml:"technique_common>accessor"`
}

type daeInput struct {
	Semantic string `xml:"semantic,attr"`
	Source   string `xml:"source,attr"`
	Offset   int    `xml:"offset,attr"`
	Set      int    `xml:"set,attr"`
}

type daeVertices struct {
	ID     string     `xml:"id,attr"`
	Inputs []daeInput `xml:"input"`
}

type daePrimitive struct {
	Material string     `xml:"material,attr"`
	Count    int        `xml:"count,attr"`
	Inputs   []daeInput `xml:"input"`
	VCount   string     `xml:"vcount"`
	P        []string   `xml:"p"`
}

// daeVisualNode is both a visual_scene and a node: both hold nodes.
type daeVisualNode struct {
	ID         string             `xml:"id,attr"`
	Name       string             `xml:"name,attr"`
	Nodes      []daeVisualNode    `xml:"node"`
	Instances  []daeInstanceGeom  `xml:"instance_geometry"`
	Transforms []daeTransformElem `xml:",any"`
}

type daeTransformElem struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type daeInstanceGeom struct {
	URL      string `xml:"url,attr"`
	Bindings []struct {
		Symbol string `xml:"symbol,attr"`
		Target string `xml:"target,attr"`
	} `xml:"bind_material>technique_common>instance_material"`
}

// Load decodes a COLLADA document. Z_UP assets are turned Y-up and the
// asset unit is applied, both on a node under the returned root.
func (Collada) Load(ctx context.Context, data []byte, opts Options) (*models.Node, error) {
	var doc daeDocument
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, parseError(FormatCollada, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts.progress(0.3, "Parsed COLLADA document")

	d := &daeDecoder{doc: &doc, opts: opts}
	scene := d.visualScene()
	if scene == nil {
		return nil, parseError(FormatCollada, errors.New("no visual scene"))
	}

	top := models.NewNode(scene.Name)
	if strings.EqualFold(strings.TrimSpace(doc.Asset.UpAxis), "Z_UP") {
		top.Rotation = math3d.QuatFromAxisAngle(math3d.V3(1, 0, 0), -math.Pi/2)
	}
	if m, err := strconv.ParseFloat(doc.Asset.Unit.Meter, 64); err == nil && m > 0 {
		top.Scale = math3d.V3(m, m, m)
	}
	for i := range scene.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := d.node(&scene.Nodes[i], 0)
		if err != nil {
			return nil, parseError(FormatCollada, err)
		}
		top.Add(n)
		opts.progress(0.3+0.7*float64(i+1)/float64(len(scene.Nodes)), "Building COLLADA nodes")
	}

	root := models.NewNode(opts.Name)
	root.Add(top)
	if len(root.Meshes()) == 0 {
		return nil, parseError(FormatCollada, errors.New("scene has no geometry"))
	}
	return root, nil
}

type daeDecoder struct {
	doc  *daeDocument
	opts Options
}

func (d *daeDecoder) visualScene() *daeVisualNode {
	want := strings.TrimPrefix(d.doc.Scene.Visual.URL, "#")
	for i := range d.doc.Scenes {
		if want == "" || d.doc.Scenes[i].ID == want {
			return &d.doc.Scenes[i]
		}
	}
	if len(d.doc.Scenes) > 0 {
		return &d.doc.Scenes[0]
	}
	return nil
}

func (d *daeDecoder) node(src *daeVisualNode, depth int) (*models.Node, error) {
	if depth > 256 {
		return nil, errors.New("nodes nested too deeply")
	}
	name := src.Name
	if name == "" {
		name = src.ID
	}
	n := models.NewNode(name)
	local, err := daeTransform(src.Transforms)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", name, err)
	}
	n.SetMatrix(local)

	for _, inst := range src.Instances {
		geom := d.geometry(strings.TrimPrefix(inst.URL, "#"))
		if geom == nil {
			d.opts.warn("node %q references missing geometry %s", name, inst.URL)
			continue
		}
		bind := make(map[string]string)
		for _, b := range inst.Bindings {
			bind[b.Symbol] = strings.TrimPrefix(b.Target, "#")
		}
		mesh, err := d.mesh(geom, bind)
		if err != nil {
			return nil, fmt.Errorf("geometry %q: %w", geom.ID, err)
		}
		if len(mesh.Faces) > 0 {
			n.Add(models.NewMeshNode(mesh))
		}
	}
	for i := range src.Nodes {
		c, err := d.node(&src.Nodes[i], depth+1)
		if err != nil {
			return nil, err
		}
		n.Add(c)
	}
	return n, nil
}

// daeTransform multiplies a node's transform elements in document order.
func daeTransform(elems []daeTransformElem) (math3d.Mat4, error) {
	m := math3d.Identity()
	for _, e := range elems {
		var want int
		switch e.XMLName.Local {
		case "matrix":
			want = 16
		case "translate", "scale":
			want = 3
		case "rotate":
			want = 4
		default:
			continue
		}
		v, err := floatList(e.Value)
		if err != nil {
			return m, fmt.Errorf("%s: %w", e.XMLName.Local, err)
		}
		if len(v) < want {
			return m, fmt.Errorf("%s needs %d values, got %d", e.XMLName.Local, want, len(v))
		}
		switch e.XMLName.Local {
		case "matrix":
			m = m.Mul(math3d.FromRowMajor([16]float64(v[:16])))
		case "translate":
			m = m.Mul(math3d.Translate(math3d.V3(v[0], v[1], v[2])))
		case "scale":
			m = m.Mul(math3d.Scale(math3d.V3(v[0], v[1], v[2])))
		case "rotate":
			axis := math3d.V3(v[0], v[1], v[2])
			m = m.Mul(math3d.QuatFromAxisAngle(axis, v[3]*math.Pi/180).Mat4())
		}
	}
	return m, nil
}

func (d *daeDecoder) geometry(id string) *daeGeometry {
	for i := range d.doc.Geometries {
		if d.doc.Geometries[i].ID == id {
			return &d.doc.Geometries[i]
		}
	}
	return nil
}

func (d *daeDecoder) material(id string) (models.Material, bool) {
	for _, m := range d.doc.Materials {
		if m.ID != id {
			continue
		}
		effectID := strings.TrimPrefix(m.Effect.URL, "#")
		for _, e := range d.doc.Effects {
			if e.ID == effectID {
				mat := d.effectMaterial(e)
				mat.Name = m.Name
				if mat.Name == "" {
					mat.Name = m.ID
				}
				return mat, true
			}
		}
	}
	return models.Material{}, false
}

func (d *daeDecoder) effectMaterial(e daeEffect) models.Material {
	mat := models.Material{BaseColor: [4]float64{0.8, 0.8, 0.8, 1}, Roughness: 1}
	t := e.Technique
	var sh *daeShader
	switch {
	case t.Phong != nil:
		sh, mat.Shading = t.Phong, models.ShadingPhong
	case t.Blinn != nil:
		sh, mat.Shading = t.Blinn, models.ShadingPhong
	case t.Lambert != nil:
		sh, mat.Shading = t.Lambert, models.ShadingLambert
	case t.Constant != nil:
		sh, mat.Shading = t.Constant, models.ShadingBasic
	default:
		return mat
	}
	color := sh.Diffuse.Color
	if sh == t.Constant {
		color = sh.Emission.Color
	}
	if c, err := floatList(color); err == nil && len(c) >= 3 {
		copy(mat.BaseColor[:], c)
	}
	if sh.Diffuse.Texture != nil {
		d.opts.warn("effect %s uses texture %s, which is not loaded", e.ID, sh.Diffuse.Texture.Texture)
	}
	if s, err := strconv.ParseFloat(strings.TrimSpace(sh.Shininess), 64); err == nil {
		mat.Shininess = s
	}
	if tr, err := strconv.ParseFloat(strings.TrimSpace(sh.Transparency), 64); err == nil && tr < 1 && tr > 0 {
		mat.BaseColor[3] = tr
		mat.Transparent = true
	}
	mat.DoubleSided = strings.TrimSpace(e.DoubleSided) == "1"
	return mat
}

// mesh builds the geometry with the given symbol-to-material binding.
func (d *daeDecoder) mesh(g *daeGeometry, bind map[string]string) (*models.Mesh, error) {
	name := g.Name
	if name == "" {
		name = g.ID
	}
	out := models.NewMesh(name)
	if g.Mesh == nil {
		return out, nil
	}
	sources := make(map[string]daeSource)
	for _, s := range g.Mesh.Sources {
		sources[s.ID] = s
	}
	read := func(ref string) ([]float64, int, error) {
		s, ok := sources[strings.TrimPrefix(ref, "#")]
		if !ok {
			return nil, 0, fmt.Errorf("missing source %s", ref)
		}
		v, err := floatList(s.Floats)
		return v, s.Accessor.Stride, err
	}

	// The vertices element may carry normals and texcoords next to the
	// positions.
	var positions, vNormals, vUVs []float64
	var uvStride int
	for _, in := range g.Mesh.Vertices.Inputs {
		v, stride, err := read(in.Source)
		if err != nil {
			return nil, err
		}
		switch in.Semantic {
		case "POSITION":
			positions = v
		case "NORMAL":
			vNormals = v
		case "TEXCOORD":
			vUVs, uvStride = v, stride
		}
	}

	local := make(map[string]int)
	matIndex := func(symbol string) int {
		if symbol == "" {
			return -1
		}
		if i, ok := local[symbol]; ok {
			return i
		}
		target := bind[symbol]
		if target == "" {
			target = symbol
		}
		mat, ok := d.material(target)
		if !ok {
			local[symbol] = -1
			return -1
		}
		out.Materials = append(out.Materials, mat)
		local[symbol] = len(out.Materials) - 1
		return local[symbol]
	}

	var prims []daePrimitive
	prims = append(prims, g.Mesh.Triangles...)
	prims = append(prims, g.Mesh.Polylists...)
	prims = append(prims, g.Mesh.Polygons...)
	for pi, prim := range prims {
		pr := primReader{positions: positions, vNormals: vNormals, vUVs: vUVs, uvStride: uvStride}
		for _, in := range prim.Inputs {
			pr.stride = max(pr.stride, in.Offset+1)
			switch in.Semantic {
			case "VERTEX":
				pr.vertexOff = in.Offset
			case "NORMAL":
				v, _, err := read(in.Source)
				if err != nil {
					return nil, err
				}
				pr.normals, pr.normalOff = v, in.Offset
			case "TEXCOORD":
				if in.Set > 0 {
					continue
				}
				v, stride, err := read(in.Source)
				if err != nil {
					return nil, err
				}
				pr.uvs, pr.uvOff, pr.uvStride = v, in.Offset, stride
			}
		}
		if pr.stride == 0 {
			continue
		}
		mat := matIndex(prim.Material)

		var polys [][]int
		switch {
		case pi < len(g.Mesh.Triangles):
			idx, err := intList(strings.Join(prim.P, " "))
			if err != nil {
				return nil, err
			}
			for k := 0; (k+3)*pr.stride <= len(idx); k += 3 {
				polys = append(polys, idx[k*pr.stride:(k+3)*pr.stride])
			}
		case pi < len(g.Mesh.Triangles)+len(g.Mesh.Polylists):
			idx, err := intList(strings.Join(prim.P, " "))
			if err != nil {
				return nil, err
			}
			counts, err := intList(prim.VCount)
			if err != nil {
				return nil, err
			}
			off := 0
			for _, c := range counts {
				end := off + c*pr.stride
				if c < 0 || end > len(idx) {
					return nil, fmt.Errorf("polylist: %w", errTruncated)
				}
				polys = append(polys, idx[off:end])
				off = end
			}
		default:
			for _, p := range prim.P {
				idx, err := intList(p)
				if err != nil {
					return nil, err
				}
				polys = append(polys, idx)
			}
		}
		for _, poly := range polys {
			if err := pr.emit(out, poly, mat); err != nil {
				return nil, err
			}
		}
	}
	out.Finish()
	return out, out.Validate()
}

// primReader turns interleaved index tuples into mesh vertices.
type primReader struct {
	positions, vNormals, vUVs []float64
	normals, uvs              []float64
	stride                    int
	vertexOff                 int
	normalOff, uvOff          int
	uvStride                  int
}

func (p *primReader) emit(m *models.Mesh, poly []int, mat int) error {
	n := len(poly) / p.stride
	base := len(m.Vertices)
	for k := range n {
		tuple := poly[k*p.stride : (k+1)*p.stride]
		vi := tuple[p.vertexOff]
		if vi < 0 || vi*3+2 >= len(p.positions) {
			return fmt.Errorf("vertex index %d out of range", vi)
		}
		v := models.MeshVertex{Position: math3d.V3(p.positions[vi*3], p.positions[vi*3+1], p.positions[vi*3+2])}
		switch {
		case p.normals != nil:
			if ni := tuple[p.normalOff]; ni >= 0 && ni*3+2 < len(p.normals) {
				v.Normal = math3d.V3(p.normals[ni*3], p.normals[ni*3+1], p.normals[ni*3+2])
			}
		case vi*3+2 < len(p.vNormals):
			v.Normal = math3d.V3(p.vNormals[vi*3], p.vNormals[vi*3+1], p.vNormals[vi*3+2])
		}
		stride := max(p.uvStride, 2)
		switch {
		case p.uvs != nil:
			if ti := tuple[p.uvOff]; ti >= 0 && ti*stride+1 < len(p.uvs) {
				v.UV = math3d.V2(p.uvs[ti*stride], p.uvs[ti*stride+1])
			}
		case vi*stride+1 < len(p.vUVs):
			v.UV = math3d.V2(p.vUVs[vi*stride], p.vUVs[vi*stride+1])
		}
		m.Vertices = append(m.Vertices, v)
	}
	for k := 1; k+1 < n; k++ {
		m.Faces = append(m.Faces, models.Face{V: [3]int{base, base + k, base + k + 1}, Material: mat})
	}
	return nil
}

func floatList(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func intList(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
