// Package fixture builds small, valid asset files in memory for tests.
package fixture

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zlib"
)

// Triangle is the geometry every fixture encodes: a right triangle one
// unit wide and two units tall in the XY plane.
var Triangle = [3][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 2, 0}}

// GLTFOptions controls what TriangleGLTF references.
type GLTFOptions struct {
	// BufferURI names an external buffer. Empty embeds the buffer as a
	// GLB binary chunk.
	BufferURI string
	// ImageURI adds a base color texture with that URI.
	ImageURI string
}

// TriangleBin returns the binary buffer behind the glTF fixtures:
// three float positions followed by three uint16 indices.
func TriangleBin() []byte {
	var buf bytes.Buffer
	for _, v := range Triangle {
		for _, c := range v {
			_ = binary.Write(&buf, binary.LittleEndian, c)
		}
	}
	for _, i := range []uint16{0, 1, 2} {
		_ = binary.Write(&buf, binary.LittleEndian, i)
	}
	return buf.Bytes()
}

// TriangleGLTF returns the JSON manifest of a one-triangle scene.
func TriangleGLTF(opts GLTFOptions) []byte {
	bin := TriangleBin()
	buffer := map[string]any{"byteLength": len(bin)}
	if opts.BufferURI != "" {
		buffer["uri"] = opts.BufferURI
	}
	pbr := map[string]any{
		"baseColorFactor": []float64{1, 0, 0, 1},
		"metallicFactor":  0.25,
		"roughnessFactor": 0.5,
	}
	doc := map[string]any{
		"asset":  map[string]any{"version": "2.0"},
		"scene":  0,
		"scenes": []any{map[string]any{"nodes": []int{0}}},
		"nodes": []any{map[string]any{
			"name": "triangle", "mesh": 0, "translation": []float64{10, 0, 0},
		}},
		"meshes": []any{map[string]any{
			"name": "triangle",
			"primitives": []any{map[string]any{
				"attributes": map[string]int{"POSITION": 0},
				"indices":    1,
				"material":   0,
			}},
		}},
		"materials": []any{map[string]any{"name": "red", "pbrMetallicRoughness": pbr}},
		"buffers":   []any{buffer},
		"bufferViews": []any{
			map[string]any{"buffer": 0, "byteOffset": 0, "byteLength": 36},
			map[string]any{"buffer": 0, "byteOffset": 36, "byteLength": 6},
		},
		"accessors": []any{
			map[string]any{
				"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3",
				"min": []float64{0, 0, 0}, "max": []float64{1, 2, 0},
			},
			map[string]any{"bufferView": 1, "componentType": 5123, "count": 3, "type": "SCALAR"},
		},
	}
	if opts.ImageURI != "" {
		pbr["baseColorTexture"] = map[string]any{"index": 0}
		doc["textures"] = []any{map[string]any{"source": 0}}
		doc["images"] = []any{map[string]any{"uri": opts.ImageURI}}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return out
}

// TriangleGLB returns a self-contained binary glTF of the triangle.
func TriangleGLB() []byte {
	js := pad(TriangleGLTF(GLTFOptions{}), ' ')
	bin := pad(TriangleBin(), 0)

	var buf bytes.Buffer
	total := 12 + 8 + len(js) + 8 + len(bin)
	put := func(v uint32) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	put(0x46546C67) // "glTF"
	put(2)
	put(uint32(total))
	put(uint32(len(js)))
	put(0x4E4F534A) // "JSON"
	buf.Write(js)
	put(uint32(len(bin)))
	put(0x004E4942) // "BIN\0"
	buf.Write(bin)
	return buf.Bytes()
}

func pad(b []byte, fill byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, fill)
	}
	return b
}

// Entry is one file of a zip fixture.
type Entry struct {
	Name string
	Data []byte
}

// Zip packs entries into an archive in the given order.
func Zip(entries ...Entry) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(e.Data); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PNG encodes a w by h image filled with c.
func PNG(w, h int, c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// BinarySTL encodes the triangle as a binary STL whose header starts with
// "solid", as many exporters write it.
func BinarySTL() []byte {
	var buf bytes.Buffer
	header := make([]byte, 80)
	copy(header, "solid triangle")
	buf.Write(header)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(1))
	_ = binary.Write(&buf, binary.LittleEndian, [3]float32{0, 0, 1})
	for _, v := range Triangle {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint16(0))
	return buf.Bytes()
}

// ASCIISTL is the triangle as an ASCII STL.
const ASCIISTL = `solid triangle
  facet normal 0 0 1
    outer loop
      vertex 0 0 0
      vertex 1 0 0
      vertex 0 2 0
    endloop
  endfacet
endsolid triangle
`

// OBJ is a unit quad split over two objects, using relative indices for
// the second one.
const OBJ = `# quad
mtllib quad.mtl
o first
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vn 0 0 1
usemtl grey
f 1/1/1 2/2/1 3/3/1
o second
f -4 -2 -1
`

func chunk3ds(id uint16, payload ...[]byte) []byte {
	var body bytes.Buffer
	for _, p := range payload {
		body.Write(p)
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, id)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(6+body.Len()))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

func le(v ...any) []byte {
	var buf bytes.Buffer
	for _, x := range v {
		_ = binary.Write(&buf, binary.LittleEndian, x)
	}
	return buf.Bytes()
}

// TDS encodes the triangle as a 3DS file with one red, single-sided
// material assigned to its face.
func TDS() []byte {
	material := chunk3ds(0xAFFF,
		chunk3ds(0xA000, []byte("red\x00")),
		chunk3ds(0xA020, chunk3ds(0x0011, []byte{255, 0, 0})),
	)
	verts := le(uint16(3), Triangle)
	faces := le(uint16(1), [4]uint16{0, 1, 2, 0})
	group := chunk3ds(0x4130, []byte("red\x00"), le(uint16(1), uint16(0)))
	mesh := chunk3ds(0x4100,
		chunk3ds(0x4110, verts),
		chunk3ds(0x4120, faces, group),
	)
	object := chunk3ds(0x4000, []byte("triangle\x00"), mesh)
	return chunk3ds(0x4D4D,
		chunk3ds(0x0002, le(uint32(3))),
		chunk3ds(0x3D3D, material, object),
	)
}

// fbxRecord is one FBX node for the writer.
type fbxRecord struct {
	name     string
	props    []any
	children []fbxRecord
}

func rec(name string, props []any, children ...fbxRecord) fbxRecord {
	return fbxRecord{name: name, props: props, children: children}
}

func writeFBXProp(buf *bytes.Buffer, p any) {
	switch v := p.(type) {
	case int64:
		buf.WriteByte('L')
		_ = binary.Write(buf, binary.LittleEndian, v)
	case int32:
		buf.WriteByte('I')
		_ = binary.Write(buf, binary.LittleEndian, v)
	case float64:
		buf.WriteByte('D')
		_ = binary.Write(buf, binary.LittleEndian, v)
	case string:
		buf.WriteByte('S')
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(v)))
		buf.WriteString(v)
	case []float64:
		buf.WriteByte('d')
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(v)))
		_ = binary.Write(buf, binary.LittleEndian, uint32(0))
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(v)*8))
		_ = binary.Write(buf, binary.LittleEndian, v)
	case []int32:
		buf.WriteByte('i')
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(v)))
		_ = binary.Write(buf, binary.LittleEndian, uint32(0))
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(v)*4))
		_ = binary.Write(buf, binary.LittleEndian, v)
	case deflated:
		buf.WriteByte('d')
		_ = binary.Write(buf, binary.LittleEndian, uint32(v.count))
		_ = binary.Write(buf, binary.LittleEndian, uint32(1))
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(v.data)))
		buf.Write(v.data)
	default:
		panic("fixture: unsupported FBX property")
	}
}

// deflated is a zlib-encoded float64 array property.
type deflated struct {
	count int
	data  []byte
}

func writeFBXRecord(buf *bytes.Buffer, r fbxRecord) {
	start := buf.Len()
	buf.Write(make([]byte, 12))
	buf.WriteByte(byte(len(r.name)))
	buf.WriteString(r.name)
	propStart := buf.Len()
	for _, p := range r.props {
		writeFBXProp(buf, p)
	}
	propLen := buf.Len() - propStart
	if len(r.children) > 0 {
		for _, c := range r.children {
			writeFBXRecord(buf, c)
		}
		buf.Write(make([]byte, 13))
	}
	b := buf.Bytes()
	binary.LittleEndian.PutUint32(b[start:], uint32(buf.Len()))
	binary.LittleEndian.PutUint32(b[start+4:], uint32(len(r.props)))
	binary.LittleEndian.PutUint32(b[start+8:], uint32(propLen))
}

// FBX encodes the triangle as a binary FBX 7.4 file: a model translated
// by (1,2,3) carrying the geometry and a red material. The vertex array
// is zlib compressed.
func FBX() []byte {
	verts := make([]float64, 0, 9)
	for _, v := range Triangle {
		verts = append(verts, float64(v[0]), float64(v[1]), float64(v[2]))
	}
	p70 := func(ps ...fbxRecord) fbxRecord { return rec("Properties70", nil, ps...) }
	p := func(name string, vals ...float64) fbxRecord {
		props := []any{name, name, "", "A"}
		for _, v := range vals {
			props = append(props, v)
		}
		return rec("P", props)
	}
	records := []fbxRecord{
		rec("FBXHeaderExtension", nil, rec("FBXVersion", []any{int32(7400)})),
		rec("Objects", nil,
			rec("Geometry", []any{int64(100), "triangle\x00\x01Geometry", "Mesh"},
				rec("Vertices", []any{deflate(verts)}),
				rec("PolygonVertexIndex", []any{[]int32{0, 1, -3}}),
				rec("LayerElementNormal", []any{int32(0)},
					rec("MappingInformationType", []any{"ByPolygonVertex"}),
					rec("ReferenceInformationType", []any{"Direct"}),
					rec("Normals", []any{[]float64{0, 0, 1, 0, 0, 1, 0, 0, 1}}),
				),
			),
			rec("Model", []any{int64(200), "triangle\x00\x01Model", "Mesh"},
				p70(p("Lcl Translation", 1, 2, 3)),
			),
			rec("Material", []any{int64(300), "red\x00\x01Material", ""},
				p70(p("DiffuseColor", 1, 0, 0)),
			),
		),
		rec("Connections", nil,
			rec("C", []any{"OO", int64(200), int64(0)}),
			rec("C", []any{"OO", int64(100), int64(200)}),
			rec("C", []any{"OO", int64(300), int64(200)}),
		),
	}

	var buf bytes.Buffer
	buf.WriteString("Kaydara FBX Binary  \x00")
	buf.Write([]byte{0x1A, 0x00})
	_ = binary.Write(&buf, binary.LittleEndian, uint32(7400))
	for _, r := range records {
		writeFBXRecord(&buf, r)
	}
	buf.Write(make([]byte, 13))
	return buf.Bytes()
}

func deflate(v []float64) deflated {
	raw := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(f))
	}
	return deflated{count: len(v), data: zlibBytes(raw)}
}

func zlibBytes(raw []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		panic(err)
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// ASCIIFBX is the head of a text FBX file.
const ASCIIFBX = `; FBX 7.4.0 project file
FBXHeaderExtension:  {
	FBXHeaderVersion: 1003
}
`

// DAE returns a COLLADA document of the triangle in a Z_UP, centimeter
// asset with a red phong effect.
func DAE() []byte {
	return []byte(`<?xml version="1.0" encoding="utf-8"?>
<COLLADA xmlns="http://www.collada.org/2005/11/COLLADASchema" version="1.4.1">
  <asset>
    <unit name="centimeter" meter="0.01"/>
    <up_axis>Z_UP</up_axis>
  </asset>
  <library_effects>
    <effect id="red-fx">
      <profile_COMMON>
        <technique sid="common">
          <phong>
            <diffuse><color>1 0 0 1</color></diffuse>
            <shininess><float>20</float></shininess>
          </phong>
        </technique>
      </profile_COMMON>
    </effect>
  </library_effects>
  <library_materials>
    <material id="red-mat" name="red"><instance_effect url="#red-fx"/></material>
  </library_materials>
  <library_geometries>
    <geometry id="tri-geom" name="triangle">
      <mesh>
        <source id="tri-pos">
          <float_array id="tri-pos-array" count="9">0 0 0 1 0 0 0 2 0</float_array>
          <technique_common>
            <accessor source="#tri-pos-array" count="3" stride="3"/>
          </technique_common>
        </source>
        <vertices id="tri-verts">
          <input semantic="POSITION" source="#tri-pos"/>
        </vertices>
        <triangles material="mat0" count="1">
          <input semantic="VERTEX" source="#tri-verts" offset="0"/>
          <p>0 1 2</p>
        </triangles>
      </mesh>
    </geometry>
  </library_geometries>
  <library_visual_scenes>
    <visual_scene id="scene" name="scene">
      <node id="tri" name="triangle">
        <translate>0 0 5</translate>
        <instance_geometry url="#tri-geom">
          <bind_material>
            <technique_common>
              <instance_material symbol="mat0" target="#red-mat"/>
            </technique_common>
          </bind_material>
        </instance_geometry>
      </node>
    </visual_scene>
  </library_visual_scenes>
  <scene><instance_visual_scene url="#scene"/></scene>
</COLLADA>
`)
}
