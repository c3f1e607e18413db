package formats

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
)

// TDS loads Autodesk 3D Studio (.3ds) chunk files.
type TDS struct{}

func (TDS) Format() string { return Format3DS }

// Chunk identifiers.
const (
	chunkMain         = 0x4D4D
	chunkEditor       = 0x3D3D
	chunkObject       = 0x4000
	chunkTriMesh      = 0x4100
	chunkVertices     = 0x4110
	chunkFaces        = 0x4120
	chunkFaceMaterial = 0x4130
	chunkUVs          = 0x4140
	chunkMaterial     = 0xAFFF
	chunkMatName      = 0xA000
	chunkMatDiffuse   = 0xA020
	chunkMatShininess = 0xA040
	chunkMatTransp    = 0xA050
	chunkMatTwoSided  = 0xA081
	chunkColorF       = 0x0010
	chunkColor24      = 0x0011
	chunkColorLin24   = 0x0012
	chunkColorLinF    = 0x0013
	chunkPercentI     = 0x0030
	chunkPercentF     = 0x0031
)

const chunkHeaderSize = 6

// chunk is one node of the 3DS chunk tree.
type chunk struct {
	id   uint16
	data []byte // payload without the header
}

// chunks splits buf into its sibling chunks.
func chunks(buf []byte) ([]chunk, error) {
	var out []chunk
	for len(buf) > 0 {
		if len(buf) < chunkHeaderSize {
			return nil, errTruncated
		}
		id := binary.LittleEndian.Uint16(buf)
		n := binary.LittleEndian.Uint32(buf[2:])
		if n < chunkHeaderSize || uint64(n) > uint64(len(buf)) {
			return nil, fmt.Errorf("chunk %04X length %d: %w", id, n, errTruncated)
		}
		out = append(out, chunk{id: id, data: buf[chunkHeaderSize:n]})
		buf = buf[n:]
	}
	return out, nil
}

type tdsDecoder struct {
	materials map[string]int
	mats      []models.Material
	root      *models.Node
}

// Load decodes the editor section of a 3DS file: named meshes and their
// materials. Keyframer data is ignored.
func (TDS) Load(ctx context.Context, data []byte, opts Options) (*models.Node, error) {
	if len(data) < chunkHeaderSize || binary.LittleEndian.Uint16(data) != chunkMain {
		return nil, parseError(Format3DS, errors.New("missing main chunk"))
	}
	top, err := chunks(data)
	if err != nil {
		return nil, parseError(Format3DS, err)
	}
	main, err := chunks(top[0].data)
	if err != nil {
		return nil, parseError(Format3DS, err)
	}

	dec := &tdsDecoder{materials: make(map[string]int), root: models.NewNode(opts.Name)}
	for _, c := range main {
		if c.id != chunkEditor {
			continue
		}
		editor, err := chunks(c.data)
		if err != nil {
			return nil, parseError(Format3DS, err)
		}
		// Materials first so faces can refer to them by name.
		for _, ec := range editor {
			if ec.id == chunkMaterial {
				if err := dec.material(ec.data); err != nil {
					return nil, parseError(Format3DS, err)
				}
			}
		}
		for i, ec := range editor {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if ec.id == chunkObject {
				if err := dec.object(ec.data); err != nil {
					return nil, parseError(Format3DS, err)
				}
			}
			opts.progress(float64(i+1)/float64(len(editor)), "Reading objects")
		}
	}
	if len(dec.root.Children) == 0 {
		return nil, parseError(Format3DS, errors.New("no meshes"))
	}
	return dec.root, nil
}

func cstring(b []byte) (string, []byte, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, errTruncated
	}
	return string(b[:i]), b[i+1:], nil
}

func (d *tdsDecoder) material(data []byte) error {
	sub, err := chunks(data)
	if err != nil {
		return err
	}
	mat := models.Material{
		Shading:   models.ShadingStandard,
		BaseColor: [4]float64{1, 1, 1, 1},
		Roughness: 1,
	}
	for _, c := range sub {
		switch c.id {
		case chunkMatName:
			name, _, err := cstring(c.data)
			if err != nil {
				return err
			}
			mat.Name = name
		case chunkMatDiffuse:
			if rgb, ok := colorChunk(c.data); ok {
				mat.BaseColor[0], mat.BaseColor[1], mat.BaseColor[2] = rgb[0], rgb[1], rgb[2]
			}
		case chunkMatShininess:
			if p, ok := percentChunk(c.data); ok {
				mat.Roughness = 1 - p
			}
		case chunkMatTransp:
			if p, ok := percentChunk(c.data); ok && p > 0 {
				mat.BaseColor[3] = 1 - p
				mat.Transparent = true
			}
		case chunkMatTwoSided:
			mat.DoubleSided = true
		}
	}
	d.materials[mat.Name] = len(d.mats)
	d.mats = append(d.mats, mat)
	return nil
}

func colorChunk(data []byte) ([3]float64, bool) {
	sub, err := chunks(data)
	if err != nil {
		return [3]float64{}, false
	}
	for _, c := range sub {
		switch c.id {
		case chunkColorF, chunkColorLinF:
			if len(c.data) >= 12 {
				var rgb [3]float64
				for i := range 3 {
					rgb[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(c.data[i*4:])))
				}
				return rgb, true
			}
		case chunkColor24, chunkColorLin24:
			if len(c.data) >= 3 {
				return [3]float64{float64(c.data[0]) / 255, float64(c.data[1]) / 255, float64(c.data[2]) / 255}, true
			}
		}
	}
	return [3]float64{}, false
}

func percentChunk(data []byte) (float64, bool) {
	sub, err := chunks(data)
	if err != nil {
		return 0, false
	}
	for _, c := range sub {
		switch c.id {
		case chunkPercentI:
			if len(c.data) >= 2 {
				return float64(int16(binary.LittleEndian.Uint16(c.data))) / 100, true
			}
		case chunkPercentF:
			if len(c.data) >= 4 {
				return float64(math.Float32frombits(binary.LittleEndian.Uint32(c.data))) / 100, true
			}
		}
	}
	return 0, false
}

func (d *tdsDecoder) object(data []byte) error {
	name, rest, err := cstring(data)
	if err != nil {
		return err
	}
	sub, err := chunks(rest)
	if err != nil {
		return err
	}
	for _, c := range sub {
		if c.id != chunkTriMesh {
			continue
		}
		mesh, err := d.triMesh(name, c.data)
		if err != nil {
			return fmt.Errorf("object %q: %w", name, err)
		}
		if len(mesh.Faces) > 0 {
			mesh.Finish()
			d.root.Add(models.NewMeshNode(mesh))
		}
	}
	return nil
}

func (d *tdsDecoder) triMesh(name string, data []byte) (*models.Mesh, error) {
	sub, err := chunks(data)
	if err != nil {
		return nil, err
	}
	mesh := models.NewMesh(name)
	for _, c := range sub {
		switch c.id {
		case chunkVertices:
			if len(c.data) < 2 {
				return nil, errTruncated
			}
			n := int(binary.LittleEndian.Uint16(c.data))
			if len(c.data) < 2+n*12 {
				return nil, fmt.Errorf("vertex list: %w", errTruncated)
			}
			mesh.Vertices = make([]models.MeshVertex, n)
			for i := range n {
				mesh.Vertices[i].Position = readVec3f(c.data[2+i*12:])
			}
		case chunkUVs:
			if len(c.data) < 2 {
				return nil, errTruncated
			}
			n := int(binary.LittleEndian.Uint16(c.data))
			if len(c.data) < 2+n*8 {
				return nil, fmt.Errorf("uv list: %w", errTruncated)
			}
			for i := 0; i < n && i < len(mesh.Vertices); i++ {
				off := 2 + i*8
				u := float64(math.Float32frombits(binary.LittleEndian.Uint32(c.data[off:])))
				v := float64(math.Float32frombits(binary.LittleEndian.Uint32(c.data[off+4:])))
				mesh.Vertices[i].UV = math3d.V2(u, v)
			}
		case chunkFaces:
			if err := d.faces(mesh, c.data); err != nil {
				return nil, err
			}
		}
	}
	return mesh, mesh.Validate()
}

// faces reads the face list and the material groups nested after it.
func (d *tdsDecoder) faces(mesh *models.Mesh, data []byte) error {
	if len(data) < 2 {
		return errTruncated
	}
	n := int(binary.LittleEndian.Uint16(data))
	end := 2 + n*8
	if len(data) < end {
		return fmt.Errorf("face list: %w", errTruncated)
	}
	mesh.Faces = make([]models.Face, n)
	for i := range n {
		off := 2 + i*8
		mesh.Faces[i] = models.Face{
			V: [3]int{
				int(binary.LittleEndian.Uint16(data[off:])),
				int(binary.LittleEndian.Uint16(data[off+2:])),
				int(binary.LittleEndian.Uint16(data[off+4:])),
			},
			Material: -1,
		}
	}

	sub, err := chunks(data[end:])
	if err != nil {
		return err
	}
	local := make(map[int]int)
	for _, c := range sub {
		if c.id != chunkFaceMaterial {
			continue
		}
		name, rest, err := cstring(c.data)
		if err != nil {
			return err
		}
		gi, ok := d.materials[name]
		if !ok || len(rest) < 2 {
			continue
		}
		li, ok := local[gi]
		if !ok {
			mesh.Materials = append(mesh.Materials, d.mats[gi])
			li = len(mesh.Materials) - 1
			local[gi] = li
		}
		count := int(binary.LittleEndian.Uint16(rest))
		if len(rest) < 2+count*2 {
			return fmt.Errorf("material group %q: %w", name, errTruncated)
		}
		for k := range count {
			fi := int(binary.LittleEndian.Uint16(rest[2+k*2:]))
			if fi < len(mesh.Faces) {
				mesh.Faces[fi].Material = li
			}
		}
	}
	return nil
}
