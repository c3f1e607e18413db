package formats

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
)

// OBJ loads Wavefront object files. Material libraries are not read: OBJ
// meshes always get the default material.
type OBJ struct{}

func (OBJ) Format() string { return FormatOBJ }

// objDecoder holds the parse state for one file.
type objDecoder struct {
	positions []math3d.Vec3
	normals   []math3d.Vec3
	uvs       []math3d.Vec2

	objects []*objObject
	current *objObject
	line    int
}

type objObject struct {
	name  string
	mesh  *models.Mesh
	cache map[[3]int]int
}

// Load decodes an OBJ file into one mesh node per object or group.
func (OBJ) Load(ctx context.Context, data []byte, opts Options) (*models.Node, error) {
	dec := &objDecoder{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		dec.line++
		if dec.line%8192 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			opts.progress(0.5, "Parsing OBJ")
		}
		if err := dec.parseLine(sc.Text()); err != nil {
			return nil, parseError(FormatOBJ, fmt.Errorf("line %d: %w", dec.line, err))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, parseError(FormatOBJ, err)
	}

	root := models.NewNode(opts.Name)
	for _, ob := range dec.objects {
		if len(ob.mesh.Faces) == 0 {
			continue
		}
		ob.mesh.Finish()
		root.Add(models.NewMeshNode(ob.mesh))
	}
	if len(root.Children) == 0 {
		return nil, parseError(FormatOBJ, errors.New("no faces"))
	}
	opts.progress(1, "Parsing OBJ")
	return root, nil
}

func (dec *objDecoder) parseLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	switch fields[0] {
	case "v":
		v, err := parseFloats(fields[1:], 3)
		if err != nil {
			return fmt.Errorf("vertex: %w", err)
		}
		dec.positions = append(dec.positions, math3d.V3(v[0], v[1], v[2]))
	case "vn":
		v, err := parseFloats(fields[1:], 3)
		if err != nil {
			return fmt.Errorf("normal: %w", err)
		}
		dec.normals = append(dec.normals, math3d.V3(v[0], v[1], v[2]))
	case "vt":
		v, err := parseFloats(fields[1:], 2)
		if err != nil {
			return fmt.Errorf("texcoord: %w", err)
		}
		dec.uvs = append(dec.uvs, math3d.V2(v[0], v[1]))
	case "o", "g":
		name := ""
		if len(fields) > 1 {
			name = strings.Join(fields[1:], " ")
		}
		dec.startObject(name)
	case "f":
		return dec.parseFace(fields[1:])
	}
	// mtllib, usemtl, s and the rest carry nothing the default material
	// would not replace.
	return nil
}

func (dec *objDecoder) startObject(name string) {
	if name == "" {
		name = fmt.Sprintf("object%d", len(dec.objects))
	}
	// A group line directly after an object line names the same geometry.
	if dec.current != nil && len(dec.current.mesh.Faces) == 0 {
		dec.current.name = name
		dec.current.mesh.Name = name
		return
	}
	ob := &objObject{name: name, mesh: models.NewMesh(name), cache: make(map[[3]int]int)}
	dec.objects = append(dec.objects, ob)
	dec.current = ob
}

// parseFace parses "f v[/vt][/vn] ..." and fan-triangulates polygons.
func (dec *objDecoder) parseFace(fields []string) error {
	if len(fields) < 3 {
		return errors.New("face with fewer than 3 vertices")
	}
	if dec.current == nil {
		dec.startObject(fmt.Sprintf("unnamed%d", dec.line))
	}
	idx := make([]int, len(fields))
	for i, f := range fields {
		key, err := dec.faceVertex(f)
		if err != nil {
			return err
		}
		idx[i] = dec.current.vertex(key, dec)
	}
	m := dec.current.mesh
	for i := 1; i+1 < len(idx); i++ {
		m.Faces = append(m.Faces, models.Face{V: [3]int{idx[0], idx[i], idx[i+1]}, Material: -1})
	}
	return nil
}

// faceVertex resolves the position, texcoord and normal indices of one
// face corner to zero-based values, -1 meaning absent.
func (dec *objDecoder) faceVertex(field string) ([3]int, error) {
	parts := strings.Split(field, "/")
	key := [3]int{-1, -1, -1}
	counts := [3]int{len(dec.positions), len(dec.uvs), len(dec.normals)}
	for i := 0; i < len(parts) && i < 3; i++ {
		if parts[i] == "" {
			if i == 0 {
				return key, errors.New("face vertex without position")
			}
			continue
		}
		v, err := strconv.Atoi(parts[i])
		if err != nil {
			return key, fmt.Errorf("face index %q: %w", parts[i], err)
		}
		switch {
		case v > 0:
			key[i] = v - 1
		case v < 0:
			// Relative to the last element parsed so far.
			key[i] = counts[i] + v
		default:
			return key, errors.New("face index 0")
		}
		if key[i] < 0 || key[i] >= counts[i] {
			return key, fmt.Errorf("face index %d out of range", v)
		}
	}
	return key, nil
}

// vertex returns the mesh vertex for a position/uv/normal triple, adding
// it on first use.
func (ob *objObject) vertex(key [3]int, dec *objDecoder) int {
	if i, ok := ob.cache[key]; ok {
		return i
	}
	v := models.MeshVertex{Position: dec.positions[key[0]]}
	if key[1] >= 0 {
		v.UV = dec.uvs[key[1]]
	}
	if key[2] >= 0 {
		v.Normal = dec.normals[key[2]]
	}
	ob.mesh.Vertices = append(ob.mesh.Vertices, v)
	i := len(ob.mesh.Vertices) - 1
	ob.cache[key] = i
	return i
}

func parseFloats(fields []string, n int) ([]float64, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("need %d values, got %d", n, len(fields))
	}
	out := make([]float64, n)
	for i := range n {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
