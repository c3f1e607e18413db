package formats

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
)

// STL loads binary and ASCII stereolithography files.
type STL struct{}

func (STL) Format() string { return FormatSTL }

const (
	stlHeaderSize = 80
	stlFacetSize  = 50
)

// Load decodes an STL triangle soup into a single mesh.
func (STL) Load(ctx context.Context, data []byte, opts Options) (*models.Node, error) {
	var (
		mesh *models.Mesh
		err  error
	)
	if isBinarySTL(data) {
		mesh, err = readBinarySTL(ctx, data, opts)
	} else {
		mesh, err = readASCIISTL(ctx, data, opts)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, parseError(FormatSTL, err)
	}
	if len(mesh.Faces) == 0 {
		return nil, parseError(FormatSTL, errors.New("no facets"))
	}
	mesh.Finish()

	root := models.NewNode(opts.Name)
	root.Add(models.NewMeshNode(mesh))
	return root, nil
}

// isBinarySTL trusts the facet count when it accounts for the file size
// exactly. Many binary files start with "solid" too.
func isBinarySTL(data []byte) bool {
	if len(data) < stlHeaderSize+4 {
		return false
	}
	n := binary.LittleEndian.Uint32(data[stlHeaderSize:])
	return uint64(stlHeaderSize+4)+uint64(n)*stlFacetSize == uint64(len(data))
}

func readBinarySTL(ctx context.Context, data []byte, opts Options) (*models.Mesh, error) {
	n := int(binary.LittleEndian.Uint32(data[stlHeaderSize:]))
	mesh := models.NewMesh(opts.Name)
	mesh.Vertices = make([]models.MeshVertex, 0, n*3)
	mesh.Faces = make([]models.Face, 0, n)

	off := stlHeaderSize + 4
	for i := range n {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			opts.progress(float64(i)/float64(n), "Reading facets")
		}
		rec := data[off : off+stlFacetSize]
		normal := readVec3f(rec)
		base := len(mesh.Vertices)
		for k := range 3 {
			mesh.Vertices = append(mesh.Vertices, models.MeshVertex{
				Position: readVec3f(rec[12+k*12:]),
				Normal:   normal,
			})
		}
		mesh.Faces = append(mesh.Faces, models.Face{V: [3]int{base, base + 1, base + 2}, Material: -1})
		off += stlFacetSize
	}
	opts.progress(1, "Reading facets")
	return mesh, nil
}

func readVec3f(b []byte) math3d.Vec3 {
	return math3d.V3(
		float64(math.Float32frombits(binary.LittleEndian.Uint32(b))),
		float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4:]))),
		float64(math.Float32frombits(binary.LittleEndian.Uint32(b[8:]))),
	)
}

func readASCIISTL(ctx context.Context, data []byte, opts Options) (*models.Mesh, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("solid")) {
		return nil, errors.New("neither binary nor ASCII STL")
	}
	mesh := models.NewMesh(opts.Name)

	var (
		normal math3d.Vec3
		facet  []math3d.Vec3
		line   int
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line++
		if line%8192 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "facet":
			facet = facet[:0]
			normal = math3d.Vec3{}
			if len(fields) == 5 && fields[1] == "normal" {
				v, err := parseVec3(fields[2:])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				normal = v
			}
		case "vertex":
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", line)
			}
			v, err := parseVec3(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			facet = append(facet, v)
		case "endfacet":
			if len(facet) < 3 {
				return nil, fmt.Errorf("line %d: facet with %d vertices", line, len(facet))
			}
			base := len(mesh.Vertices)
			for _, p := range facet {
				mesh.Vertices = append(mesh.Vertices, models.MeshVertex{Position: p, Normal: normal})
			}
			for k := 1; k+1 < len(facet); k++ {
				mesh.Faces = append(mesh.Faces, models.Face{V: [3]int{base, base + k, base + k + 1}, Material: -1})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return mesh, nil
}

func parseVec3(fields []string) (math3d.Vec3, error) {
	var xyz [3]float64
	for i := range 3 {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return math3d.Vec3{}, err
		}
		xyz[i] = f
	}
	return math3d.V3(xyz[0], xyz[1], xyz[2]), nil
}
