package ingest

import (
	"github.com/taigrr/showcase/pkg/formats"
)

// Format is the closed set of input variants a SourceFile dispatches to.
type Format int

const (
	FormatUnsupported Format = iota
	FormatSTL
	FormatOBJ
	FormatGLTF
	FormatGLB
	FormatFBX
	FormatCollada
	Format3DS
	FormatArchive
)

var formatNames = [...]string{
	FormatUnsupported: "unsupported",
	FormatSTL:         "stl",
	FormatOBJ:         "obj",
	FormatGLTF:        "gltf",
	FormatGLB:         "glb",
	FormatFBX:         "fbx",
	FormatCollada:     "dae",
	Format3DS:         "3ds",
	FormatArchive:     "zip",
}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return formatNames[FormatUnsupported]
	}
	return formatNames[f]
}

// MarshalText renders the format by name in YAML and JSON output.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

var byExt = map[string]Format{
	"stl":  FormatSTL,
	"obj":  FormatOBJ,
	"gltf": FormatGLTF,
	"glb":  FormatGLB,
	"fbx":  FormatFBX,
	"dae":  FormatCollada,
	"3ds":  Format3DS,
	"zip":  FormatArchive,
}

// deferred formats are recognized but need external kernels or parsers
// this module does not ship.
var deferred = map[string]bool{
	"vtk":  true,
	"stp":  true,
	"step": true,
	"msh":  true,
}

// Dispatch picks the format variant by the file's extension.
func Dispatch(src SourceFile) Format {
	return byExt[src.Ext()]
}

// IsDeferred reports whether ext names a known format that is not
// decoded yet.
func IsDeferred(ext string) bool {
	return deferred[ext]
}

// handler says how a format variant is decoded.
type handler struct {
	adapter formats.Adapter
	// archive formats are extracted first and the manifest is decoded.
	archive bool
	// resolve formats may reference external files.
	resolve bool
}

var handlers = map[Format]handler{
	FormatSTL:     {adapter: formats.STL{}},
	FormatOBJ:     {adapter: formats.OBJ{}},
	FormatGLTF:    {adapter: formats.GLTF{}, resolve: true},
	FormatGLB:     {adapter: formats.GLTF{}, resolve: true},
	FormatFBX:     {adapter: formats.FBX{}},
	FormatCollada: {adapter: formats.Collada{}},
	Format3DS:     {adapter: formats.TDS{}},
	FormatArchive: {adapter: formats.GLTF{}, archive: true, resolve: true},
}
