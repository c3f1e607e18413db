// Package formats decodes 3D asset files into the format-neutral scene
// graph of package models. Every decoder implements Adapter.
package formats

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/taigrr/showcase/pkg/models"
)

// Adapter decodes one file format.
type Adapter interface {
	// Format returns the short lower-case format name.
	Format() string
	// Load decodes data into a scene graph rooted at a fresh node.
	Load(ctx context.Context, data []byte, opts Options) (*models.Node, error)
}

// Resolver maps a reference found inside a file to a fetchable locator.
type Resolver interface {
	Resolve(ref string) (string, error)
}

// Options carries everything an adapter may need besides the bytes.
type Options struct {
	Name     string
	Resolver Resolver
	// Fetch returns the bytes behind a locator returned by Resolver.
	Fetch func(locator string) ([]byte, error)
	// Progress receives the adapter's own completion in [0,1].
	Progress func(fraction float64, status string)
	// Warn records a non-fatal problem on the load result.
	Warn    func(msg string)
	Logger  *log.Logger
	Default models.Material
}

func (o Options) progress(fraction float64, status string) {
	if o.Progress != nil {
		o.Progress(fraction, status)
	}
}

func (o Options) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	o.logger().Warn(msg, "file", o.Name)
	if o.Warn != nil {
		o.Warn(msg)
	}
}

func (o Options) logger() *log.Logger {
	if o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

// Reason classifies a decode failure.
type Reason int

const (
	ReasonParse Reason = iota
	ReasonMissingBuffer
	ReasonUnsupportedVariant
)

func (r Reason) String() string {
	switch r {
	case ReasonMissingBuffer:
		return "missing buffer"
	case ReasonUnsupportedVariant:
		return "unsupported variant"
	default:
		return "parse error"
	}
}

// DecodeError reports why an adapter could not produce a scene graph.
type DecodeError struct {
	Format string
	Reason Reason
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s: %v", e.Format, e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// errTruncated is returned by the binary readers when a read runs past
// the end of the input.
var errTruncated = errors.New("unexpected end of data")

func parseError(format string, err error) error {
	return &DecodeError{Format: format, Reason: ReasonParse, Err: err}
}

// Policy decides what happens to a file's own materials after decoding.
type Policy int

const (
	// PolicyReplace discards file materials in favor of the default.
	PolicyReplace Policy = iota
	// PolicyPreserve keeps file materials, forces them double-sided and
	// fills gaps with the default.
	PolicyPreserve
)

// PolicyFor returns the appearance policy of a format.
func PolicyFor(format string) Policy {
	switch format {
	case FormatSTL, FormatOBJ:
		return PolicyReplace
	default:
		return PolicyPreserve
	}
}

// ApplyAppearance enforces policy p on every mesh under root.
func ApplyAppearance(root *models.Node, p Policy, def models.Material) {
	for _, m := range root.Meshes() {
		if p == PolicyReplace {
			m.Materials = []models.Material{def}
			for i := range m.Faces {
				m.Faces[i].Material = 0
			}
			continue
		}

		for i := range m.Materials {
			m.Materials[i].DoubleSided = true
		}
		fallback := -1
		for i := range m.Faces {
			f := &m.Faces[i]
			if f.Material >= 0 && f.Material < len(m.Materials) {
				continue
			}
			if fallback < 0 {
				m.Materials = append(m.Materials, def)
				fallback = len(m.Materials) - 1
			}
			f.Material = fallback
		}
	}
}

// Format names returned by Adapter.Format.
const (
	FormatSTL     = "stl"
	FormatOBJ     = "obj"
	FormatGLTF    = "gltf"
	FormatFBX     = "fbx"
	FormatCollada = "collada"
	Format3DS     = "3ds"
)
