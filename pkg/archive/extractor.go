// Package archive unpacks zip bundles of a glTF manifest with its buffers
// and textures, and resolves the manifest's references against them.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/h2non/filetype"
	"github.com/klauspost/compress/zip"

	"github.com/taigrr/showcase/pkg/resource"
)

// Size limits applied when no option overrides them.
const (
	DefaultMaxArchiveSize   = 100 * 1024 * 1024
	DefaultMaxExtractedSize = 1 << 30
)

var (
	// ErrCorrupt is returned when the container cannot be read.
	ErrCorrupt = errors.New("archive corrupt")
	// ErrNoManifest is reported by Validate when no .gltf entry exists.
	ErrNoManifest = errors.New("no .gltf file found in archive")
	// ErrMissingBuffer is returned when a .bin reference cannot be resolved.
	ErrMissingBuffer = errors.New("missing required buffer")
)

// Class is the role an archive entry plays for the manifest.
type Class int

const (
	ClassOther Class = iota
	ClassManifest
	ClassBuffer
	ClassTexture
)

func (c Class) String() string {
	switch c {
	case ClassManifest:
		return "manifest"
	case ClassBuffer:
		return "buffer"
	case ClassTexture:
		return "texture"
	default:
		return "other"
	}
}

var textureExts = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "webp": true,
	"ktx2": true, "dds": true, "hdr": true,
}

// IsTextureExt reports whether ext (lower-case, no dot) names an image
// container a manifest may reference.
func IsTextureExt(ext string) bool {
	return textureExts[ext]
}

// Classify returns the class of an entry by its extension.
func Classify(name string) Class {
	switch ext := extOf(name); {
	case ext == "gltf":
		return ClassManifest
	case ext == "bin":
		return ClassBuffer
	case IsTextureExt(ext):
		return ClassTexture
	default:
		return ClassOther
	}
}

func extOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// Options tunes extraction.
type Options struct {
	MaxArchiveSize   int64
	MaxExtractedSize int64
	Logger           *log.Logger
	// Progress receives the fraction of entries processed.
	Progress func(fraction float64)
}

func (o Options) withDefaults() Options {
	if o.MaxArchiveSize <= 0 {
		o.MaxArchiveSize = DefaultMaxArchiveSize
	}
	if o.MaxExtractedSize <= 0 {
		o.MaxExtractedSize = DefaultMaxExtractedSize
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Entry describes one extracted file.
type Entry struct {
	Path   string
	Class  Class
	Handle *resource.Handle
	// Ignored marks a manifest after the first. It stays resolvable but
	// counts toward no bucket.
	Ignored bool
}

// Package is the immutable result of Extract.
type Package struct {
	Manifest *resource.Handle
	Buffers  []*resource.Handle
	Textures []*resource.Handle
	Others   []*resource.Handle
	Entries  []Entry
	Warnings []string

	refs map[string]*resource.Handle
}

// Extract reads a zip archive and mints a handle through scope for every
// file in it. Every handle is registered under its exact path, its bare
// file name and, when different, its backslash-normalized path.
func Extract(ctx context.Context, data []byte, scope *resource.Scope, opts Options) (*Package, error) {
	opts = opts.withDefaults()
	if int64(len(data)) > opts.MaxArchiveSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrCorrupt, len(data), opts.MaxArchiveSize)
	}
	if !filetype.Is(data, "zip") {
		return nil, fmt.Errorf("%w: not a zip container", ErrCorrupt)
	}
	// Insecure entry names come back with a usable reader. Entries are
	// never written to disk, so only a missing reader is fatal.
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if zr == nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	pkg := &Package{refs: make(map[string]*resource.Handle)}
	var total int64
	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.Progress != nil {
			opts.Progress(float64(i) / float64(len(zr.File)))
		}
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}

		body, err := readEntry(f, opts.MaxExtractedSize-total)
		if err != nil {
			return nil, err
		}
		total += int64(len(body))

		h := scope.Mint(f.Name, body)
		entry := Entry{Path: f.Name, Class: Classify(f.Name), Handle: h}
		switch entry.Class {
		case ClassManifest:
			if pkg.Manifest != nil {
				opts.Logger.Warn("ignoring extra manifest", "entry", f.Name, "manifest", pkg.Manifest.Name)
				pkg.Warnings = append(pkg.Warnings, fmt.Sprintf("ignored extra manifest %s", f.Name))
				entry.Ignored = true
				break
			}
			pkg.Manifest = h
		case ClassBuffer:
			pkg.Buffers = append(pkg.Buffers, h)
		case ClassTexture:
			pkg.Textures = append(pkg.Textures, h)
		default:
			pkg.Others = append(pkg.Others, h)
		}
		pkg.Entries = append(pkg.Entries, entry)
		pkg.register(f.Name, h)
	}
	if opts.Progress != nil {
		opts.Progress(1)
	}
	opts.Logger.Debug("archive extracted", "entries", len(pkg.Entries), "bytes", total)
	return pkg, nil
}

func readEntry(f *zip.File, budget int64) ([]byte, error) {
	if budget <= 0 || f.UncompressedSize64 > uint64(budget) {
		return nil, fmt.Errorf("%w: extracted size exceeds limit at %s", ErrCorrupt, f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrCorrupt, f.Name, err)
	}
	defer rc.Close()

	// The header size can lie, so the read itself is capped too.
	body, err := io.ReadAll(io.LimitReader(rc, budget+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrCorrupt, f.Name, err)
	}
	if int64(len(body)) > budget {
		return nil, fmt.Errorf("%w: extracted size exceeds limit at %s", ErrCorrupt, f.Name)
	}
	return body, nil
}

func (p *Package) register(name string, h *resource.Handle) {
	norm := strings.ReplaceAll(name, `\`, "/")
	p.refs[name] = h
	p.refs[path.Base(norm)] = h
	if norm != name {
		p.refs[norm] = h
	}
}

// Lookup returns the handle registered under key.
func (p *Package) Lookup(key string) (*resource.Handle, bool) {
	if p == nil {
		return nil, false
	}
	h, ok := p.refs[key]
	return h, ok
}

// Close drops the reference table. Revoking the handles is the owning
// scope's job.
func (p *Package) Close() {
	if p == nil {
		return
	}
	p.refs = nil
}

// Validation is the outcome of Validate.
type Validation struct {
	Valid      bool
	Errors     []error
	Advisories []string
}

// Validate checks the package can be handed to the glTF adapter.
func (p *Package) Validate() Validation {
	v := Validation{Valid: true}
	if p.Manifest == nil {
		v.Valid = false
		v.Errors = append(v.Errors, ErrNoManifest)
		return v
	}
	if len(p.Buffers) == 0 && len(p.Textures) == 0 {
		v.Advisories = append(v.Advisories,
			"Archive contains only a .gltf file. Consider using GLB format for single-file uploads.")
	}
	return v
}

// Summary counts what the archive contained.
type Summary struct {
	ManifestPresent bool `yaml:"manifest_present"`
	Buffers         int  `yaml:"buffers"`
	Textures        int  `yaml:"textures"`
	Others          int  `yaml:"others"`
	References      int  `yaml:"references"`
}

// Summary returns entry counts by class and the size of the reference table.
func (p *Package) Summary() Summary {
	return Summary{
		ManifestPresent: p.Manifest != nil,
		Buffers:         len(p.Buffers),
		Textures:        len(p.Textures),
		Others:          len(p.Others),
		References:      len(p.refs),
	}
}
