// Package ingest turns a user-supplied file into a normalized, attachable
// scene graph. A Session owns the load lifecycle: at most one load is in
// flight, a new load supersedes the previous one, and every resource
// handle a load minted is revoked before its outcome is reported.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/taigrr/showcase/pkg/archive"
	"github.com/taigrr/showcase/pkg/formats"
	"github.com/taigrr/showcase/pkg/models"
	"github.com/taigrr/showcase/pkg/normalize"
	"github.com/taigrr/showcase/pkg/resource"
	"github.com/taigrr/showcase/pkg/snapshot"
)

// ErrClosed is returned by Load after Close.
var ErrClosed = errors.New("session closed")

// Config tunes a Session.
type Config struct {
	MaxFileSize      int64
	MaxExtractedSize int64
	// TargetSize is the largest dimension of a normalized model.
	TargetSize float64
	Default    models.Material
	Logger     *log.Logger
}

// DefaultConfig returns the stock limits and appearance.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:      DefaultMaxFileSize,
		MaxExtractedSize: archive.DefaultMaxExtractedSize,
		TargetSize:       normalize.DefaultTarget,
		Default:          models.DefaultMaterial(),
	}
}

// Callbacks receive the progress and outcome of a load. Exactly one of
// OnLoad and OnError fires per load unless the load is cancelled, in which
// case nothing fires. Any of them may be nil.
type Callbacks struct {
	OnProgress func(percent int, status string)
	OnLoad     func(*Model)
	OnError    func(*Error)
}

// Placeholder says whether a Model stands in for a file that could not be
// shown.
type Placeholder int

const (
	PlaceholderNone Placeholder = iota
	PlaceholderError
	PlaceholderUnsupported
)

func (p Placeholder) String() string {
	switch p {
	case PlaceholderError:
		return "error"
	case PlaceholderUnsupported:
		return "unsupported"
	default:
		return "none"
	}
}

// Model is an attached load result.
type Model struct {
	Name   string
	Format Format
	Digest string
	// Root is the normalized graph returned by the adapter.
	Root *models.Node
	// Wrapper is the attachment node that holds Root. Viewers transform
	// the wrapper, never Root.
	Wrapper       *models.Node
	Normalization normalize.Result
	// Package summarizes the archive for zip inputs.
	Package     *archive.Summary
	Advisories  []string
	Warnings    []string
	Placeholder Placeholder
	// Err is set on error placeholders.
	Err *Error
}

// Stats counts the geometry under the model's root.
func (m *Model) Stats() models.Stats {
	return m.Root.Stats()
}

// Session loads files one at a time and tracks the attached model.
type Session struct {
	reg *resource.Registry
	cfg Config
	log *log.Logger

	wg sync.WaitGroup

	mu         sync.Mutex
	gen        uint64
	cancel     context.CancelFunc
	closed     bool
	current    *Model
	materials  *snapshot.Materials
	transforms *snapshot.Transforms
	override   *models.Material
}

// NewSession creates a session minting handles from reg.
func NewSession(reg *resource.Registry, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.MaxExtractedSize <= 0 {
		cfg.MaxExtractedSize = def.MaxExtractedSize
	}
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = def.TargetSize
	}
	if cfg.Default == (models.Material{}) {
		cfg.Default = def.Default
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		reg:        reg,
		cfg:        cfg,
		log:        logger.WithPrefix("ingest"),
		materials:  new(snapshot.Materials),
		transforms: new(snapshot.Transforms),
	}
}

// begin supersedes any in-flight load and registers a new one.
func (s *Session) begin(parent context.Context) (context.Context, context.CancelFunc, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, 0, ErrClosed
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.gen++
	s.cancel = cancel
	s.wg.Add(1)
	return ctx, cancel, s.gen, nil
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && !s.closed
}

// Load decodes src and attaches the result. It blocks until the load
// finishes, fails or is superseded by another call to Load. The returned
// model and error mirror the callbacks; a cancelled load returns an
// *Error of KindCancelled and fires no callback.
func (s *Session) Load(ctx context.Context, src SourceFile, cb Callbacks) (*Model, error) {
	ctx, cancel, gen, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.wg.Done()
	defer cancel()

	p := &progress{session: s, gen: gen, fn: cb.OnProgress, last: -1}
	format := Dispatch(src)
	logger := s.log.With("file", src.Name(), "format", format)

	var model *Model
	err = s.reg.Within(func(scope *resource.Scope) error {
		m, err := s.run(ctx, scope, src, format, p, logger)
		model = m
		return err
	})
	// Every handle of this load is revoked from here on.

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		lerr := classify(err, format)
		if lerr.Kind == KindCancelled || !s.isCurrent(gen) {
			logger.Debug("load cancelled")
			return nil, newError(KindCancelled, "Loading cancelled", err)
		}
		failed := s.placeholderModel(src, format, PlaceholderError)
		failed.Err = lerr
		if !s.commit(gen, failed) {
			return nil, newError(KindCancelled, "Loading cancelled", err)
		}
		logger.Error("load failed", "kind", lerr.Kind, "err", err)
		if cb.OnError != nil {
			cb.OnError(lerr)
		}
		return failed, lerr
	}

	if !s.commit(gen, model) {
		return nil, newError(KindCancelled, "Loading cancelled", context.Canceled)
	}
	p.report(100, "Model loaded")
	stats := model.Stats()
	logger.Info("model loaded",
		"digest", shortDigest(model.Digest),
		"meshes", stats.Meshes,
		"triangles", stats.Triangles,
		"scale", model.Normalization.Scale,
		"warnings", len(model.Warnings))
	if cb.OnLoad != nil {
		cb.OnLoad(model)
	}
	return model, nil
}

// run is the pipeline proper. It returns an unclassified error.
func (s *Session) run(ctx context.Context, scope *resource.Scope, src SourceFile, format Format, p *progress, logger *log.Logger) (*Model, error) {
	p.report(0, "Preparing")
	p.report(5, "Validating file")
	if err := checkSize(src.Size(), s.cfg.MaxFileSize); err != nil {
		return nil, err
	}
	p.report(10, "Detecting format")
	h, ok := handlers[format]
	if !ok {
		if IsDeferred(src.Ext()) {
			logger.Warn("format not supported yet", "ext", src.Ext())
		} else {
			logger.Warn("unknown format", "ext", src.Ext())
		}
		return s.placeholderModel(src, format, PlaceholderUnsupported), nil
	}

	model := &Model{Name: src.Name(), Format: format, Digest: src.Digest()}
	opts := formats.Options{
		Name:     src.Name(),
		Logger:   logger,
		Default:  s.cfg.Default,
		Progress: p.span(40, 90),
		Warn:     func(msg string) { model.Warnings = append(model.Warnings, msg) },
	}
	data := src.Data()

	if h.archive {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		extract := p.span(15, 35)
		pkg, err := archive.Extract(ctx, data, scope, archive.Options{
			MaxArchiveSize:   s.cfg.MaxFileSize,
			MaxExtractedSize: s.cfg.MaxExtractedSize,
			Logger:           logger,
			Progress:         func(f float64) { extract(f, "Extracting archive") },
		})
		if err != nil {
			return nil, err
		}
		defer pkg.Close()
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		summary := pkg.Summary()
		model.Package = &summary
		model.Warnings = append(model.Warnings, pkg.Warnings...)
		v := pkg.Validate()
		if !v.Valid {
			return nil, fmt.Errorf("invalid package: %w", errors.Join(v.Errors...))
		}
		for _, a := range v.Advisories {
			logger.Warn(a)
		}
		model.Advisories = v.Advisories

		data, err = s.reg.Fetch(pkg.Manifest.URL)
		if err != nil {
			return nil, err
		}
		opts.Name = pkg.Manifest.Name
		opts.Resolver = archive.NewResolver(pkg)
	} else if h.resolve {
		// A lone glTF resolves against an empty package: textures fall
		// back, buffers fail.
		opts.Resolver = archive.NewResolver(nil)
	}
	if h.resolve {
		opts.Fetch = s.reg.Fetch
	}

	root, err := h.adapter.Load(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	formats.ApplyAppearance(root, formats.PolicyFor(h.adapter.Format()), s.cfg.Default)

	p.report(92, "Normalizing")
	model.Normalization = normalize.Normalize(root, s.cfg.TargetSize)
	p.report(95, "Finalizing model")
	model.Root = root
	model.Wrapper = models.NewNode(src.Name())
	model.Wrapper.Add(root)
	return model, ctx.Err()
}

func (s *Session) placeholderModel(src SourceFile, format Format, kind Placeholder) *Model {
	var root *models.Node
	switch kind {
	case PlaceholderUnsupported:
		root = models.UnsupportedPlaceholder()
	default:
		root = models.ErrorPlaceholder()
	}
	wrapper := models.NewNode(src.Name())
	wrapper.Add(root)
	return &Model{
		Name:        src.Name(),
		Format:      format,
		Digest:      src.Digest(),
		Root:        root,
		Wrapper:     wrapper,
		Placeholder: kind,
	}
}

// commit attaches m if gen is still the newest load. It captures fresh
// snapshots and re-applies an active material override.
func (s *Session) commit(gen uint64, m *Model) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.closed {
		return false
	}
	s.current = m
	s.materials = new(snapshot.Materials)
	s.transforms = new(snapshot.Transforms)
	s.materials.CaptureTree(m.Root)
	s.transforms.CaptureOnce(m.Wrapper)
	if s.override != nil && m.Placeholder == PlaceholderNone {
		applyOverride(m.Root, *s.override)
	}
	return true
}

// Current returns the attached model, or nil before the first load.
func (s *Session) Current() *Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ResetTransform puts the wrapper back where it was attached. It does
// nothing before a load.
func (s *Session) ResetTransform() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	s.transforms.Restore(s.current.Wrapper)
}

// ResetMaterials restores every mesh's original materials and drops any
// override. It does nothing before a load.
func (s *Session) ResetMaterials() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = nil
	if s.current == nil {
		return
	}
	s.materials.RestoreTree(s.current.Root)
}

// ApplyMaterial replaces every material of the attached model with m.
// The override is re-applied to models loaded later until cleared.
func (s *Session) ApplyMaterial(m models.Material) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = &m
	if s.current == nil || s.current.Placeholder != PlaceholderNone {
		return
	}
	s.materials.CaptureTree(s.current.Root)
	applyOverride(s.current.Root, m)
}

// ClearOverride drops the override and restores the original materials.
func (s *Session) ClearOverride() {
	s.ResetMaterials()
}

// Override returns the active material override.
func (s *Session) Override() (models.Material, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.override == nil {
		return models.Material{}, false
	}
	return *s.override, true
}

func applyOverride(root *models.Node, m models.Material) {
	for _, mesh := range root.Meshes() {
		for i := range mesh.Materials {
			mesh.Materials[i] = m
		}
	}
}

// Close cancels the in-flight load, waits for it to return and rejects
// further loads.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// progress maps pipeline stages onto monotonic percentages and drops
// reports from superseded loads.
type progress struct {
	session *Session
	gen     uint64
	fn      func(int, string)
	last    int
}

func (p *progress) report(percent int, status string) {
	if p.fn == nil || percent < p.last || !p.session.isCurrent(p.gen) {
		return
	}
	p.last = percent
	p.fn(percent, status)
}

// span maps a stage's own fraction in [0,1] onto [lo,hi].
func (p *progress) span(lo, hi int) func(float64, string) {
	return func(f float64, status string) {
		f = math.Max(0, math.Min(1, f))
		p.report(lo+int(math.Round(f*float64(hi-lo))), status)
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
