package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/taigrr/showcase/pkg/archive"
	"github.com/taigrr/showcase/pkg/ingest"
	"github.com/taigrr/showcase/pkg/models"
	"github.com/taigrr/showcase/pkg/normalize"
)

// Report describes one loaded file.
type Report struct {
	File          string            `yaml:"file"`
	Name          string            `yaml:"name"`
	Format        ingest.Format     `yaml:"format"`
	Digest        string            `yaml:"digest,omitempty"`
	Stats         models.Stats      `yaml:"stats"`
	Normalization *normalize.Result `yaml:"normalization,omitempty"`
	Package       *archive.Summary  `yaml:"package,omitempty"`
	Advisories    []string          `yaml:"advisories,omitempty"`
	Warnings      []string          `yaml:"warnings,omitempty"`
	Error         string            `yaml:"error,omitempty"`
	ErrorKind     string            `yaml:"error_kind,omitempty"`
}

func newInspectCmd(a *app) *cobra.Command {
	var output string
	var jobs int
	cmd := &cobra.Command{
		Use:   "inspect <file>...",
		Short: "Load model files and print what they contain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			reports, err := a.inspect(cmd.Context(), args, jobs)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			return writeOutput(w, output, reports, func() error { return writeReports(w, reports) })
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, yaml or cbor")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "files loaded at once")
	return cmd
}

// inspect loads every file in its own session. A file that fails to load
// still yields a report; only cancellation aborts the whole run.
func (a *app) inspect(ctx context.Context, paths []string, jobs int) ([]Report, error) {
	reports := make([]Report, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, path := range paths {
		g.Go(func() error {
			sess := a.newSession()
			defer sess.Close()

			m, err := a.loadFile(ctx, sess, path, ingest.Callbacks{})
			if err != nil && ingest.IsCancelled(err) {
				return err
			}
			reports[i] = newReport(path, m, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func newReport(path string, m *ingest.Model, err error) Report {
	name := filepath.Base(path)
	r := Report{
		File:   path,
		Name:   name,
		Format: ingest.Dispatch(ingest.NewSourceFile(name, nil)),
	}
	if err != nil {
		r.Error = err.Error()
		var lerr *ingest.Error
		if errors.As(err, &lerr) {
			r.ErrorKind = lerr.Kind.String()
		}
	}
	if m == nil {
		return r
	}
	r.Name = m.Name
	r.Format = m.Format
	r.Digest = m.Digest
	r.Stats = m.Stats()
	r.Package = m.Package
	r.Advisories = m.Advisories
	r.Warnings = m.Warnings
	if m.Placeholder == ingest.PlaceholderNone {
		n := m.Normalization
		r.Normalization = &n
	}
	return r
}

var (
	reportTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5fd7ff"))
	reportLabel = lipgloss.NewStyle().Faint(true).Width(14)
	reportWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffff5f"))
	reportError = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f"))
)

func writeReports(w io.Writer, reports []Report) error {
	for i, r := range reports {
		if i > 0 {
			if _, err := lipgloss.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := lipgloss.Fprintln(w, r.text()); err != nil {
			return err
		}
	}
	return nil
}

func (r Report) text() string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, reportLabel.Render(label), value)
	}
	lines := []string{reportTitle.Render(r.Name)}
	if r.Error != "" {
		lines = append(lines, row("error", reportError.Render(r.Error)))
	}
	lines = append(lines, row("format", r.Format.String()))
	if r.Digest != "" {
		lines = append(lines, row("digest", r.Digest))
	}
	lines = append(lines,
		row("nodes", fmt.Sprint(r.Stats.Nodes)),
		row("meshes", fmt.Sprint(r.Stats.Meshes)),
		row("vertices", fmt.Sprint(r.Stats.Vertices)),
		row("triangles", fmt.Sprint(r.Stats.Triangles)),
		row("materials", fmt.Sprint(r.Stats.Materials)),
	)
	if n := r.Normalization; n != nil {
		lines = append(lines, row("scale", fmt.Sprintf("%.4g", n.Scale)))
	}
	if p := r.Package; p != nil {
		lines = append(lines, row("package", fmt.Sprintf("%d buffers, %d textures, %d other",
			p.Buffers, p.Textures, p.Others)))
	}
	for _, s := range r.Advisories {
		lines = append(lines, row("advisory", reportWarn.Render(s)))
	}
	for _, s := range r.Warnings {
		lines = append(lines, row("warning", reportWarn.Render(s)))
	}
	return strings.Join(lines, "\n")
}
