package main

import (
	"context"
	"fmt"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/taigrr/showcase/pkg/archive"
	"github.com/taigrr/showcase/pkg/ingest"
	"github.com/taigrr/showcase/pkg/resource"
)

// UnpackReport lists the classified entries of a zipped glTF package.
type UnpackReport struct {
	File       string          `yaml:"file"`
	Entries    []UnpackEntry   `yaml:"entries"`
	Summary    archive.Summary `yaml:"summary"`
	Valid      bool            `yaml:"valid"`
	Errors     []string        `yaml:"errors,omitempty"`
	Advisories []string        `yaml:"advisories,omitempty"`
	Warnings   []string        `yaml:"warnings,omitempty"`
}

type UnpackEntry struct {
	Path    string `yaml:"path"`
	Class   string `yaml:"class"`
	Size    int    `yaml:"size"`
	Ignored bool   `yaml:"ignored,omitempty"`
}

func newUnpackCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "unpack <archive.zip>",
		Short: "Classify the entries of a zipped glTF package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			report, err := a.unpack(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			return writeOutput(w, output, report, func() error {
				_, err := lipgloss.Fprintln(w, report.text())
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, yaml or cbor")
	return cmd
}

// unpack extracts path into a scope that is released before returning;
// the report only keeps names, classes and sizes.
func (a *app) unpack(ctx context.Context, path string) (*UnpackReport, error) {
	src, err := ingest.ReadSource(path, a.cfg.Ingest.MaxFileSize)
	if err != nil {
		return nil, err
	}

	report := &UnpackReport{File: path}
	reg := resource.NewRegistry()
	err = reg.Within(func(scope *resource.Scope) error {
		pkg, err := archive.Extract(ctx, src.Data(), scope, archive.Options{
			MaxArchiveSize:   a.cfg.Ingest.MaxFileSize,
			MaxExtractedSize: a.cfg.Ingest.MaxExtractedSize,
			Logger:           a.logger.WithPrefix("archive"),
		})
		if err != nil {
			return err
		}
		defer pkg.Close()

		for _, e := range pkg.Entries {
			entry := UnpackEntry{Path: e.Path, Class: e.Class.String(), Ignored: e.Ignored}
			if e.Handle != nil {
				entry.Size = e.Handle.Size
			}
			report.Entries = append(report.Entries, entry)
		}
		report.Summary = pkg.Summary()
		v := pkg.Validate()
		report.Valid = v.Valid
		for _, err := range v.Errors {
			report.Errors = append(report.Errors, err.Error())
		}
		report.Advisories = v.Advisories
		report.Warnings = pkg.Warnings
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", path, err)
	}
	a.logger.Debug("unpacked", "file", path, "entries", len(report.Entries), "live", reg.Live())
	return report, nil
}

var (
	classStyles = map[string]lipgloss.Style{
		"manifest": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5fd7ff")),
		"buffer":   lipgloss.NewStyle().Foreground(lipgloss.Color("#5fff87")),
		"texture":  lipgloss.NewStyle().Foreground(lipgloss.Color("#ffaf5f")),
		"other":    lipgloss.NewStyle().Faint(true),
	}
	classColumn = lipgloss.NewStyle().Width(10)
	sizeColumn  = lipgloss.NewStyle().Width(12).Align(lipgloss.Right).PaddingRight(2)
)

func (r *UnpackReport) text() string {
	rows := []string{reportTitle.Render(r.File)}
	for _, e := range r.Entries {
		style := classStyles[e.Class]
		if e.Ignored {
			style = classStyles["other"]
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			classColumn.Render(style.Render(e.Class)),
			sizeColumn.Render(fmt.Sprint(e.Size)),
			e.Path,
		))
	}
	s := r.Summary
	rows = append(rows, "", fmt.Sprintf("%d buffers, %d textures, %d other, %d references",
		s.Buffers, s.Textures, s.Others, s.References))
	if r.Valid {
		rows = append(rows, classStyles["buffer"].Render("valid"))
	}
	for _, e := range r.Errors {
		rows = append(rows, reportError.Render(e))
	}
	for _, s := range r.Advisories {
		rows = append(rows, reportWarn.Render(s))
	}
	for _, s := range r.Warnings {
		rows = append(rows, reportWarn.Render(s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
