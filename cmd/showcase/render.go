package main

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"

	"github.com/taigrr/showcase/pkg/ingest"
	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
	"github.com/taigrr/showcase/pkg/render"
)

type renderOptions struct {
	png       string
	width     int
	height    int
	yaw       float64
	pitch     float64
	preset    string
	wireframe bool
}

func newRenderCmd(a *app) *cobra.Command {
	var opts renderOptions
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render one frame of a model to the terminal or a PNG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.render(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.png, "png", "", "write the frame to this PNG file instead of the terminal")
	f.IntVar(&opts.width, "width", 80, "frame width in pixels (terminal columns)")
	f.IntVar(&opts.height, "height", 48, "frame height in pixels (two per terminal row)")
	f.Float64Var(&opts.yaw, "yaw", 30, "yaw in degrees")
	f.Float64Var(&opts.pitch, "pitch", 20, "pitch in degrees")
	f.StringVar(&opts.preset, "shading", "", "material override: standard, basic, phong or lambert")
	f.BoolVar(&opts.wireframe, "wireframe", false, "draw the wireframe preset")
	return cmd
}

func (a *app) render(ctx context.Context, out io.Writer, path string, opts renderOptions) error {
	if opts.width <= 0 || opts.height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", opts.width, opts.height)
	}
	override, err := a.override(opts.preset, opts.wireframe)
	if err != nil {
		return err
	}

	sess := a.newSession()
	defer sess.Close()

	m, err := a.loadFile(ctx, sess, path, ingest.Callbacks{
		OnProgress: func(percent int, status string) {
			a.logger.Debug("progress", "percent", percent, "status", status)
		},
	})
	if err != nil && m == nil {
		return err
	}
	if err != nil {
		// The error placeholder is still drawn.
		a.logger.Error("load failed", "err", err)
	}
	if override != nil {
		sess.ApplyMaterial(*override)
	}
	for _, w := range m.Warnings {
		a.logger.Warn(w)
	}

	m.Wrapper.Rotation = math3d.QuatFromEuler(opts.pitch*math.Pi/180, opts.yaw*math.Pi/180, 0)

	r := render.NewRenderer(opts.width, opts.height)
	r.Background = a.cfg.Background()
	r.FrameNode(m.Wrapper)
	fb := r.Render(m.Wrapper)
	a.logger.Debug("rendered",
		"meshes", r.Stats.Meshes,
		"culled", r.Stats.Culled,
		"triangles", r.Stats.Triangles,
		"backfaces", r.Stats.BackFaces)

	if opts.png != "" {
		if err := fb.SavePNG(opts.png); err != nil {
			return fmt.Errorf("save png: %w", err)
		}
		a.logger.Info("wrote frame", "file", opts.png, "width", opts.width, "height", opts.height)
		return nil
	}
	_, err = io.WriteString(out, fb.String()+"\n")
	return err
}

// override resolves the --shading and --wireframe flags to a material,
// or nil when neither is set.
func (a *app) override(shading string, wireframe bool) (*models.Material, error) {
	if shading == "" && !wireframe {
		return nil, nil
	}
	var o models.Override
	if wireframe {
		o = models.Override{Shading: models.ShadingBasic, Wireframe: true}
	} else {
		found := false
		for _, p := range models.Presets {
			if !p.Wireframe && p.Shading.String() == shading {
				o, found = p, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown shading %q", shading)
		}
	}
	mat := presetMaterial(o, a.cfg.DefaultMaterial())
	return &mat, nil
}
