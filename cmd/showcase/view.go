package main

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/spf13/cobra"

	"github.com/taigrr/showcase/pkg/ingest"
	"github.com/taigrr/showcase/pkg/math3d"
	"github.com/taigrr/showcase/pkg/models"
	"github.com/taigrr/showcase/pkg/render"
)

const viewHelp = `Controls:
  Mouse drag  rotate the model
  Scroll      zoom in/out
  W/S/A/D     pitch and yaw
  Q/E         roll
  Space       random spin
  R           reset transform
  M           reset materials
  C           cycle material presets
  X           toggle wireframe
  L           position light (mouse to aim, click to set)
  ?           toggle HUD
  Esc         quit`

func newViewCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <file>",
		Short: "Open a model in the interactive terminal viewer",
		Long:  "Open a model in the interactive terminal viewer.\n\n" + viewHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), args[0])
		},
	}
	cmd.Flags().Int("fps", 60, "target frames per second")
	if err := a.v.BindPFlag("view.fps", cmd.Flags().Lookup("fps")); err != nil {
		panic(err)
	}
	return cmd
}

const (
	torqueStrength = 3.0
	minZoom        = 0.3
	maxZoom        = 4.0
)

// viewer is the state owned by the render loop. Only loader progress
// crosses in from another goroutine, and that goes through the HUD.
type viewer struct {
	sess     *ingest.Session
	renderer *render.Renderer
	spin     *Spin
	hud      *HUD
	loading  *models.Node
	// failed is set by the loader when the file never reached the
	// session, for example when it is too large.
	failed atomic.Bool

	width, height int
	resized       bool

	torque math3d.Vec3     // pitch, yaw, roll
	preset int             // index into models.Presets, -1 without an override
	base   models.Material

	// Camera distance and scene radius from the last fit; zoom scales
	// the distance.
	zoom   float64
	dist   float64
	radius float64

	lightMode    bool
	pendingLight math3d.Vec3

	attached  *ingest.Model
	needFit   bool
	mouseDown bool
	lastX     int
	lastY     int
}

func (a *app) view(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := a.newSession()
	defer sess.Close()

	name := filepath.Base(path)
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	v := &viewer{
		sess:     sess,
		renderer: render.NewRenderer(1, 1),
		spin:     NewSpin(a.cfg.View.FPS),
		hud:      NewHUD(name),
		loading:  models.LoadingPlaceholder(ext),
		preset:   -1,
		base:     a.cfg.DefaultMaterial(),
		zoom:     1,
		needFit:  true,
	}
	v.renderer.Background = a.cfg.Background()

	go func() {
		m, err := a.loadFile(ctx, sess, path, ingest.Callbacks{
			OnProgress: v.hud.SetProgress,
			OnError:    func(e *ingest.Error) { v.hud.SetError(e.Error()) },
		})
		if err != nil && !ingest.IsCancelled(err) {
			a.logger.Debug("load finished with error", "err", err)
			if m == nil {
				v.failed.Store(true)
			}
		}
	}()

	term := uv.DefaultTerminal()
	width, height, err := term.GetSize()
	if err != nil {
		return fmt.Errorf("get terminal size: %w", err)
	}
	if err := term.Start(); err != nil {
		return fmt.Errorf("start terminal: %w", err)
	}
	term.EnterAltScreen()
	term.HideCursor()
	if err := term.Resize(width, height); err != nil {
		return fmt.Errorf("resize terminal: %w", err)
	}
	fmt.Fprint(os.Stdout, "\x1b[?1003h") // any-event mouse tracking
	fmt.Fprint(os.Stdout, "\x1b[?1006h") // SGR extended mouse mode

	defer func() {
		fmt.Fprint(os.Stdout, "\x1b[?1003l")
		fmt.Fprint(os.Stdout, "\x1b[?1006l")
		term.ExitAltScreen()
		term.ShowCursor()
		_ = term.Shutdown(context.Background())
	}()

	v.width, v.height = width, height
	v.renderer.Resize(width, height*2)

	frame := time.Second / time.Duration(max(a.cfg.View.FPS, 1))
	last := time.Now()
	events := term.Events()
	for {
		// Events are handled here rather than in their own goroutine so
		// the session and camera have a single owner.
	drain:
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-events:
				if v.handle(ev) {
					return nil
				}
			default:
				break drain
			}
		}

		if v.resized {
			v.resized = false
			term.Erase()
			if err := term.Resize(v.width, v.height); err != nil {
				return fmt.Errorf("resize terminal: %w", err)
			}
			v.renderer.Resize(v.width, v.height*2)
			v.needFit = true
		}

		now := time.Now()
		dt := math.Min(now.Sub(last).Seconds(), 0.1)
		last = now
		v.step(dt)

		root := v.scene()
		light := v.renderer.Light
		if v.lightMode {
			v.renderer.Light.Direction = v.pendingLight
		}
		fb := v.renderer.Render(root)
		v.renderer.Light = light

		v.hud.Tick()
		area := uv.Rect(0, 0, v.width, v.height)
		fb.Draw(term, area)
		v.hud.Draw(term, area, v.status(), v.lightMode)
		if err := term.Display(); err != nil {
			return fmt.Errorf("display: %w", err)
		}

		if elapsed := time.Since(now); elapsed < frame {
			time.Sleep(frame - elapsed)
		}
	}
}

// scene returns the graph to draw this frame. The camera is refit the
// first time a model is attached and after every resize.
func (v *viewer) scene() *models.Node {
	root := v.loading
	if v.failed.Load() && v.attached == nil {
		v.loading = models.ErrorPlaceholder()
		v.failed.Store(false)
		v.needFit = true
		root = v.loading
	}
	if m := v.sess.Current(); m != nil {
		if m != v.attached {
			v.attached = m
			v.spin.Reset()
			v.hud.SetModel(m)
			v.needFit = true
		}
		root = m.Wrapper
		root.Rotation = v.spin.Orientation()
	}
	if v.needFit {
		v.needFit = false
		v.fit(root)
	}
	return root
}

// fit frames root from the default viewing direction and records the
// distance that zoom scales.
func (v *viewer) fit(root *models.Node) {
	cam := v.renderer.Camera
	cam.SetPosition(math3d.V3(0, 0, 10))
	cam.LookAt(math3d.Zero3())
	v.renderer.FrameNode(root)
	v.dist = cam.Position.Distance(cam.Target)
	v.radius = models.WorldBounds(root).Size().Len() / 2
	v.applyZoom()
}

func (v *viewer) applyZoom() {
	if v.dist == 0 {
		return
	}
	cam := v.renderer.Camera
	d := v.dist * v.zoom
	cam.SetPosition(cam.Target.Sub(cam.Forward().Scale(d)))
	cam.SetClipPlanes(math.Max(d-v.radius*2, d/100), d+v.radius*2)
}

func (v *viewer) zoomBy(delta float64) {
	v.zoom = math.Max(minZoom, math.Min(maxZoom, v.zoom+delta))
	v.applyZoom()
}

func (v *viewer) step(dt float64) {
	v.spin.Push(v.torque.Scale(dt))
	// Key release events are unreliable, so held torque fades out.
	v.torque = v.torque.Scale(0.9)
	v.spin.Step()
	if v.sess.Current() == nil {
		v.loading.Rotation = math3d.QuatFromEuler(0.4, float64(time.Now().UnixMilli())/1000, 0)
	}
}

// handle applies one terminal event and reports whether the viewer
// should quit.
func (v *viewer) handle(ev uv.Event) bool {
	switch ev := ev.(type) {
	case uv.WindowSizeEvent:
		v.width, v.height = ev.Width, ev.Height
		v.resized = true

	case uv.KeyPressEvent:
		switch {
		case ev.MatchString("ctrl+c"):
			return true
		case ev.MatchString("escape"):
			if !v.lightMode {
				return true
			}
			v.lightMode = false
		case ev.MatchString("w", "up"):
			v.torque.X = -torqueStrength
		case ev.MatchString("s", "down"):
			v.torque.X = torqueStrength
		case ev.MatchString("a", "left"):
			v.torque.Y = -torqueStrength
		case ev.MatchString("d", "right"):
			v.torque.Y = torqueStrength
		case ev.MatchString("q"):
			v.torque.Z = -torqueStrength
		case ev.MatchString("e"):
			v.torque.Z = torqueStrength
		case ev.MatchString("space"):
			kick := func() float64 { return (rand.Float64() - 0.5) * 1.5 }
			v.spin.Push(math3d.V3(kick(), kick(), kick()))
		case ev.MatchString("r"):
			v.spin.Reset()
			v.sess.ResetTransform()
			v.zoom = 1
			v.applyZoom()
		case ev.MatchString("m"):
			v.preset = -1
			v.sess.ResetMaterials()
		case ev.MatchString("c"):
			v.preset = (v.preset + 1) % len(models.Presets)
			v.applyPreset()
		case ev.MatchString("x"):
			v.toggleWireframe()
		case ev.MatchString("l"):
			v.lightMode = true
			v.pendingLight = v.renderer.Light.Direction
		case ev.MatchString("+", "="):
			v.zoomBy(-0.1)
		case ev.MatchString("-", "_"):
			v.zoomBy(0.1)
		case ev.MatchString("?", "shift+/"):
			v.hud.Toggle()
		}

	case uv.KeyReleaseEvent:
		switch {
		case ev.MatchString("w", "up", "s", "down"):
			v.torque.X = 0
		case ev.MatchString("a", "left", "d", "right"):
			v.torque.Y = 0
		case ev.MatchString("q", "e"):
			v.torque.Z = 0
		}

	case uv.MouseClickEvent:
		if v.lightMode {
			v.renderer.Light.Direction = v.pendingLight
			v.lightMode = false
			break
		}
		v.mouseDown = true
		v.lastX, v.lastY = ev.X, ev.Y

	case uv.MouseReleaseEvent:
		v.mouseDown = false

	case uv.MouseMotionEvent:
		switch {
		case v.lightMode:
			v.pendingLight = screenToLightDir(ev.X, ev.Y, v.width, v.height)
		case v.mouseDown:
			dx, dy := ev.X-v.lastX, ev.Y-v.lastY
			v.spin.Push(math3d.V3(float64(dy)*0.03, float64(dx)*0.03, 0))
			v.lastX, v.lastY = ev.X, ev.Y
		}

	case uv.MouseWheelEvent:
		switch ev.Button {
		case uv.MouseWheelUp:
			v.zoomBy(-0.1)
		case uv.MouseWheelDown:
			v.zoomBy(0.1)
		}
	}
	return false
}

func (v *viewer) applyPreset() {
	v.sess.ApplyMaterial(presetMaterial(models.Presets[v.preset], v.base))
}

// toggleWireframe switches to the wireframe preset, or back to the
// original materials when it is already active.
func (v *viewer) toggleWireframe() {
	if v.preset >= 0 && models.Presets[v.preset].Wireframe {
		v.preset = -1
		v.sess.ResetMaterials()
		return
	}
	for i, o := range models.Presets {
		if o.Wireframe {
			v.preset = i
			v.applyPreset()
			return
		}
	}
}

func (v *viewer) status() string {
	if v.preset < 0 {
		return "original"
	}
	o := models.Presets[v.preset]
	if o.Wireframe {
		return "wireframe"
	}
	return o.Shading.String()
}

// screenToLightDir maps a cell position onto a hemisphere facing the
// viewer and returns the direction toward that point.
func screenToLightDir(x, y, width, height int) math3d.Vec3 {
	if width <= 0 || height <= 0 {
		return render.DefaultLight().Direction
	}
	nx := float64(x)/float64(width)*2 - 1
	ny := float64(y)/float64(height)*2 - 1
	lenSq := nx*nx + ny*ny
	if lenSq > 1 {
		l := math.Sqrt(lenSq)
		nx /= l
		ny /= l
		lenSq = 1
	}
	return math3d.V3(nx, -ny, math.Sqrt(1-lenSq)).Normalize()
}
