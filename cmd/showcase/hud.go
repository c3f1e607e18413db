package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"charm.land/lipgloss/v2"
	uv "github.com/charmbracelet/ultraviolet"

	"github.com/taigrr/showcase/pkg/ingest"
)

var (
	hudBar    = lipgloss.NewStyle().Background(lipgloss.Color("#000000")).Padding(0, 1)
	hudFPS    = hudBar.Foreground(lipgloss.Color("#5fff87"))
	hudTitle  = hudBar.Foreground(lipgloss.Color("#ffffff")).Bold(true)
	hudPolys  = hudBar.Foreground(lipgloss.Color("#5fd7ff")).Bold(true)
	hudMode   = hudBar.Foreground(lipgloss.Color("#ffffff"))
	hudHint   = hudBar.Foreground(lipgloss.Color("#ffff5f")).Faint(true)
	hudError  = hudBar.Foreground(lipgloss.Color("#ff5f5f")).Bold(true)
	hudLight  = hudBar.Foreground(lipgloss.Color("#ffff5f")).Bold(true)
	hudStatus = hudBar.Foreground(lipgloss.Color("#d0d0d0"))
)

// HUD is the overlay on the first and last terminal rows. Progress and
// errors arrive from the loader goroutine, so all fields are guarded.
type HUD struct {
	mu sync.Mutex

	name      string
	triangles int
	percent   int
	status    string
	err       string
	warnings  int
	loaded    bool
	visible   bool

	fps       float64
	fpsFrames int
	fpsTime   time.Time
}

func NewHUD(name string) *HUD {
	return &HUD{name: name, visible: true, fpsTime: time.Now()}
}

// SetProgress records a loader progress report.
func (h *HUD) SetProgress(percent int, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.percent = percent
	h.status = status
}

// SetError records a load failure. The HUD is forced on so the message
// is seen.
func (h *HUD) SetError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = msg
	h.visible = true
}

// SetModel switches the HUD to describe an attached model.
func (h *HUD) SetModel(m *ingest.Model) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.name = m.Name
	h.triangles = m.Stats().Triangles
	h.warnings = len(m.Warnings) + len(m.Advisories)
	h.loaded = true
	if m.Err != nil {
		h.err = m.Err.Error()
	}
}

func (h *HUD) Toggle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visible = !h.visible
}

// Tick updates the FPS counter. Call once per frame.
func (h *HUD) Tick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fpsFrames++
	if elapsed := time.Since(h.fpsTime); elapsed >= time.Second {
		h.fps = float64(h.fpsFrames) / elapsed.Seconds()
		h.fpsFrames = 0
		h.fpsTime = time.Now()
	}
}

// Lines returns the rendered top and bottom rows for a terminal width.
// Both are empty when the HUD is hidden and lightMode is off.
func (h *HUD) Lines(width int, mode string, lightMode bool) (top, bottom string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if lightMode {
		msg := hudLight.Render("◉ LIGHT MODE  move mouse to aim, click to set, Esc to cancel")
		return "", center(msg, width)
	}
	if !h.visible {
		return "", ""
	}

	left := hudFPS.Render(fmt.Sprintf("%.0f FPS", h.fps))
	title := hudTitle.Render(h.name)
	var right string
	if h.loaded {
		right = hudPolys.Render(fmt.Sprintf("%d tris", h.triangles))
	} else {
		right = hudStatus.Render(fmt.Sprintf("%3d%% %s", h.percent, h.status))
	}
	top = spread(width, left, title, right)

	var status string
	switch {
	case h.err != "":
		status = hudError.Render(h.err)
	case h.warnings > 0:
		status = hudHint.Render(fmt.Sprintf("%d warnings", h.warnings))
	}
	bottom = spread(width,
		hudMode.Render("material: "+mode),
		status,
		hudHint.Render("c: cycle  x: wireframe  l: light  ?: hide"),
	)
	return top, bottom
}

// Draw paints the HUD rows over area.
func (h *HUD) Draw(scr uv.Screen, area uv.Rectangle, mode string, lightMode bool) {
	width, height := area.Dx(), area.Dy()
	if height < 2 {
		return
	}
	top, bottom := h.Lines(width, mode, lightMode)
	if top != "" {
		uv.NewStyledString(top).Draw(scr, uv.Rect(area.Min.X, area.Min.Y, width, 1))
	}
	if bottom != "" {
		uv.NewStyledString(bottom).Draw(scr, uv.Rect(area.Min.X, area.Max.Y-1, width, 1))
	}
}

// spread lays out left, middle and right segments across width. The
// middle segment is dropped first when they do not fit.
func spread(width int, left, middle, right string) string {
	lw, mw, rw := lipgloss.Width(left), lipgloss.Width(middle), lipgloss.Width(right)
	if lw+mw+rw > width {
		middle, mw = "", 0
	}
	gap := max(width-lw-mw-rw, 0)
	return left + pad(gap/2) + middle + pad(gap-gap/2) + right
}

func center(s string, width int) string {
	return pad(max((width-lipgloss.Width(s))/2, 0)) + s
}

func pad(n int) string {
	return strings.Repeat(" ", n)
}
