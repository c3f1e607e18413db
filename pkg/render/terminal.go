package render

import (
	"image/color"

	uv "github.com/charmbracelet/ultraviolet"
)

const halfBlock = "▀"

// Draw paints the framebuffer onto scr inside area. Each terminal row
// shows two pixel rows: the upper half block takes the top pixel as its
// foreground and the bottom pixel as its background.
func (fb *Framebuffer) Draw(scr uv.Screen, area uv.Rectangle) {
	fb.cells(area, scr.SetCell)
}

// String renders the framebuffer as ANSI-styled half-block lines.
func (fb *Framebuffer) String() string {
	rows := (fb.Height + 1) / 2
	buf := uv.NewBuffer(fb.Width, rows)
	fb.cells(buf.Bounds(), buf.SetCell)
	return buf.Render()
}

func (fb *Framebuffer) cells(area uv.Rectangle, set func(x, y int, c *uv.Cell)) {
	for row := area.Min.Y; row < area.Max.Y; row++ {
		top := (row - area.Min.Y) * 2
		if top >= fb.Height {
			return
		}
		for col := area.Min.X; col < area.Max.X; col++ {
			x := col - area.Min.X
			if x >= fb.Width {
				break
			}
			set(col, row, &uv.Cell{
				Content: halfBlock,
				Width:   1,
				Style: uv.Style{
					Fg: opaque(fb.Pixel(x, top)),
					Bg: opaque(fb.Pixel(x, top+1)),
				},
			})
		}
	}
}

// opaque maps fully transparent pixels to the terminal default color.
func opaque(c color.RGBA) color.Color {
	if c.A == 0 {
		return nil
	}
	return c
}

// RGB builds an opaque color.
func RGB(r, g, b uint8) color.RGBA {
	return color.RGBA{r, g, b, 255}
}
