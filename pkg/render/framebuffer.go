// Package render rasterizes a models scene graph in software and presents
// the result as terminal half-block cells or as an image.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
)

// Framebuffer is a row-major RGBA pixel grid. Two pixel rows map onto one
// terminal row when drawn with half blocks. It satisfies image.Image so it
// can be handed straight to an encoder.
type Framebuffer struct {
	Width  int
	Height int
	Pixels []color.RGBA
}

var _ image.Image = (*Framebuffer)(nil)

func NewFramebuffer(width, height int) *Framebuffer {
	width, height = max(width, 0), max(height, 0)
	return &Framebuffer{Width: width, Height: height, Pixels: make([]color.RGBA, width*height)}
}

// index returns the offset of (x, y) in Pixels, or -1 outside the grid.
func (fb *Framebuffer) index(x, y int) int {
	if uint(x) >= uint(fb.Width) || uint(y) >= uint(fb.Height) {
		return -1
	}
	return y*fb.Width + x
}

func (fb *Framebuffer) Clear(c color.RGBA) {
	for i := range fb.Pixels {
		fb.Pixels[i] = c
	}
}

// Pixel returns the pixel at (x, y), or transparent black off the grid.
func (fb *Framebuffer) Pixel(x, y int) color.RGBA {
	if i := fb.index(x, y); i >= 0 {
		return fb.Pixels[i]
	}
	return color.RGBA{}
}

func (fb *Framebuffer) ColorModel() color.Model { return color.RGBAModel }

func (fb *Framebuffer) Bounds() image.Rectangle { return image.Rect(0, 0, fb.Width, fb.Height) }

func (fb *Framebuffer) At(x, y int) color.Color { return fb.Pixel(x, y) }

// Blend composites c over the pixel at (x, y) with c.A as coverage.
func (fb *Framebuffer) Blend(x, y int, c color.RGBA) {
	if i := fb.index(x, y); i >= 0 {
		fb.Pixels[i] = over(c, fb.Pixels[i])
	}
}

func over(src, dst color.RGBA) color.RGBA {
	a := uint32(src.A)
	mix := func(s, d uint8) uint8 {
		return uint8((uint32(s)*a + uint32(d)*(255-a)) / 255)
	}
	return color.RGBA{
		R: mix(src.R, dst.R),
		G: mix(src.G, dst.G),
		B: mix(src.B, dst.B),
		A: uint8(a + uint32(dst.A)*(255-a)/255),
	}
}

// DrawLine plots a line between two pixels inclusive. Points off the grid
// are skipped.
func (fb *Framebuffer) DrawLine(x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := x1-x0, y1-y0
	steps := max(abs(dx), abs(dy))
	if steps == 0 {
		if i := fb.index(x0, y0); i >= 0 {
			fb.Pixels[i] = c
		}
		return
	}
	for s := 0; s <= steps; s++ {
		x := x0 + divRound(dx*s, steps)
		y := y0 + divRound(dy*s, steps)
		if i := fb.index(x, y); i >= 0 {
			fb.Pixels[i] = c
		}
	}
}

// divRound divides by a positive d, rounding half away from zero.
func divRound(n, d int) int {
	if n < 0 {
		return -((-n + d/2) / d)
	}
	return (n + d/2) / d
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func (fb *Framebuffer) EncodePNG(w io.Writer) error {
	return png.Encode(w, fb)
}

// SavePNG writes the framebuffer to a new PNG file at path.
func (fb *Framebuffer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fb.EncodePNG(f); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
