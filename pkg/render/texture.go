package render

import (
	"image"
	"image/color"
	"math"
)

// WrapMode controls how UVs outside [0, 1] are handled.
type WrapMode int

const (
	WrapRepeat WrapMode = iota
	WrapClamp
)

// FilterMode controls texel lookup.
type FilterMode int

const (
	FilterNearest FilterMode = iota
	FilterBilinear
)

// Texture is a decoded image prepared for sampling.
type Texture struct {
	Width      int
	Height     int
	Pixels     []color.RGBA
	WrapU      WrapMode
	WrapV      WrapMode
	FilterMode FilterMode
}

// TextureFromImage converts img to a repeat-wrapped, bilinear texture.
// Images with no pixels yield a single opaque white texel.
func TextureFromImage(img image.Image) *Texture {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	tex := &Texture{WrapU: WrapRepeat, WrapV: WrapRepeat, FilterMode: FilterBilinear}
	if w <= 0 || h <= 0 {
		tex.Width, tex.Height = 1, 1
		tex.Pixels = []color.RGBA{{255, 255, 255, 255}}
		return tex
	}
	tex.Width, tex.Height = w, h
	tex.Pixels = make([]color.RGBA, w*h)
	for y := range h {
		for x := range w {
			// NRGBA keeps straight alpha, which is what blending expects.
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			tex.Pixels[y*w+x] = color.RGBA{c.R, c.G, c.B, c.A}
		}
	}
	return tex
}

func (t *Texture) texel(x, y int) color.RGBA {
	return t.Pixels[y*t.Width+x]
}

// Sample returns the texel at (u, v). V grows upward, image rows grow
// downward.
func (t *Texture) Sample(u, v float64) color.RGBA {
	u = wrap(u, t.WrapU)
	v = 1 - wrap(v, t.WrapV)
	if t.FilterMode == FilterBilinear {
		return t.bilinear(u, v)
	}
	x := min(int(u*float64(t.Width)), t.Width-1)
	y := min(int(v*float64(t.Height)), t.Height-1)
	return t.texel(x, y)
}

func wrap(c float64, mode WrapMode) float64 {
	if mode == WrapClamp {
		return math.Max(0, math.Min(1, c))
	}
	return c - math.Floor(c)
}

func (t *Texture) bilinear(u, v float64) color.RGBA {
	fx := u*float64(t.Width) - 0.5
	fy := v*float64(t.Height) - 0.5
	x0, y0 := int(math.Floor(fx)), int(math.Floor(fy))
	tx, ty := fx-float64(x0), fy-float64(y0)

	xa, xb := wrapIndex(x0, t.Width, t.WrapU), wrapIndex(x0+1, t.Width, t.WrapU)
	ya, yb := wrapIndex(y0, t.Height, t.WrapV), wrapIndex(y0+1, t.Height, t.WrapV)

	top := lerpColor(t.texel(xa, ya), t.texel(xb, ya), tx)
	bot := lerpColor(t.texel(xa, yb), t.texel(xb, yb), tx)
	return lerpColor(top, bot, ty)
}

func wrapIndex(i, size int, mode WrapMode) int {
	if mode == WrapClamp {
		return max(0, min(i, size-1))
	}
	i %= size
	if i < 0 {
		i += size
	}
	return i
}

func lerpColor(a, b color.RGBA, t float64) color.RGBA {
	l := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5)
	}
	return color.RGBA{l(a.R, b.R), l(a.G, b.G), l(a.B, b.B), l(a.A, b.A)}
}
