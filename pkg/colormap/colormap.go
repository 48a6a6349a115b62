// Package colormap provides color schemes for visualization.
package colormap

import (
	"image/color"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
	AtIndex(i int) color.Color
}

// LinearColormap is a linear interpolation colormap.
type LinearColormap struct {
	colors []color.RGBA
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	if t <= 0 {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(c.colors) {
		upper = len(c.colors) - 1
	}

	frac := idx - float64(lower)
	return interpolate(c.colors[lower], c.colors[upper], frac)
}

// AtIndex returns color at index i (wraps around).
func (c LinearColormap) AtIndex(i int) color.Color {
	return c.colors[i%len(c.colors)]
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

// Blues colormap (ColorBrewer Blues). The low end is near-white so a zero
// value always reads as the lightest color regardless of data extent.
var Blues = LinearColormap{
	colors: []color.RGBA{
		{247, 251, 255, 255},
		{222, 235, 247, 255},
		{198, 219, 239, 255},
		{158, 202, 225, 255},
		{107, 174, 214, 255},
		{66, 146, 198, 255},
		{33, 113, 181, 255},
		{8, 81, 156, 255},
		{8, 48, 107, 255},
	},
}

// Viridis colormap (matplotlib viridis)
var Viridis = LinearColormap{
	colors: []color.RGBA{
		{68, 1, 84, 255},
		{72, 35, 116, 255},
		{64, 67, 135, 255},
		{52, 94, 141, 255},
		{41, 120, 142, 255},
		{32, 144, 140, 255},
		{34, 167, 132, 255},
		{68, 190, 112, 255},
		{121, 209, 81, 255},
		{189, 222, 38, 255},
		{253, 231, 37, 255},
	},
}

// Seurat colormap (lightgrey to red, as in Seurat feature plots)
var Seurat = LinearColormap{
	colors: []color.RGBA{
		{211, 211, 211, 255},
		{234, 143, 143, 255},
		{247, 72, 72, 255},
		{255, 0, 0, 255},
	},
}
