package dotplot

import (
	"image/color"
	"math"

	"github.com/dotplot-sc/server/pkg/colormap"
)

// bandPadding is the inner padding on each side of a band, as a fraction of
// the band step, so dots never touch the ticks.
const bandPadding = 0.1

// BandScale maps a discrete category to a contiguous sub-interval of an
// axis range.
type BandScale struct {
	domain []string
	index  map[string]int
	min    float64
	max    float64
}

// NewBandScale builds a band scale over domain mapped onto [min, max].
func NewBandScale(domain []string, min, max float64) BandScale {
	index := make(map[string]int, len(domain))
	for i, d := range domain {
		index[d] = i
	}
	return BandScale{domain: domain, index: index, min: min, max: max}
}

// Step returns the full width allotted to each category.
func (b BandScale) Step() float64 {
	if len(b.domain) == 0 {
		return 0
	}
	return (b.max - b.min) / float64(len(b.domain))
}

// Bandwidth returns the usable band width after padding.
func (b BandScale) Bandwidth() float64 {
	return b.Step() * (1 - 2*bandPadding)
}

// Pos returns the padded start of the category's band. Unknown categories
// report false.
func (b BandScale) Pos(category string) (float64, bool) {
	idx, ok := b.index[category]
	if !ok {
		return 0, false
	}
	return b.min + (float64(idx)+bandPadding)*b.Step(), true
}

// Center returns the midpoint of the category's band.
func (b BandScale) Center(category string) (float64, bool) {
	pos, ok := b.Pos(category)
	if !ok {
		return 0, false
	}
	return pos + b.Bandwidth()/2, true
}

// Domain returns the scale's categories in order.
func (b BandScale) Domain() []string {
	return b.domain
}

// SqrtScale maps percent-expressing values on the fixed domain [0, 100] to a
// dot radius in [0, rmax]. Radius grows with the square root of the value so
// that dot AREA, not radius, is proportional to percent expressing.
type SqrtScale struct {
	domainMax float64
	rangeMax  float64
}

// NewSizeScale builds the size scale with maximum radius rmax.
func NewSizeScale(rmax float64) SqrtScale {
	return SqrtScale{domainMax: 100, rangeMax: rmax}
}

// Radius returns the dot radius for a percent-expressing value. NaN and
// non-positive values map to 0; values above the domain clamp to rmax.
func (s SqrtScale) Radius(pct float64) float64 {
	if math.IsNaN(pct) || pct <= 0 {
		return 0
	}
	if pct > s.domainMax {
		pct = s.domainMax
	}
	return math.Sqrt(pct/s.domainMax) * s.rangeMax
}

// MaxRadius returns the scale's upper range bound.
func (s SqrtScale) MaxRadius() float64 {
	return s.rangeMax
}

// SequentialScale maps [0, max] through a colormap. The lower bound is
// always 0, never the observed minimum, so color stays comparable across
// selections.
type SequentialScale struct {
	max  float64
	cmap colormap.Colormap
}

// NewColorScale builds the color scale over [0, max]. A non-positive or NaN
// max degenerates to [0, 1] so the scale stays total.
func NewColorScale(max float64, cmap colormap.Colormap) SequentialScale {
	if math.IsNaN(max) || max <= 0 {
		max = 1
	}
	return SequentialScale{max: max, cmap: cmap}
}

// Color returns the color for value v. NaN maps to the lightest color.
func (s SequentialScale) Color(v float64) color.Color {
	if math.IsNaN(v) || v <= 0 {
		return s.cmap.At(0)
	}
	return s.cmap.At(v / s.max)
}

// Max returns the scale's domain upper bound.
func (s SequentialScale) Max() float64 {
	return s.max
}

// MaxAvgExpressing returns the maximum mean expression across cells,
// ignoring NaN. Returns 0 when no finite value exists.
func MaxAvgExpressing(cells []Cell) float64 {
	max := 0.0
	for _, c := range cells {
		if math.IsNaN(c.MeanAvgExpressing) {
			continue
		}
		if c.MeanAvgExpressing > max {
			max = c.MeanAvgExpressing
		}
	}
	return max
}

// Scales bundles the per-plot visual encodings. Recomputed on every plot
// request from the current data extent.
type Scales struct {
	X     BandScale // condition → x interval
	Y     BandScale // cell type → y interval
	Size  SqrtScale
	Color SequentialScale
}

// NewScales derives the plot scales for cells laid out on a plot area of
// width × height with the given category domains.
func NewScales(cells []Cell, cellTypes, conditions []string, width, height float64, cmap colormap.Colormap) Scales {
	x := NewBandScale(conditions, 0, width)
	y := NewBandScale(cellTypes, 0, height)

	rmax := math.Min(x.Bandwidth(), y.Bandwidth()) / 2
	if rmax < 0 {
		rmax = 0
	}

	return Scales{
		X:     x,
		Y:     y,
		Size:  NewSizeScale(rmax),
		Color: NewColorScale(MaxAvgExpressing(cells), cmap),
	}
}
