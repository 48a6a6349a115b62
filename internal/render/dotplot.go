// Package render draws dot plots using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"github.com/fogleman/gg"

	"github.com/dotplot-sc/server/internal/dotplot"
	"github.com/dotplot-sc/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	Width           int
	Height          int
	DefaultColormap string
}

// Margins around the plot area: title on top, cell-type labels on the left,
// condition labels on the bottom, legends on the right.
const (
	marginTop    = 46
	marginLeft   = 120
	marginBottom = 54
	marginRight  = 170
)

const dotAlpha = 0.8

// sizeLegendRefs are the fixed reference values of the size legend.
var sizeLegendRefs = [4]float64{25, 50, 75, 100}

// colorLegendStops is the number of samples across the color gradient.
const colorLegendStops = 10

// PlotRenderer renders dot plots from aggregated cells.
type PlotRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
	colormaps   map[string]colormap.Colormap
}

// NewPlotRenderer creates a new plot renderer.
func NewPlotRenderer(cfg Config) *PlotRenderer {
	r := &PlotRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
		colormaps: make(map[string]colormap.Colormap),
	}

	r.colormaps["blues"] = colormap.Blues
	r.colormaps["viridis"] = colormap.Viridis
	r.colormaps["seurat"] = colormap.Seurat

	return r
}

// Colormap resolves a colormap by name, falling back to the configured
// default for unknown names.
func (r *PlotRenderer) Colormap(name string) colormap.Colormap {
	if cm, ok := r.colormaps[name]; ok {
		return cm
	}
	return r.colormaps[r.config.DefaultColormap]
}

// ResolveColormapName returns the canonical colormap name for cache keys:
// unknown or empty names resolve to the configured default.
func (r *PlotRenderer) ResolveColormapName(name string) string {
	if _, ok := r.colormaps[name]; ok {
		return name
	}
	return r.config.DefaultColormap
}

// PlotArea returns the inner plot dimensions in pixels.
func (r *PlotRenderer) PlotArea() (width, height float64) {
	return float64(r.config.Width - marginLeft - marginRight),
		float64(r.config.Height - marginTop - marginBottom)
}

// RenderDotPlot renders the aggregated cells as a PNG dot plot with axis
// labels, a title listing the selected genes, and both legends.
func (r *PlotRenderer) RenderDotPlot(cells []dotplot.Cell, genes []string, colormapName string) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	cm := r.Colormap(colormapName)
	plotW, plotH := r.PlotArea()
	cellTypes, conditions := dotplot.Domains(cells)
	scales := dotplot.NewScales(cells, cellTypes, conditions, plotW, plotH, cm)

	r.drawTitle(dc, genes)
	r.drawAxes(dc, scales)
	r.drawCells(dc, cells, scales)
	r.drawSizeLegend(dc, scales)
	r.drawColorLegend(dc, scales)

	return r.encodeContext(dc)
}

func (r *PlotRenderer) drawTitle(dc *gg.Context, genes []string) {
	dc.SetRGB(0.15, 0.15, 0.15)
	title := "Genes: " + strings.Join(genes, ", ")
	dc.DrawStringAnchored(title, float64(r.config.Width)/2, marginTop/2, 0.5, 0.5)
}

func (r *PlotRenderer) drawAxes(dc *gg.Context, scales dotplot.Scales) {
	plotW, plotH := r.PlotArea()

	// Frame
	dc.SetRGB(0.7, 0.7, 0.7)
	dc.SetLineWidth(1)
	dc.DrawRectangle(marginLeft, marginTop, plotW, plotH)
	dc.Stroke()

	dc.SetRGB(0.25, 0.25, 0.25)

	// Cell types down the left
	for _, ct := range scales.Y.Domain() {
		cy, ok := scales.Y.Center(ct)
		if !ok {
			continue
		}
		dc.DrawStringAnchored(ct, marginLeft-8, marginTop+cy, 1, 0.5)
	}

	// Conditions along the bottom
	for _, cond := range scales.X.Domain() {
		cx, ok := scales.X.Center(cond)
		if !ok {
			continue
		}
		dc.DrawStringAnchored(cond, marginLeft+cx, float64(r.config.Height)-marginBottom+16, 0.5, 0.5)
	}
}

func (r *PlotRenderer) drawCells(dc *gg.Context, cells []dotplot.Cell, scales dotplot.Scales) {
	for _, cell := range cells {
		cx, ok := scales.X.Center(cell.Condition)
		if !ok {
			continue
		}
		cy, ok := scales.Y.Center(cell.CellType)
		if !ok {
			continue
		}

		radius := scales.Size.Radius(cell.MeanPctExpress)
		if radius <= 0 {
			continue
		}

		cr, cg, cb, _ := scales.Color.Color(cell.MeanAvgExpressing).RGBA()
		dc.SetRGBA(float64(cr)/65535, float64(cg)/65535, float64(cb)/65535, dotAlpha)
		dc.DrawCircle(marginLeft+cx, marginTop+cy, radius)
		dc.Fill()
	}
}

func (r *PlotRenderer) drawSizeLegend(dc *gg.Context, scales dotplot.Scales) {
	x := float64(r.config.Width-marginRight) + 46
	y := float64(marginTop) + 10

	dc.SetRGB(0.25, 0.25, 0.25)
	dc.DrawStringAnchored("% expressing", x+20, y, 0.5, 0.5)
	y += 18

	// Row spacing fits the largest reference dot.
	step := scales.Size.MaxRadius()*2 + 8
	if step < 22 {
		step = 22
	}
	for _, ref := range sizeLegendRefs {
		y += step
		radius := scales.Size.Radius(ref)
		dc.SetRGBA(0.45, 0.45, 0.45, dotAlpha)
		dc.DrawCircle(x, y, radius)
		dc.Fill()
		dc.SetRGB(0.25, 0.25, 0.25)
		dc.DrawStringAnchored(fmt.Sprintf("%.0f", ref), x+scales.Size.MaxRadius()+24, y, 0, 0.5)
	}
}

func (r *PlotRenderer) drawColorLegend(dc *gg.Context, scales dotplot.Scales) {
	const barW, barH = 18.0, 140.0
	x := float64(r.config.Width-marginRight) + 32
	y := float64(r.config.Height) - marginBottom - barH - 10

	dc.SetRGB(0.25, 0.25, 0.25)
	dc.DrawStringAnchored("mean expr", x+barW+14, y-14, 0.5, 0.5)

	// Gradient sampled at evenly spaced stops, highest value on top.
	segH := barH / colorLegendStops
	for i := 0; i < colorLegendStops; i++ {
		t := float64(i) / float64(colorLegendStops-1)
		dc.SetColor(scales.Color.Color(t * scales.Color.Max()))
		dc.DrawRectangle(x, y+barH-float64(i+1)*segH, barW, segH+0.5)
		dc.Fill()
	}

	dc.SetRGB(0.25, 0.25, 0.25)
	dc.DrawStringAnchored(fmt.Sprintf("%.2f", scales.Color.Max()), x+barW+6, y, 0, 0.5)
	dc.DrawStringAnchored("0", x+barW+6, y+barH, 0, 0.5)
}

func (r *PlotRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// RenderEmptyPlot renders a blank canvas with only the frame, used when the
// selection is cleared.
func (r *PlotRenderer) RenderEmptyPlot() ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	plotW, plotH := r.PlotArea()
	dc.SetRGB(0.7, 0.7, 0.7)
	dc.SetLineWidth(1)
	dc.DrawRectangle(marginLeft, marginTop, plotW, plotH)
	dc.Stroke()

	return r.encodeContext(dc)
}

// SizeLegendRefs returns the fixed size-legend reference percentages.
func SizeLegendRefs() []float64 {
	out := make([]float64, len(sizeLegendRefs))
	copy(out, sizeLegendRefs[:])
	return out
}

// ColorLegendStops returns the number of gradient samples in the color legend.
func ColorLegendStops() int {
	return colorLegendStops
}
