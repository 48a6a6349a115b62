// Package service provides business logic for the dot-plot server.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dotplot-sc/server/internal/cache"
	"github.com/dotplot-sc/server/internal/data/expr"
	"github.com/dotplot-sc/server/internal/dotplot"
	"github.com/dotplot-sc/server/internal/render"
)

// Selection errors. Both are terminal for the triggering request; the client
// retries with a new action.
var (
	ErrEmptySelection    = errors.New("no genes selected")
	ErrNoMatchingRecords = errors.New("selection matches no records")
)

// PlotServiceConfig contains plot service configuration.
type PlotServiceConfig struct {
	DatasetID string
	Records   []expr.Record
	Catalog   *expr.Catalog
	Cache     *cache.Manager
	Renderer  *render.PlotRenderer
	Width     int
	Height    int
}

// PlotService aggregates expression records for a dataset and renders plots.
// The records and catalog are immutable after construction.
type PlotService struct {
	datasetID string
	records   []expr.Record
	catalog   *expr.Catalog
	cache     *cache.Manager
	renderer  *render.PlotRenderer
	width     int
	height    int

	cellTypes  []string
	conditions []string
}

// NewPlotService creates a new plot service.
func NewPlotService(cfg PlotServiceConfig) *PlotService {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}

	// Distinct domains across the whole dataset, for stats.
	ctSeen := make(map[string]struct{})
	condSeen := make(map[string]struct{})
	var cellTypes, conditions []string
	for _, r := range cfg.Records {
		if _, ok := ctSeen[r.CellType]; !ok {
			ctSeen[r.CellType] = struct{}{}
			cellTypes = append(cellTypes, r.CellType)
		}
		if _, ok := condSeen[r.Condition]; !ok {
			condSeen[r.Condition] = struct{}{}
			conditions = append(conditions, r.Condition)
		}
	}

	return &PlotService{
		datasetID:  datasetID,
		records:    cfg.Records,
		catalog:    cfg.Catalog,
		cache:      cfg.Cache,
		renderer:   cfg.Renderer,
		width:      cfg.Width,
		height:     cfg.Height,
		cellTypes:  cellTypes,
		conditions: conditions,
	}
}

// DatasetID returns the dataset identifier.
func (s *PlotService) DatasetID() string {
	return s.datasetID
}

// Catalog returns the dataset's gene catalog.
func (s *PlotService) Catalog() *expr.Catalog {
	return s.catalog
}

// HasGene reports whether gene is in the catalog.
func (s *PlotService) HasGene(gene string) bool {
	return s.catalog.Has(gene)
}

// SearchGenes returns up to limit catalog genes whose name starts with
// prefix, case-insensitive, in catalog order. An empty prefix lists from the
// top of the catalog.
func (s *PlotService) SearchGenes(prefix string, limit int) []string {
	if limit <= 0 {
		limit = 20
	}
	prefix = strings.ToLower(prefix)
	out := make([]string, 0, limit)
	for _, g := range s.catalog.Genes() {
		if prefix != "" && !strings.HasPrefix(strings.ToLower(g), prefix) {
			continue
		}
		out = append(out, g)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// CellItem is one aggregated cell plus its hover tooltip.
type CellItem struct {
	dotplot.Cell
	Tooltip string `json:"tooltip"`
}

// AggregateCells aggregates the records for the given selection.
func (s *PlotService) AggregateCells(genes []string) ([]CellItem, error) {
	cells, err := s.aggregate(genes)
	if err != nil {
		return nil, err
	}
	items := make([]CellItem, len(cells))
	for i, c := range cells {
		items[i] = CellItem{Cell: c, Tooltip: c.Tooltip()}
	}
	return items, nil
}

// CellsResponse is the JSON payload of the cells endpoint.
type CellsResponse struct {
	Genes []string   `json:"genes"`
	Cells []CellItem `json:"cells"`
	Total int        `json:"total"`
}

// GetCellsJSON returns the aggregated cells as marshaled JSON, served from
// the query cache when possible.
func (s *PlotService) GetCellsJSON(genes []string) ([]byte, error) {
	if len(genes) == 0 {
		return nil, ErrEmptySelection
	}

	key := cache.CellsKey(s.datasetID, genes)
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}

	items, err := s.AggregateCells(genes)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(CellsResponse{Genes: genes, Cells: items, Total: len(items)})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

// GetPlot renders (or serves from cache) the dot plot for the selection.
func (s *PlotService) GetPlot(genes []string, colormapName string) ([]byte, error) {
	if len(genes) == 0 {
		return nil, ErrEmptySelection
	}
	colormapName = s.renderer.ResolveColormapName(colormapName)

	key := cache.PlotKey(s.datasetID, genes, colormapName, s.width, s.height)
	if s.cache != nil {
		if data, ok := s.cache.GetPlot(key); ok {
			return data, nil
		}
	}

	cells, err := s.aggregate(genes)
	if err != nil {
		return nil, err
	}

	data, err := s.renderer.RenderDotPlot(cells, genes, colormapName)
	if err != nil {
		return nil, fmt.Errorf("failed to render plot: %w", err)
	}
	if s.cache != nil {
		s.cache.SetPlot(key, data)
	}
	return data, nil
}

// GetEmptyPlot renders the blank plot shown after a clear.
func (s *PlotService) GetEmptyPlot() ([]byte, error) {
	return s.renderer.RenderEmptyPlot()
}

// SizeLegendItem is one reference dot of the size legend.
type SizeLegendItem struct {
	Pct    float64 `json:"pct"`
	Radius float64 `json:"radius"`
}

// SizeLegend returns the reference radii for the fixed 25/50/75/100 percent
// values, under the band geometry of the current selection.
func (s *PlotService) SizeLegend(genes []string) ([]SizeLegendItem, error) {
	scales, err := s.scalesFor(genes, "")
	if err != nil {
		return nil, err
	}
	refs := render.SizeLegendRefs()
	items := make([]SizeLegendItem, len(refs))
	for i, ref := range refs {
		items[i] = SizeLegendItem{Pct: ref, Radius: scales.Size.Radius(ref)}
	}
	return items, nil
}

// ColorLegendStop is one sample of the color legend gradient.
type ColorLegendStop struct {
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// ColorLegend returns the color domain maximum and evenly spaced gradient
// stops for the current selection.
func (s *PlotService) ColorLegend(genes []string, colormapName string) (float64, []ColorLegendStop, error) {
	scales, err := s.scalesFor(genes, colormapName)
	if err != nil {
		return 0, nil, err
	}

	n := render.ColorLegendStops()
	stops := make([]ColorLegendStop, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		v := t * scales.Color.Max()
		stops[i] = ColorLegendStop{Value: v, Color: hexColor(scales.Color.Color(v))}
	}
	return scales.Color.Max(), stops, nil
}

// Stats returns dataset-level counts.
func (s *PlotService) Stats() map[string]interface{} {
	return map[string]interface{}{
		"dataset":      s.datasetID,
		"n_records":    len(s.records),
		"n_genes":      s.catalog.Len(),
		"n_cell_types": len(s.cellTypes),
		"n_conditions": len(s.conditions),
	}
}

func (s *PlotService) aggregate(genes []string) ([]dotplot.Cell, error) {
	if len(genes) == 0 {
		return nil, ErrEmptySelection
	}
	cells := dotplot.Aggregate(s.records, genes)
	if len(cells) == 0 {
		return nil, ErrNoMatchingRecords
	}
	return cells, nil
}

func (s *PlotService) scalesFor(genes []string, colormapName string) (dotplot.Scales, error) {
	cells, err := s.aggregate(genes)
	if err != nil {
		return dotplot.Scales{}, err
	}
	cellTypes, conditions := dotplot.Domains(cells)
	plotW, plotH := s.renderer.PlotArea()
	cm := s.renderer.Colormap(colormapName)
	return dotplot.NewScales(cells, cellTypes, conditions, plotW, plotH, cm), nil
}

func hexColor(c interface{ RGBA() (r, g, b, a uint32) }) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", uint8(r>>8), uint8(g>>8), uint8(b>>8))
}
