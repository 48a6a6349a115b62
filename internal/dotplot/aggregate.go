// Package dotplot computes aggregated dot-plot cells and the visual scales
// that encode them.
package dotplot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dotplot-sc/server/internal/data/expr"
)

// Cell is one dot of the plot: a (cell type, condition) pair with metrics
// aggregated across the contributing genes. Derived, never persisted.
type Cell struct {
	CellType          string   `json:"cell_type"`
	Condition         string   `json:"condition"`
	MeanAvgExpressing float64  `json:"mean_avg_expressing"`
	MeanPctExpress    float64  `json:"mean_pct_express"`
	ContributingGenes []string `json:"contributing_genes"`
}

// Tooltip returns the hover detail line for the cell: percent expressing
// rounded to 1 decimal, mean expression to 2 decimals.
func (c Cell) Tooltip() string {
	return fmt.Sprintf("%s | %s | %s | %.1f%% expressing | mean %.2f",
		c.CellType, c.Condition, strings.Join(c.ContributingGenes, ", "), c.MeanPctExpress, c.MeanAvgExpressing)
}

// Aggregate filters records to the selected genes and aggregates them into
// plot cells. With a single selected gene it emits one cell per matching
// record, values untouched. With two or more genes it groups by
// (cell type, condition) and takes the unweighted arithmetic mean of both
// metrics over the records present for that pair; a gene missing data for a
// pair simply does not contribute (no imputation).
//
// An empty result means no record matched; that is not an error here.
// Output is sorted by cell type, then condition.
func Aggregate(records []expr.Record, selected []string) []Cell {
	if len(selected) == 0 {
		return nil
	}

	if len(selected) == 1 {
		gene := selected[0]
		cells := make([]Cell, 0, 16)
		for _, r := range records {
			if r.Gene != gene {
				continue
			}
			cells = append(cells, Cell{
				CellType:          r.CellType,
				Condition:         r.Condition,
				MeanAvgExpressing: r.AvgExpressing,
				MeanPctExpress:    r.PctExpress,
				ContributingGenes: []string{gene},
			})
		}
		sortCells(cells)
		return cells
	}

	selectedIdx := make(map[string]int, len(selected))
	for i, g := range selected {
		selectedIdx[g] = i
	}

	type group struct {
		sumAvg float64
		sumPct float64
		n      int
		genes  map[string]struct{}
	}

	groups := make(map[[2]string]*group)
	for _, r := range records {
		if _, ok := selectedIdx[r.Gene]; !ok {
			continue
		}
		key := [2]string{r.CellType, r.Condition}
		g := groups[key]
		if g == nil {
			g = &group{genes: make(map[string]struct{})}
			groups[key] = g
		}
		g.sumAvg += r.AvgExpressing
		g.sumPct += r.PctExpress
		g.n++
		g.genes[r.Gene] = struct{}{}
	}

	cells := make([]Cell, 0, len(groups))
	for key, g := range groups {
		genes := make([]string, 0, len(g.genes))
		for gene := range g.genes {
			genes = append(genes, gene)
		}
		// Contributing genes in selection order.
		sort.Slice(genes, func(i, j int) bool {
			return selectedIdx[genes[i]] < selectedIdx[genes[j]]
		})
		cells = append(cells, Cell{
			CellType:          key[0],
			Condition:         key[1],
			MeanAvgExpressing: g.sumAvg / float64(g.n),
			MeanPctExpress:    g.sumPct / float64(g.n),
			ContributingGenes: genes,
		})
	}
	sortCells(cells)
	return cells
}

func sortCells(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].CellType != cells[j].CellType {
			return cells[i].CellType < cells[j].CellType
		}
		return cells[i].Condition < cells[j].Condition
	})
}

// Domains returns the distinct cell types and conditions across cells,
// each sorted lexicographically.
func Domains(cells []Cell) (cellTypes, conditions []string) {
	ctSeen := make(map[string]struct{})
	condSeen := make(map[string]struct{})
	for _, c := range cells {
		if _, ok := ctSeen[c.CellType]; !ok {
			ctSeen[c.CellType] = struct{}{}
			cellTypes = append(cellTypes, c.CellType)
		}
		if _, ok := condSeen[c.Condition]; !ok {
			condSeen[c.Condition] = struct{}{}
			conditions = append(conditions, c.Condition)
		}
	}
	sort.Strings(cellTypes)
	sort.Strings(conditions)
	return cellTypes, conditions
}
