// Package expr loads the flat-file expression summaries behind the dot-plot API.
//
// Two sources feed one dataset: a tab-separated expression summary
// (gene, cell type, condition, avg expressing, pct expressing) and a
// newline-separated gene catalog used for autocomplete and validation.
package expr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// Record is one (gene, cell type, condition) expression summary row.
// Immutable once parsed.
type Record struct {
	Gene          string
	CellType      string
	Condition     string
	AvgExpressing float64
	PctExpress    float64
}

// Catalog is the ordered universe of known gene names.
type Catalog struct {
	genes []string
	index map[string]int
}

// Genes returns the gene names in source order.
func (c *Catalog) Genes() []string {
	return c.genes
}

// Has reports whether the catalog contains gene.
func (c *Catalog) Has(gene string) bool {
	_, ok := c.index[gene]
	return ok
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.genes)
}

// LoadError reports a source that could not be fetched or parsed.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load fetches and parses both sources. The fetches run concurrently and are
// joined: if either fails, Load fails with a *LoadError and no partial state
// is returned.
func Load(ctx context.Context, expressionSource, catalogSource string) ([]Record, *Catalog, error) {
	var (
		records []Record
		catalog *Catalog
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := fetch(ctx, expressionSource)
		if err != nil {
			return &LoadError{Source: expressionSource, Err: err}
		}
		recs, err := ParseRecords(data)
		if err != nil {
			return &LoadError{Source: expressionSource, Err: err}
		}
		records = recs
		return nil
	})
	g.Go(func() error {
		data, err := fetch(ctx, catalogSource)
		if err != nil {
			return &LoadError{Source: catalogSource, Err: err}
		}
		catalog = ParseCatalog(data)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return records, catalog, nil
}

// ParseRecords parses the tab-separated expression summary. The first line is
// a header and is discarded. Each remaining line must have exactly 5 fields;
// malformed numeric fields become NaN rather than an error (pass-through
// policy, validated downstream if at all).
func ParseRecords(data []byte) ([]Record, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	records := make([]Record, 0, 256)
	lineNo := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		lineNo++
		if lineNo == 1 {
			// Header
			continue
		}
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 5 {
			return nil, fmt.Errorf("line %d: expected 5 tab-separated fields, got %d", lineNo, len(fields))
		}

		records = append(records, Record{
			Gene:          fields[0],
			CellType:      fields[1],
			Condition:     fields[2],
			AvgExpressing: parseFloat(fields[3]),
			PctExpress:    parseFloat(fields[4]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ParseCatalog parses the newline-separated gene list, filtering blank lines
// and preserving source order.
func ParseCatalog(data []byte) *Catalog {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	c := &Catalog{index: make(map[string]int)}
	for scanner.Scan() {
		gene := strings.TrimSpace(scanner.Text())
		if gene == "" {
			continue
		}
		if _, ok := c.index[gene]; ok {
			continue
		}
		c.index[gene] = len(c.genes)
		c.genes = append(c.genes, gene)
	}
	return c
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// fetch reads a source, which may be a local path or an http(s) URL.
// Sources ending in .gz or .zst are decompressed transparently.
func fetch(ctx context.Context, source string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = fetchHTTP(ctx, source)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}
	return decompress(source, data)
}

func fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failure status: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func decompress(source string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(source, ".zst"):
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case strings.HasSuffix(source, ".gz"):
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip source: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(gz)
	default:
		return data, nil
	}
}
