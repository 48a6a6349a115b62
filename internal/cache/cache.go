// Package cache provides caching for rendered plots and aggregation results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	PlotCacheSizeMB int
	PlotTTL         time.Duration
	QueryCacheSize  int
}

// Manager manages plot and query caches.
type Manager struct {
	plotCache  *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	plotCacheConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.PlotTTL,
		CleanWindow:        cfg.PlotTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024, // 512KB per rendered plot
		HardMaxCacheSize:   cfg.PlotCacheSizeMB,
		Verbose:            false,
	}

	plotCache, err := bigcache.New(context.Background(), plotCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create plot cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		plotCache:  plotCache,
		queryCache: queryCache,
	}, nil
}

// GetPlot retrieves a rendered plot from cache.
func (m *Manager) GetPlot(key string) ([]byte, bool) {
	data, err := m.plotCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPlot stores a rendered plot in cache.
func (m *Manager) SetPlot(key string, data []byte) error {
	return m.plotCache.Set(key, data)
}

// GetQuery retrieves an aggregation result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores an aggregation result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// PlotKey generates a stable cache key for a rendered plot. Gene order does
// not affect the key.
func PlotKey(dataset string, genes []string, colormap string, width, height int) string {
	return fmt.Sprintf("plot:%s:%s:%dx%d:%s", dataset, colormap, width, height, geneSetDigest(genes))
}

// CellsKey generates a stable cache key for an aggregation result.
func CellsKey(dataset string, genes []string) string {
	return fmt.Sprintf("cells:%s:%s", dataset, geneSetDigest(genes))
}

func geneSetDigest(genes []string) string {
	sorted := make([]string, len(genes))
	copy(sorted, genes)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"plot_cache_len":  m.plotCache.Len(),
		"plot_cache_cap":  m.plotCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.plotCache.Close()
}
