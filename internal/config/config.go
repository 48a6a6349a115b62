// Package config handles configuration loading for the dot-plot server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Auth   AuthConfig   `yaml:"auth"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DatasetConfig describes one dataset's two flat-file sources. Paths may be
// local files or http(s) URLs; .gz and .zst suffixes are decompressed on load.
type DatasetConfig struct {
	ExpressionPath string `yaml:"expression_path"`
	GenesPath      string `yaml:"genes_path"`
}

// DataConfig contains data source settings for one or more datasets.
// The first dataset in YAML order becomes the default.
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig
	order          []string
}

// DatasetIDs returns all dataset IDs in config order.
func (d *DataConfig) DatasetIDs() []string {
	return d.order
}

// UnmarshalYAML supports two layouts:
//
//	data:
//	  expression_path: ...   # legacy single-dataset form
//	  genes_path: ...
//
//	data:
//	  pbmc:                  # multi-dataset form, YAML order preserved
//	    expression_path: ...
//	    genes_path: ...
func (d *DataConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected mapping, got %v", value.Kind)
	}

	// Legacy form: scalar values directly under data.
	legacy := false
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i+1].Kind == yaml.ScalarNode {
			legacy = true
			break
		}
	}

	if legacy {
		var ds DatasetConfig
		if err := value.Decode(&ds); err != nil {
			return err
		}
		d.DefaultDataset = "default"
		d.Datasets = map[string]DatasetConfig{"default": ds}
		d.order = []string{"default"}
		return nil
	}

	d.Datasets = make(map[string]DatasetConfig, len(value.Content)/2)
	d.order = d.order[:0]
	for i := 0; i+1 < len(value.Content); i += 2 {
		id := value.Content[i].Value
		var ds DatasetConfig
		if err := value.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("data.%s: %w", id, err)
		}
		d.Datasets[id] = ds
		d.order = append(d.order, id)
	}
	if len(d.order) > 0 {
		d.DefaultDataset = d.order[0]
	}
	return nil
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	PlotSizeMB     int `yaml:"plot_size_mb"`
	PlotTTLMinutes int `yaml:"plot_ttl_minutes"`
	QueryCacheSize int `yaml:"query_cache_size"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	Width           int    `yaml:"width"`
	Height          int    `yaml:"height"`
	DefaultColormap string `yaml:"default_colormap"`
}

// AuthConfig contains access-gate settings. An empty password hash leaves
// the gate open; the gate is cosmetic, not a security boundary.
type AuthConfig struct {
	PasswordSHA256    string `yaml:"password_sha256"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes"`
	MaxSessions       int    `yaml:"max_sessions"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			DefaultDataset: "default",
			Datasets: map[string]DatasetConfig{
				"default": {
					ExpressionPath: "./data/expression.tsv",
					GenesPath:      "./data/genes.txt",
				},
			},
			order: []string{"default"},
		},
		Cache: CacheConfig{
			PlotSizeMB:     128,
			PlotTTLMinutes: 10,
			QueryCacheSize: 256,
		},
		Render: RenderConfig{
			Width:           900,
			Height:          600,
			DefaultColormap: "blues",
		},
		Auth: AuthConfig{
			SessionTTLMinutes: 720,
			MaxSessions:       4096,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	if cfg.Cache.PlotSizeMB == 0 {
		cfg.Cache.PlotSizeMB = defaults.Cache.PlotSizeMB
	}
	if cfg.Cache.PlotTTLMinutes == 0 {
		cfg.Cache.PlotTTLMinutes = defaults.Cache.PlotTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Auth.SessionTTLMinutes == 0 {
		cfg.Auth.SessionTTLMinutes = defaults.Auth.SessionTTLMinutes
	}
	if cfg.Auth.MaxSessions == 0 {
		cfg.Auth.MaxSessions = defaults.Auth.MaxSessions
	}
}
