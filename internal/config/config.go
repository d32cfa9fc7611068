// Package config loads the YAML configuration of the triestore CLI
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nainya/triestore/internal/logger"
	"github.com/nainya/triestore/pkg/index"
	"github.com/nainya/triestore/pkg/storage"
	"github.com/nainya/triestore/pkg/tokenize"
)

// ErrFileNotFound is returned by Load for a missing file
var ErrFileNotFound = errors.New("configuration file not found")

// Config holds the complete configuration
type Config struct {
	Index   IndexConfig   `yaml:"index"`
	Log     logger.Config `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// IndexConfig holds the index file and engine settings
type IndexConfig struct {
	Path            string `yaml:"path"`
	PageSize        int    `yaml:"page_size"`
	GrowPageCount   int    `yaml:"grow_page_count"`
	CachePageLimit  int    `yaml:"cache_page_limit"`
	Buffered        bool   `yaml:"buffered"`
	SearchCacheSize int64  `yaml:"search_cache_size"`
	MinWordLength   int    `yaml:"min_word_length"`
}

// MetricsConfig holds the observability endpoint settings
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Path:            "triestore.idx",
			PageSize:        storage.DefaultPageSize,
			GrowPageCount:   storage.DefaultGrowPageCount,
			CachePageLimit:  storage.DefaultCachePageLimit,
			Buffered:        true,
			SearchCacheSize: index.DefaultSearchCacheSize,
		},
		Log: logger.Config{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// Load reads path, substitutes ${VAR} and ${VAR:-default} references and
// overlays the result on the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML data over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(substituteEnvVars(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(match []byte) []byte {
		content := string(match[2 : len(match)-1])
		if name, def, ok := strings.Cut(content, ":-"); ok {
			if val := os.Getenv(name); val != "" {
				return []byte(val)
			}
			return []byte(def)
		}
		return []byte(os.Getenv(content))
	})
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error
	ic := c.Index
	if ic.Path == "" {
		errs = append(errs, errors.New("index.path is required"))
	}
	if ic.PageSize < storage.MinPageSize || ic.PageSize > storage.MaxPageSize {
		errs = append(errs, fmt.Errorf("index.page_size must be between %d and %d", storage.MinPageSize, storage.MaxPageSize))
	}
	if ic.GrowPageCount < 2 {
		errs = append(errs, errors.New("index.grow_page_count must be at least 2"))
	}
	if ic.CachePageLimit < 0 {
		errs = append(errs, errors.New("index.cache_page_limit must not be negative"))
	}
	if ic.SearchCacheSize < 0 {
		errs = append(errs, errors.New("index.search_cache_size must not be negative"))
	}
	if ic.MinWordLength < 0 {
		errs = append(errs, errors.New("index.min_word_length must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error", "disabled", "":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error, disabled", c.Log.Level))
	}
	return errors.Join(errs...)
}

// IndexOptions converts the index settings. Logger and Metrics are left
// for the caller.
func (c *Config) IndexOptions() index.Options {
	return index.Options{
		PageSize:        c.Index.PageSize,
		GrowPageCount:   c.Index.GrowPageCount,
		CachePageLimit:  c.Index.CachePageLimit,
		Buffered:        c.Index.Buffered,
		SearchCacheSize: c.Index.SearchCacheSize,
		Tokenizer:       tokenize.Default{MinLength: c.Index.MinWordLength},
	}
}
