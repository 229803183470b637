// Package config handles vcall.toml dispatch cache configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/vcall/dispatch"
)

// FileName is the configuration file searched for by FindAndLoad.
const FileName = "vcall.toml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config represents a vcall.toml file.
type Config struct {
	Cache     Cache     `toml:"cache" json:"cache"`
	Promotion Promotion `toml:"promotion" json:"promotion"`
	Heap      Heap      `toml:"heap" json:"heap"`
	Log       Log       `toml:"log" json:"log"`

	// Path is the file the configuration was loaded from (set at load time).
	Path string `toml:"-" json:"-"`
}

// Cache sizes the resolve cache table.
type Cache struct {
	Bits       uint `toml:"bits" json:"bits"`
	MaxEntries int  `toml:"max-entries" json:"max-entries"`
}

// Promotion tunes when call sites leave the monomorphic fast path.
type Promotion struct {
	Threshold int `toml:"threshold" json:"threshold"`
}

// Heap configures the stub heap.
type Heap struct {
	RegionSize int   `toml:"region-size" json:"region-size"`
	MaxBytes   int64 `toml:"max-bytes" json:"max-bytes"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	opts := dispatch.DefaultOptions()
	return &Config{
		Cache:     Cache{Bits: opts.CacheBits},
		Promotion: Promotion{Threshold: opts.PromotionThreshold},
		Heap:      Heap{RegionSize: opts.RegionSize},
	}
}

// Load parses a configuration file. Keys missing from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates TOML configuration data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindAndLoad walks up from startDir to find a vcall.toml file and loads
// it. Returns the default configuration if none is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

// DispatchOptions converts the configuration into dispatch.Options.
func (c *Config) DispatchOptions() dispatch.Options {
	return dispatch.Options{
		PromotionThreshold: c.Promotion.Threshold,
		CacheBits:          c.Cache.Bits,
		MaxCacheEntries:    c.Cache.MaxEntries,
		RegionSize:         c.Heap.RegionSize,
		MaxHeapBytes:       c.Heap.MaxBytes,
	}
}

// LogFile returns the configured log path, or nil for stderr.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	return &c.Log.File
}
