package vm

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the VM's tuning knobs, loaded from a TOML file the way the
// teacher's manifest package loads its project manifest.
type Config struct {
	Stack struct {
		InitialCapacity int `toml:"initial_capacity"`
	} `toml:"stack"`

	Specialize struct {
		MegamorphicThreshold int `toml:"megamorphic_threshold"`
	} `toml:"specialize"`

	Profiler struct {
		Enabled        bool `toml:"enabled"`
		SampleInterval int  `toml:"sample_interval"`
		HotThreshold   int64 `toml:"hot_threshold"`
	} `toml:"profiler"`

	Persistence struct {
		SQLitePath string `toml:"sqlite_path"`
		DuckDBPath string `toml:"duckdb_path"`
	} `toml:"persistence"`
}

// DefaultConfig returns the configuration the VM uses when no TOML file is
// supplied.
func DefaultConfig() Config {
	var c Config
	c.Stack.InitialCapacity = defaultStackCapacity
	c.Specialize.MegamorphicThreshold = megamorphicThreshold
	c.Profiler.Enabled = false
	c.Profiler.SampleInterval = 997
	c.Profiler.HotThreshold = 10000
	return c
}

// LoadConfig reads and decodes a TOML config file at path, starting from
// DefaultConfig for any field the file omits.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("vm: opening config %s: %w", path, err)
	}
	defer f.Close()

	if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("vm: decoding config %s: %w", path, err)
	}
	return cfg, nil
}
