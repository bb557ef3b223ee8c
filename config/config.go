// Package config loads engine startup configuration from an optional TOML
// file, layered under CLI flag overrides.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// CoreOrdering selects how topology.CoreSet orders its workers.
type CoreOrdering string

const (
	// OrderAscending numbers workers by increasing physical core id.
	OrderAscending CoreOrdering = "ascending"
	// OrderNUMAAware groups workers by NUMA node first.
	OrderNUMAAware CoreOrdering = "numa"
	// OrderPhysicalThenSMT places all physical cores before their SMT siblings.
	OrderPhysicalThenSMT CoreOrdering = "physical-then-smt"
)

// Config is the full set of tunables for one engine instance.
type Config struct {
	// Cores is the number of workers to start; 0 means "all detected cores".
	Cores int `toml:"cores"`
	// CoreOrdering selects the core-set ordering policy.
	CoreOrdering CoreOrdering `toml:"core_ordering"`
	// PrefetchDistance is the fixed ring depth, or -1 for "auto".
	PrefetchDistance int `toml:"prefetch_distance"`
	// Port is the server listen port; 0 lets the OS choose a free port.
	Port int `toml:"port"`
	// LogLevel is passed to logutil.Config.
	LogLevel string `toml:"log_level"`
	// LogFile is passed to logutil.Config.
	LogFile string `toml:"log_file"`
	// LoadFile is a persisted database snapshot to restore at startup.
	LoadFile string `toml:"load_file"`
}

// Default returns the configuration used when no file or flags are given.
func Default() Config {
	return Config{
		Cores:            0,
		CoreOrdering:     OrderAscending,
		PrefetchDistance: -1,
		Port:             0,
		LogLevel:         "info",
	}
}

// Load decodes path (a TOML file) over Default(), returning the merged result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Annotatef(err, "loading config from %s", path)
	}
	return cfg, nil
}
