package main

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// config holds tool defaults, overridable from the command line.
type config struct {
	Port       string `toml:"port"`
	Timeout    int    `toml:"timeout"` // seconds
	PayloadCap int    `toml:"payload_cap"`
}

func defaultConfig() config {
	return config{Timeout: 10}
}

// loadConfig merges ~/.config/qflash.toml (if present) over the
// defaults. A malformed file is a hard error; a missing one is not.
func loadConfig() config {
	cfg := defaultConfig()

	dir, err := os.UserConfigDir()
	if err != nil {
		return cfg
	}
	path := filepath.Join(dir, "qflash.toml")
	if _, err := os.Stat(path); err != nil {
		return cfg
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		fatalf("bad config %s: %v", path, err)
	}
	return cfg
}
