// Package config provides configuration helpers, TOML parsing and test
// template loading.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Run   RunConfig   `toml:"run"`
	Serve ServeConfig `toml:"serve"`
	Log   LogConfig   `toml:"log"`
}

// RunConfig maps settings of the run command.
type RunConfig struct {
	Patient  *string `toml:"patient"`
	Eye      *string `toml:"eye"`
	Mode     *string `toml:"mode"`
	Template *string `toml:"template"`
	Seed     *int64  `toml:"seed"`
	Server   *string `toml:"server"`
}

// ServeConfig maps settings of the HTTP collaborator.
type ServeConfig struct {
	Addr *string `toml:"addr"`
}

// LogConfig maps diagnostics settings.
type LogConfig struct {
	Verbose *bool   `toml:"verbose"`
	Path    *string `toml:"path"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}
