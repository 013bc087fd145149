// Package config loads the build server configuration and workspace
// project manifests.
//
// Server settings live in a YAML file; project manifests are CUE files in
// the workspace directory, one field per project under the top-level
// "project" struct.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Server holds the build server settings.
type Server struct {
	// JournalPath is the SQLite build journal location.
	JournalPath string `yaml:"journal_path"`

	// ComputePoolSize bounds CPU-bound work. Zero means GOMAXPROCS.
	ComputePoolSize int `yaml:"compute_pool_size"`

	// Pipeline selects pipelined scheduling by default.
	Pipeline bool `yaml:"pipeline"`

	// ClientsDir is the base directory for per-client classes directories.
	ClientsDir string `yaml:"clients_dir"`
}

// DefaultServer returns the configuration used when no file is present.
func DefaultServer() Server {
	return Server{
		JournalPath: ".anvil/journal.db",
		ClientsDir:  ".anvil/clients",
	}
}

// LoadServer reads a YAML server configuration. A missing file yields the
// defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = DefaultServer().JournalPath
	}
	if cfg.ClientsDir == "" {
		cfg.ClientsDir = DefaultServer().ClientsDir
	}
	return cfg, nil
}
