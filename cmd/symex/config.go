package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/symex/memsolver"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of the "run" command. Values are read from an
// optional YAML file and then overridden by flags set on the command line.
type Config struct {
	Solver    string        `yaml:"solver"`
	Bound     int64         `yaml:"bound"`
	Bounded   bool          `yaml:"bounded"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxDepth  int           `yaml:"max-depth"`
	MaxStates int           `yaml:"max-states"`
	Search    string        `yaml:"search"`
	Seed      int64         `yaml:"seed"`
	Format    string        `yaml:"format"`
	Functions []string      `yaml:"functions"`
}

// DefaultConfig returns a configuration with default settings.
func DefaultConfig() Config {
	return Config{
		Solver: "z3",
		Bound:  memsolver.DefaultBound,
		Search: "dfs",
		Format: "text",
	}
}

// Validate returns an error if the configuration holds an unknown setting.
func (c *Config) Validate() error {
	switch c.Solver {
	case "z3", "mem":
	default:
		return fmt.Errorf("unknown solver: %q", c.Solver)
	}

	switch c.Format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown format: %q", c.Format)
	}

	if c.Bound < 0 {
		return fmt.Errorf("bound must be non-negative")
	} else if c.MaxDepth < 0 {
		return fmt.Errorf("max-depth must be non-negative")
	} else if c.MaxStates < 0 {
		return fmt.Errorf("max-states must be non-negative")
	}
	return nil
}

// ParseConfigFile decodes the YAML file at path over config.
func ParseConfigFile(path string, config *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err == io.EOF {
		return nil
	} else if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
