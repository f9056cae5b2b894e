// Package config loads the goalforge run configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"goalforge/internal/enhance"
	"goalforge/internal/fitness"
	"goalforge/internal/model"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Criterion string         `yaml:"criterion"`
	Target    TargetConfig   `yaml:"target"`
	Enhancer  EnhancerConfig `yaml:"enhancer"`
	Search    SearchConfig   `yaml:"search"`
	Store     StoreConfig    `yaml:"store"`
	Logging   LoggingConfig  `yaml:"logging"`
}

type TargetConfig struct {
	Class  string `yaml:"class"`
	Method string `yaml:"method"`
}

type EnhancerConfig struct {
	Threshold       float64  `yaml:"threshold"`
	MaxClimbDepth   int      `yaml:"max_climb_depth"`
	LibraryPrefixes []string `yaml:"library_prefixes"`
	HarnessPrefixes []string `yaml:"harness_prefixes"`
}

type SearchConfig struct {
	Generations int `yaml:"generations"`
	Workers     int `yaml:"workers"`
}

type StoreConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Criterion: "branch",
		Enhancer: EnhancerConfig{
			Threshold:       enhance.DefaultThreshold,
			MaxClimbDepth:   fitness.DefaultMaxClimbDepth,
			LibraryPrefixes: append([]string(nil), enhance.DefaultLibraryPrefixes...),
			HarnessPrefixes: append([]string(nil), enhance.DefaultHarnessPrefixes...),
		},
		Search: SearchConfig{
			Generations: 50,
			Workers:     4,
		},
		Store: StoreConfig{
			Kind: "memory",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults;
// environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides reads GOALFORGE_* variables. Unset or empty variables
// leave the file value alone.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("GOALFORGE_CRITERION"); v != "" {
		c.Criterion = v
	}
	if v := os.Getenv("GOALFORGE_TARGET_CLASS"); v != "" {
		c.Target.Class = v
	}
	if v := os.Getenv("GOALFORGE_TARGET_METHOD"); v != "" {
		c.Target.Method = v
	}
	if v := os.Getenv("GOALFORGE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: GOALFORGE_THRESHOLD: %v", ErrInvalid, err)
		}
		c.Enhancer.Threshold = f
	}
	if v := os.Getenv("GOALFORGE_GENERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: GOALFORGE_GENERATIONS: %v", ErrInvalid, err)
		}
		c.Search.Generations = n
	}
	if v := os.Getenv("GOALFORGE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: GOALFORGE_WORKERS: %v", ErrInvalid, err)
		}
		c.Search.Workers = n
	}
	if v := os.Getenv("GOALFORGE_STORE"); v != "" {
		c.Store.Kind = v
	}
	if v := os.Getenv("GOALFORGE_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("GOALFORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

var validStores = []string{"memory", "sqlite", "leveldb"}

func (c *Config) Validate() error {
	if _, ok := model.CriterionKind([]string{c.Criterion}); !ok {
		return fmt.Errorf("%w: unsupported criterion %q (valid: branch, fbranch)", ErrInvalid, c.Criterion)
	}
	if c.Target.Class == "" || c.Target.Method == "" {
		return fmt.Errorf("%w: target class and method are required", ErrInvalid)
	}
	if c.Enhancer.Threshold < 0 || c.Enhancer.Threshold >= 1 {
		return fmt.Errorf("%w: threshold must be in [0,1)", ErrInvalid)
	}
	if c.Enhancer.MaxClimbDepth <= 0 {
		return fmt.Errorf("%w: max_climb_depth must be > 0", ErrInvalid)
	}
	if c.Search.Generations <= 0 {
		return fmt.Errorf("%w: generations must be > 0", ErrInvalid)
	}
	if c.Search.Workers <= 0 {
		return fmt.Errorf("%w: workers must be > 0", ErrInvalid)
	}
	valid := false
	for _, kind := range validStores {
		if c.Store.Kind == kind {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: invalid store kind %q (valid: %v)", ErrInvalid, c.Store.Kind, validStores)
	}
	if c.Store.Kind != "memory" && c.Store.Path == "" {
		return fmt.Errorf("%w: store path is required for %s", ErrInvalid, c.Store.Kind)
	}
	return nil
}

// Kind is the objective variant selected by the criterion.
func (c *Config) Kind() model.Kind {
	kind, _ := model.CriterionKind([]string{c.Criterion})
	return kind
}

func (c *Config) EnhancerConfig() enhance.Config {
	return enhance.Config{
		Target:          enhance.Target{Class: c.Target.Class, Method: c.Target.Method},
		Criteria:        []string{strings.ToLower(c.Criterion)},
		Threshold:       c.Enhancer.Threshold,
		MaxDepth:        c.Enhancer.MaxClimbDepth,
		LibraryPrefixes: append([]string(nil), c.Enhancer.LibraryPrefixes...),
		HarnessPrefixes: append([]string(nil), c.Enhancer.HarnessPrefixes...),
	}
}
