package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalforge/internal/model"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goalforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
criterion: fbranch
target:
  class: org.example.Stack
  method: pop()I
enhancer:
  threshold: 0.25
search:
  generations: 7
store:
  kind: leveldb
  path: /tmp/goalforge
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, model.KindFlagEffect, cfg.Kind())
	assert.Equal(t, 7, cfg.Search.Generations)
	assert.Equal(t, 4, cfg.Search.Workers, "unset keys keep their defaults")

	ec := cfg.EnhancerConfig()
	assert.Equal(t, 0.25, ec.Threshold)
	assert.Equal(t, "pop()I", ec.Target.Method)
	assert.Equal(t, []string{"fbranch"}, ec.Criteria)
	require.NoError(t, ec.Validate())
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "goalforge.yaml")
	cfg := DefaultConfig()
	cfg.Target = TargetConfig{Class: "org.example.Stack", Method: "push"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("overrides file values", func(t *testing.T) {
		t.Setenv("GOALFORGE_TARGET_CLASS", "org.example.Queue")
		t.Setenv("GOALFORGE_THRESHOLD", "0.5")
		t.Setenv("GOALFORGE_STORE", "sqlite")
		t.Setenv("GOALFORGE_DB_PATH", "goalforge.db")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "org.example.Queue", cfg.Target.Class)
		assert.Equal(t, 0.5, cfg.Enhancer.Threshold)
		assert.Equal(t, "sqlite", cfg.Store.Kind)
		assert.Equal(t, "goalforge.db", cfg.Store.Path)
	})

	t.Run("rejects malformed numbers", func(t *testing.T) {
		t.Setenv("GOALFORGE_WORKERS", "many")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Target = TargetConfig{Class: "org.example.Stack", Method: "pop"}
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"criterion":  func(c *Config) { c.Criterion = "line" },
		"target":     func(c *Config) { c.Target.Method = "" },
		"threshold":  func(c *Config) { c.Enhancer.Threshold = 1 },
		"depth":      func(c *Config) { c.Enhancer.MaxClimbDepth = 0 },
		"workers":    func(c *Config) { c.Search.Workers = 0 },
		"store kind": func(c *Config) { c.Store.Kind = "redis" },
		"store path": func(c *Config) { c.Store.Kind = "leveldb" },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalid, name)
	}
}
