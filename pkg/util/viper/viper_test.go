package viper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxInbufferLen int           `mapstructure:"max-inbuffer-len"`
}

type engineConfig struct {
	Workers int           `mapstructure:"workers"`
	Session sessionConfig `mapstructure:"session"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
engine:
  workers: 2
  session:
    timeout: 5s
    max-inbuffer-len: 1024
`)
	c := New()
	require.NoError(t, c.LoadFile(path))
	assert.True(t, c.IsSet("engine.workers"))

	var cfg engineConfig
	require.NoError(t, c.UnmarshalKey("engine", &cfg))
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.Session.Timeout)
	assert.Equal(t, 1024, cfg.Session.MaxInbufferLen)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"engine": {"workers": 3}}`)
	c := New()
	require.NoError(t, c.LoadFile(path))
	assert.EqualValues(t, 3, c.Get("engine.workers"))
}

func TestLoadMissingFile(t *testing.T) {
	assert.Error(t, New().LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestDefaultsAndEnv(t *testing.T) {
	t.Setenv("EVLITETEST_ENGINE_WORKERS", "8")

	c := New()
	c.SetDefault("engine.workers", 1)
	c.SetDefault("engine.session.timeout", "1s")
	c.AutomaticEnv("EVLITETEST")

	var cfg engineConfig
	require.NoError(t, c.UnmarshalKey("engine", &cfg))
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, time.Second, cfg.Session.Timeout)
}

func TestZeroValueConfig(t *testing.T) {
	var c Config
	c.SetDefault("a", 1)
	assert.Equal(t, 1, c.Get("a"))
}
