package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string        `yaml:"name" env:"SAMPLE_NAME"`
	Ratio   float64       `yaml:"ratio"`
	Timeout time.Duration `yaml:"timeout"`
	Tags    []string      `yaml:"tags"`
	Inner   struct {
		Port  int  `yaml:"port"`
		Debug bool `yaml:"debug"`
	} `yaml:"inner"`
	Items []struct {
		ID string `yaml:"id"`
	} `yaml:"items"`
}

func TestLoadConfigFromFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	body := []byte("name: from-file\nratio: 0.5\ntimeout: 3s\ninner:\n  port: 80\nitems:\n  - id: a\n  - id: b\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	t.Setenv("SAMPLE_NAME", "from-env")
	t.Setenv("INNER_PORT", "9090")
	t.Setenv("TAGS", "one, two,,three")
	t.Setenv("TIMEOUT", "1m30s")

	var cfg sample
	require.NoError(t, LoadConfigFrom(path, &cfg))

	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, 0.5, cfg.Ratio)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"one", "two", "three"}, cfg.Tags)
	assert.Equal(t, 9090, cfg.Inner.Port)
	require.Len(t, cfg.Items, 2)
	assert.Equal(t, "b", cfg.Items[1].ID)
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	var cfg sample
	assert.Error(t, LoadConfigFrom("", cfg))
	assert.Error(t, LoadConfigFrom("", nil))

	t.Setenv("INNER_DEBUG", "maybe")
	err := LoadConfigFrom("", &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INNER_DEBUG")
}

func TestLoadConfigMissingFile(t *testing.T) {
	var cfg sample
	err := LoadConfigFrom(filepath.Join(t.TempDir(), "missing.yaml"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read file")
}

func TestEnvKeyNaming(t *testing.T) {
	type nested struct {
		Addr string
	}
	var cfg struct {
		Cache   nested `env:"app-cache"`
		Skipped string `env:"-"`
		Plain   nested
	}

	t.Setenv("APP_CACHE_ADDR", "redis:6379")
	t.Setenv("PLAIN_ADDR", "localhost")
	t.Setenv("SKIPPED", "ignored")

	require.NoError(t, LoadConfigFrom("", &cfg))
	assert.Equal(t, "redis:6379", cfg.Cache.Addr)
	assert.Equal(t, "localhost", cfg.Plain.Addr)
	assert.Empty(t, cfg.Skipped)
}
