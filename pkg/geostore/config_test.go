package geostore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/geostore.yaml")
	assert.Error(t, err)

	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "lz4", cfg.Store.Codec)
	assert.Equal(t, 16, cfg.Index.FanOut)
	assert.Equal(t, "info", cfg.Log.Level)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.True(t, opts.AutoRebuild)
	assert.True(t, opts.BuildIndexes)
	assert.True(t, opts.SkipErrors)
	assert.Equal(t, CodecLZ4, opts.Codec)
	assert.NotNil(t, opts.Logger)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geostore.yaml")
	content := `
store:
  read_only: true
  auto_rebuild: false
  codec: zstd
index:
  fan_out: 8
  max_depth: 12
  build_on_write: false
catalog:
  workers: 3
  skip_errors: false
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.True(t, opts.ReadOnly)
	assert.False(t, opts.AutoRebuild)
	assert.Equal(t, CodecZSTD, opts.Codec)
	assert.Equal(t, 8, opts.FanOut)
	assert.Equal(t, 12, opts.MaxDepth)
	assert.False(t, opts.BuildIndexes)
	assert.Equal(t, 3, opts.Workers)
	assert.False(t, opts.SkipErrors)
}

func TestLoadConfigBackfillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  fan_out: -3\nlog:\n  level: \"\"\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Index.FanOut)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "lz4", cfg.Store.Codec)
}

func TestConfigOptionsErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"codec", Config{Store: StoreConfig{Codec: "brotli"}, Log: LogConfig{Level: "info", Format: "text"}}},
		{"level", Config{Store: StoreConfig{Codec: "none"}, Log: LogConfig{Level: "chatty", Format: "text"}}},
		{"format", Config{Store: StoreConfig{Codec: "none"}, Log: LogConfig{Level: "info", Format: "xml"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Options()
			assert.Error(t, err)
		})
	}
}
