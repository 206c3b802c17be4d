package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sho7650/media-stage/internal/config"
)

func TestLoadConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty path uses defaults", func(t *testing.T) {
		cfg, err := loadConfig(ctx, config.NewConfigManager(), "")
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Empty(t, cfg.Media)
	})

	t.Run("Reads the given file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9191"
media:
  home:
    url: "https://cdn.example.com/videos/video1.mp4"
    loop_start: 2
    loop_end: 15
`), 0644))

		cfg, err := loadConfig(ctx, config.NewConfigManager(), path)
		require.NoError(t, err)
		assert.Equal(t, ":9191", cfg.Server.Addr)
		assert.Contains(t, cfg.Media, "home")
	})

	t.Run("Missing file is an error", func(t *testing.T) {
		_, err := loadConfig(ctx, config.NewConfigManager(), filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
