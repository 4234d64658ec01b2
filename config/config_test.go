package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"BACKEND_HOST", "BACKEND_PORT", "DATA_DIR", "MEDIA_DIR", "COOKIE_FILE",
	"PLAYLIST_POLL_INTERVAL", "ORPHAN_RETENTION", "TRICKPLAY_SOURCE", "TRICKPLAY_INTERVAL",
	"TRICKPLAY_TILE", "TRICKPLAY_GRID", "TRICKPLAY_BIF", "PEER_BACKLOG", "DOWNLOAD_ATTEMPTS", "LOG_DEBUG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8765", cfg.Addr())
	assert.Equal(t, "./db", cfg.DataDir)
	assert.Equal(t, "/videos", cfg.MediaDir)
	assert.Equal(t, "db/cookies.txt", cfg.CookieFile)
	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, 168*time.Hour, cfg.OrphanRetention)
	assert.Equal(t, "frames", cfg.TrickplaySource)
	assert.Equal(t, 10*time.Second, cfg.TrickplayInterval)
	assert.Equal(t, 320, cfg.TileWidth)
	assert.Equal(t, 180, cfg.TileHeight)
	assert.Equal(t, 5, cfg.GridRows)
	assert.Equal(t, 5, cfg.GridColumns)
	assert.False(t, cfg.TrickplayBIF)
	assert.Equal(t, 256, cfg.PeerBacklog)
	assert.Equal(t, 3, cfg.DownloadAttempts)
	assert.False(t, cfg.Debug)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_HOST", "127.0.0.1")
	t.Setenv("BACKEND_PORT", "9000")
	t.Setenv("DATA_DIR", "/srv/piplay")
	t.Setenv("TRICKPLAY_SOURCE", "storyboard")
	t.Setenv("TRICKPLAY_TILE", "160X90")
	t.Setenv("TRICKPLAY_GRID", "10x4")
	t.Setenv("PLAYLIST_POLL_INTERVAL", "5m")
	t.Setenv("LOG_DEBUG", "true")
	t.Setenv("TRICKPLAY_BIF", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, "/srv/piplay/cookies.txt", cfg.CookieFile)
	assert.Equal(t, "storyboard", cfg.TrickplaySource)
	assert.Equal(t, 160, cfg.TileWidth)
	assert.Equal(t, 90, cfg.TileHeight)
	assert.Equal(t, 10, cfg.GridColumns)
	assert.Equal(t, 4, cfg.GridRows)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.TrickplayBIF)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"BACKEND_PORT", "http"},
		{"BACKEND_PORT", "70000"},
		{"PLAYLIST_POLL_INTERVAL", "60"},
		{"ORPHAN_RETENTION", "-1h"},
		{"TRICKPLAY_SOURCE", "thumbnails"},
		{"TRICKPLAY_INTERVAL", "0s"},
		{"TRICKPLAY_TILE", "320"},
		{"TRICKPLAY_GRID", "0x5"},
		{"PEER_BACKLOG", "-3"},
		{"DOWNLOAD_ATTEMPTS", "many"},
		{"TRICKPLAY_BIF", "roku"},
		{"LOG_DEBUG", "sometimes"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_DotEnvFillsUnsetKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_PORT", "9100")
	require.NoError(t, os.Unsetenv("MEDIA_DIR"))
	require.NoError(t, os.WriteFile(".env", []byte("BACKEND_PORT=9200\nMEDIA_DIR=/mnt/videos\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "/mnt/videos", cfg.MediaDir)
}
