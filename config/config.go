package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host       string
	Port       int
	DataDir    string
	MediaDir   string
	CookieFile string

	PollInterval    time.Duration
	OrphanRetention time.Duration

	TrickplaySource   string
	TrickplayInterval time.Duration
	TileWidth         int
	TileHeight        int
	GridRows          int
	GridColumns       int
	TrickplayBIF      bool

	PeerBacklog      int
	DownloadAttempts int
	Debug            bool
}

// Load reads the configuration from the environment. Values from a .env
// file in the working directory fill in anything the environment leaves
// unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	port, err := strconv.Atoi(getEnv("BACKEND_PORT", "8765"))
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid BACKEND_PORT %q", os.Getenv("BACKEND_PORT"))
	}

	pollInterval, err := positiveDuration("PLAYLIST_POLL_INTERVAL", "60s")
	if err != nil {
		return nil, err
	}
	retention, err := positiveDuration("ORPHAN_RETENTION", "168h")
	if err != nil {
		return nil, err
	}
	interval, err := positiveDuration("TRICKPLAY_INTERVAL", "10s")
	if err != nil {
		return nil, err
	}

	source := getEnv("TRICKPLAY_SOURCE", "frames")
	if source != "frames" && source != "storyboard" {
		return nil, fmt.Errorf("invalid TRICKPLAY_SOURCE %q: want frames or storyboard", source)
	}

	tileW, tileH, err := dimensions("TRICKPLAY_TILE", "320x180")
	if err != nil {
		return nil, err
	}
	cols, rows, err := dimensions("TRICKPLAY_GRID", "5x5")
	if err != nil {
		return nil, err
	}

	backlog, err := positiveInt("PEER_BACKLOG", "256")
	if err != nil {
		return nil, err
	}
	attempts, err := positiveInt("DOWNLOAD_ATTEMPTS", "3")
	if err != nil {
		return nil, err
	}

	bif, err := strconv.ParseBool(getEnv("TRICKPLAY_BIF", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRICKPLAY_BIF: %w", err)
	}

	debug, err := strconv.ParseBool(getEnv("LOG_DEBUG", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_DEBUG: %w", err)
	}

	dataDir := getEnv("DATA_DIR", "./db")
	return &Config{
		Host:              getEnv("BACKEND_HOST", "0.0.0.0"),
		Port:              port,
		DataDir:           dataDir,
		MediaDir:          getEnv("MEDIA_DIR", "/videos"),
		CookieFile:        getEnv("COOKIE_FILE", filepath.Join(dataDir, "cookies.txt")),
		PollInterval:      pollInterval,
		OrphanRetention:   retention,
		TrickplaySource:   source,
		TrickplayInterval: interval,
		TileWidth:         tileW,
		TileHeight:        tileH,
		GridRows:          rows,
		GridColumns:       cols,
		TrickplayBIF:      bif,
		PeerBacklog:       backlog,
		DownloadAttempts:  attempts,
		Debug:             debug,
	}, nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func positiveInt(key, defaultValue string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, os.Getenv(key))
	}
	return n, nil
}

func positiveDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration", key, os.Getenv(key))
	}
	return d, nil
}

// dimensions parses "<width>x<height>".
func dimensions(key, defaultValue string) (int, int, error) {
	raw := getEnv(key, defaultValue)
	w, h, ok := strings.Cut(strings.ToLower(raw), "x")
	if ok {
		width, errW := strconv.Atoi(w)
		height, errH := strconv.Atoi(h)
		if errW == nil && errH == nil && width > 0 && height > 0 {
			return width, height, nil
		}
	}
	return 0, 0, fmt.Errorf("invalid %s %q: want <width>x<height>", key, raw)
}
