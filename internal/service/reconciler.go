package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/port"
)

const (
	DefaultPollInterval    = 60 * time.Second
	DefaultOrphanRetention = 7 * 24 * time.Hour
	orphanSweepEvery       = 60
)

// PlaylistSetting yields the configured playlist, or "" when there is none.
type PlaylistSetting interface {
	PlaylistURL() string
}

// Discarder cleans up after items the library no longer holds.
type Discarder interface {
	Discard(item domain.MediaItem)
}

type ReconcilerConfig struct {
	MediaDir        string
	PollInterval    time.Duration
	OrphanRetention time.Duration
}

// Reconciler keeps the external part of the library in step with the
// configured playlist and sweeps media files nothing refers to.
type Reconciler struct {
	library   *Library
	playlist  port.PlaylistSource
	metadata  port.MetadataSource
	setting   PlaylistSetting
	downloads *Queue[int64]
	discarder Discarder
	cfg       ReconcilerConfig
	now       func() time.Time

	trigger chan struct{}
	polls   int
}

func NewReconciler(
	library *Library,
	playlist port.PlaylistSource,
	metadata port.MetadataSource,
	setting PlaylistSetting,
	downloads *Queue[int64],
	discarder Discarder,
	cfg ReconcilerConfig,
) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.OrphanRetention <= 0 {
		cfg.OrphanRetention = DefaultOrphanRetention
	}
	return &Reconciler{
		library:   library,
		playlist:  playlist,
		metadata:  metadata,
		setting:   setting,
		downloads: downloads,
		discarder: discarder,
		cfg:       cfg,
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
	}
}

// Trigger asks for a fetch right away instead of at the next tick.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run polls once immediately, then every poll interval or on Trigger.
func (r *Reconciler) Run(ctx context.Context) error {
	logger.Info.Printf("reconciler started, polling every %s", r.cfg.PollInterval)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.trigger:
			ticker.Reset(r.cfg.PollInterval)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	if _, err := r.Poll(ctx); err != nil && ctx.Err() == nil {
		logger.Warn.Printf("reconciler: %v", err)
	}

	if r.polls%orphanSweepEvery == 0 {
		if n, err := r.SweepOrphans(); err != nil {
			logger.Warn.Printf("reconciler: orphan sweep: %v", err)
		} else if n > 0 {
			logger.Info.Printf("reconciler: removed %d orphaned files", n)
		}
	}
	r.polls++
}

// Poll fetches the playlist and merges it into the library. Metadata for
// new videos is fetched before the library is touched; a video whose
// metadata cannot be fetched is left out until a later poll.
func (r *Reconciler) Poll(ctx context.Context) (ReconcileResult, error) {
	url := r.setting.PlaylistURL()
	if url == "" {
		logger.Debug.Printf("reconciler: no playlist configured")
		return ReconcileResult{}, nil
	}

	entries, err := r.playlist.Playlist(ctx, url)
	if err != nil {
		return ReconcileResult{}, err
	}

	ids := make([]string, 0, len(entries))
	var created []domain.MediaItem
	for _, e := range entries {
		ids = append(ids, e.VideoID)
		if _, ok := r.library.GetByExternalID(e.VideoID); ok {
			continue
		}
		meta, err := r.metadata.Metadata(ctx, watchURL(e.VideoID))
		if err != nil {
			logger.Warn.Printf("reconciler: metadata for %s: %v", logger.SanitizeForLog(e.VideoID), err)
			continue
		}
		meta.PlaylistItemID = e.PlaylistItemID
		if meta.URL == "" {
			meta.URL = watchURL(e.VideoID)
		}
		created = append(created, domain.NewExternalItem(*meta))
	}

	result, err := r.library.Reconcile(ctx, ids, created)
	if err != nil {
		return ReconcileResult{}, err
	}

	for _, it := range result.Added {
		r.downloads.Enqueue(it.ID)
	}
	for _, it := range result.Removed {
		if r.discarder != nil {
			r.discarder.Discard(it)
		}
	}
	if result.Changed() {
		logger.Info.Printf("reconciler: %d added, %d removed", len(result.Added), len(result.Removed))
	}
	return result, nil
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// SweepOrphans deletes media files no library item owns once they are older
// than the retention period. It returns how many files were removed.
func (r *Reconciler) SweepOrphans() (int, error) {
	entries, err := os.ReadDir(r.cfg.MediaDir)
	if err != nil {
		return 0, err
	}
	items := r.library.List()
	cutoff := r.now().Add(-r.cfg.OrphanRetention)

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "README.md" || strings.HasSuffix(name, ".jpg") {
			continue
		}
		if owned(items, name) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.cfg.MediaDir, name)); err != nil {
			logger.Warn.Printf("reconciler: remove %s: %v", name, err)
			continue
		}
		logger.Info.Printf("reconciler: removed orphan %s", logger.SanitizeForLog(name))
		removed++
	}
	return removed, nil
}

func owned(items []domain.MediaItem, name string) bool {
	for _, it := range items {
		if it.OwnsFile(name) {
			return true
		}
	}
	return false
}
