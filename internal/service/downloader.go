package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/port"
	"github.com/bnema/piplay/internal/retry"
)

const (
	sourceProgress = "progressHook"

	DownloadTick             = 33 * time.Millisecond
	DefaultProgressInterval  = 100 * time.Millisecond
	DefaultDownloadAttempts  = 3
	defaultDownloadBackoffLo = 5 * time.Second
	defaultDownloadBackoffHi = 2 * time.Minute
)

// QualitySource reports the rendition quality downloads should target.
type QualitySource interface {
	Quality() domain.Quality
}

type DownloaderConfig struct {
	MediaDir         string
	Attempts         int
	Backoff          *retry.Backoff
	ProgressInterval time.Duration
}

// Downloader is the single download worker. It drains the download queue
// one item at a time, fetching each planned rendition in turn.
type Downloader struct {
	library   *Library
	queue     *Queue[int64]
	trickplay *Queue[int64]
	fetcher   port.MediaFetcher
	metadata  port.MetadataSource
	quality   QualitySource
	cfg       DownloaderConfig
	now       func() time.Time

	mu     sync.Mutex
	active int64
	cancel context.CancelFunc
}

func NewDownloader(
	library *Library,
	queue *Queue[int64],
	trickplay *Queue[int64],
	fetcher port.MediaFetcher,
	metadata port.MetadataSource,
	quality QualitySource,
	cfg DownloaderConfig,
) *Downloader {
	if cfg.Attempts < 1 {
		cfg.Attempts = DefaultDownloadAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.NewBackoff(defaultDownloadBackoffLo, defaultDownloadBackoffHi, 2)
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	return &Downloader{
		library:   library,
		queue:     queue,
		trickplay: trickplay,
		fetcher:   fetcher,
		metadata:  metadata,
		quality:   quality,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (d *Downloader) Run(ctx context.Context) error {
	logger.Info.Printf("downloader started")
	return d.queue.Drain(ctx, DownloadTick, d.Process)
}

// Cancel aborts the transfer running for id, if any. Its results are
// discarded either way once the item is gone from the library.
func (d *Downloader) Cancel(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == id && d.cancel != nil {
		logger.Info.Printf("downloader: cancelling item %d", id)
		d.cancel()
	}
}

// Active returns the id being downloaded, or 0.
func (d *Downloader) Active() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Downloader) begin(ctx context.Context, id int64) context.Context {
	jobCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.active = id
	d.cancel = cancel
	d.mu.Unlock()
	return jobCtx
}

func (d *Downloader) end() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.active = 0
	d.cancel = nil
}

// Process downloads every missing rendition of one item and completes it.
// An item removed from the library at any point is dropped silently.
func (d *Downloader) Process(ctx context.Context, id int64) {
	item, ok := d.library.Get(id)
	if !ok {
		logger.Debug.Printf("downloader: item %d no longer in library", id)
		return
	}
	if item.Status == domain.StatusComplete || item.Status == domain.StatusDeleted || !item.External() {
		return
	}

	jobCtx := d.begin(ctx, id)
	defer d.end()

	plan := d.plan(jobCtx, item)
	logger.Info.Printf("downloader: item %d %q, renditions %v", id, logger.SanitizeForLog(item.Title), heights(plan))

	for i, r := range plan {
		if err := d.fetchRendition(jobCtx, id, plan, i); err != nil {
			d.fail(ctx, id, r, err)
			return
		}
	}

	if err := d.complete(ctx, id); err != nil {
		d.fail(ctx, id, domain.Rendition{}, err)
	}
}

func (d *Downloader) plan(ctx context.Context, item domain.MediaItem) []domain.Rendition {
	native := item.Height
	if native == 0 && d.metadata != nil {
		meta, err := d.metadata.Metadata(ctx, item.URL)
		if err != nil {
			logger.Warn.Printf("downloader: native height of item %d unknown: %v", item.ID, err)
		} else {
			native = meta.Height
		}
	}
	return domain.FitRenditions(domain.PlanRenditions(d.quality.Quality()), native)
}

func (d *Downloader) renditionPath(item domain.MediaItem, height int) string {
	return filepath.Join(d.cfg.MediaDir, item.RenditionName(height))
}

func (d *Downloader) fetchRendition(ctx context.Context, id int64, plan []domain.Rendition, i int) error {
	r := plan[i]
	status := domain.StatusDownloadingPrimary
	if i > 0 {
		status = domain.StatusDownloadingSecondary
	}

	item, err := d.library.Update(ctx, id, sourceProgress, func(it *domain.MediaItem) error {
		if it.Status < status {
			if err := it.Advance(status); err != nil {
				return err
			}
		}
		if it.Status.Downloading() {
			it.Progress = &domain.Progress{Progress: domain.OverallProgress(plan, i, 0)}
		}
		return nil
	})
	if err != nil {
		return err
	}

	path := d.renditionPath(item, r.Height)
	if slices.Contains(item.Renditions, r.Height) {
		if _, err := os.Stat(path); err == nil {
			logger.Debug.Printf("downloader: item %d already has %dp", id, r.Height)
			return nil
		}
	}

	reporter := newProgressReporter(d, id, plan, i)
	req := port.FetchRequest{URL: item.URL, Height: r.Height, OutputPath: path}
	err = retry.Do(ctx, d.cfg.Attempts, d.cfg.Backoff, func(attempt int) error {
		if attempt > 1 {
			logger.Warn.Printf("downloader: item %d %dp attempt %d/%d", id, r.Height, attempt, d.cfg.Attempts)
		}
		if err := d.fetcher.Fetch(ctx, req, reporter.report); err != nil {
			if _, ok := d.library.Get(id); !ok {
				return retry.Permanent(fmt.Errorf("item %d: %w", id, domain.ErrNotFound))
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = d.library.Update(ctx, id, sourceProgress, func(it *domain.MediaItem) error {
		if !slices.Contains(it.Renditions, r.Height) {
			it.Renditions = append(it.Renditions, r.Height)
		}
		if it.Status.Downloading() {
			it.Progress = &domain.Progress{Progress: domain.OverallProgress(plan, i+1, 0)}
		}
		return nil
	})
	return err
}

func (d *Downloader) complete(ctx context.Context, id int64) error {
	item, err := d.library.Update(ctx, id, sourceProgress, func(it *domain.MediaItem) error {
		return it.Advance(domain.StatusEncoding)
	})
	if err != nil {
		return err
	}

	var size int64
	now := d.now()
	for _, h := range item.Renditions {
		path := d.renditionPath(item, h)
		info, err := os.Stat(path)
		if err != nil {
			logger.Warn.Printf("downloader: item %d rendition %dp missing: %v", id, h, err)
			continue
		}
		size += info.Size()
		if err := os.Chtimes(path, now, now); err != nil {
			logger.Warn.Printf("downloader: touch %s: %v", path, err)
		}
	}

	item, err = d.library.Update(ctx, id, "", func(it *domain.MediaItem) error {
		if err := it.Advance(domain.StatusComplete); err != nil {
			return err
		}
		it.Filesize = size
		return nil
	})
	if err != nil {
		return err
	}
	if _, err := d.library.AppendLog(ctx, domain.LogEntry{ItemID: id, Action: "onDownloaded", Data: fmt.Sprint(size), CreatedAt: now.Unix()}); err != nil {
		logger.Warn.Printf("downloader: log completion of item %d: %v", id, err)
	}
	logger.Info.Printf("downloader: item %d complete, %d bytes", id, size)

	if d.trickplay != nil {
		if _, err := os.Stat(filepath.Join(d.cfg.MediaDir, item.TrickplayName())); os.IsNotExist(err) {
			d.trickplay.Enqueue(id)
		}
	}
	return nil
}

// fail records a failed download. The item keeps its last committed status.
func (d *Downloader) fail(ctx context.Context, id int64, r domain.Rendition, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		logger.Info.Printf("downloader: item %d removed during download, result discarded", id)
		return
	}
	if ctx.Err() != nil {
		logger.Info.Printf("downloader: item %d interrupted by shutdown", id)
		return
	}
	if _, ok := d.library.Get(id); !ok {
		logger.Info.Printf("downloader: item %d removed during download, result discarded", id)
		return
	}

	logger.Error.Printf("downloader: item %d failed at %dp: %v", id, r.Height, err)
	_, logErr := d.library.AppendLog(ctx, domain.LogEntry{
		ItemID:    id,
		Action:    "onDownloadFailed",
		Data:      err.Error(),
		CreatedAt: d.now().Unix(),
	})
	if logErr != nil {
		logger.Warn.Printf("downloader: log failure of item %d: %v", id, logErr)
	}
}

func heights(plan []domain.Rendition) []int {
	out := make([]int, len(plan))
	for i, r := range plan {
		out[i] = r.Height
	}
	return out
}

// progressReporter turns transfer callbacks into transient progress
// updates, at most one per interval except on phase changes.
type progressReporter struct {
	d      *Downloader
	id     int64
	plan   []domain.Rendition
	index  int
	last   time.Time
	phase  port.TransferPhase
	cancel bool
}

func newProgressReporter(d *Downloader, id int64, plan []domain.Rendition, index int) *progressReporter {
	return &progressReporter{d: d, id: id, plan: plan, index: index, phase: port.PhaseDownloading}
}

// due reports whether an update at now should be published.
func (p *progressReporter) due(now time.Time, phase port.TransferPhase) bool {
	if phase != p.phase {
		p.phase = phase
		p.last = now
		return true
	}
	if p.last.IsZero() || now.Sub(p.last) >= p.d.cfg.ProgressInterval {
		p.last = now
		return true
	}
	return false
}

func (p *progressReporter) report(u port.TransferUpdate) {
	if p.cancel || !p.due(p.d.now(), u.Phase) {
		return
	}
	frac := domain.OverallProgress(p.plan, p.index, u.Fraction())
	if u.Phase != port.PhaseDownloading {
		frac = domain.OverallProgress(p.plan, p.index+1, 0)
	}
	_, err := p.d.library.UpdateTransient(p.id, sourceProgress, func(it *domain.MediaItem) error {
		if !it.Status.Downloading() {
			return nil
		}
		it.Progress = &domain.Progress{
			DownloadedBytes: u.DownloadedBytes,
			TotalBytes:      u.TotalBytes,
			Progress:        frac,
			ETA:             u.ETASeconds,
			Speed:           u.Speed,
			Elapsed:         u.ElapsedSeconds,
		}
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		p.cancel = true
		p.d.Cancel(p.id)
	}
}
