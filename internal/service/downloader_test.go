package service

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/port"
	"github.com/bnema/piplay/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu      sync.Mutex
	heights []int
	size    int
	err     error
	during  func(req port.FetchRequest)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req port.FetchRequest, progress func(port.TransferUpdate)) error {
	f.mu.Lock()
	f.heights = append(f.heights, req.Height)
	f.mu.Unlock()

	if f.during != nil {
		f.during(req)
	}
	if f.err != nil {
		return f.err
	}
	progress(port.TransferUpdate{Phase: port.PhaseDownloading, DownloadedBytes: 50, TotalBytes: 100})
	if err := os.WriteFile(req.OutputPath, make([]byte, f.size), 0o644); err != nil {
		return err
	}
	progress(port.TransferUpdate{Phase: port.PhaseFinished, DownloadedBytes: 100, TotalBytes: 100})
	return nil
}

func (f *fakeFetcher) fetched() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.heights)
}

type fakeMetadata struct {
	height int
	err    error
}

func (f fakeMetadata) Metadata(ctx context.Context, url string) (*domain.VideoMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.VideoMetadata{VideoID: "x", Height: f.height}, nil
}

type fixedQuality domain.Quality

func (q fixedQuality) Quality() domain.Quality { return domain.Quality(q) }

func newTestDownloader(t *testing.T, lib *Library, fetcher port.MediaFetcher, native int, q domain.Quality) (*Downloader, *Queue[int64], string) {
	t.Helper()
	dir := t.TempDir()
	tq := NewQueue[int64]("trickplay")
	d := NewDownloader(lib, NewQueue[int64]("download"), tq, fetcher, fakeMetadata{height: native}, fixedQuality(q), DownloaderConfig{
		MediaDir: dir,
		Attempts: 2,
		Backoff:  &retry.Backoff{Min: time.Millisecond, Max: time.Millisecond, Factor: 1},
	})
	return d, tq, dir
}

func statusesOf(n *recordingNotifier, id int64) []domain.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Status
	for _, it := range n.items {
		if it.ID == id {
			out = append(out, it.Status)
		}
	}
	return out
}

func TestDownloader_DowngradesToNativeHeight(t *testing.T) {
	lib, store, _ := newTestLibrary(t)
	ctx := context.Background()
	item, err := lib.Insert(ctx, ytItem("A"), -1, nil)
	require.NoError(t, err)

	fetcher := &fakeFetcher{size: 1000}
	d, tq, dir := newTestDownloader(t, lib, fetcher, 1080, domain.Quality1440)

	d.Process(ctx, item.ID)

	assert.Equal(t, []int{1080}, fetcher.fetched())
	got, ok := lib.Get(item.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusComplete, got.Status)
	assert.Equal(t, []int{1080}, got.Renditions)
	assert.Equal(t, int64(1000), got.Filesize)
	assert.Nil(t, got.Progress)
	assert.FileExists(t, filepath.Join(dir, got.RenditionName(1080)))
	assert.True(t, tq.Contains(item.ID))
	assert.Zero(t, d.Active())

	logs, err := store.ListLogs(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "onDownloaded", logs[0].Action)
}

func TestDownloader_TwoRenditionsWeightedProgress(t *testing.T) {
	lib, _, n := newTestLibrary(t)
	ctx := context.Background()
	item, err := lib.Insert(ctx, ytItem("A"), -1, nil)
	require.NoError(t, err)

	fetcher := &fakeFetcher{size: 10}
	d, _, _ := newTestDownloader(t, lib, fetcher, 1440, domain.Quality1440)

	d.Process(ctx, item.ID)

	assert.Equal(t, []int{1440, 1080}, fetcher.fetched())
	got, _ := lib.Get(item.ID)
	assert.Equal(t, domain.StatusComplete, got.Status)
	assert.Equal(t, int64(20), got.Filesize)

	statuses := statusesOf(n, item.ID)
	assert.True(t, slices.IsSorted(statuses), "status moved backwards: %v", statuses)
	assert.Contains(t, statuses, domain.StatusDownloadingPrimary)
	assert.Contains(t, statuses, domain.StatusDownloadingSecondary)
	assert.Contains(t, statuses, domain.StatusEncoding)

	n.mu.Lock()
	var fractions []float64
	for _, it := range n.items {
		if it.Progress != nil {
			fractions = append(fractions, it.Progress.Progress)
		}
	}
	n.mu.Unlock()
	assert.True(t, slices.IsSorted(fractions), "progress went backwards: %v", fractions)
	assert.True(t, containsApprox(fractions, 0.325), "%v", fractions)
	assert.True(t, containsApprox(fractions, 0.825), "%v", fractions)
	assert.InDelta(t, 1.0, fractions[len(fractions)-1], 1e-9)
}

func TestDownloader_RemovedMidDownloadIsNoOp(t *testing.T) {
	lib, store, _ := newTestLibrary(t)
	ctx := context.Background()
	item, err := lib.Insert(ctx, ytItem("A"), -1, nil)
	require.NoError(t, err)

	fetcher := &fakeFetcher{size: 10}
	d, tq, _ := newTestDownloader(t, lib, fetcher, 1080, domain.Quality1080)
	fetcher.during = func(port.FetchRequest) {
		_, err := lib.Remove(context.Background(), item.ID)
		require.NoError(t, err)
	}

	assert.NotPanics(t, func() { d.Process(ctx, item.ID) })

	_, ok := lib.Get(item.ID)
	assert.False(t, ok)
	persisted, err := store.ListItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
	assert.False(t, tq.Contains(item.ID))
}

func TestDownloader_FailureKeepsStatusAndLogs(t *testing.T) {
	lib, store, _ := newTestLibrary(t)
	ctx := context.Background()
	item, err := lib.Insert(ctx, ytItem("A"), -1, nil)
	require.NoError(t, err)

	fetcher := &fakeFetcher{err: errors.New("HTTP Error 403")}
	d, _, _ := newTestDownloader(t, lib, fetcher, 1080, domain.Quality1080)

	d.Process(ctx, item.ID)

	assert.Equal(t, []int{1080, 1080}, fetcher.fetched())
	got, _ := lib.Get(item.ID)
	assert.Equal(t, domain.StatusDownloadingPrimary, got.Status)

	logs, err := store.ListLogs(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "onDownloadFailed", logs[0].Action)
	assert.Contains(t, logs[0].Data, "403")
}

func TestDownloader_SkipsCompleteAndMissing(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	ctx := context.Background()
	done := ytItem("A")
	done.Status = domain.StatusComplete
	done, err := lib.Insert(ctx, done, -1, nil)
	require.NoError(t, err)

	fetcher := &fakeFetcher{}
	d, _, _ := newTestDownloader(t, lib, fetcher, 1080, domain.Quality1080)

	d.Process(ctx, done.ID)
	d.Process(ctx, 404)
	assert.Empty(t, fetcher.fetched())
}

func TestProgressReporter_RateLimited(t *testing.T) {
	lib, _, n := newTestLibrary(t)
	ctx := context.Background()
	item := ytItem("A")
	item.Status = domain.StatusDownloadingPrimary
	item, err := lib.Insert(ctx, item, -1, nil)
	require.NoError(t, err)

	d, _, _ := newTestDownloader(t, lib, &fakeFetcher{}, 1080, domain.Quality1080)
	clock := time.Unix(1000, 0)
	d.now = func() time.Time { return clock }

	r := newProgressReporter(d, item.ID, domain.PlanRenditions(domain.Quality1080), 0)
	update := func(after time.Duration, phase port.TransferPhase) {
		clock = time.Unix(1000, 0).Add(after)
		r.report(port.TransferUpdate{Phase: phase, DownloadedBytes: 1, TotalBytes: 4})
	}

	update(0, port.PhaseDownloading)
	update(30*time.Millisecond, port.PhaseDownloading)
	update(60*time.Millisecond, port.PhaseDownloading)
	update(110*time.Millisecond, port.PhaseDownloading)
	update(120*time.Millisecond, port.PhaseFinished)

	assert.Equal(t, 3, n.itemCount())
	got, _ := lib.Get(item.ID)
	require.NotNil(t, got.Progress)
	assert.Equal(t, 1.0, got.Progress.Progress)
}

func containsApprox(values []float64, want float64) bool {
	return slices.ContainsFunc(values, func(v float64) bool { return math.Abs(v-want) < 1e-9 })
}
