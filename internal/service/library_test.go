package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bnema/piplay/internal/adapter/storage/sqlite"
	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	items []domain.MediaItem
	lists [][]domain.MediaItem
}

func (n *recordingNotifier) ItemChanged(item domain.MediaItem, source string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
}

func (n *recordingNotifier) ListChanged(items []domain.MediaItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lists = append(n.lists, items)
}

func (n *recordingNotifier) listCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.lists)
}

func (n *recordingNotifier) itemCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}

// failingRepo wraps a real repository and fails every transaction once armed.
type failingRepo struct {
	port.LibraryRepository
	fail bool
}

var errDiskFull = errors.New("disk full")

func (r *failingRepo) WithTx(ctx context.Context, fn func(tx port.LibraryTx) error) error {
	if r.fail {
		return errDiskFull
	}
	return r.LibraryRepository.WithTx(ctx, fn)
}

func newTestLibrary(t *testing.T) (*Library, *sqlite.Store, *recordingNotifier) {
	t.Helper()
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	n := &recordingNotifier{}
	lib, err := NewLibrary(context.Background(), store, n)
	require.NoError(t, err)
	return lib, store, n
}

func ytItem(videoID string) domain.MediaItem {
	return domain.MediaItem{VideoID: videoID, Source: domain.SourceYouTube, Filename: videoID + ".mp4", Status: domain.StatusInit}
}

func assertOrderContiguous(t *testing.T, items []domain.MediaItem) {
	t.Helper()
	for i, it := range items {
		assert.Equal(t, i, it.Order, "item %d (%s)", it.ID, it.VideoID)
	}
}

func TestLibrary_InsertAssignsIDAndOrder(t *testing.T) {
	lib, _, n := newTestLibrary(t)
	ctx := context.Background()

	a, err := lib.Insert(ctx, ytItem("A"), -1, &domain.LogEntry{Action: "onAdded"})
	require.NoError(t, err)
	b, err := lib.Insert(ctx, ytItem("B"), -1, nil)
	require.NoError(t, err)

	assert.NotZero(t, a.ID)
	assert.Equal(t, 0, a.Order)
	assert.Equal(t, 1, b.Order)
	assert.Equal(t, 2, n.listCount())

	got, ok := lib.GetByExternalID("B")
	require.True(t, ok)
	assert.Equal(t, b.ID, got.ID)

	logs, err := lib.Logs(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "onAdded", logs[0].Action)
}

func TestLibrary_ListIsDefensiveCopy(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	item, err := lib.Insert(context.Background(), ytItem("A"), -1, nil)
	require.NoError(t, err)

	list := lib.List()
	list[0].Title = "mutated"
	list[0].Renditions = append(list[0].Renditions, 1080)

	got, _ := lib.Get(item.ID)
	assert.Empty(t, got.Title)
	assert.Empty(t, got.Renditions)
}

func TestLibrary_FailedWriteLeavesMemoryUntouched(t *testing.T) {
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	repo := &failingRepo{LibraryRepository: store}
	n := &recordingNotifier{}
	lib, err := NewLibrary(context.Background(), repo, n)
	require.NoError(t, err)
	ctx := context.Background()

	a, err := lib.Insert(ctx, ytItem("A"), -1, nil)
	require.NoError(t, err)
	_, err = lib.Insert(ctx, ytItem("B"), -1, nil)
	require.NoError(t, err)
	notified := n.listCount()

	repo.fail = true

	_, err = lib.Insert(ctx, ytItem("C"), -1, nil)
	assert.ErrorIs(t, err, errDiskFull)

	_, err = lib.Update(ctx, a.ID, "test", func(it *domain.MediaItem) error {
		it.Title = "changed"
		return nil
	})
	assert.ErrorIs(t, err, errDiskFull)

	_, err = lib.Remove(ctx, a.ID)
	assert.ErrorIs(t, err, errDiskFull)

	list := lib.List()
	require.Len(t, list, 2)
	assert.Empty(t, list[0].Title)
	assert.Equal(t, notified, n.listCount())
	assert.Zero(t, n.itemCount())
}

func TestLibrary_UpdatePersists(t *testing.T) {
	lib, store, n := newTestLibrary(t)
	ctx := context.Background()
	a, err := lib.Insert(ctx, ytItem("A"), -1, nil)
	require.NoError(t, err)

	updated, err := lib.Update(ctx, a.ID, "test", func(it *domain.MediaItem) error {
		it.Order = 99 // order is owned by the library
		return it.Advance(domain.StatusDownloadingPrimary)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloadingPrimary, updated.Status)
	assert.Equal(t, 0, updated.Order)
	assert.Equal(t, 1, n.itemCount())

	persisted, err := store.ListItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloadingPrimary, persisted[0].Status)
}

func TestLibrary_UpdateRejectedByFn(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	ctx := context.Background()
	a, err := lib.Insert(ctx, ytItem("A"), -1, nil)
	require.NoError(t, err)

	_, err = lib.Update(ctx, a.ID, "test", func(it *domain.MediaItem) error {
		return it.Advance(domain.StatusInit - 1)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLibrary_UpdateTransientIsNotPersisted(t *testing.T) {
	lib, store, n := newTestLibrary(t)
	ctx := context.Background()
	a, err := lib.Insert(ctx, ytItem("A"), -1, nil)
	require.NoError(t, err)

	_, err = lib.UpdateTransient(a.ID, "downloader", func(it *domain.MediaItem) error {
		it.Title = "in memory only"
		it.Progress = &domain.Progress{Progress: 0.5}
		return nil
	})
	require.NoError(t, err)

	got, _ := lib.Get(a.ID)
	assert.Equal(t, "in memory only", got.Title)
	assert.Equal(t, 0.5, got.Progress.Progress)
	assert.Equal(t, 1, n.itemCount())

	persisted, err := store.ListItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted[0].Title)
}

func TestLibrary_UpdateMissingItem(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	_, err := lib.Update(context.Background(), 404, "test", func(*domain.MediaItem) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = lib.UpdateTransient(404, "test", func(*domain.MediaItem) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLibrary_RemoveClosesGapAndCascades(t *testing.T) {
	lib, store, _ := newTestLibrary(t)
	ctx := context.Background()
	a, _ := lib.Insert(ctx, ytItem("A"), -1, nil)
	b, _ := lib.Insert(ctx, ytItem("B"), -1, &domain.LogEntry{Action: "onAdded"})
	c, _ := lib.Insert(ctx, ytItem("C"), -1, nil)

	removed, err := lib.Remove(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", removed.VideoID)

	list := lib.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, c.ID, list[1].ID)
	assertOrderContiguous(t, list)

	persisted, err := store.ListItems(ctx)
	require.NoError(t, err)
	assertOrderContiguous(t, persisted)

	logs, err := store.ListLogs(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = lib.Remove(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLibrary_ReplaceOrder(t *testing.T) {
	lib, store, n := newTestLibrary(t)
	ctx := context.Background()
	a, _ := lib.Insert(ctx, ytItem("A"), -1, nil)
	b, _ := lib.Insert(ctx, ytItem("B"), -1, nil)
	c, _ := lib.Insert(ctx, ytItem("C"), -1, nil)
	before := n.listCount()

	require.NoError(t, lib.ReplaceOrder(ctx, []int64{c.ID, a.ID, b.ID}))

	list := lib.List()
	assert.Equal(t, []int64{c.ID, a.ID, b.ID}, []int64{list[0].ID, list[1].ID, list[2].ID})
	assertOrderContiguous(t, list)
	assert.Equal(t, before+1, n.listCount())

	persisted, err := store.ListItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.ID, persisted[0].ID)

	assert.ErrorIs(t, lib.ReplaceOrder(ctx, []int64{a.ID, a.ID, b.ID}), domain.ErrInvalidOrder)
	assert.ErrorIs(t, lib.ReplaceOrder(ctx, []int64{a.ID}), domain.ErrInvalidOrder)
}

func TestLibrary_ReconcileAppendsOnceBroadcast(t *testing.T) {
	lib, _, n := newTestLibrary(t)
	ctx := context.Background()
	_, _ = lib.Insert(ctx, ytItem("A"), -1, nil)
	_, _ = lib.Insert(ctx, ytItem("B"), -1, nil)
	before := n.listCount()

	result, err := lib.Reconcile(ctx, []string{"A", "B", "C"}, []domain.MediaItem{ytItem("C")})
	require.NoError(t, err)
	require.Len(t, result.Added, 1)
	assert.NotZero(t, result.Added[0].ID)
	assert.Empty(t, result.Removed)
	assert.Equal(t, before+1, n.listCount())

	list := lib.List()
	require.Len(t, list, 3)
	assert.Equal(t, "C", list[2].VideoID)
	assert.Equal(t, 2, list[2].Order)

	logs, err := lib.Logs(ctx, result.Added[0].ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestLibrary_ReconcileRemovesUnlisted(t *testing.T) {
	lib, store, n := newTestLibrary(t)
	ctx := context.Background()
	_, _ = lib.Insert(ctx, ytItem("A"), -1, nil)
	_, _ = lib.Insert(ctx, ytItem("B"), -1, nil)
	_, _ = lib.Insert(ctx, ytItem("C"), -1, nil)
	before := n.listCount()

	result, err := lib.Reconcile(ctx, []string{"A", "C"}, nil)
	require.NoError(t, err)
	require.Len(t, result.Removed, 1)
	assert.Equal(t, "B", result.Removed[0].VideoID)
	assert.Equal(t, before+1, n.listCount())

	list := lib.List()
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].VideoID)
	assert.Equal(t, "C", list[1].VideoID)
	assertOrderContiguous(t, list)

	persisted, err := store.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	assertOrderContiguous(t, persisted)
}

func TestLibrary_ReconcileNoChangeIsSilent(t *testing.T) {
	lib, _, n := newTestLibrary(t)
	ctx := context.Background()
	_, _ = lib.Insert(ctx, ytItem("A"), -1, nil)
	before := n.listCount()

	result, err := lib.Reconcile(ctx, []string{"A"}, nil)
	require.NoError(t, err)
	assert.False(t, result.Changed())
	assert.Equal(t, before, n.listCount())
}

func TestLibrary_LoadNormalisesOrder(t *testing.T) {
	dir := t.TempDir()
	store, err := sqlite.NewStore(dir)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(tx port.LibraryTx) error {
		for i, order := range []int{4, 9, 2} {
			item := ytItem(string(rune('A' + i)))
			item.Order = order
			if err := tx.InsertItem(ctx, &item); err != nil {
				return err
			}
		}
		return nil
	}))

	lib, err := NewLibrary(ctx, store, nil)
	require.NoError(t, err)

	list := lib.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"C", "A", "B"}, []string{list[0].VideoID, list[1].VideoID, list[2].VideoID})
	assertOrderContiguous(t, list)

	persisted, err := store.ListItems(ctx)
	require.NoError(t, err)
	assertOrderContiguous(t, persisted)
}

func TestLibrary_ConcurrentMutationsKeepOrderContiguous(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item, err := lib.Insert(ctx, ytItem(string(rune('a'+i))), -1, nil)
			if err != nil {
				return
			}
			if i%3 == 0 {
				_, _ = lib.Remove(ctx, item.ID)
			}
			assertOrderContiguous(t, lib.List())
		}(i)
	}
	wg.Wait()

	assertOrderContiguous(t, lib.List())
	assert.Len(t, lib.List(), 13)
}

func TestLibrary_InsertAtFrontShiftsOthers(t *testing.T) {
	lib, store, _ := newTestLibrary(t)
	ctx := context.Background()
	a, _ := lib.Insert(ctx, ytItem("A"), -1, nil)
	b, _ := lib.Insert(ctx, ytItem("B"), -1, nil)

	up, err := lib.Insert(ctx, domain.MediaItem{Source: domain.SourceFileUpload, Filename: "clip.mp4"}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, up.Order)

	list := lib.List()
	require.Len(t, list, 3)
	assert.Equal(t, []int64{up.ID, a.ID, b.ID}, []int64{list[0].ID, list[1].ID, list[2].ID})
	assertOrderContiguous(t, list)

	persisted, err := store.ListItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, up.ID, persisted[0].ID)
	assertOrderContiguous(t, persisted)
}
