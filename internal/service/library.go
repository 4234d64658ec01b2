package service

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/port"
	"github.com/bnema/piplay/internal/protocol"
)

// Notifier receives every committed library change. It is called with the
// list lock held so notifications for one item are delivered in commit order;
// implementations must not call back into the Library.
type Notifier interface {
	ItemChanged(item domain.MediaItem, source string)
	ListChanged(items []domain.MediaItem)
}

// HubNotifier broadcasts library changes to every connected peer.
type HubNotifier struct {
	Hub *Hub
}

func (n HubNotifier) ItemChanged(item domain.MediaItem, source string) {
	n.Hub.Broadcast(protocol.NewVideo(item, source), nil)
}

func (n HubNotifier) ListChanged(items []domain.MediaItem) {
	n.Hub.Broadcast(protocol.NewVideoList(items), nil)
}

// Library is the in-memory ordered list of media items backed by the
// durable repository. Lock order is always storeMu then listMu. Durable
// writes happen before listMu is taken, so a failed write never reaches
// memory; readers only take listMu.
type Library struct {
	repo     port.LibraryRepository
	notifier Notifier

	storeMu sync.Mutex
	listMu  sync.RWMutex
	items   []domain.MediaItem
}

// NewLibrary loads the persisted list and renumbers order to 0..N-1.
func NewLibrary(ctx context.Context, repo port.LibraryRepository, notifier Notifier) (*Library, error) {
	items, err := repo.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}

	var renumbered []domain.MediaItem
	for i := range items {
		if items[i].Order != i {
			items[i].Order = i
			renumbered = append(renumbered, items[i])
		}
	}
	if len(renumbered) > 0 {
		err := repo.WithTx(ctx, func(tx port.LibraryTx) error {
			for _, it := range renumbered {
				if err := tx.UpdateOrder(ctx, it.ID, it.Order); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("normalise order: %w", err)
		}
		logger.Info.Printf("library: renumbered %d items", len(renumbered))
	}

	return &Library{repo: repo, notifier: notifier, items: items}, nil
}

func (l *Library) Get(id int64) (domain.MediaItem, bool) {
	l.listMu.RLock()
	defer l.listMu.RUnlock()
	if i := l.indexOf(id); i >= 0 {
		return l.items[i].Clone(), true
	}
	return domain.MediaItem{}, false
}

func (l *Library) GetByExternalID(videoID string) (domain.MediaItem, bool) {
	if videoID == "" {
		return domain.MediaItem{}, false
	}
	l.listMu.RLock()
	defer l.listMu.RUnlock()
	for _, it := range l.items {
		if it.VideoID == videoID {
			return it.Clone(), true
		}
	}
	return domain.MediaItem{}, false
}

// List returns an ordered deep copy of the library.
func (l *Library) List() []domain.MediaItem {
	l.listMu.RLock()
	defer l.listMu.RUnlock()
	return cloneItems(l.items)
}

// View runs fn with a snapshot while no change can be committed. Anything
// fn registers for notifications observes every change after the snapshot.
func (l *Library) View(fn func(items []domain.MediaItem)) {
	l.listMu.RLock()
	defer l.listMu.RUnlock()
	fn(cloneItems(l.items))
}

// Insert persists item at position at, or at the end when at is out of
// range, and returns it with its id. A non-nil log entry is recorded in the
// same transaction.
func (l *Library) Insert(ctx context.Context, item domain.MediaItem, at int, log *domain.LogEntry) (domain.MediaItem, error) {
	return l.InsertWith(ctx, item, at, log, nil)
}

// InsertWith is Insert with a hook that runs inside the transaction once the
// item has its id. An error from place rolls the insert back, and nothing is
// published.
func (l *Library) InsertWith(ctx context.Context, item domain.MediaItem, at int, log *domain.LogEntry, place func(domain.MediaItem) error) (domain.MediaItem, error) {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	l.listMu.RLock()
	next := cloneItems(l.items)
	l.listMu.RUnlock()

	if at < 0 || at > len(next) {
		at = len(next)
	}
	item = item.Clone()
	item.Order = at
	next = slices.Insert(next, at, item)
	shifted := renumber(next)

	err := l.repo.WithTx(ctx, func(tx port.LibraryTx) error {
		if err := updateOrders(ctx, tx, shifted); err != nil {
			return err
		}
		if err := tx.InsertItem(ctx, &next[at]); err != nil {
			return err
		}
		if log != nil {
			log.ItemID = next[at].ID
			if err := tx.InsertLog(ctx, log); err != nil {
				return err
			}
		}
		if place != nil {
			return place(next[at].Clone())
		}
		return nil
	})
	if err != nil {
		return domain.MediaItem{}, err
	}
	item = next[at]

	l.listMu.Lock()
	defer l.listMu.Unlock()
	l.swap(next)
	return item.Clone(), nil
}

// Save persists the full record of an existing item. Its position in the
// list is owned by the library and is kept.
func (l *Library) Save(ctx context.Context, item domain.MediaItem, source string) error {
	_, err := l.Update(ctx, item.ID, source, func(cur *domain.MediaItem) error {
		order := cur.Order
		*cur = item.Clone()
		cur.Order = order
		return nil
	})
	return err
}

// Update applies fn to a private copy of the item, persists the result and
// publishes it. If fn or the durable write fails nothing changes.
func (l *Library) Update(ctx context.Context, id int64, source string, fn func(*domain.MediaItem) error) (domain.MediaItem, error) {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	next, err := l.prepare(id, fn)
	if err != nil {
		return domain.MediaItem{}, err
	}

	err = l.repo.WithTx(ctx, func(tx port.LibraryTx) error {
		return tx.UpdateItem(ctx, next)
	})
	if err != nil {
		return domain.MediaItem{}, err
	}
	return l.commit(next, source, true)
}

// UpdateTransient is Update for state that is never persisted, such as the
// download progress record and cached enrichment.
func (l *Library) UpdateTransient(id int64, source string, fn func(*domain.MediaItem) error) (domain.MediaItem, error) {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	next, err := l.prepare(id, fn)
	if err != nil {
		return domain.MediaItem{}, err
	}
	return l.commit(next, source, true)
}

// Enrich caches platform details on the item without persisting or
// announcing them; the caller decides who hears about it.
func (l *Library) Enrich(id int64, e domain.Enrichment) (domain.MediaItem, error) {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	next, err := l.prepare(id, func(it *domain.MediaItem) error {
		if e.PlaylistItemID == "" {
			e.PlaylistItemID = it.PlaylistItemID
		}
		if e.Rating == "" {
			e.Rating = it.Rating
		}
		if e.SponsorBlock == nil {
			e.SponsorBlock = it.SponsorBlock
		}
		it.Enrichment = e
		return nil
	})
	if err != nil {
		return domain.MediaItem{}, err
	}
	return l.commit(next, "", false)
}

// Remove deletes the item and its log entries, closing the gap in order.
func (l *Library) Remove(ctx context.Context, id int64) (domain.MediaItem, error) {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	l.listMu.RLock()
	i := l.indexOf(id)
	if i < 0 {
		l.listMu.RUnlock()
		return domain.MediaItem{}, fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	removed := l.items[i].Clone()
	next := cloneItems(slices.Delete(slices.Clone(l.items), i, i+1))
	l.listMu.RUnlock()

	changed := renumber(next)
	err := l.repo.WithTx(ctx, func(tx port.LibraryTx) error {
		if err := tx.DeleteItem(ctx, id); err != nil {
			return err
		}
		return updateOrders(ctx, tx, changed)
	})
	if err != nil {
		return domain.MediaItem{}, err
	}

	l.listMu.Lock()
	defer l.listMu.Unlock()
	l.swap(next)
	return removed, nil
}

// ReplaceOrder reorders the library to ids, which must name every item
// exactly once.
func (l *Library) ReplaceOrder(ctx context.Context, ids []int64) error {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	l.listMu.RLock()
	next, err := permute(l.items, ids)
	l.listMu.RUnlock()
	if err != nil {
		return err
	}

	changed := renumber(next)
	if len(changed) == 0 {
		return nil
	}
	err = l.repo.WithTx(ctx, func(tx port.LibraryTx) error {
		return updateOrders(ctx, tx, changed)
	})
	if err != nil {
		return err
	}

	l.listMu.Lock()
	defer l.listMu.Unlock()
	l.swap(next)
	return nil
}

type ReconcileResult struct {
	Added   []domain.MediaItem
	Removed []domain.MediaItem
}

func (r ReconcileResult) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// Reconcile merges an authoritative ordering of external ids into the
// library in a single transaction. created holds the new items for ids not
// yet present. Subscribers see at most one list change.
func (l *Library) Reconcile(ctx context.Context, authoritative []string, created []domain.MediaItem) (ReconcileResult, error) {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	l.listMu.RLock()
	current := cloneItems(l.items)
	l.listMu.RUnlock()

	before := make(map[int64]int, len(current))
	for _, it := range current {
		before[it.ID] = it.Order
	}

	next, removed := domain.MergeOrder(current, authoritative, created)

	var result ReconcileResult
	reordered := false
	err := l.repo.WithTx(ctx, func(tx port.LibraryTx) error {
		for _, it := range removed {
			if err := tx.DeleteItem(ctx, it.ID); err != nil {
				return err
			}
		}
		for i := range next {
			it := &next[i]
			if it.ID == 0 {
				if err := tx.InsertItem(ctx, it); err != nil {
					return err
				}
				if err := tx.InsertLog(ctx, &domain.LogEntry{ItemID: it.ID, Action: "onAdded", Data: it.URL}); err != nil {
					return err
				}
				result.Added = append(result.Added, it.Clone())
				continue
			}
			if before[it.ID] != it.Order {
				reordered = true
				if err := tx.UpdateOrder(ctx, it.ID, it.Order); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	result.Removed = removed

	if !result.Changed() && !reordered {
		return result, nil
	}

	l.listMu.Lock()
	defer l.listMu.Unlock()
	l.swap(next)
	return result, nil
}

// AppendLog records an event against an item.
func (l *Library) AppendLog(ctx context.Context, entry domain.LogEntry) (domain.LogEntry, error) {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	if _, ok := l.Get(entry.ItemID); !ok {
		return domain.LogEntry{}, fmt.Errorf("item %d: %w", entry.ItemID, domain.ErrNotFound)
	}
	err := l.repo.WithTx(ctx, func(tx port.LibraryTx) error {
		return tx.InsertLog(ctx, &entry)
	})
	return entry, err
}

func (l *Library) Logs(ctx context.Context, itemID int64) ([]domain.LogEntry, error) {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()
	return l.repo.ListLogs(ctx, itemID)
}

// prepare must be called with storeMu held.
func (l *Library) prepare(id int64, fn func(*domain.MediaItem) error) (domain.MediaItem, error) {
	cur, ok := l.Get(id)
	if !ok {
		return domain.MediaItem{}, fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return domain.MediaItem{}, err
	}
	next.ID = cur.ID
	next.Order = cur.Order
	return next, nil
}

func (l *Library) commit(next domain.MediaItem, source string, notify bool) (domain.MediaItem, error) {
	l.listMu.Lock()
	defer l.listMu.Unlock()

	i := l.indexOf(next.ID)
	if i < 0 {
		return domain.MediaItem{}, fmt.Errorf("item %d: %w", next.ID, domain.ErrNotFound)
	}
	items := slices.Clone(l.items)
	items[i] = next
	l.items = items
	if notify && l.notifier != nil {
		l.notifier.ItemChanged(next.Clone(), source)
	}
	return next.Clone(), nil
}

// swap installs a new list and announces it. listMu must be held.
func (l *Library) swap(next []domain.MediaItem) {
	l.items = next
	if l.notifier != nil {
		l.notifier.ListChanged(cloneItems(next))
	}
}

func (l *Library) indexOf(id int64) int {
	return slices.IndexFunc(l.items, func(it domain.MediaItem) bool { return it.ID == id })
}

func cloneItems(items []domain.MediaItem) []domain.MediaItem {
	out := make([]domain.MediaItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// renumber sets order to the index and returns the items whose order moved.
func renumber(items []domain.MediaItem) []domain.MediaItem {
	var changed []domain.MediaItem
	for i := range items {
		if items[i].Order != i {
			items[i].Order = i
			changed = append(changed, items[i])
		}
	}
	return changed
}

func updateOrders(ctx context.Context, tx port.LibraryTx, items []domain.MediaItem) error {
	for _, it := range items {
		if err := tx.UpdateOrder(ctx, it.ID, it.Order); err != nil {
			return err
		}
	}
	return nil
}

func permute(items []domain.MediaItem, ids []int64) ([]domain.MediaItem, error) {
	if len(ids) != len(items) {
		return nil, fmt.Errorf("%w: got %d ids for %d items", domain.ErrInvalidOrder, len(ids), len(items))
	}
	byID := make(map[int64]domain.MediaItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	next := make([]domain.MediaItem, 0, len(ids))
	for _, id := range ids {
		it, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown or repeated id %d", domain.ErrInvalidOrder, id)
		}
		delete(byID, id)
		next = append(next, it.Clone())
	}
	return next, nil
}
