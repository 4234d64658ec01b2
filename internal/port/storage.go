package port

import (
	"context"

	"github.com/bnema/piplay/internal/domain"
)

// LibraryRepository is the durable table behind the in-memory library.
type LibraryRepository interface {
	ListItems(ctx context.Context) ([]domain.MediaItem, error)
	ListLogs(ctx context.Context, itemID int64) ([]domain.LogEntry, error)
	// WithTx runs fn in one transaction; any error rolls everything back.
	WithTx(ctx context.Context, fn func(tx LibraryTx) error) error
}

type LibraryTx interface {
	InsertItem(ctx context.Context, item *domain.MediaItem) error
	UpdateItem(ctx context.Context, item domain.MediaItem) error
	UpdateOrder(ctx context.Context, id int64, order int) error
	// DeleteItem removes the item and every log entry recorded against it.
	DeleteItem(ctx context.Context, id int64) error
	InsertLog(ctx context.Context, entry *domain.LogEntry) error
}

type SettingsRepository interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	// PutSettings upserts every value in one transaction.
	PutSettings(ctx context.Context, values map[string]string) error
}
