package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/port"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA foreign_keys = ON",
				"PRAGMA cache_size = -8000",    // 8MB
				"PRAGMA mmap_size = 268435456", // 256MB
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func NewStore(dataDir string) (*Store, error) {
	registerHook()

	dbPath := filepath.Join(dataDir, "database.sqlite3")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection for SQLite (WAL allows concurrent reads but only one writer)
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `id, ord, video_id, source, url, filename, filesize, title, description,
	duration, position, width, height, tbr, fps, vcodec, status, renditions`

func (s *Store) ListItems(ctx context.Context) ([]domain.MediaItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM videos WHERE status != ? ORDER BY ord, id`, int(domain.StatusDeleted))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.MediaItem
	for rows.Next() {
		var (
			m          domain.MediaItem
			source     string
			status     int
			renditions string
		)
		if err := rows.Scan(&m.ID, &m.Order, &m.VideoID, &source, &m.URL, &m.Filename, &m.Filesize,
			&m.Title, &m.Description, &m.Duration, &m.Position, &m.Width, &m.Height, &m.Bitrate,
			&m.FPS, &m.VideoCodec, &status, &renditions); err != nil {
			return nil, err
		}
		m.Source = domain.Source(source)
		m.Status = domain.Status(status)
		m.Renditions = decodeRenditions(renditions)
		m.Rating = "none"
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *Store) ListLogs(ctx context.Context, itemID int64) ([]domain.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, video_id, action, data, created_at FROM logs WHERE video_id = ? ORDER BY created_at DESC, id DESC`, itemID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	entries := []domain.LogEntry{}
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Action, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) WithTx(ctx context.Context, fn func(tx port.LibraryTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&libraryTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	settings := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		settings[name] = value
	}
	return settings, rows.Err()
}

func (s *Store) PutSettings(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, name := range slices.Sorted(maps.Keys(values)) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settings (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
			name, values[name])
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save setting %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type libraryTx struct {
	tx *sql.Tx
}

func (t *libraryTx) InsertItem(ctx context.Context, item *domain.MediaItem) error {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO videos (ord, video_id, source, url, filename, filesize, title,
		description, duration, position, width, height, tbr, fps, vcodec, status, renditions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Order, item.VideoID, string(item.Source), item.URL, item.Filename, item.Filesize, item.Title,
		item.Description, item.Duration, item.Position, item.Width, item.Height, item.Bitrate, item.FPS,
		item.VideoCodec, int(item.Status), encodeRenditions(item.Renditions))
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert item id: %w", err)
	}
	item.ID = id
	return nil
}

func (t *libraryTx) UpdateItem(ctx context.Context, item domain.MediaItem) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE videos SET ord = ?, video_id = ?, source = ?, url = ?, filename = ?,
		filesize = ?, title = ?, description = ?, duration = ?, position = ?, width = ?, height = ?, tbr = ?,
		fps = ?, vcodec = ?, status = ?, renditions = ? WHERE id = ?`,
		item.Order, item.VideoID, string(item.Source), item.URL, item.Filename, item.Filesize, item.Title,
		item.Description, item.Duration, item.Position, item.Width, item.Height, item.Bitrate, item.FPS,
		item.VideoCodec, int(item.Status), encodeRenditions(item.Renditions), item.ID)
	if err != nil {
		return fmt.Errorf("update item %d: %w", item.ID, err)
	}
	return requireRow(res, item.ID)
}

func (t *libraryTx) UpdateOrder(ctx context.Context, id int64, order int) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE videos SET ord = ? WHERE id = ?`, order, id)
	if err != nil {
		return fmt.Errorf("update order of %d: %w", id, err)
	}
	return requireRow(res, id)
}

func (t *libraryTx) DeleteItem(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM logs WHERE video_id = ?`, id); err != nil {
		return fmt.Errorf("delete logs of %d: %w", id, err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	return nil
}

func (t *libraryTx) InsertLog(ctx context.Context, entry *domain.LogEntry) error {
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	res, err := t.tx.ExecContext(ctx, `INSERT INTO logs (video_id, action, data, created_at) VALUES (?, ?, ?, ?)`,
		entry.ItemID, entry.Action, entry.Data, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert log id: %w", err)
	}
	entry.ID = id
	return nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func encodeRenditions(heights []int) string {
	parts := make([]string, len(heights))
	for i, h := range heights {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, ",")
}

func decodeRenditions(s string) []int {
	heights := []int{}
	for _, part := range strings.Split(s, ",") {
		if h, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			heights = append(heights, h)
		}
	}
	return heights
}

var (
	_ port.LibraryRepository  = (*Store)(nil)
	_ port.SettingsRepository = (*Store)(nil)
)
