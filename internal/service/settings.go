package service

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/port"
	"github.com/bnema/piplay/internal/protocol"
)

// Settings holds the user-editable settings. Values are persisted one row
// per key and mirrored to every client.
type Settings struct {
	repo       port.SettingsRepository
	hub        *Hub
	cookieFile string

	// writeMu serialises Put from diff to broadcast; mu guards values.
	writeMu  sync.Mutex
	mu       sync.RWMutex
	values   map[string]string
	onChange []func(key, value string)
}

func NewSettings(ctx context.Context, repo port.SettingsRepository, hub *Hub, cookieFile string) (*Settings, error) {
	stored, err := repo.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	values := domain.DefaultSettings()
	for k, v := range stored {
		if _, known := values[k]; known {
			values[k] = v
		}
	}
	return &Settings{repo: repo, hub: hub, cookieFile: cookieFile, values: values}, nil
}

func (s *Settings) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// All returns a copy of every setting.
func (s *Settings) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

func (s *Settings) Quality() domain.Quality {
	return domain.Quality(s.Get(domain.SettingVideoQuality))
}

// PlaylistURL returns the configured playlist, or "" while the setting still
// holds its placeholder.
func (s *Settings) PlaylistURL() string {
	u := s.Get(domain.SettingPlaylistURL)
	if u == domain.DefaultSettings()[domain.SettingPlaylistURL] {
		return ""
	}
	return u
}

// OnChange registers fn to run after a key's value changed.
func (s *Settings) OnChange(fn func(key, value string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Put stores the client-editable keys found in values and rebroadcasts the
// settings to every peer but from. Unknown keys are ignored. The changed keys
// are written in one transaction; on failure nothing changes.
func (s *Settings) Put(ctx context.Context, values map[string]string, from *Peer) error {
	changed, hooks, err := s.apply(ctx, values, from)
	if err != nil {
		return err
	}

	for _, key := range slices.Sorted(maps.Keys(changed)) {
		logger.Info.Printf("settings: %s updated", key)
		for _, fn := range hooks {
			fn(key, changed[key])
		}
	}
	return nil
}

func (s *Settings) apply(ctx context.Context, values map[string]string, from *Peer) (map[string]string, []func(key, value string), error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	changed := make(map[string]string)
	s.mu.RLock()
	for _, key := range domain.ClientSettingKeys {
		v, ok := values[key]
		if ok && v != s.values[key] {
			changed[key] = v
		}
	}
	s.mu.RUnlock()

	if len(changed) > 0 {
		if err := s.repo.PutSettings(ctx, changed); err != nil {
			return nil, nil, fmt.Errorf("save settings: %w", err)
		}
	}
	if cookie, ok := changed[domain.SettingYouTubeCookie]; ok {
		if err := s.writeCookieFile(cookie); err != nil {
			logger.Error.Printf("settings: write cookie file: %v", err)
		}
	}

	s.mu.Lock()
	maps.Copy(s.values, changed)
	snapshot := maps.Clone(s.values)
	hooks := slices.Clone(s.onChange)
	s.mu.Unlock()

	s.hub.Broadcast(protocol.NewSettings(snapshot), from)
	return changed, hooks, nil
}

func (s *Settings) writeCookieFile(pasted string) error {
	if s.cookieFile == "" {
		return nil
	}
	if pasted == "" {
		if err := os.Remove(s.cookieFile); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cookieFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.cookieFile, []byte(domain.NetscapeCookies(pasted, time.Now())), 0o600)
}
