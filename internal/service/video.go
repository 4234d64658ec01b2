package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/port"
	"github.com/bnema/piplay/internal/protocol"
)

const sourcePlayerInformation = "playerInformation"

// Canceller aborts in-flight work for an item.
type Canceller interface {
	Cancel(id int64)
}

// ArtifactChecker reports whether an item already has its scrubbing index.
type ArtifactChecker interface {
	HasArtifact(item domain.MediaItem) bool
}

// VideoService carries the client-facing video operations and the cleanup
// that follows an item out of the library.
type VideoService struct {
	library   *Library
	hub       *Hub
	metadata  port.MetadataSource
	downloads *Queue[int64]
	trickplay *Queue[int64]
	canceller Canceller
	artifacts ArtifactChecker
	mediaDir  string
}

func NewVideoService(
	library *Library,
	hub *Hub,
	metadata port.MetadataSource,
	downloads, trickplay *Queue[int64],
	canceller Canceller,
	artifacts ArtifactChecker,
	mediaDir string,
) *VideoService {
	return &VideoService{
		library:   library,
		hub:       hub,
		metadata:  metadata,
		downloads: downloads,
		trickplay: trickplay,
		canceller: canceller,
		artifacts: artifacts,
		mediaDir:  mediaDir,
	}
}

// Add appends the video at url to the library and queues its download. A
// video already in the library is returned unchanged.
func (s *VideoService) Add(ctx context.Context, url string) (domain.MediaItem, error) {
	meta, err := s.metadata.Metadata(ctx, url)
	if err != nil {
		return domain.MediaItem{}, fmt.Errorf("fetch metadata: %w", err)
	}
	if existing, ok := s.library.GetByExternalID(meta.VideoID); ok {
		return existing, nil
	}
	if meta.URL == "" {
		meta.URL = url
	}

	item, err := s.library.Insert(ctx, domain.NewExternalItem(*meta), -1, &domain.LogEntry{
		Action:    "onAdded",
		Data:      url,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return domain.MediaItem{}, err
	}
	s.downloads.Enqueue(item.ID)
	logger.Info.Printf("videos: added %d %q", item.ID, logger.SanitizeForLog(item.Title))
	return item, nil
}

// Remove deletes an item from the library and everything it left behind.
func (s *VideoService) Remove(ctx context.Context, id int64) error {
	removed, err := s.library.Remove(ctx, id)
	if err != nil {
		return err
	}
	s.Discard(removed)
	logger.Info.Printf("videos: removed %d %q", id, logger.SanitizeForLog(removed.Title))
	return nil
}

func (s *VideoService) Reorder(ctx context.Context, ids []int64) error {
	return s.library.ReplaceOrder(ctx, ids)
}

// Discard forgets an item that already left the library: pending jobs are
// dropped, a running download is cancelled and its files are deleted.
func (s *VideoService) Discard(item domain.MediaItem) {
	s.downloads.Remove(item.ID)
	s.trickplay.Remove(item.ID)
	if s.canceller != nil {
		s.canceller.Cancel(item.ID)
	}

	entries, err := os.ReadDir(s.mediaDir)
	if err != nil {
		logger.Warn.Printf("videos: list %s: %v", s.mediaDir, err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !item.OwnsFile(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.mediaDir, e.Name())); err != nil {
			logger.Warn.Printf("videos: delete %s: %v", e.Name(), err)
		}
	}
}

// Recover requeues unfinished work after a restart: downloads that never
// completed and complete items still missing their index.
func (s *VideoService) Recover() (downloads, indexes int) {
	for _, item := range s.library.List() {
		switch {
		case item.External() && (item.Status == domain.StatusInit || item.Status.Active()):
			if s.downloads.Enqueue(item.ID) {
				downloads++
			}
		case item.Status == domain.StatusComplete && s.artifacts != nil && !s.artifacts.HasArtifact(item):
			if s.trickplay.Enqueue(item.ID) {
				indexes++
			}
		}
	}
	logger.Info.Printf("videos: recovered %d downloads, %d indexes", downloads, indexes)
	return downloads, indexes
}

// PlayerInformation refreshes the cached platform details of an item and
// sends it to the requesting peer only.
func (s *VideoService) PlayerInformation(ctx context.Context, to *Peer, id int64) error {
	item, ok := s.library.Get(id)
	if !ok {
		return fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}

	if item.External() && s.metadata != nil {
		meta, err := s.metadata.Metadata(ctx, item.URL)
		if err != nil {
			logger.Warn.Printf("videos: player information for %d: %v", id, err)
		} else if item, err = s.library.Enrich(id, enrichmentFrom(*meta)); err != nil {
			return err
		}
	}

	s.hub.Send(to, protocol.NewVideo(item, sourcePlayerInformation))
	return nil
}

func enrichmentFrom(meta domain.VideoMetadata) domain.Enrichment {
	date := meta.UploadDate
	if t, err := time.Parse("20060102", date); err == nil {
		date = t.Format(time.DateOnly)
	}
	return domain.Enrichment{
		ChannelName:     meta.ChannelName,
		ChannelImageURL: meta.ChannelImage,
		Date:            date,
		Views:           meta.Views,
		Likes:           meta.Likes,
	}
}
