package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/port"
	"github.com/bnema/piplay/internal/protocol"
)

const (
	UploadStored   = "stored"
	UploadDone     = "complete"
	UploadRejected = "failed"
)

var ErrUnknownUpload = errors.New("unknown upload")

type uploadSession struct {
	file     *os.File
	received int64
	updated  time.Time
}

// UploadService assembles chunked uploads from clients into library items.
type UploadService struct {
	library   *Library
	hub       *Hub
	converter port.MediaConverter
	trickplay *Queue[int64]
	mediaDir  string

	mu       sync.Mutex
	sessions map[string]*uploadSession
}

func NewUploadService(library *Library, hub *Hub, converter port.MediaConverter, trickplay *Queue[int64], mediaDir string) *UploadService {
	return &UploadService{
		library:   library,
		hub:       hub,
		converter: converter,
		trickplay: trickplay,
		mediaDir:  mediaDir,
		sessions:  make(map[string]*uploadSession),
	}
}

func (s *UploadService) tempPath(uuid string) string {
	return filepath.Join(s.mediaDir, "."+uuid+".video")
}

// Handle applies one chunk and acknowledges it to the uploading peer.
func (s *UploadService) Handle(ctx context.Context, from *Peer, c protocol.UploadChunk) error {
	switch c.Action {
	case protocol.UploadStore:
		received, err := s.store(c)
		if err != nil {
			s.reply(from, c.UUID, UploadRejected, received, 0)
			return err
		}
		s.reply(from, c.UUID, UploadStored, received, 0)
		return nil
	case protocol.UploadComplete:
		item, err := s.complete(ctx, c.UUID, c.Name)
		if err != nil {
			s.reply(from, c.UUID, UploadRejected, 0, 0)
			return err
		}
		s.reply(from, c.UUID, UploadDone, item.Filesize, item.ID)
		return nil
	default:
		return fmt.Errorf("upload %s: unknown action %q", c.UUID, c.Action)
	}
}

func (s *UploadService) reply(to *Peer, uuid, status string, received, id int64) {
	if to != nil {
		s.hub.Send(to, protocol.NewUpload(uuid, status, received, id))
	}
}

func (s *UploadService) store(c protocol.UploadChunk) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[c.UUID]
	if !ok {
		f, err := os.OpenFile(s.tempPath(c.UUID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, fmt.Errorf("open upload %s: %w", c.UUID, err)
		}
		sess = &uploadSession{file: f}
		s.sessions[c.UUID] = sess
		logger.Info.Printf("upload %s started (%d bytes expected)", c.UUID, c.Total)
	}

	n, err := sess.file.Write(c.Data)
	sess.received += int64(n)
	sess.updated = time.Now()
	if err != nil {
		return sess.received, fmt.Errorf("write upload %s: %w", c.UUID, err)
	}
	logger.Debug.Printf("upload %s part %d, %d bytes", c.UUID, c.Part, sess.received)
	return sess.received, nil
}

func (s *UploadService) finish(uuid string) (*uploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uuid]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownUpload, uuid)
	}
	delete(s.sessions, uuid)
	return sess, sess.file.Close()
}

// complete probes the assembled file and puts it at the front of the
// library. The item is created Complete, and the file is moved to its
// rendition name inside the same insert, so the upload never shows up
// half-placed or in a download state.
func (s *UploadService) complete(ctx context.Context, uuid, name string) (domain.MediaItem, error) {
	sess, err := s.finish(uuid)
	if err != nil {
		return domain.MediaItem{}, err
	}
	tmp := s.tempPath(uuid)

	probe, err := s.converter.Probe(ctx, tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return domain.MediaItem{}, fmt.Errorf("probe upload %s: %w", uuid, err)
	}

	title := strings.TrimSuffix(name, filepath.Ext(name))
	item := domain.MediaItem{
		Source:     domain.SourceFileUpload,
		Title:      title,
		Filename:   domain.SafeFilename(title, "mp4"),
		Filesize:   sess.received,
		Status:     domain.StatusComplete,
		Enrichment: domain.Enrichment{Rating: "none"},
	}
	if err := probe.ApplyTo(&item); err != nil {
		_ = os.Remove(tmp)
		return domain.MediaItem{}, fmt.Errorf("upload %s: %w", uuid, err)
	}
	item.Renditions = []int{item.Height}

	var final string
	item, err = s.library.InsertWith(ctx, item, 0, &domain.LogEntry{
		Action:    "onUploaded",
		Data:      name,
		CreatedAt: time.Now().Unix(),
	}, func(placed domain.MediaItem) error {
		final = filepath.Join(s.mediaDir, placed.RenditionName(placed.Height))
		if err := os.Rename(tmp, final); err != nil {
			final = ""
			return fmt.Errorf("move upload %s: %w", uuid, err)
		}
		return nil
	})
	if err != nil {
		_ = os.Remove(tmp)
		if final != "" {
			_ = os.Remove(final)
		}
		return domain.MediaItem{}, err
	}

	s.trickplay.Enqueue(item.ID)
	logger.Info.Printf("upload %s stored as item %d %q", uuid, item.ID, logger.SanitizeForLog(item.Title))
	return item, nil
}

// Abandon closes and deletes uploads that have not received a chunk
// within maxIdle. It returns how many were dropped.
func (s *UploadService) Abandon(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	cutoff := time.Now().Add(-maxIdle)
	for uuid, sess := range s.sessions {
		if sess.updated.After(cutoff) {
			continue
		}
		_ = sess.file.Close()
		_ = os.Remove(s.tempPath(uuid))
		delete(s.sessions, uuid)
		logger.Warn.Printf("upload %s abandoned after %d bytes", uuid, sess.received)
		dropped++
	}
	return dropped
}
