package http

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bnema/piplay/internal/adapter/http/validation"
	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/protocol"
	"github.com/bnema/piplay/internal/service"
)

// Refresher forces the playlist to be fetched on the next tick.
type Refresher interface {
	Trigger()
}

// Services is everything a client request can reach.
type Services struct {
	Library   *service.Library
	Hub       *service.Hub
	Settings  *service.Settings
	Player    *service.Player
	Videos    *service.VideoService
	Uploads   *service.UploadService
	Refresher Refresher
	Versions  protocol.Versions
}

// Dispatcher routes decoded client messages to the services by namespace.
type Dispatcher struct {
	s Services

	mu       sync.Mutex
	rejected map[string]bool
}

func NewDispatcher(s Services) *Dispatcher {
	return &Dispatcher{s: s, rejected: make(map[string]bool)}
}

// Dispatch handles one message from peer. Errors are for the caller to
// log; they never end the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, peer *service.Peer, msg protocol.Inbound) error {
	switch m := msg.(type) {
	case protocol.UpRequest:
		return nil
	case protocol.SettingsRequest:
		return d.settings(ctx, peer, m)
	case protocol.VideosRequest:
		return d.videos(ctx, peer, m)
	case protocol.PlayerRequest:
		return d.s.Player.Handle(ctx, peer, m)
	case protocol.LogsRequest:
		return d.logs(ctx, peer, m)
	case protocol.PingRequest:
		d.s.Hub.Send(peer, protocol.NewPing(m.UUID))
		return nil
	case protocol.UploadRequest:
		return d.upload(ctx, peer, m.Chunk)
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownNamespace, msg.Namespace())
	}
}

func (d *Dispatcher) settings(ctx context.Context, peer *service.Peer, m protocol.SettingsRequest) error {
	switch strings.ToUpper(m.Method) {
	case "PUT":
		return d.s.Settings.Put(ctx, m.Data, peer)
	case "GET":
		d.s.Hub.Send(peer, protocol.NewSettings(d.s.Settings.All()))
		return nil
	default:
		return fmt.Errorf("settings: unsupported method %q", m.Method)
	}
}

func (d *Dispatcher) videos(ctx context.Context, peer *service.Peer, m protocol.VideosRequest) error {
	switch m.Action {
	case protocol.VideosRefresh:
		d.s.Library.View(func(items []domain.MediaItem) {
			d.s.Hub.Broadcast(protocol.NewVideoList(items), nil)
		})
		if d.s.Refresher != nil {
			d.s.Refresher.Trigger()
		}
		return nil
	case protocol.VideosOrder:
		return d.s.Videos.Reorder(ctx, m.Order)
	case protocol.VideosRemove:
		return d.s.Videos.Remove(ctx, m.ID)
	case protocol.VideosAdd:
		if m.URL == "" {
			return fmt.Errorf("videos: add without url")
		}
		_, err := d.s.Videos.Add(ctx, m.URL)
		return err
	case protocol.VideosPlayerInformation:
		return d.s.Videos.PlayerInformation(ctx, peer, m.ID)
	default:
		return fmt.Errorf("videos: unknown action %q", m.Action)
	}
}

func (d *Dispatcher) logs(ctx context.Context, peer *service.Peer, m protocol.LogsRequest) error {
	if strings.EqualFold(m.Method, "GET") {
		entries, err := d.s.Library.Logs(ctx, m.VideoID)
		if err != nil {
			return err
		}
		d.s.Hub.Send(peer, protocol.NewLogs(entries))
		return nil
	}
	_, err := d.s.Library.AppendLog(ctx, domain.LogEntry{
		ItemID:    m.VideoID,
		Action:    m.Action,
		Data:      m.Data,
		CreatedAt: time.Now().Unix(),
	})
	return err
}

// upload checks that the first chunk starts a video container and cleans
// the client's file name before the chunk reaches the upload service. Later
// chunks of a rejected upload are refused without a reply.
func (d *Dispatcher) upload(ctx context.Context, peer *service.Peer, c protocol.UploadChunk) error {
	d.mu.Lock()
	rejected := d.rejected[c.UUID]
	d.mu.Unlock()
	if rejected {
		if c.Action == protocol.UploadComplete {
			d.forget(c.UUID)
		}
		return fmt.Errorf("upload %s: %w", c.UUID, validation.ErrNotVideo)
	}

	switch c.Action {
	case protocol.UploadStore:
		if c.Part == 0 {
			if err := validation.CheckUploadHead(c.Data); err != nil {
				d.mu.Lock()
				d.rejected[c.UUID] = true
				d.mu.Unlock()
				d.s.Hub.Send(peer, protocol.NewUpload(c.UUID, service.UploadRejected, 0, 0))
				return fmt.Errorf("upload %s: %w", c.UUID, err)
			}
		}
	case protocol.UploadComplete:
		c.Name = validation.UploadName(c.Name)
	}
	return d.s.Uploads.Handle(ctx, peer, c)
}

func (d *Dispatcher) forget(uuid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rejected, uuid)
}

// describe is the log form of a message.
func describe(msg protocol.Inbound) string {
	switch m := msg.(type) {
	case protocol.VideosRequest:
		return fmt.Sprintf("videos/%s", m.Action)
	case protocol.PlayerRequest:
		return fmt.Sprintf("player/%s", m.Action)
	case protocol.UploadRequest:
		return fmt.Sprintf("upload/%s part %d", m.Chunk.Action, m.Chunk.Part)
	default:
		return logger.SanitizeForLog(string(msg.Namespace()))
	}
}
