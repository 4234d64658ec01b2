package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/protocol"
)

const sourcePlayer = "player"

// Player mirrors the playback state between clients. The client that last
// started playback controls it; only that client's pause, end or stop
// updates the item's saved position.
type Player struct {
	library *Library
	hub     *Hub

	mu         sync.Mutex
	state      domain.PlayerState
	controller string
}

func NewPlayer(library *Library, hub *Hub) *Player {
	return &Player{library: library, hub: hub}
}

func (p *Player) State() domain.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Controller returns the id of the controlling peer, or "".
func (p *Player) Controller() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.controller
}

// Handle applies a client's player action and relays the new state to the
// other clients.
func (p *Player) Handle(ctx context.Context, from *Peer, req protocol.PlayerRequest) error {
	var fromID string
	if from != nil {
		fromID = from.ID
	}

	p.mu.Lock()
	save := false
	switch req.Action {
	case protocol.PlayerProgress:
		p.state.Time = req.Time
	case protocol.PlayerPlay:
		p.controller = fromID
		p.state.Status = domain.PlayerPlaying
		p.state.VideoID = req.VideoID
	case protocol.PlayerPause, protocol.PlayerEnded, protocol.PlayerStop:
		save = fromID != "" && fromID == p.controller
		p.controller = ""
		p.state.Status = stoppedStatus(req.Action)
	default:
		p.mu.Unlock()
		return fmt.Errorf("player: unknown action %q", req.Action)
	}
	state := p.state
	p.mu.Unlock()

	p.hub.Broadcast(protocol.NewPlayer(state), from)

	if save {
		return p.savePosition(ctx, req)
	}
	return nil
}

func (p *Player) savePosition(ctx context.Context, req protocol.PlayerRequest) error {
	_, err := p.library.Update(ctx, req.VideoID, sourcePlayer, func(item *domain.MediaItem) error {
		item.Position = req.Time
		if req.Action == protocol.PlayerEnded {
			item.Position = float64(item.Duration)
		}
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn.Printf("player: item %d not found, position not saved", req.VideoID)
		return nil
	}
	return err
}

// Disconnected releases control held by a peer that went away.
func (p *Player) Disconnected(peer *Peer) {
	if peer == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.controller == peer.ID {
		p.controller = ""
	}
}

func stoppedStatus(action protocol.PlayerAction) domain.PlayerStatus {
	switch action {
	case protocol.PlayerPause:
		return domain.PlayerPaused
	case protocol.PlayerEnded:
		return domain.PlayerEnded
	default:
		return domain.PlayerStopped
	}
}
