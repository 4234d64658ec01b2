package service

import (
	"sync"

	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/protocol"
	"github.com/google/uuid"
)

const DefaultPeerBacklog = 256

// Peer is a connected client's exclusive outbound endpoint. The connection
// handler drains Messages; the channel is closed on disconnect, forced or not.
type Peer struct {
	ID       string
	messages chan protocol.Outbound
	once     sync.Once
}

func (p *Peer) Messages() <-chan protocol.Outbound {
	return p.messages
}

// Hub fans server messages out to every connected peer. Sequence numbers
// are assigned and messages queued under one lock, so every peer sees
// messageIds in increasing order.
type Hub struct {
	mu      sync.Mutex
	peers   map[string]*Peer
	nextID  uint64
	backlog int
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = DefaultPeerBacklog
	}
	return &Hub{
		peers:   make(map[string]*Peer),
		backlog: backlog,
	}
}

func (h *Hub) Connect() *Peer {
	return h.ConnectWith(nil)
}

// ConnectWith registers a peer and queues the message built by first as its
// opening message in the same critical section, so no other message can
// reach the peer ahead of it. first runs with the hub locked and must not
// call back into the Hub.
func (h *Hub) ConnectWith(first func() protocol.Outbound) *Peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := &Peer{
		ID:       uuid.NewString(),
		messages: make(chan protocol.Outbound, h.backlog),
	}
	h.peers[p.ID] = p
	logger.Info.Printf("peer %s connected (%d total)", p.ID, len(h.peers))

	if first != nil {
		msg := first()
		h.nextID++
		msg.Stamp(h.nextID)
		h.enqueue(p, msg)
	}
	return p
}

// Disconnect removes the peer. Calling it more than once is harmless.
func (h *Hub) Disconnect(p *Peer) {
	if p == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(p)
}

// Send queues msg for p alone. It reports false if p is gone.
func (h *Hub) Send(p *Peer, msg protocol.Outbound) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[p.ID]; !ok {
		return false
	}
	h.nextID++
	msg.Stamp(h.nextID)
	return h.enqueue(p, msg)
}

// Broadcast queues msg for every peer except exclude, which may be nil.
// Every recipient shares one stamped message value, so it must not be
// mutated after this call.
func (h *Hub) Broadcast(msg protocol.Outbound, exclude *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	msg.Stamp(h.nextID)
	for id, p := range h.peers {
		if exclude != nil && id == exclude.ID {
			continue
		}
		h.enqueue(p, msg)
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// enqueue must be called with h.mu held. A peer whose backlog is full is
// force-disconnected; its handler sees the closed channel and hangs up.
func (h *Hub) enqueue(p *Peer, msg protocol.Outbound) bool {
	select {
	case p.messages <- msg:
		return true
	default:
		logger.Warn.Printf("peer %s backlog full, disconnecting", p.ID)
		h.drop(p)
		return false
	}
}

func (h *Hub) drop(p *Peer) {
	if _, ok := h.peers[p.ID]; !ok {
		return
	}
	delete(h.peers, p.ID)
	p.once.Do(func() { close(p.messages) })
	logger.Info.Printf("peer %s disconnected (%d left)", p.ID, len(h.peers))
}
