package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/protocol"
	"github.com/bnema/piplay/internal/service"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	writeTimeout = 10 * time.Second
	// upload chunks are the largest frames clients send
	maxFrameSize = 32 << 20
)

var errPeerDropped = errors.New("peer dropped by hub")

// WebsocketHandler runs one synchronization connection per client: the
// init snapshot, a writer draining the peer's queue and a reader feeding
// the dispatcher.
type WebsocketHandler struct {
	s          Services
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
}

func NewWebsocketHandler(s Services, dispatcher *Dispatcher) *WebsocketHandler {
	return &WebsocketHandler{
		s:          s,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			// clients are apps on the local network with no shared origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn.Printf("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	peer := h.connect()
	logger.Info.Printf("client %s connected as %s", r.RemoteAddr, peer.ID)
	defer func() {
		h.s.Hub.Disconnect(peer)
		h.s.Player.Disconnected(peer)
		_ = conn.Close()
		logger.Info.Printf("client %s (%s) gone", r.RemoteAddr, peer.ID)
	}()

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return h.writeLoop(ctx, conn, peer) })
	g.Go(func() error { return h.readLoop(ctx, conn, peer) })
	g.Go(func() error {
		<-ctx.Done()
		_ = conn.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !isClosure(err) {
		logger.Warn.Printf("client %s: %v", peer.ID, err)
	}
}

// connect registers the peer with its init snapshot as the first queued
// message. The library is held still and the snapshot is built under the
// hub lock, so the peer sees every later change after its init.
func (h *WebsocketHandler) connect() *service.Peer {
	var peer *service.Peer
	h.s.Library.View(func(items []domain.MediaItem) {
		peer = h.s.Hub.ConnectWith(func() protocol.Outbound {
			return protocol.NewInit(protocol.InitData{
				Settings:  h.s.Settings.All(),
				Connected: true,
				Videos:    items,
				Player:    h.s.Player.State(),
				Versions:  h.s.Versions,
			})
		})
	})
	return peer
}

func (h *WebsocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, peer *service.Peer) error {
	messages := peer.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				deadline := time.Now().Add(time.Second)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "backlog full"), deadline)
				return errPeerDropped
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
		}
	}
}

func (h *WebsocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, peer *service.Peer) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg protocol.Inbound
		switch kind {
		case websocket.TextMessage:
			msg, err = protocol.DecodeText(data)
		case websocket.BinaryMessage:
			msg, err = protocol.DecodeBinary(data)
		default:
			continue
		}
		if errors.Is(err, protocol.ErrUnknownNamespace) {
			logger.Info.Printf("client %s: unhandled message: %v", peer.ID, err)
			continue
		}
		if err != nil {
			logger.Warn.Printf("client %s: dropped message: %v", peer.ID, err)
			continue
		}

		logger.Debug.Printf("client %s: %s", peer.ID, describe(msg))
		if err := h.dispatcher.Dispatch(ctx, peer, msg); err != nil {
			logger.Warn.Printf("client %s: %s: %v", peer.ID, describe(msg), err)
		}
	}
}

func isClosure(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, errPeerDropped) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
