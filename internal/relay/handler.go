package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/boardsync/internal/protocol"
	"github.com/example/boardsync/internal/types"
	"github.com/example/boardsync/internal/ws"
)

// Conn is the slice of a transport connection the handler needs. The
// WebSocket gateway's connections satisfy it.
type Conn interface {
	PeerID() types.PeerID
	Context() context.Context
	SendText(payload []byte) error
}

type peerState struct {
	mu         sync.Mutex
	room       types.RoomName
	cancelFeed context.CancelFunc
}

// Handler runs the relay's per-connection protocol: join/leave bookkeeping,
// fan-out of sync and awareness, and the feed pump delivering room traffic
// back to the socket with the peer's own echoes filtered out.
type Handler struct {
	registry *Registry
	logger   zerolog.Logger

	mu    sync.Mutex
	peers map[types.PeerID]*peerState
}

// NewHandler wires a handler to the room registry.
func NewHandler(registry *Registry, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger.With().Str("component", "handler").Logger(),
		peers:    map[types.PeerID]*peerState{},
	}
}

// Hooks adapts the handler onto the WebSocket gateway.
func (h *Handler) Hooks() ws.Hooks {
	return ws.Hooks{
		OnConnect: func(_ context.Context, conn *ws.Connection) error {
			h.Connect(conn)
			return nil
		},
		OnText: func(_ context.Context, conn *ws.Connection, payload []byte) error {
			return h.HandleText(conn, payload)
		},
		OnBinary: func(_ context.Context, conn *ws.Connection, payload []byte) error {
			return h.HandleBinary(conn, payload)
		},
		OnDisconnect: func(conn *ws.Connection) {
			h.Disconnect(conn)
		},
	}
}

// Connect registers a fresh peer.
func (h *Handler) Connect(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[conn.PeerID()] = &peerState{}
	h.logger.Info().Str("peer", string(conn.PeerID())).Msg("peer connected")
}

// Disconnect runs the implicit leave for a departed peer.
func (h *Handler) Disconnect(conn Conn) {
	h.mu.Lock()
	state := h.peers[conn.PeerID()]
	delete(h.peers, conn.PeerID())
	h.mu.Unlock()
	if state == nil {
		return
	}
	h.leaveRoom(conn.PeerID(), state)
	h.logger.Info().Str("peer", string(conn.PeerID())).Msg("peer disconnected")
}

// HandleText processes one JSON protocol frame. Malformed frames earn an
// error reply; the connection stays open.
func (h *Handler) HandleText(conn Conn, payload []byte) error {
	state := h.state(conn.PeerID())
	if state == nil {
		return fmt.Errorf("unknown peer %s", conn.PeerID())
	}

	msg, err := protocol.DecodeClient(payload)
	if err != nil {
		h.logger.Warn().Err(err).Str("peer", string(conn.PeerID())).Msg("invalid client message")
		return h.sendError(conn, fmt.Sprintf("invalid message: %v", err))
	}

	switch m := msg.(type) {
	case protocol.Join:
		return h.handleJoin(conn, state, types.RoomName(m.Room))
	case protocol.Leave:
		h.leaveRoom(conn.PeerID(), state)
		return nil
	case protocol.SyncRequest:
		if room, ok := state.currentRoom(); ok {
			h.registry.BroadcastSync(room, conn.PeerID(), m.Data)
		}
		return nil
	case protocol.AwarenessRequest:
		if room, ok := state.currentRoom(); ok {
			h.registry.BroadcastAwareness(room, conn.PeerID(), m)
		}
		return nil
	}
	return nil
}

// HandleBinary treats a binary frame as a raw snapshot: encode and fan out
// as a regular sync for text-frame peers.
func (h *Handler) HandleBinary(conn Conn, payload []byte) error {
	state := h.state(conn.PeerID())
	if state == nil {
		return fmt.Errorf("unknown peer %s", conn.PeerID())
	}
	if room, ok := state.currentRoom(); ok {
		h.registry.BroadcastSync(room, conn.PeerID(), protocol.EncodeSyncData(payload))
	}
	return nil
}

func (h *Handler) handleJoin(conn Conn, state *peerState, room types.RoomName) error {
	peer := conn.PeerID()

	// A join while already in a room is an implicit leave first.
	h.leaveRoom(peer, state)

	feed, initialSync, peerCount := h.registry.Join(room, peer)
	ctx, cancel := context.WithCancel(conn.Context())

	state.mu.Lock()
	state.room = room
	state.cancelFeed = cancel
	state.mu.Unlock()

	go h.pumpFeed(ctx, conn, feed)

	reply, err := protocol.EncodeServer(protocol.Joined{
		Room:        string(room),
		PeerCount:   peerCount,
		InitialSync: initialSync,
	})
	if err != nil {
		return fmt.Errorf("encode joined reply: %w", err)
	}
	if err := conn.SendText(reply); err != nil {
		return err
	}

	h.registry.AnnouncePeerJoined(room, peer)
	h.logger.Info().Str("peer", string(peer)).Str("room", string(room)).Msg("peer joined room")
	return nil
}

func (h *Handler) leaveRoom(peer types.PeerID, state *peerState) {
	state.mu.Lock()
	room := state.room
	cancel := state.cancelFeed
	state.room = ""
	state.cancelFeed = nil
	state.mu.Unlock()

	if room == "" {
		return
	}
	if cancel != nil {
		cancel()
	}
	h.registry.Leave(room, peer)
	h.registry.AnnouncePeerLeft(room, peer)
	h.logger.Info().Str("peer", string(peer)).Str("room", string(room)).Msg("peer left room")
}

// pumpFeed forwards room traffic to the socket, skipping the peer's own
// broadcasts so senders never see their snapshots come back.
func (h *Handler) pumpFeed(ctx context.Context, conn Conn, feed <-chan Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-feed:
			if env.From == conn.PeerID() {
				continue
			}
			if err := conn.SendText(env.Frame); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sendError(conn Conn, message string) error {
	frame, err := protocol.EncodeServer(protocol.ErrorReply{Message: message})
	if err != nil {
		return fmt.Errorf("encode error reply: %w", err)
	}
	return conn.SendText(frame)
}

func (h *Handler) state(peer types.PeerID) *peerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peers[peer]
}

func (s *peerState) currentRoom() (types.RoomName, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.room != ""
}
