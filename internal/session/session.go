// Package session implements the client side of collaboration: one Session
// per client owns the replicated document, queues outgoing wire messages,
// and folds incoming server messages into typed events.
package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/boardsync/internal/crdt"
	"github.com/example/boardsync/internal/protocol"
	"github.com/example/boardsync/internal/shape"
	"github.com/example/boardsync/internal/types"
)

// Event is the result of handling a server message.
type Event interface{ event() }

// JoinedRoom reports a confirmed join. InitialSync holds the room snapshot
// that was imported, if the server sent one.
type JoinedRoom struct {
	Room        string
	PeerCount   int
	InitialSync []byte
}

// PeerJoined reports a new room member.
type PeerJoined struct{ PeerID string }

// PeerLeft reports a departed room member.
type PeerLeft struct{ PeerID string }

// SyncReceived reports a peer snapshot that was merged into the document.
type SyncReceived struct {
	From string
	Data []byte
}

// AwarenessReceived reports a peer's presence state.
type AwarenessReceived struct {
	From   string
	PeerID uint64
	Cursor *protocol.CursorPosition
	User   *protocol.UserInfo
}

// ErrorEvent reports a server-side protocol error.
type ErrorEvent struct{ Message string }

func (JoinedRoom) event()        {}
func (PeerJoined) event()        {}
func (PeerLeft) event()          {}
func (SyncReceived) event()      {}
func (AwarenessReceived) event() {}
func (ErrorEvent) event()        {}

// Session drives collaboration for a single client. Mutations mirror into
// the replicated document only while the session is enabled; the session
// enables itself when the server confirms a room join. Outgoing messages
// are queued and drained by the transport via TakeOutgoing.
type Session struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	doc      *crdt.Document
	enabled  bool
	room     string
	cursor   *protocol.CursorPosition
	user     *protocol.UserInfo
	outgoing [][]byte
}

// New returns a disabled session with a fresh document and random actor id.
func New(logger zerolog.Logger) *Session {
	return FromDocument(logger, crdt.NewDocument(types.NewActorID()))
}

// FromDocument wraps an existing document, for boards restored from disk.
func FromDocument(logger zerolog.Logger, doc *crdt.Document) *Session {
	return &Session{
		logger: logger.With().Str("component", "session").Logger(),
		doc:    doc,
	}
}

// ActorID returns the document actor id used as the awareness peer id.
func (s *Session) ActorID() types.ActorID { return s.doc.Actor() }

// Document exposes the underlying replica.
func (s *Session) Document() *crdt.Document { return s.doc }

// Enabled reports whether mutations are being replicated.
func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Enable turns replication on without joining a room.
func (s *Session) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
}

// Disable turns replication off. The document keeps its state.
func (s *Session) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
}

// SyncToDocument rebuilds the replicated document from the board: clears
// it, sets the name, and re-adds every shape in draw order. Call after bulk
// local edits.
func (s *Session) SyncToDocument(board *Board) {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()
	if !enabled {
		return
	}
	s.doc.Clear()
	s.doc.SetName(board.Name)
	for _, id := range board.ZOrder {
		if obj, ok := board.Shapes[id]; ok {
			s.doc.AddShape(obj)
		}
	}
}

// SyncFromDocument rebuilds the board from the replicated document. Call
// after importing remote state.
func (s *Session) SyncFromDocument(board *Board) {
	board.Clear()
	if name := s.doc.Name(); name != "" {
		board.Name = name
	}
	for _, obj := range s.doc.ShapesOrdered() {
		board.AddShape(obj)
	}
}

// AddShape adds to the board and mirrors into the document when enabled.
func (s *Session) AddShape(board *Board, obj shape.Object) {
	board.AddShape(obj)
	if s.Enabled() {
		s.doc.AddShape(obj)
	}
}

// RemoveShape removes from the board and mirrors into the document when
// enabled.
func (s *Session) RemoveShape(board *Board, id uuid.UUID) (shape.Object, bool) {
	obj, ok := board.RemoveShape(id)
	if ok && s.Enabled() {
		s.doc.RemoveShape(id)
	}
	return obj, ok
}

// UpdateShape updates the board and mirrors into the document when enabled.
// Unknown shapes are ignored.
func (s *Session) UpdateShape(board *Board, obj shape.Object) {
	if !board.UpdateShape(obj) {
		return
	}
	if s.Enabled() {
		s.doc.UpdateShape(obj)
	}
}

// ExportSnapshot serializes the full document.
func (s *Session) ExportSnapshot() []byte { return s.doc.ExportSnapshot() }

// Import merges a raw peer snapshot. Returns false on a malformed payload.
func (s *Session) Import(data []byte) bool {
	if err := s.doc.Import(data); err != nil {
		s.logger.Warn().Err(err).Msg("dropping unreadable snapshot")
		return false
	}
	return true
}

// Version returns the document's version vector.
func (s *Session) Version() types.VersionVector { return s.doc.Version() }

// Undo reverts the last local change while enabled.
func (s *Session) Undo() bool { return s.Enabled() && s.doc.Undo() }

// Redo re-applies the last undone change while enabled.
func (s *Session) Redo() bool { return s.Enabled() && s.doc.Redo() }

// CanUndo reports undo availability while enabled.
func (s *Session) CanUndo() bool { return s.Enabled() && s.doc.CanUndo() }

// CanRedo reports redo availability while enabled.
func (s *Session) CanRedo() bool { return s.Enabled() && s.doc.CanRedo() }

// CurrentRoom returns the confirmed room, if any.
func (s *Session) CurrentRoom() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.room != ""
}

// InRoom reports whether a join has been confirmed.
func (s *Session) InRoom() bool {
	_, ok := s.CurrentRoom()
	return ok
}

// SetRoom records the confirmed room directly and enables replication.
// Normally HandleMessage does this on a joined reply.
func (s *Session) SetRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
	if room != "" {
		s.enabled = true
	}
}

// JoinRoom queues a join request. The session is not in the room until the
// server confirms.
func (s *Session) JoinRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue(protocol.Join{Room: room})
}

// LeaveRoom queues a leave request and forgets the room immediately.
func (s *Session) LeaveRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == "" {
		return
	}
	s.queue(protocol.Leave{})
	s.room = ""
}

// TakeOutgoing drains the queued wire messages.
func (s *Session) TakeOutgoing() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outgoing
	s.outgoing = nil
	return out
}

// HasOutgoing reports whether messages are waiting to be sent.
func (s *Session) HasOutgoing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outgoing) > 0
}

// SetCursor updates the local cursor and queues an awareness broadcast.
func (s *Session) SetCursor(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = &protocol.CursorPosition{X: x, Y: y}
	s.queueAwareness()
}

// ClearCursor drops the local cursor (pointer left the canvas) and queues
// an awareness broadcast.
func (s *Session) ClearCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = nil
	s.queueAwareness()
}

// SetUserInfo updates the local identity and queues an awareness broadcast.
func (s *Session) SetUserInfo(name, color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &protocol.UserInfo{Name: name, Color: color}
	s.queueAwareness()
}

// Awareness returns the local presence state.
func (s *Session) Awareness() (*protocol.CursorPosition, *protocol.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.user
}

// BroadcastSync queues a snapshot broadcast while enabled and in a room.
func (s *Session) BroadcastSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == "" || !s.enabled {
		return
	}
	s.queue(protocol.SyncRequest{Data: protocol.EncodeSyncData(s.doc.ExportSnapshot())})
}

// HandleMessage folds one server text frame into the session. Malformed or
// unknown messages are dropped with a warning so protocol skew never kills
// the session. Returns the resulting event, or false when the frame
// produced none.
func (s *Session) HandleMessage(data []byte) (Event, bool) {
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping unreadable server message")
		return nil, false
	}

	switch m := msg.(type) {
	case protocol.Joined:
		s.mu.Lock()
		s.room = m.Room
		s.enabled = true
		s.mu.Unlock()

		var imported []byte
		if m.InitialSync != "" {
			raw, err := protocol.DecodeSyncData(m.InitialSync)
			if err != nil {
				s.logger.Warn().Err(err).Msg("dropping unreadable initial sync")
			} else if s.Import(raw) {
				imported = raw
			}
		}
		return JoinedRoom{Room: m.Room, PeerCount: m.PeerCount, InitialSync: imported}, true
	case protocol.PeerJoined:
		return PeerJoined{PeerID: m.PeerID}, true
	case protocol.PeerLeft:
		return PeerLeft{PeerID: m.PeerID}, true
	case protocol.SyncBroadcast:
		raw, err := protocol.DecodeSyncData(m.Data)
		if err != nil {
			s.logger.Warn().Err(err).Str("from", m.From).Msg("dropping unreadable sync payload")
			return nil, false
		}
		if !s.Import(raw) {
			return nil, false
		}
		return SyncReceived{From: m.From, Data: raw}, true
	case protocol.AwarenessBroadcast:
		return AwarenessReceived{From: m.From, PeerID: m.PeerID, Cursor: m.Cursor, User: m.User}, true
	case protocol.ErrorReply:
		return ErrorEvent{Message: m.Message}, true
	}
	return nil, false
}

// queue serializes and enqueues a client message. Callers hold s.mu.
func (s *Session) queue(m protocol.ClientMessage) {
	raw, err := protocol.EncodeClient(m)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode outgoing message")
		return
	}
	s.outgoing = append(s.outgoing, raw)
}

// queueAwareness broadcasts the current presence state if in a room.
// Callers hold s.mu.
func (s *Session) queueAwareness() {
	if s.room == "" {
		return
	}
	s.queue(protocol.AwarenessRequest{
		PeerID: uint64(s.doc.Actor()),
		Cursor: s.cursor,
		User:   s.user,
	})
}
